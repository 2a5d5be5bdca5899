// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"

	"github.com/linuxboot/vbsign/pkg/primitives"
)

// Algorithm tags the asymmetric scheme a Key or Signature was produced
// with. It is a small wire-typed integer, the same idiom the teacher's
// Intel manifest package uses for its own Algorithm enum, sized down to
// the handful of schemes this engine's PEM/primitives layer supports.
type Algorithm uint16

const (
	AlgUnknown Algorithm = iota
	AlgRSA2048SHA256
	AlgRSA4096SHA256
	AlgECDSAP256SHA256
)

func (a Algorithm) String() string {
	switch a {
	case AlgRSA2048SHA256:
		return "RSA2048SHA256"
	case AlgRSA4096SHA256:
		return "RSA4096SHA256"
	case AlgECDSAP256SHA256:
		return "ECDSAP256SHA256"
	default:
		return fmt.Sprintf("AlgUnknown<%d>", uint16(a))
	}
}

// algorithmOf classifies a public key into the Algorithm that describes
// it, auto-detecting the scheme the way the teacher's
// manifest.NewSignatureData does from the private-key type.
func algorithmOf(pub interface{}) (Algorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		switch k.Size() {
		case 256:
			return AlgRSA2048SHA256, nil
		case 512:
			return AlgRSA4096SHA256, nil
		default:
			return AlgRSA2048SHA256, nil
		}
	case *ecdsa.PublicKey:
		return AlgECDSAP256SHA256, nil
	default:
		return AlgUnknown, fmt.Errorf("unsupported public key type %T", pub)
	}
}

func algorithmOfPrivate(priv *primitives.PrivateKey) (Algorithm, error) {
	if priv == nil || priv.Signer == nil {
		return AlgUnknown, fmt.Errorf("nil private key")
	}
	return algorithmOf(priv.Signer.Public())
}

// NumAlgorithms bounds the valid --pem_algo index range, spec.md §6:
// "integer in [0, kNumAlgorithms)".
const NumAlgorithms = 3

// AlgorithmFromIndex maps a --pem_algo index to the Algorithm it selects.
// This is the same index space original_source/futility/cmd_sign.c's
// pem_algo threads explicitly into PrivateKeyReadPem/
// KeyBlockCreate_external, rather than letting the key's own encoding
// decide the algorithm tag.
func AlgorithmFromIndex(i int) (Algorithm, error) {
	switch i {
	case 0:
		return AlgRSA2048SHA256, nil
	case 1:
		return AlgRSA4096SHA256, nil
	case 2:
		return AlgECDSAP256SHA256, nil
	default:
		return AlgUnknown, fmt.Errorf("pem_algo %d out of range [0, %d)", i, NumAlgorithms)
	}
}

// expectedSignatureSize bounds the signature bytes an external helper may
// hand back for algo, per spec.md §9's "External signer" note: "its
// stdout must be length-validated against the expected signature size
// before insertion." RSA signatures are always exactly the modulus size;
// ECDSA here is ASN.1-DER, so only an upper bound is fixed (a raw P-256
// ASN.1 signature is at most 72 bytes: two 32-byte integers plus DER
// overhead).
func expectedSignatureSize(algo Algorithm) (exact int, max int, err error) {
	switch algo {
	case AlgRSA2048SHA256:
		return 256, 256, nil
	case AlgRSA4096SHA256:
		return 512, 512, nil
	case AlgECDSAP256SHA256:
		return 0, 72, nil
	default:
		return 0, 0, fmt.Errorf("unknown algorithm %v", algo)
	}
}
