// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package primitives implements the asymmetric-crypto collaborators the
// signing engine consumes but does not own: reading PEM-encoded key
// material from disk and producing raw signatures over arbitrary byte
// spans. Higher-level envelope construction (key blocks, preambles) lives
// in package envelope.
package primitives

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// PrivateKey is a loaded signing key, algorithm-erased behind crypto.Signer.
type PrivateKey struct {
	Signer crypto.Signer
}

// PublicKey is a loaded verification key.
type PublicKey struct {
	Key crypto.PublicKey
}

// ReadPrivate loads a PEM-encoded PKCS#1, PKCS#8 or SEC1 private key from
// path.
func ReadPrivate(path string) (*PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %q: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("read private key %q: not PEM", path)
	}
	signer, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("read private key %q: %w", path, err)
	}
	return &PrivateKey{Signer: signer}, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("unrecognized private key encoding: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key of type %T is not a signer", key)
	}
	return signer, nil
}

// ReadPublic loads a PEM-encoded PKIX public key, or a bare-pubkey file
// wrapping the same DER bytes without the PEM envelope, from path.
func ReadPublic(path string) (*PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", path, err)
	}
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", path, err)
	}
	return &PublicKey{Key: key}, nil
}

// Sign produces a raw signature of data under priv. The hash and padding
// scheme are selected from the key type: PKCS#1 v1.5/SHA-256 for RSA,
// ASN.1 ECDSA/SHA-256 for elliptic curve keys.
func Sign(data []byte, priv *PrivateKey) ([]byte, error) {
	if priv == nil || priv.Signer == nil {
		return nil, fmt.Errorf("sign: nil private key")
	}
	digest := sha256.Sum256(data)
	switch k := priv.Signer.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("sign: rsa: %w", err)
		}
		return sig, nil
	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, k, digest[:])
		if err != nil {
			return nil, fmt.Errorf("sign: ecdsa: %w", err)
		}
		return sig, nil
	default:
		sig, err := priv.Signer.Sign(rand.Reader, digest[:], crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("sign: %w", err)
		}
		return sig, nil
	}
}

// VerifySignature checks sig over data under pub. It is the inverse of
// Sign and is used by tests asserting round-trip verification (testable
// property 5); envelope.VerifyKeyBlock does not call it.
func VerifySignature(data, sig []byte, pub *PublicKey) error {
	if pub == nil || pub.Key == nil {
		return fmt.Errorf("verify: nil public key")
	}
	digest := sha256.Sum256(data)
	switch k := pub.Key.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], sig); err != nil {
			return fmt.Errorf("verify: rsa: %w", err)
		}
		return nil
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest[:], sig) {
			return fmt.Errorf("verify: ecdsa signature mismatch")
		}
		return nil
	default:
		return fmt.Errorf("verify: unsupported public key type %T", pub.Key)
	}
}

// RunExternalHelper invokes an out-of-process signer: a program at path
// is handed canonical bytes to sign on stdin and is expected to emit the
// raw signature bytes on stdout. The helper is a trust boundary, so its
// output is length-checked by the caller (envelope.CreateKeyBlockExternal)
// against the expected signature size before it is spliced into a key
// block.
func RunExternalHelper(path string, toSign []byte) ([]byte, error) {
	return runExternalHelper(path, toSign)
}
