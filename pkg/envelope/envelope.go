// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package envelope implements the in-memory shape of a verified-boot
// envelope — a KeyBlock wrapping a public key, followed by a Preamble
// that signs a body blob — and the facade operations spec.md §4.3 names:
// construction, signing and parsing of key blocks and preambles. The
// underlying asymmetric primitives (PEM loading, raw signing) are
// supplied by package primitives; this package owns only the wire shapes
// and their composition rules.
package envelope

import (
	"errors"
	"fmt"

	"github.com/linuxboot/vbsign/pkg/primitives"
)

// SignBody produces a BodySignature over data with signer, the shared
// first step of RawFirmwareSigner and KernelBlobSigner (spec.md
// §4.5/§4.6): both sign a body blob before building a preamble around
// the result.
func SignBody(data []byte, signer *primitives.PrivateKey) (BodySignature, error) {
	algo, err := algorithmOfPrivate(signer)
	if err != nil {
		return BodySignature{}, fmt.Errorf("sign body: %w", err)
	}
	sig, err := primitives.Sign(data, signer)
	if err != nil {
		return BodySignature{}, fmt.Errorf("sign body: %w", err)
	}
	if len(sig) == 0 {
		return BodySignature{}, errors.New("sign body: signer returned a null signature")
	}
	return BodySignature{Algo: algo, DataSize: uint64(len(data)), Data: sig}, nil
}

// WellFormed checks spec.md §3 invariant 1: the key block fits within
// the region and the preamble immediately follows it.
func WellFormed(regionLen, keyBlockSize, preambleSize int) error {
	if keyBlockSize <= 0 || keyBlockSize > regionLen {
		return fmt.Errorf("key block size %d does not fit region of %d bytes", keyBlockSize, regionLen)
	}
	if keyBlockSize+preambleSize > regionLen {
		return fmt.Errorf("preamble (size %d) does not immediately fit after key block (size %d) in region of %d bytes", preambleSize, keyBlockSize, regionLen)
	}
	return nil
}

// UnpackKernelPartition is the Envelope.unpack_kernel_partition facade
// operation of spec.md §4.3: it returns borrowed, non-owning views of the
// key block, preamble and body blob inside buf. padding is the fixed gap
// between the vblock (key block + preamble) and the body, per spec.md
// §3's Padding glossary entry.
func UnpackKernelPartition(buf []byte, padding int) (*KeyBlock, *KernelPreamble, []byte, error) {
	if padding <= 0 || padding > len(buf) {
		return nil, nil, nil, fmt.Errorf("unpack kernel partition: padding %d out of range for %d-byte buffer", padding, len(buf))
	}
	vblock := buf[:padding]
	kb, kbSize, err := ParseKeyBlock(vblock)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("unpack kernel partition: %w", err)
	}
	if kbSize > len(vblock) {
		return nil, nil, nil, errors.New("unpack kernel partition: key block overruns padding")
	}
	preamble, preSize, err := ParseKernelPreamble(vblock[kbSize:])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("unpack kernel partition: %w", err)
	}
	if err := WellFormed(len(vblock), kbSize, preSize); err != nil {
		return nil, nil, nil, fmt.Errorf("unpack kernel partition: %w", err)
	}
	blob := buf[padding:]
	return kb, preamble, blob, nil
}
