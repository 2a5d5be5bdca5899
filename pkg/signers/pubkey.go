// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package signers implements the five kind-specific signing operations
// of spec.md §4.4-§4.8: wrapping a bare public key, signing a raw
// firmware body, packing and signing a raw kernel, re-signing a kernel
// partition, and signing a full firmware image in place. Each signer is
// handed a borrowed byte slice and params.SigningParams by
// pkg/pipeline and returns either bytes for a fresh output file or
// mutates the slice directly for in-place kinds.
package signers

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/vbsign/pkg/envelope"
	"github.com/linuxboot/vbsign/pkg/log"
	"github.com/linuxboot/vbsign/pkg/params"
	"github.com/linuxboot/vbsign/pkg/primitives"
)

// WrapPubkey is PubkeyWrapper (spec.md §4.4): buf is the bare
// public-key file contents; the result is a key-block file's bytes.
func WrapPubkey(buf []byte, p *params.SigningParams) ([]byte, error) {
	der := buf
	if block, _ := pem.Decode(buf); block != nil {
		der = block.Bytes
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("wrap pubkey: %w", err)
	}
	pubkey := &primitives.PublicKey{Key: pub}
	flags := p.Flags.Value

	var keyBlock []byte
	switch {
	case p.PEMSignPrivate != "" && p.PEMExternal != "":
		var algo envelope.Algorithm
		algo, err = envelope.AlgorithmFromIndex(p.PEMAlgo.Value)
		if err != nil {
			return nil, fmt.Errorf("wrap pubkey: %w", err)
		}
		keyBlock, err = envelope.CreateKeyBlockExternal(pubkey, flags, p.PEMExternal, algo)
	case p.PEMSignPrivate != "":
		var priv *primitives.PrivateKey
		priv, err = primitives.ReadPrivate(p.PEMSignPrivate)
		if err != nil {
			return nil, fmt.Errorf("wrap pubkey: %w", err)
		}
		var algo envelope.Algorithm
		algo, err = envelope.AlgorithmFromIndex(p.PEMAlgo.Value)
		if err != nil {
			return nil, fmt.Errorf("wrap pubkey: %w", err)
		}
		keyBlock, err = envelope.CreateKeyBlockWithAlgorithm(pubkey, priv, flags, algo)
	default:
		// p.SignPrivate may be nil: spec.md §4.4 "Writes an unsigned
		// key block if no signing key was supplied at all."
		keyBlock, err = envelope.CreateKeyBlock(pubkey, p.SignPrivate, flags)
	}
	if err != nil {
		return nil, err
	}

	log.Debugf("bare pubkey: wrapped %s public key into %s key block",
		humanize.IBytes(uint64(len(der))), humanize.IBytes(uint64(len(keyBlock))))
	return keyBlock, nil
}
