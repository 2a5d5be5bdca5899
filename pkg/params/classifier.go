// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package params

import (
	"crypto/x509"
	"encoding/pem"
	"errors"

	"github.com/linuxboot/vbsign/pkg/envelope"
	"github.com/linuxboot/vbsign/pkg/region"
)

// ErrUnknownKind is returned when classification cannot determine the
// artifact's shape from either the file contents or the parameters,
// spec.md §4.1.
var ErrUnknownKind = errors.New("params: unable to determine artifact kind")

// Classify implements ArtifactClassifier (spec.md §4.1): it honors an
// explicit override, else peeks at buf to detect one of the five
// shapes, else infers a kind from which parameters were supplied.
func Classify(buf []byte, override ArtifactKind, p *SigningParams) (ArtifactKind, error) {
	if override != KindUnknown {
		return override, nil
	}
	if kind, ok := detectShape(buf); ok {
		return kind, nil
	}
	return inferFromParams(p)
}

func detectShape(buf []byte) (ArtifactKind, bool) {
	if _, err := region.FindMap(buf); err == nil {
		return KindFirmwareImage, true
	}
	if looksLikeKernelPartition(buf) {
		return KindKernelPartition, true
	}
	if looksLikeBarePubkey(buf) {
		return KindBarePubkey, true
	}
	return KindUnknown, false
}

func looksLikeKernelPartition(buf []byte) bool {
	kb, kbSize, err := envelope.ParseKeyBlock(buf)
	if err != nil || kb == nil {
		return false
	}
	if kbSize > len(buf) {
		return false
	}
	_, _, err = envelope.ParseKernelPreamble(buf[kbSize:])
	return err == nil
}

func looksLikeBarePubkey(buf []byte) bool {
	der := buf
	if block, _ := pem.Decode(buf); block != nil {
		der = block.Bytes
	}
	_, err := x509.ParsePKIXPublicKey(der)
	return err == nil
}

// inferFromParams applies spec.md §4.1's parameter-inference rules when
// shape detection yields nothing.
func inferFromParams(p *SigningParams) (ArtifactKind, error) {
	if p == nil {
		return KindUnknown, ErrUnknownKind
	}
	if len(p.Bootloader) > 0 || len(p.Config) > 0 || p.Arch != ArchUnspecified {
		return KindRawKernel, nil
	}
	if p.KernelSubkey != nil || p.FVSpecified {
		return KindRawFirmware, nil
	}
	return KindUnknown, ErrUnknownKind
}
