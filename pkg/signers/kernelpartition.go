// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package signers

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/vbsign/pkg/envelope"
	"github.com/linuxboot/vbsign/pkg/log"
	"github.com/linuxboot/vbsign/pkg/params"
	"github.com/linuxboot/vbsign/pkg/primitives"
)

// ResignKernelPartition is KernelPartitionResigner (spec.md §4.7). buf
// is the whole mapped kernel partition. The return values are the
// bytes for a fresh outfile (when inPlace is false) or nil (when
// inPlace is true, meaning buf's leading vblock-sized region has
// already been overwritten and the caller need only unmap to commit).
func ResignKernelPartition(buf []byte, p *params.SigningParams) (output []byte, inPlace bool, err error) {
	if p.SignPrivate == nil {
		return nil, false, errors.New("resign kernel partition: no signing key")
	}
	vblockSize := int(p.Padding)
	kb, preamble, blob, err := envelope.UnpackKernelPartition(buf, vblockSize)
	if err != nil {
		return nil, false, fmt.Errorf("resign kernel partition: %w", err)
	}

	// load_addr is always taken from the existing preamble, even if the
	// caller supplied one (spec.md §4.7 step 2).
	loadAddr := preamble.BodyLoadAddress

	version := preamble.KernelVersion
	if p.Version.Specified {
		version = p.Version.Value
	}

	flags := preamble.Flags
	flagsPresent := preamble.FlagsPresent
	if p.Flags.Specified {
		flags = p.Flags.Value
	} else if !flagsPresent {
		flags = 0
	}

	keyBlockRaw := kb.Marshal()
	if p.KeyBlockRaw != nil {
		keyBlockRaw = p.KeyBlockRaw
	}

	body := blob
	if len(p.Config) > 0 {
		body = append([]byte(nil), blob...)
		if err := primitives.UpdateBlobConfig(body, p.Config); err != nil {
			return nil, false, fmt.Errorf("resign kernel partition: %w", err)
		}
	}

	newVblock, err := envelope.SignKernelBlob(body, vblockSize, version, loadAddr, keyBlockRaw, p.SignPrivate, flags, flagsPresent)
	if err != nil {
		return nil, false, fmt.Errorf("resign kernel partition: %w", err)
	}

	log.Debugf("kernel partition: re-signed body %s, new vblock %s",
		humanize.IBytes(uint64(len(body))), humanize.IBytes(uint64(len(newVblock))))

	switch {
	case p.CreateNewOutfile && p.VblockOnly:
		return newVblock, false, nil
	case p.CreateNewOutfile:
		out := make([]byte, 0, len(newVblock)+len(body))
		out = append(out, newVblock...)
		out = append(out, body...)
		return out, false, nil
	default:
		copy(buf[:vblockSize], newVblock)
		return nil, true, nil
	}
}
