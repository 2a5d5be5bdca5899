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

func archToKernelBlobArch(a params.Arch) primitives.KernelBlobArch {
	switch a {
	case params.ArchARM:
		return primitives.ArchARM
	case params.ArchMIPS:
		return primitives.ArchMIPS
	default:
		return primitives.ArchX86
	}
}

// SignRawKernel is RawKernelPacker+KernelBlobSigner (spec.md §4.6):
// vmlinuz is the raw Linux kernel image; the result is either the
// vblock alone (VblockOnly) or vblock || kernel_blob, always destined
// for a fresh output file.
func SignRawKernel(vmlinuz []byte, p *params.SigningParams) ([]byte, error) {
	if p.SignPrivate == nil {
		return nil, errors.New("sign raw kernel: no signing key")
	}
	if p.KeyBlockRaw == nil {
		return nil, errors.New("sign raw kernel: no key block")
	}

	blob, err := primitives.PackKernelBlob(vmlinuz, archToKernelBlobArch(p.Arch), p.Config, p.Bootloader)
	if err != nil {
		return nil, fmt.Errorf("sign raw kernel: %w", err)
	}

	loadAddr := p.KLoadAddr.Value
	if !p.KLoadAddr.Specified && p.Arch == params.ArchX86 {
		loadAddr = params.DefaultKLoadAddrX86
	}
	version := p.Version.Value
	if version == 0 && !p.Version.Specified {
		version = 1
	}
	flags := p.Flags.Value

	vblock, err := envelope.SignKernelBlob(blob, int(p.Padding), version, loadAddr, p.KeyBlockRaw, p.SignPrivate, flags, p.Flags.Specified)
	if err != nil {
		return nil, fmt.Errorf("sign raw kernel: %w", err)
	}

	if p.VblockOnly {
		log.Debugf("raw kernel: packed blob %s, wrote vblock-only output %s",
			humanize.IBytes(uint64(len(blob))), humanize.IBytes(uint64(len(vblock))))
		return vblock, nil
	}
	out := make([]byte, 0, len(vblock)+len(blob))
	out = append(out, vblock...)
	out = append(out, blob...)
	log.Debugf("raw kernel: packed blob %s, wrote vblock+blob output %s",
		humanize.IBytes(uint64(len(blob))), humanize.IBytes(uint64(len(out))))
	return out, nil
}
