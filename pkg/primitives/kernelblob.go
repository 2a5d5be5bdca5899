// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package primitives

import (
	"fmt"
)

// KernelBlobArch identifies the boot protocol a kernel blob's sections
// are laid out for, mirroring the ARCH_X86/ARCH_ARM/ARCH_MIPS tags the
// original implementation's kernel_blob.h enumerates.
type KernelBlobArch int

const (
	ArchX86 KernelBlobArch = iota
	ArchARM
	ArchMIPS
)

// Section alignment and bound constants, grounded on the original
// implementation's kernel_blob.h layout (CONFIG_SIZE 0x4000,
// bootloader alignment to a 4096-byte page).
const (
	configSectionSize      = 0x4000
	bootloaderAlign        = 4096
	maxKernelBlobSizeX86   = 64 * 1024 * 1024
	maxKernelBlobSizeOther = 64 * 1024 * 1024
)

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

// PackKernelBlob lays out a kernel blob the way vbutil_kernel's packer
// does: a fixed-size config section, the kernel body, and a
// page-aligned bootloader stub appended at the end. Given the same
// inputs the produced blob is byte-for-byte identical across runs
// (spec.md §4.6).
func PackKernelBlob(vmlinuz []byte, arch KernelBlobArch, config, bootloader []byte) ([]byte, error) {
	if len(config) > configSectionSize {
		return nil, fmt.Errorf("pack kernel blob: config (%d bytes) exceeds section size %d", len(config), configSectionSize)
	}
	configSection := make([]byte, configSectionSize)
	copy(configSection, config)

	bootloaderOffset := alignUp(len(vmlinuz), bootloaderAlign)
	total := configSectionSize + bootloaderOffset + len(bootloader)

	maxSize := maxKernelBlobSizeOther
	if arch == ArchX86 {
		maxSize = maxKernelBlobSizeX86
	}
	if total > maxSize {
		return nil, fmt.Errorf("pack kernel blob: layout (%d bytes) exceeds architecture limit %d", total, maxSize)
	}

	blob := make([]byte, total)
	copy(blob, configSection)
	copy(blob[configSectionSize:], vmlinuz)
	copy(blob[configSectionSize+bootloaderOffset:], bootloader)
	return blob, nil
}

// UpdateBlobConfig overwrites the command-line section of a
// previously packed blob in place with newConfig, failing if it does
// not fit in the fixed-size config section (spec.md §4.7 step 3).
func UpdateBlobConfig(blob []byte, newConfig []byte) error {
	if len(blob) < configSectionSize {
		return fmt.Errorf("update blob config: blob shorter than config section")
	}
	if len(newConfig) > configSectionSize {
		return fmt.Errorf("update blob config: new config (%d bytes) exceeds section size %d", len(newConfig), configSectionSize)
	}
	section := blob[:configSectionSize]
	for i := range section {
		section[i] = 0
	}
	copy(section, newConfig)
	return nil
}
