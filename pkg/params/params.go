// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package params holds the configuration passed down from the command
// layer (SigningParams), the artifact-kind tagged variant
// (ArtifactKind), and the two small components that operate purely on
// that configuration: ArtifactClassifier and ArgContract. Nothing here
// touches a file or a mapped buffer beyond the classifier's shape peek.
package params

import (
	"github.com/linuxboot/vbsign/pkg/envelope"
	"github.com/linuxboot/vbsign/pkg/primitives"
)

// Optional models an overridable numeric parameter together with whether
// the caller explicitly set it, per spec.md §9's design note: "model as
// Optional<u32> rather than a sentinel, to eliminate the value/specified
// desync."
type Optional[T any] struct {
	Value     T
	Specified bool
}

// Some returns a specified Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Specified: true}
}

// ArtifactKind is the tagged variant of spec.md §3.
type ArtifactKind int

const (
	KindUnknown ArtifactKind = iota
	KindBarePubkey
	KindRawFirmware
	KindFirmwareImage
	KindRawKernel
	KindKernelPartition
)

func (k ArtifactKind) String() string {
	switch k {
	case KindBarePubkey:
		return "BarePubkey"
	case KindRawFirmware:
		return "RawFirmware"
	case KindFirmwareImage:
		return "FirmwareImage"
	case KindRawKernel:
		return "RawKernel"
	case KindKernelPartition:
		return "KernelPartition"
	default:
		return "Unknown"
	}
}

// Arch is the kernel boot architecture, spec.md §3.
type Arch int

const (
	ArchUnspecified Arch = iota
	ArchX86
	ArchARM
	ArchMIPS
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchARM:
		return "arm"
	case ArchMIPS:
		return "mips"
	default:
		return "unspecified"
	}
}

// DefaultPadding is the default vblock padding, spec.md §3/§6.
const DefaultPadding = 65536

// DefaultKLoadAddrX86 is CROS_32BIT_ENTRY_ADDR from the original
// implementation (original_source/futility/cmd_sign.c), the
// architecture-standard default load address referenced by spec.md §3.
const DefaultKLoadAddrX86 = 0x100000

// SigningParams is the configuration passed from the command layer,
// spec.md §3.
type SigningParams struct {
	SignPrivate    *primitives.PrivateKey
	KeyBlockRaw    []byte
	KeyBlock       *envelope.KeyBlock
	KernelSubkey   *primitives.PublicKey
	DevSignPrivate *primitives.PrivateKey
	DevKeyBlockRaw []byte
	DevKeyBlock    *envelope.KeyBlock

	PEMSignPrivate string // path, empty if unset
	PEMAlgo        Optional[int]
	PEMExternal    string // helper program path, empty if unset

	Version Optional[uint32]
	Flags   Optional[uint32]

	LoemDir string
	LoemID  string

	Bootloader []byte
	Config     []byte
	Arch       Arch
	KLoadAddr  Optional[uint32]
	Padding    uint32

	VblockOnly       bool
	Verbose          bool
	FVSpecified      bool
	Infile           string
	Outfile          string
	CreateNewOutfile bool

	TypeOverride ArtifactKind
}

// NewSigningParams returns a SigningParams with the spec's documented
// defaults (padding 65536; architecture-standard load address applied
// later once Arch is known).
func NewSigningParams() *SigningParams {
	return &SigningParams{
		Padding: DefaultPadding,
	}
}
