// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/linuxboot/vbsign/pkg/params"
	"github.com/linuxboot/vbsign/pkg/primitives"
)

// signOptions is the flag set for the sign subcommand (spec.md §6).
type signOptions struct {
	SignPrivate string  `short:"s" long:"signprivate" description:"normal signing private key"`
	KeyBlock    string  `short:"b" long:"keyblock" description:"normal key block"`
	KernelKey   string  `short:"k" long:"kernelkey" description:"kernel subkey (public)"`
	DevSign     string  `short:"S" long:"devsign" description:"developer signing key"`
	DevKeyBlock string  `short:"B" long:"devkeyblock" description:"developer key block"`
	Version     *uint32 `short:"v" long:"version" description:"data key version"`
	Flags       *uint32 `short:"f" long:"flags" description:"preamble flags"`
	LoemDir     string  `short:"d" long:"loemdir" description:"directory for LOEM side-output"`
	LoemID      string  `short:"l" long:"loemid" description:"suffix tag; enables LOEM side-output"`

	FV         string `long:"fv" description:"input path; sets fv_specified"`
	Infile     string `long:"infile" description:"input file"`
	DataPubkey string `long:"datapubkey" description:"input file (alias of --infile)"`
	Vmlinuz    string `long:"vmlinuz" description:"input file (alias of --infile)"`
	Outfile    string `long:"outfile" description:"output file"`

	Bootloader string  `long:"bootloader" description:"bootloader stub file"`
	Config     string  `long:"config" description:"kernel command-line file"`
	Arch       string  `long:"arch" description:"x86|amd64, arm|aarch64, or mips"`
	KLoadAddr  *uint32 `long:"kloadaddr" description:"kernel body load address (ignored for kernel-partition resign)"`
	Pad        uint32  `long:"pad" default:"65536" description:"vblock padding"`

	PEMSignPriv string `long:"pem_signpriv" description:"PEM private key path"`
	PEMAlgo     *int   `long:"pem_algo" description:"algorithm index for --pem_signpriv"`
	PEMExternal string `long:"pem_external" description:"external signing helper path"`

	Type string `long:"type" description:"explicit artifact kind, or \"help\""`

	VblockOnly bool `long:"vblockonly" description:"write the vblock only"`
	Verbose    bool `long:"verbose" description:"print a diagnostic summary line (bytes signed, region sizes) per artifact"`

	Positional struct {
		Infile  string `positional-arg-name:"INFILE"`
		Outfile string `positional-arg-name:"OUTFILE"`
	} `positional-args:"yes"`
}

// ShortDescription is the sign command's short description for go-flags.
func (o *signOptions) ShortDescription() string {
	return "signs a verified-boot artifact"
}

// LongDescription is the sign command's long description for go-flags.
func (o *signOptions) LongDescription() string {
	return "sign wraps, signs or re-signs one of the five recognized verified-boot artifact kinds."
}

var kindNames = []string{"bare_pubkey", "raw_firmware", "firmware_image", "raw_kernel", "kernel_partition"}

func parseKindOverride(s string) (params.ArtifactKind, error) {
	switch strings.ToLower(s) {
	case "":
		return params.KindUnknown, nil
	case "bare_pubkey", "pubkey":
		return params.KindBarePubkey, nil
	case "raw_firmware":
		return params.KindRawFirmware, nil
	case "firmware_image":
		return params.KindFirmwareImage, nil
	case "raw_kernel":
		return params.KindRawKernel, nil
	case "kernel_partition":
		return params.KindKernelPartition, nil
	default:
		return params.KindUnknown, fmt.Errorf("unknown --type %q", s)
	}
}

func parseArch(s string) (params.Arch, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case lower == "":
		return params.ArchUnspecified, nil
	case lower == "amd64" || strings.HasPrefix(lower, "x86"):
		return params.ArchX86, nil
	case lower == "aarch64" || strings.HasPrefix(lower, "arm"):
		return params.ArchARM, nil
	case lower == "mips":
		return params.ArchMIPS, nil
	default:
		return params.ArchUnspecified, fmt.Errorf("unknown --arch %q", s)
	}
}

// resolveInfile applies spec.md §6's --infile/--fv/--datapubkey/--vmlinuz
// aliasing and the positional-argument fallback.
func (o *signOptions) resolveInfile() string {
	for _, v := range []string{o.Infile, o.FV, o.DataPubkey, o.Vmlinuz, o.Positional.Infile} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (o *signOptions) resolveOutfile() string {
	if o.Outfile != "" {
		return o.Outfile
	}
	return o.Positional.Outfile
}

// toSigningParams translates the parsed flags into a params.SigningParams,
// loading key material from disk eagerly the way ArgContract (spec.md
// §4.2) expects it to already be loaded by the time it runs.
func (o *signOptions) toSigningParams() (*params.SigningParams, error) {
	p := params.NewSigningParams()

	if o.SignPrivate != "" {
		key, err := primitives.ReadPrivate(o.SignPrivate)
		if err != nil {
			return nil, err
		}
		p.SignPrivate = key
	}
	if o.KeyBlock != "" {
		raw, err := os.ReadFile(o.KeyBlock)
		if err != nil {
			return nil, err
		}
		p.KeyBlockRaw = raw
	}
	if o.KernelKey != "" {
		key, err := primitives.ReadPublic(o.KernelKey)
		if err != nil {
			return nil, err
		}
		p.KernelSubkey = key
	}
	if o.DevSign != "" {
		key, err := primitives.ReadPrivate(o.DevSign)
		if err != nil {
			return nil, err
		}
		p.DevSignPrivate = key
	}
	if o.DevKeyBlock != "" {
		raw, err := os.ReadFile(o.DevKeyBlock)
		if err != nil {
			return nil, err
		}
		p.DevKeyBlockRaw = raw
	}

	if o.Version != nil {
		p.Version = params.Some(*o.Version)
	}
	if o.Flags != nil {
		p.Flags = params.Some(*o.Flags)
	}

	p.LoemDir = o.LoemDir
	p.LoemID = o.LoemID
	p.FVSpecified = o.FV != ""

	if o.Bootloader != "" {
		raw, err := os.ReadFile(o.Bootloader)
		if err != nil {
			return nil, err
		}
		p.Bootloader = raw
	}
	if o.Config != "" {
		raw, err := os.ReadFile(o.Config)
		if err != nil {
			return nil, err
		}
		p.Config = raw
	}
	arch, err := parseArch(o.Arch)
	if err != nil {
		return nil, err
	}
	p.Arch = arch

	if o.KLoadAddr != nil {
		p.KLoadAddr = params.Some(*o.KLoadAddr)
	}
	if o.Pad != 0 {
		p.Padding = o.Pad
	}

	p.PEMSignPrivate = o.PEMSignPriv
	if o.PEMAlgo != nil {
		p.PEMAlgo = params.Some(*o.PEMAlgo)
	}
	p.PEMExternal = o.PEMExternal

	p.VblockOnly = o.VblockOnly
	p.Verbose = o.Verbose
	p.Infile = o.resolveInfile()
	p.Outfile = o.resolveOutfile()

	kind, err := parseKindOverride(o.Type)
	if err != nil {
		return nil, err
	}
	p.TypeOverride = kind

	return p, nil
}

func kindHelpText() string {
	var b strings.Builder
	b.WriteString("recognized artifact kinds:\n")
	for _, n := range kindNames {
		b.WriteString("  " + n + "\n")
	}
	return b.String()
}
