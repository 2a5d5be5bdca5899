// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline implements Pipeline (spec.md §4.9), the orchestrator
// tying classification, argument validation, memory mapping, and
// kind-dispatch together into a single run over one artifact.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/vbsign/pkg/log"
	"github.com/linuxboot/vbsign/pkg/mmap"
	"github.com/linuxboot/vbsign/pkg/params"
	"github.com/linuxboot/vbsign/pkg/signers"
)

// Run executes one sign invocation end to end and returns the
// accumulated error count; 0 means success (spec.md §4.9 step 5, §7).
func Run(p *params.SigningParams) int {
	infileBytes, err := os.ReadFile(p.Infile)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}

	kind, err := params.Classify(infileBytes, p.TypeOverride, p)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}

	if verr := params.Validate(kind, p); verr != nil {
		errs := asMultiError(verr)
		for _, e := range errs.Errors {
			log.Errorf("%v", e)
		}
		return len(errs.Errors)
	}

	p.CreateNewOutfile = params.ComputeCreateNewOutfile(kind, p)
	if err := params.ResolveOutfile(p); err != nil {
		log.Errorf("%v", err)
		return 1
	}

	switch kind {
	case params.KindBarePubkey:
		out, err := signers.WrapPubkey(infileBytes, p)
		return commitFresh(p.Outfile, out, err)

	case params.KindRawFirmware:
		out, err := signers.SignRawFirmware(infileBytes, p)
		return commitFresh(p.Outfile, out, err)

	case params.KindRawKernel:
		out, err := signers.SignRawKernel(infileBytes, p)
		return commitFresh(p.Outfile, out, err)

	case params.KindKernelPartition:
		return runMapped(p, func(buf []byte) ([]byte, bool, error) {
			return signers.ResignKernelPartition(buf, p)
		})

	case params.KindFirmwareImage:
		return runMapped(p, func(buf []byte) ([]byte, bool, error) {
			err := signers.SignFirmwareImage(buf, p)
			return nil, true, err
		})

	default:
		log.Errorf("unsupported artifact kind %s", kind)
		return 1
	}
}

func asMultiError(err error) *multierror.Error {
	if merr, ok := err.(*multierror.Error); ok {
		return merr
	}
	return &multierror.Error{Errors: []error{err}}
}

// runMapped implements step 3/4/5 of spec.md §4.9 for the two
// in-place-capable kinds: decide the mapping mode, map, dispatch, then
// unmap/commit or write a fresh output file depending on what the
// signer produced.
func runMapped(p *params.SigningParams, fn func(buf []byte) ([]byte, bool, error)) int {
	if p.CreateNewOutfile {
		f, err := os.Open(p.Infile)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		defer f.Close()
		mapping, err := mmap.Map(f, false)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		out, _, err := fn(mapping.Bytes())
		closeErr := mapping.Close()
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		if closeErr != nil {
			log.Errorf("%v", closeErr)
			return 1
		}
		return commitFresh(p.Outfile, out, nil)
	}

	target := p.Outfile
	if target != p.Infile {
		data, err := os.ReadFile(p.Infile)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		if err := writeFileAtomic(target, data); err != nil {
			log.Errorf("%v", err)
			return 1
		}
	}

	f, err := os.OpenFile(target, os.O_RDWR, 0)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	defer f.Close()
	mapping, err := mmap.Map(f, true)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	_, _, signErr := fn(mapping.Bytes())
	closeErr := mapping.Close()
	if signErr != nil {
		log.Errorf("%v", signErr)
		return 1
	}
	if closeErr != nil {
		log.Errorf("%v", closeErr)
		return 1
	}
	return 0
}

func commitFresh(path string, data []byte, err error) int {
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	if err := writeFileAtomic(path, data); err != nil {
		log.Errorf("%v", err)
		return 1
	}
	return 0
}

// writeFileAtomic is the "truncate + full write" single-writer
// discipline spec.md §4.4/§6 describes: data lands via a temp file in
// the same directory, then an atomic rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vbsign-*")
	if err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}
