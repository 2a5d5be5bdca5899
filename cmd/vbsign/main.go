// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vbsign signs and re-signs the verified-boot artifacts a ChromeOS-style
// firmware build produces: bare public keys, raw firmware bodies, raw
// kernel images, firmware images with an embedded region map, and
// already-signed kernel partitions.
//
// Synopsis:
//
//	vbsign sign [OPTIONS] INFILE [OUTFILE]
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/linuxboot/vbsign/pkg/log"
	"github.com/linuxboot/vbsign/pkg/pipeline"
)

// Execute implements flags.Commander: it builds a SigningParams from
// the parsed flags and runs the Pipeline.
func (o *signOptions) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected extra arguments: %v", args)
	}
	if o.Type == "help" {
		fmt.Fprint(os.Stdout, kindHelpText())
		return nil
	}

	p, err := o.toSigningParams()
	if err != nil {
		return err
	}
	if p.Infile == "" {
		return fmt.Errorf("missing INFILE")
	}

	log.SetVerbose(p.Verbose)
	errCount := pipeline.Run(p)
	if errCount == 0 {
		return nil
	}
	// Exit code equals the accumulated error count clamped to 1
	// (spec.md §6); rather than returning an error to go-flags, the
	// count is logged and the process exits with status 1 directly.
	log.Errorf("sign: %d error(s)", errCount)
	os.Exit(1)
	return nil
}

func main() {
	opts := &signOptions{}
	parser := flags.NewParser(nil, flags.Default)
	if _, err := parser.AddCommand("sign", opts.ShortDescription(), opts.LongDescription(), opts); err != nil {
		panic(err)
	}
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
