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
)

// SignRawFirmware is RawFirmwareSigner (spec.md §4.5): body is the raw
// firmware body, and the result is keyblock || preamble ready to write
// to outfile.
func SignRawFirmware(body []byte, p *params.SigningParams) ([]byte, error) {
	if p.SignPrivate == nil {
		return nil, errors.New("sign raw firmware: no signing key")
	}
	if p.KernelSubkey == nil {
		return nil, errors.New("sign raw firmware: no kernel subkey")
	}
	if p.KeyBlockRaw == nil {
		return nil, errors.New("sign raw firmware: no key block")
	}

	bodySig, err := envelope.SignBody(body, p.SignPrivate)
	if err != nil {
		return nil, fmt.Errorf("sign raw firmware: %w", err)
	}

	flags := p.Flags.Value
	version := p.Version.Value
	if version == 0 && !p.Version.Specified {
		version = 1
	}

	preamble, err := envelope.CreateFirmwarePreamble(version, p.KernelSubkey, bodySig, p.SignPrivate, flags)
	if err != nil {
		return nil, fmt.Errorf("sign raw firmware: %w", err)
	}

	out := make([]byte, 0, len(p.KeyBlockRaw)+len(preamble))
	out = append(out, p.KeyBlockRaw...)
	out = append(out, preamble...)

	log.Debugf("raw firmware: signed body %s, wrote keyblock+preamble %s",
		humanize.IBytes(uint64(len(body))), humanize.IBytes(uint64(len(out))))
	return out, nil
}
