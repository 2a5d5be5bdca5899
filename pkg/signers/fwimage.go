// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package signers

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/vbsign/pkg/envelope"
	"github.com/linuxboot/vbsign/pkg/log"
	"github.com/linuxboot/vbsign/pkg/params"
	"github.com/linuxboot/vbsign/pkg/primitives"
	"github.com/linuxboot/vbsign/pkg/region"
)

// maxLoemPathLen bounds the side-output path, mirroring the original
// implementation's fixed PATH_MAX-class buffer for vblock_<A|B>.<loem_id>
// (spec.md §4.8 step 7).
const maxLoemPathLen = 4096

type fwArea struct {
	offset, size int
	truncated    bool
}

// SignFirmwareImage is FirmwareImageSigner (spec.md §4.8): buf is the
// whole mapped, writable firmware image. It mutates buf in place and
// optionally writes LOEM side-output vblock files; it never writes
// anything if any step fails first.
func SignFirmwareImage(buf []byte, p *params.SigningParams) error {
	m, err := region.FindMap(buf)
	if err != nil {
		return fmt.Errorf("sign firmware image: %w", err)
	}

	areas := map[string]fwArea{}
	for _, name := range []string{region.NameFWMainA, region.NameFWMainB, region.NameVblockA, region.NameVblockB} {
		off, size, truncated, err := m.FindArea(name, len(buf))
		if err != nil {
			// Validity gate (spec.md §4.8 step 4): any missing area
			// aborts with no writes.
			return fmt.Errorf("sign firmware image: %w", err)
		}
		if truncated {
			log.Warnf("area %s truncated to image length", name)
		}
		areas[name] = fwArea{offset: off, size: size, truncated: truncated}
	}

	fwMainLen := map[string]int{
		region.NameFWMainA: areas[region.NameFWMainA].size,
		region.NameFWMainB: areas[region.NameFWMainB].size,
	}

	flags := p.Flags.Value
	for _, side := range []struct{ vblock, fwmain string }{
		{region.NameVblockA, region.NameFWMainA},
		{region.NameVblockB, region.NameFWMainB},
	} {
		va := areas[side.vblock]
		vblockBuf := buf[va.offset : va.offset+va.size]
		if err := envelope.VerifyKeyBlock(vblockBuf, va.size); err != nil {
			log.Warnf("%s key block invalid, signing entire %s region: %v", side.vblock, side.fwmain, err)
			continue
		}
		kb, kbSize, err := envelope.ParseKeyBlock(vblockBuf)
		if err != nil {
			log.Warnf("%s key block unparsable, signing entire %s region: %v", side.vblock, side.fwmain, err)
			continue
		}
		preamble, _, err := envelope.ParseFirmwarePreamble(vblockBuf[kbSize:])
		if err != nil {
			log.Warnf("%s preamble unparsable, signing entire %s region: %v", side.vblock, side.fwmain, err)
			continue
		}
		if _, err := kb.DataKey.PublicKey(); err != nil {
			log.Warnf("%s data key malformed, signing entire %s region: %v", side.vblock, side.fwmain, err)
			continue
		}
		if dataSize := int(preamble.BodySignature.DataSize); dataSize < fwMainLen[side.fwmain] {
			fwMainLen[side.fwmain] = dataSize
		}
		// Flag inheritance only happens while inspecting VBLOCK_A
		// (spec.md §4.8 step 3).
		if side.vblock == region.NameVblockA && !p.Flags.Specified {
			flags = preamble.Flags
		}
	}

	aOff, aLen := areas[region.NameFWMainA].offset, fwMainLen[region.NameFWMainA]
	bOff, bLen := areas[region.NameFWMainB].offset, fwMainLen[region.NameFWMainB]
	bodyA := buf[aOff : aOff+aLen]
	bodyB := buf[bOff : bOff+bLen]

	signerA, keyBlockA := p.SignPrivate, p.KeyBlockRaw
	if !bytes.Equal(bodyA, bodyB) {
		if p.DevSignPrivate == nil || p.DevKeyBlockRaw == nil {
			return errors.New("sign firmware image: FW_MAIN_A diverges from FW_MAIN_B but no dev signing key is configured")
		}
		signerA, keyBlockA = p.DevSignPrivate, p.DevKeyBlockRaw
	}
	signerB, keyBlockB := p.SignPrivate, p.KeyBlockRaw

	version := p.Version.Value
	if version == 0 && !p.Version.Specified {
		version = 1
	}

	vblockBytesA, err := buildVblock(bodyA, keyBlockA, signerA, p.KernelSubkey, version, flags)
	if err != nil {
		return fmt.Errorf("sign firmware image: FW_MAIN_A: %w", err)
	}
	vblockBytesB, err := buildVblock(bodyB, keyBlockB, signerB, p.KernelSubkey, version, flags)
	if err != nil {
		return fmt.Errorf("sign firmware image: FW_MAIN_B: %w", err)
	}

	vblockAreaA := areas[region.NameVblockA]
	vblockAreaB := areas[region.NameVblockB]
	if len(vblockBytesA) > vblockAreaA.size {
		return fmt.Errorf("sign firmware image: new VBLOCK_A (%d bytes) does not fit region (%d bytes)", len(vblockBytesA), vblockAreaA.size)
	}
	if len(vblockBytesB) > vblockAreaB.size {
		return fmt.Errorf("sign firmware image: new VBLOCK_B (%d bytes) does not fit region (%d bytes)", len(vblockBytesB), vblockAreaB.size)
	}

	// All size-fitting checks are done; commit both writes (spec.md
	// §4.8 design intent: "no staging copy", "checks happen before any
	// write so that a failure leaves the image unchanged").
	copy(buf[vblockAreaA.offset:], vblockBytesA)
	copy(buf[vblockAreaB.offset:], vblockBytesB)

	log.Debugf("firmware image: FW_MAIN_A %s, FW_MAIN_B %s, VBLOCK_A %s/%s used, VBLOCK_B %s/%s used",
		humanize.IBytes(uint64(aLen)), humanize.IBytes(uint64(bLen)),
		humanize.IBytes(uint64(len(vblockBytesA))), humanize.IBytes(uint64(vblockAreaA.size)),
		humanize.IBytes(uint64(len(vblockBytesB))), humanize.IBytes(uint64(vblockAreaB.size)))

	if p.LoemID != "" {
		if err := writeLoemSideOutput(buf[vblockAreaA.offset:vblockAreaA.offset+vblockAreaA.size], "A", p); err != nil {
			return fmt.Errorf("sign firmware image: %w", err)
		}
		if err := writeLoemSideOutput(buf[vblockAreaB.offset:vblockAreaB.offset+vblockAreaB.size], "B", p); err != nil {
			return fmt.Errorf("sign firmware image: %w", err)
		}
	}
	return nil
}

func buildVblock(body, keyBlockRaw []byte, signer *primitives.PrivateKey, kernelSubkey *primitives.PublicKey, version, flags uint32) ([]byte, error) {
	bodySig, err := envelope.SignBody(body, signer)
	if err != nil {
		return nil, err
	}
	preamble, err := envelope.CreateFirmwarePreamble(version, kernelSubkey, bodySig, signer, flags)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(keyBlockRaw)+len(preamble))
	out = append(out, keyBlockRaw...)
	out = append(out, preamble...)
	return out, nil
}

func writeLoemSideOutput(vblockRegion []byte, side string, p *params.SigningParams) error {
	dir := p.LoemDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, fmt.Sprintf("vblock_%s.%s", side, p.LoemID))
	if len(path) > maxLoemPathLen {
		return fmt.Errorf("loem output path exceeds %d bytes", maxLoemPathLen)
	}
	if err := os.WriteFile(path, vblockRegion, 0o644); err != nil {
		return fmt.Errorf("write loem side-output %s: %w", path, err)
	}
	return nil
}
