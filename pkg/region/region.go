// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package region parses the flash region map ("FMAP") embedded in a
// flashable firmware image and resolves the four areas the signing
// engine cares about: FW_MAIN_A/B and VBLOCK_A/B. This is the spec's
// out-of-scope "region-map parser" collaborator (find_map/find_area);
// it is adapted from the teacher's pkg/fmap FMAP decoder, which is the
// same ChromeOS/coreboot flash-map format these area names come from.
package region

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signature marks the start of an embedded region map.
var Signature = []byte("__FMAP__")

// Area name flags, mirrored from the FMAP format.
const (
	AreaStatic = 1 << iota
	AreaCompressed
	AreaReadOnly
)

// Canonical area names the signing engine recognizes, per spec.md §3.
const (
	NameFWMainA = "FW_MAIN_A"
	NameFWMainB = "FW_MAIN_B"
	NameVblockA = "VBLOCK_A"
	NameVblockB = "VBLOCK_B"
)

// legacyAliases maps each canonical name to the older area names some
// images still carry, resolved from original_source/futility/cmd_sign.c's
// BIOS_FMAP_* alias handling (spec.md §3: "each area may also be looked
// up by an aliased legacy name").
var legacyAliases = map[string]string{
	NameFWMainA: "FVMAIN",
	NameFWMainB: "FVMAINB",
	NameVblockA: "VBOOTA",
	NameVblockB: "VBOOTB",
}

// nameField wraps the fixed-size, NUL-padded area/map name the way the
// teacher's fmap.String does, keeping control over (de)serialization.
type nameField struct {
	Value [32]uint8
}

func (s *nameField) String() string {
	return strings.TrimRight(string(s.Value[:]), "\x00")
}

// Header describes the flash part.
type Header struct {
	Signature [8]uint8
	VerMajor  uint8
	VerMinor  uint8
	Base      uint64
	Size      uint32
	Name      nameField
	NAreas    uint16
}

// Area describes one named byte range inside the image.
type Area struct {
	Offset uint32
	Size   uint32
	Name   nameField
	Flags  uint16
}

// Map is the parsed region map: a header plus its ordered list of areas.
type Map struct {
	Header
	Areas []Area
	// Start is the byte offset of the map's signature within the image
	// it was found in.
	Start int
}

func headerValid(h *Header) bool {
	if h.VerMajor != 1 {
		return false
	}
	if h.Size == 0 {
		return false
	}
	return bytes.Contains(h.Name.Value[:], []byte("\x00"))
}

var errSigNotFound = errors.New("region: cannot find map signature")
var errMultipleFound = errors.New("region: found multiple region maps")
var errTruncated = errors.New("region: unexpected end of buffer while parsing map")

// FindMap locates and parses the region map embedded in buf.
func FindMap(buf []byte) (*Map, error) {
	start := 0
	found := 0
	var result Map
	for {
		if start >= len(buf) {
			break
		}
		next := bytes.Index(buf[start:], Signature)
		if next == -1 {
			break
		}
		start += next

		r := bytes.NewReader(buf[start:])
		var candidate Map
		if err := binary.Read(r, binary.LittleEndian, &candidate.Header); err != nil {
			return nil, errTruncated
		}
		if !headerValid(&candidate.Header) {
			start += len(Signature)
			continue
		}
		candidate.Areas = make([]Area, candidate.NAreas)
		if err := binary.Read(r, binary.LittleEndian, &candidate.Areas); err != nil {
			return nil, errTruncated
		}
		candidate.Start = start
		result = candidate
		found++
		start += len(Signature)
	}
	switch found {
	case 0:
		return nil, errSigNotFound
	case 1:
		return &result, nil
	default:
		return nil, errMultipleFound
	}
}

// FindArea resolves name (or its legacy alias) to an offset/size,
// truncating the area to imageLen if the area's declared size would run
// past the end of the image (spec.md §4.8 step 1: "truncation of the
// last area to the actual file length is permitted and recorded").
func (m *Map) FindArea(name string, imageLen int) (offset, size int, truncated bool, err error) {
	for _, candidate := range []string{name, legacyAliases[name]} {
		if candidate == "" {
			continue
		}
		for _, a := range m.Areas {
			if a.Name.String() != candidate {
				continue
			}
			offset = int(a.Offset)
			size = int(a.Size)
			if offset+size > imageLen {
				size = imageLen - offset
				truncated = true
			}
			if size < 0 {
				return 0, 0, false, fmt.Errorf("region: area %q offset %d exceeds image length %d", name, offset, imageLen)
			}
			return offset, size, truncated, nil
		}
	}
	return 0, 0, false, fmt.Errorf("region: area %q not found", name)
}

// FlagNames renders an area's flags as a human-readable string for
// diagnostic log lines.
func FlagNames(flags uint16) string {
	names := []string{}
	m := []struct {
		val  uint16
		name string
	}{
		{AreaStatic, "STATIC"},
		{AreaCompressed, "COMPRESSED"},
		{AreaReadOnly, "READ_ONLY"},
	}
	for _, v := range m {
		if v.val&flags != 0 {
			names = append(names, v.name)
			flags -= v.val
		}
	}
	if flags != 0 || len(names) == 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(flags), 16))
	}
	return strings.Join(names, "|")
}
