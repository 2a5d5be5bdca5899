// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package region

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func nameBytes(s string) []byte {
	b := []byte(s + strings.Repeat("\x00", 32-len(s)))
	return b[:32]
}

func buildImage(t *testing.T, areas map[string][2]uint32, imageLen int) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{0xAA}, 16)) // leading junk before the map
	mapStart := buf.Len()
	buf.Write(Signature)
	buf.Write([]byte{1, 0}) // VerMajor, VerMinor
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint32(imageLen))
	buf.Write(nameBytes("TESTMAP"))
	binary.Write(&buf, binary.LittleEndian, uint16(len(areas)))

	names := []string{NameFWMainA, NameFWMainB, NameVblockA, NameVblockB}
	for _, n := range names {
		v, ok := areas[n]
		if !ok {
			continue
		}
		binary.Write(&buf, binary.LittleEndian, v[0])
		binary.Write(&buf, binary.LittleEndian, v[1])
		buf.Write(nameBytes(n))
		binary.Write(&buf, binary.LittleEndian, uint16(0))
	}
	_ = mapStart
	out := buf.Bytes()
	if len(out) < imageLen {
		out = append(out, bytes.Repeat([]byte{0}, imageLen-len(out))...)
	}
	return out
}

func TestFindMapAndArea(t *testing.T) {
	areas := map[string][2]uint32{
		NameFWMainA: {0x1000, 0x2000},
		NameFWMainB: {0x3000, 0x2000},
		NameVblockA: {0x100, 0x400},
		NameVblockB: {0x500, 0x400},
	}
	img := buildImage(t, areas, 0x6000)

	m, err := FindMap(img)
	if err != nil {
		t.Fatalf("FindMap: %v", err)
	}
	if int(m.NAreas) != len(areas) {
		t.Fatalf("NAreas = %d, want %d", m.NAreas, len(areas))
	}

	off, size, truncated, err := m.FindArea(NameFWMainA, 0x6000)
	if err != nil {
		t.Fatalf("FindArea(FW_MAIN_A): %v", err)
	}
	if off != 0x1000 || size != 0x2000 || truncated {
		t.Fatalf("FW_MAIN_A = (%x, %x, %v), want (0x1000, 0x2000, false)", off, size, truncated)
	}
}

func TestFindAreaTruncatesToImageLength(t *testing.T) {
	areas := map[string][2]uint32{
		NameFWMainA: {0x1000, 0x8000}, // declared larger than the image
	}
	img := buildImage(t, areas, 0x4000)

	m, err := FindMap(img)
	if err != nil {
		t.Fatalf("FindMap: %v", err)
	}
	off, size, truncated, err := m.FindArea(NameFWMainA, 0x4000)
	if err != nil {
		t.Fatalf("FindArea: %v", err)
	}
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if off+size != 0x4000 {
		t.Fatalf("truncated area should end at image length, got end %x", off+size)
	}
}

func TestFindAreaMissing(t *testing.T) {
	img := buildImage(t, map[string][2]uint32{NameFWMainA: {0, 0x10}}, 0x100)
	m, err := FindMap(img)
	if err != nil {
		t.Fatalf("FindMap: %v", err)
	}
	if _, _, _, err := m.FindArea(NameVblockA, 0x100); err == nil {
		t.Fatalf("expected error for missing area")
	}
}

func TestFindMapNoSignature(t *testing.T) {
	if _, err := FindMap(bytes.Repeat([]byte{0}, 64)); err == nil {
		t.Fatalf("expected error when no signature present")
	}
}
