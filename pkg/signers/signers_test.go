// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package signers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/vbsign/pkg/envelope"
	"github.com/linuxboot/vbsign/pkg/params"
	"github.com/linuxboot/vbsign/pkg/primitives"
	"github.com/linuxboot/vbsign/pkg/region"
)

func genKeyPair(t *testing.T) (*primitives.PrivateKey, *primitives.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &primitives.PrivateKey{Signer: key}, &primitives.PublicKey{Key: &key.PublicKey}
}

func TestWrapPubkeySigned(t *testing.T) {
	signPriv, _ := genKeyPair(t)
	_, dataPub := genKeyPair(t)
	der, err := x509.MarshalPKIXPublicKey(dataPub.Key)
	require.NoError(t, err)

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	out, err := WrapPubkey(der, p)
	require.NoError(t, err)

	kb, size, err := envelope.ParseKeyBlock(out)
	require.NoError(t, err)
	require.Equal(t, len(out), size)
	require.NotEmpty(t, kb.Signature)
}

func TestWrapPubkeyUnsigned(t *testing.T) {
	_, dataPub := genKeyPair(t)
	der, err := x509.MarshalPKIXPublicKey(dataPub.Key)
	require.NoError(t, err)

	p := params.NewSigningParams()
	out, err := WrapPubkey(der, p)
	require.NoError(t, err)

	kb, _, err := envelope.ParseKeyBlock(out)
	require.NoError(t, err)
	require.Empty(t, kb.Signature)
}

func TestSignRawFirmware(t *testing.T) {
	signPriv, signPub := genKeyPair(t)
	_, kernelSubkey := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.KernelSubkey = kernelSubkey
	p.KeyBlockRaw = keyBlockRaw
	p.Version = params.Some(uint32(1))
	p.Flags = params.Some(uint32(0))

	body := make([]byte, 512*1024)
	for i := range body {
		body[i] = byte(i)
	}
	out, err := SignRawFirmware(body, p)
	require.NoError(t, err)

	kb, kbSize, err := envelope.ParseKeyBlock(out)
	require.NoError(t, err)
	preamble, preSize, err := envelope.ParseFirmwarePreamble(out[kbSize:])
	require.NoError(t, err)
	require.Equal(t, len(out), kbSize+preSize)
	require.Equal(t, uint64(len(body)), preamble.BodySignature.DataSize)

	dataKey, err := kb.DataKey.PublicKey()
	require.NoError(t, err)
	require.NoError(t, primitives.VerifySignature(body, preamble.BodySignature.Data, dataKey))
}

func TestSignRawFirmwareRequiresSigningKey(t *testing.T) {
	p := params.NewSigningParams()
	_, err := SignRawFirmware([]byte("body"), p)
	require.Error(t, err)
}

func TestSignRawKernelVblockOnlyLength(t *testing.T) {
	signPriv, signPub := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.KeyBlockRaw = keyBlockRaw
	p.Arch = params.ArchX86
	p.KLoadAddr = params.Some(uint32(0x100000))
	p.Padding = 0x10000
	p.Version = params.Some(uint32(1))
	p.VblockOnly = true
	p.Config = []byte("console=ttyS0")
	p.Bootloader = make([]byte, 8*1024)

	vmlinuz := make([]byte, 2*1024*1024)
	out, err := SignRawKernel(vmlinuz, p)
	require.NoError(t, err)
	require.Equal(t, int(p.Padding), len(out))
}

func TestSignRawKernelFullOutput(t *testing.T) {
	signPriv, signPub := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.KeyBlockRaw = keyBlockRaw
	p.Arch = params.ArchX86
	p.Padding = 0x10000
	p.Version = params.Some(uint32(1))

	vmlinuz := []byte("linux kernel bytes")
	out, err := SignRawKernel(vmlinuz, p)
	require.NoError(t, err)
	require.Greater(t, len(out), int(p.Padding))
}

func TestResignKernelPartitionPreservesLoadAddr(t *testing.T) {
	signPriv, signPub := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	body := []byte("original kernel body")
	const padding = 65536
	vblock, err := envelope.SignKernelBlob(body, padding, 5, 0x300000, keyBlockRaw, signPriv, 9, true)
	require.NoError(t, err)
	buf := append(append([]byte{}, vblock...), body...)

	newSignPriv, newSignPub := genKeyPair(t)
	newKeyBlockRaw, err := envelope.CreateKeyBlock(newSignPub, nil, 0)
	require.NoError(t, err)

	p := params.NewSigningParams()
	p.SignPrivate = newSignPriv
	p.KeyBlockRaw = newKeyBlockRaw
	p.Padding = padding
	p.KLoadAddr = params.Some(uint32(0xDEADBEEF)) // must be ignored
	p.CreateNewOutfile = true

	out, inPlace, err := ResignKernelPartition(buf, p)
	require.NoError(t, err)
	require.False(t, inPlace)

	_, preamble, blob, err := envelope.UnpackKernelPartition(out, padding)
	require.NoError(t, err)
	require.Equal(t, uint32(0x300000), preamble.BodyLoadAddress)
	require.Equal(t, uint32(5), preamble.KernelVersion)
	require.Equal(t, uint32(9), preamble.Flags)
	require.Equal(t, body, blob)
}

func TestResignKernelPartitionInPlace(t *testing.T) {
	signPriv, signPub := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	body := []byte("kernel body bytes for in place resign")
	const padding = 65536
	vblock, err := envelope.SignKernelBlob(body, padding, 1, 0x100000, keyBlockRaw, signPriv, 0, true)
	require.NoError(t, err)
	buf := append(append([]byte{}, vblock...), body...)
	originalTail := append([]byte{}, buf[padding:]...)

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.Padding = padding
	p.CreateNewOutfile = false

	out, inPlace, err := ResignKernelPartition(buf, p)
	require.NoError(t, err)
	require.True(t, inPlace)
	require.Nil(t, out)
	require.Equal(t, originalTail, buf[padding:])
}

func buildFMAPImage(t *testing.T, fwMainA, fwMainB []byte, vblockA, vblockB []byte) []byte {
	t.Helper()
	areaSize := uint32(len(fwMainA))
	if len(fwMainB) > int(areaSize) {
		areaSize = uint32(len(fwMainB))
	}
	vblockAreaSize := uint32(len(vblockA))
	if len(vblockB) > int(vblockAreaSize) {
		vblockAreaSize = uint32(len(vblockB))
	}

	type layoutArea struct {
		name   string
		offset uint32
		size   uint32
		data   []byte
	}
	offset := uint32(4096)
	areas := []layoutArea{
		{region.NameFWMainA, offset, areaSize, fwMainA},
	}
	offset += areaSize
	areas = append(areas, layoutArea{region.NameFWMainB, offset, areaSize, fwMainB})
	offset += areaSize
	areas = append(areas, layoutArea{region.NameVblockA, offset, vblockAreaSize, vblockA})
	offset += vblockAreaSize
	areas = append(areas, layoutArea{region.NameVblockB, offset, vblockAreaSize, vblockB})
	offset += vblockAreaSize

	total := int(offset)
	buf := make([]byte, total)
	for _, a := range areas {
		copy(buf[a.offset:a.offset+a.size], a.data)
	}

	nameField := func(s string) [32]byte {
		var b [32]byte
		copy(b[:], s)
		return b
	}
	putName := func(dst []byte, s string) {
		copy(dst, nameField(s)[:])
	}
	putU16 := func(dst []byte, v uint16) { dst[0] = byte(v); dst[1] = byte(v >> 8) }
	putU32 := func(dst []byte, v uint32) {
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
		dst[3] = byte(v >> 24)
	}
	putU64 := func(dst []byte, v uint64) {
		for i := 0; i < 8; i++ {
			dst[i] = byte(v >> (8 * i))
		}
	}

	header := make([]byte, 8+1+1+8+4+32+2)
	copy(header[:8], "__FMAP__")
	header[8] = 1 // ver major
	header[9] = 0 // ver minor
	putU64(header[10:18], 0)
	putU32(header[18:22], uint32(total))
	putName(header[22:54], "TESTMAP")
	putU16(header[54:56], uint16(len(areas)))

	buf = append(buf, header...)
	for _, a := range areas {
		entry := make([]byte, 4+4+32+2)
		putU32(entry[0:4], a.offset)
		putU32(entry[4:8], a.size)
		putName(entry[8:40], a.name)
		putU16(entry[40:42], 0)
		buf = append(buf, entry...)
	}
	return buf
}

func TestSignFirmwareImageEqualBodies(t *testing.T) {
	signPriv, signPub := genKeyPair(t)
	_, kernelSubkey := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	body := make([]byte, 1024)
	for i := range body {
		body[i] = byte(i)
	}
	vblockA := make([]byte, 8192)
	vblockB := make([]byte, 8192)
	buf := buildFMAPImage(t, body, append([]byte{}, body...), vblockA, vblockB)

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.KeyBlockRaw = keyBlockRaw
	p.KernelSubkey = kernelSubkey
	p.Version = params.Some(uint32(1))

	err = SignFirmwareImage(buf, p)
	require.NoError(t, err)

	m, err := region.FindMap(buf)
	require.NoError(t, err)
	offA, sizeA, _, err := m.FindArea(region.NameVblockA, len(buf))
	require.NoError(t, err)
	offB, sizeB, _, err := m.FindArea(region.NameVblockB, len(buf))
	require.NoError(t, err)

	kbA, kbSizeA, err := envelope.ParseKeyBlock(buf[offA : offA+sizeA])
	require.NoError(t, err)
	preA, _, err := envelope.ParseFirmwarePreamble(buf[offA+kbSizeA : offA+sizeA])
	require.NoError(t, err)
	kbB, kbSizeB, err := envelope.ParseKeyBlock(buf[offB : offB+sizeB])
	require.NoError(t, err)
	preB, _, err := envelope.ParseFirmwarePreamble(buf[offB+kbSizeB : offB+sizeB])
	require.NoError(t, err)

	require.Equal(t, preA.BodySignature.Data, preB.BodySignature.Data)
	require.NotEmpty(t, kbA.Checksum)
	require.NotEmpty(t, kbB.Checksum)
}

func TestSignFirmwareImageDivergentBodiesRequireDevKeys(t *testing.T) {
	signPriv, signPub := genKeyPair(t)
	_, kernelSubkey := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	bodyA := make([]byte, 1024)
	bodyB := make([]byte, 1024)
	bodyB[0] = 0xFF
	vblockA := make([]byte, 8192)
	vblockB := make([]byte, 8192)
	buf := buildFMAPImage(t, bodyA, bodyB, vblockA, vblockB)
	original := append([]byte{}, buf...)

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.KeyBlockRaw = keyBlockRaw
	p.KernelSubkey = kernelSubkey
	p.Version = params.Some(uint32(1))

	err = SignFirmwareImage(buf, p)
	require.Error(t, err)
	require.Equal(t, original, buf)
}

func TestSignFirmwareImageNoRegionMapAborts(t *testing.T) {
	p := params.NewSigningParams()
	_, pub := genKeyPair(t)
	keyBlockRaw, _ := envelope.CreateKeyBlock(pub, nil, 0)
	p.KeyBlockRaw = keyBlockRaw

	buf := []byte("not a firmware image at all")
	err := SignFirmwareImage(buf, p)
	require.Error(t, err)
}
