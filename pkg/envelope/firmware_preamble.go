// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"errors"
	"fmt"

	"github.com/linuxboot/vbsign/pkg/primitives"
)

var firmwarePreambleMagic = [8]byte{'V', 'B', 'O', 'O', 'T', 'F', 'P', '1'}

const firmwarePreambleHeaderSize = 8 + 4 + 4 + 4 + 2 + 2 + 8 + 4 + 2 + 2 + 4 + 2 + 2 + 4 // 52 bytes

// BodySignature is the signature over a signed body, carrying the body's
// length so a verifier knows how much of a region is covered (spec.md
// §3's "body_signature (which includes data_size of the signed body)").
type BodySignature struct {
	Algo     Algorithm
	DataSize uint64
	Data     []byte
}

// FirmwarePreamble is the Preamble record for a firmware vblock,
// spec.md §3.
type FirmwarePreamble struct {
	Version           uint32
	Flags             uint32
	BodySignature     BodySignature
	KernelSubkey      DataKey
	PreambleSignature BodySignature // signature over the preamble itself; DataSize unused (0)
}

// PreambleSize returns the total on-wire size.
func (p *FirmwarePreamble) PreambleSize() int {
	return firmwarePreambleHeaderSize + len(p.BodySignature.Data) + len(p.KernelSubkey.Raw) + len(p.PreambleSignature.Data)
}

func firmwarePreamblePayload(version, flags uint32, bodySig BodySignature, kernelSubkey DataKey) []byte {
	w := &fieldWriter{}
	w.put(version)
	w.put(flags)
	w.put(uint16(bodySig.Algo))
	w.put(uint16(0))
	w.put(bodySig.DataSize)
	w.put(uint32(len(bodySig.Data)))
	w.buf.Write(bodySig.Data)
	w.put(uint16(kernelSubkey.Algo))
	w.put(uint16(0))
	w.put(uint32(len(kernelSubkey.Raw)))
	w.buf.Write(kernelSubkey.Raw)
	b, _ := w.bytes()
	return b
}

// CreateFirmwarePreamble is the Envelope.create_firmware_preamble facade
// operation of spec.md §4.3: it wraps a precomputed body signature and
// the kernel subkey, then signs the preamble itself with signer.
func CreateFirmwarePreamble(version uint32, kernelSubkey *primitives.PublicKey, bodySig BodySignature, signer *primitives.PrivateKey, flags uint32) ([]byte, error) {
	if kernelSubkey == nil || kernelSubkey.Key == nil {
		return nil, errors.New("create firmware preamble: nil kernel subkey")
	}
	if len(bodySig.Data) == 0 {
		return nil, errors.New("create firmware preamble: null body signature")
	}
	ksAlgo, err := algorithmOf(kernelSubkey.Key)
	if err != nil {
		return nil, fmt.Errorf("create firmware preamble: %w", err)
	}
	ksRaw, err := marshalPublicKey(kernelSubkey.Key)
	if err != nil {
		return nil, fmt.Errorf("create firmware preamble: %w", err)
	}
	ks := DataKey{Algo: ksAlgo, Raw: ksRaw}

	payload := firmwarePreamblePayload(version, flags, bodySig, ks)
	preSigAlgo, err := algorithmOfPrivate(signer)
	if err != nil {
		return nil, fmt.Errorf("create firmware preamble: %w", err)
	}
	preSigData, err := primitives.Sign(payload, signer)
	if err != nil {
		return nil, fmt.Errorf("create firmware preamble: %w", err)
	}
	if len(preSigData) == 0 {
		return nil, errors.New("create firmware preamble: signer returned a null signature")
	}

	p := &FirmwarePreamble{
		Version:           version,
		Flags:             flags,
		BodySignature:     bodySig,
		KernelSubkey:      ks,
		PreambleSignature: BodySignature{Algo: preSigAlgo, Data: preSigData},
	}
	return p.Marshal(), nil
}

// Marshal serializes the preamble to its on-wire form.
func (p *FirmwarePreamble) Marshal() []byte {
	w := &fieldWriter{}
	w.put(firmwarePreambleMagic)
	w.put(uint32(p.PreambleSize()))
	w.put(p.Version)
	w.put(p.Flags)
	w.put(uint16(p.BodySignature.Algo))
	w.put(uint16(0))
	w.put(p.BodySignature.DataSize)
	w.put(uint32(len(p.BodySignature.Data)))
	w.put(uint16(p.KernelSubkey.Algo))
	w.put(uint16(0))
	w.put(uint32(len(p.KernelSubkey.Raw)))
	w.put(uint16(p.PreambleSignature.Algo))
	w.put(uint16(0))
	w.put(uint32(len(p.PreambleSignature.Data)))
	w.buf.Write(p.BodySignature.Data)
	w.buf.Write(p.KernelSubkey.Raw)
	w.buf.Write(p.PreambleSignature.Data)
	b, _ := w.bytes()
	return b
}

// ParseFirmwarePreamble parses a FirmwarePreamble from the head of buf,
// returning the number of bytes consumed (preamble_size).
func ParseFirmwarePreamble(buf []byte) (*FirmwarePreamble, int, error) {
	if len(buf) < firmwarePreambleHeaderSize {
		return nil, 0, errors.New("parse firmware preamble: buffer shorter than header")
	}
	r := newFieldReader(buf[:firmwarePreambleHeaderSize])
	var magic [8]byte
	var preambleSize, version, flags uint32
	var bodyAlgo, reserved1 uint16
	var bodyDataSize uint64
	var bodySigSize uint32
	var ksAlgo, reserved2 uint16
	var ksSize uint32
	var preAlgo, reserved3 uint16
	var preSigSize uint32
	r.get(&magic)
	r.get(&preambleSize)
	r.get(&version)
	r.get(&flags)
	r.get(&bodyAlgo)
	r.get(&reserved1)
	r.get(&bodyDataSize)
	r.get(&bodySigSize)
	r.get(&ksAlgo)
	r.get(&reserved2)
	r.get(&ksSize)
	r.get(&preAlgo)
	r.get(&reserved3)
	r.get(&preSigSize)
	if err := r.done(); err != nil {
		return nil, 0, fmt.Errorf("parse firmware preamble: %w", err)
	}
	if magic != firmwarePreambleMagic {
		return nil, 0, errors.New("parse firmware preamble: bad magic")
	}
	if int(preambleSize) > len(buf) {
		return nil, 0, fmt.Errorf("parse firmware preamble: preamble_size %d exceeds buffer %d", preambleSize, len(buf))
	}

	limit := int(preambleSize)
	offset := firmwarePreambleHeaderSize
	bodySigData, offset, err := sliceField(buf, offset, int(bodySigSize), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("parse firmware preamble: body signature: %w", err)
	}
	ksRaw, offset, err := sliceField(buf, offset, int(ksSize), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("parse firmware preamble: kernel subkey: %w", err)
	}
	preSigData, offset, err := sliceField(buf, offset, int(preSigSize), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("parse firmware preamble: preamble signature: %w", err)
	}
	if offset != limit {
		return nil, 0, fmt.Errorf("parse firmware preamble: trailing garbage (offset %d, preamble_size %d)", offset, limit)
	}

	p := &FirmwarePreamble{
		Version: version,
		Flags:   flags,
		BodySignature: BodySignature{
			Algo: Algorithm(bodyAlgo), DataSize: bodyDataSize, Data: bodySigData,
		},
		KernelSubkey: DataKey{Algo: Algorithm(ksAlgo), Raw: ksRaw},
		PreambleSignature: BodySignature{
			Algo: Algorithm(preAlgo), Data: preSigData,
		},
	}
	return p, int(preambleSize), nil
}

func marshalPublicKey(pub interface{}) ([]byte, error) {
	return marshalPKIX(pub)
}
