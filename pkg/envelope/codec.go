// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"bytes"
	"crypto/x509"
	"encoding/binary"
	"fmt"
)

// marshalPKIX DER-encodes a public key the way every DataKey in this
// package stores it.
func marshalPKIX(pub interface{}) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// byteOrder is the wire endianness for every packed structure in this
// package, matching spec.md's "little-endian, packed, sizes drawn from
// in-band size fields" requirement and the teacher's pkg/fmap convention.
var byteOrder = binary.LittleEndian

// fieldWriter accumulates little-endian fixed-size fields the way
// pkg/fmap builds up a header before a single binary.Write.
type fieldWriter struct {
	buf bytes.Buffer
	err error
}

func (w *fieldWriter) put(v interface{}) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(&w.buf, byteOrder, v)
}

func (w *fieldWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// fieldReader is the mirror of fieldWriter for parsing a fixed-size
// header out of a borrowed slice without allocating beyond what is read.
type fieldReader struct {
	r   *bytes.Reader
	err error
}

func newFieldReader(buf []byte) *fieldReader {
	return &fieldReader{r: bytes.NewReader(buf)}
}

func (r *fieldReader) get(v interface{}) {
	if r.err != nil {
		return
	}
	r.err = binary.Read(r.r, byteOrder, v)
}

func (r *fieldReader) done() error {
	return r.err
}

// sliceField reads n bytes directly from buf at offset, bounds-checked
// against the declared total size of the enclosing structure.
func sliceField(buf []byte, offset, n, limit int) ([]byte, int, error) {
	if n < 0 || offset < 0 || offset+n > limit || offset+n > len(buf) {
		return nil, offset, fmt.Errorf("field at offset %d, size %d exceeds buffer (limit %d, len %d)", offset, n, limit, len(buf))
	}
	return buf[offset : offset+n], offset + n, nil
}
