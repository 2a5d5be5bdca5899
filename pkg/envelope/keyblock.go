// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/linuxboot/vbsign/pkg/primitives"
)

// keyBlockMagic marks the start of a KeyBlock. It has no relationship to
// any real verified-boot producer's magic; the object model here is
// self-consistent rather than wire-compatible with an external verifier,
// since signature/verification primitives are this engine's named
// external collaborators (see pkg/primitives), not a shared binary ABI.
var keyBlockMagic = [8]byte{'V', 'B', 'O', 'O', 'T', 'K', 'B', '1'}

const keyBlockHeaderSize = 8 + 4 + 4 + 2 + 2 + 4 + 4 + 4 // 32 bytes
const checksumSize = sha256.Size

// DataKey is a public key embedded in a KeyBlock.
type DataKey struct {
	Algo Algorithm
	Raw  []byte // DER-encoded PKIX public key
}

// PublicKey parses the embedded DER bytes into a crypto.PublicKey.
func (k DataKey) PublicKey() (*primitives.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(k.Raw)
	if err != nil {
		return nil, fmt.Errorf("parse data key: %w", err)
	}
	return &primitives.PublicKey{Key: pub}, nil
}

// KeyBlock is a self-describing envelope binding a public data key,
// optionally signed by a higher-level signing key. See spec §3/§4.3.
type KeyBlock struct {
	Flags     uint32
	DataKey   DataKey
	Checksum  []byte
	Signature []byte // empty for an unsigned key block (spec.md §4.4)
}

// KeyBlockSize returns the total on-wire size of the key block.
func (kb *KeyBlock) KeyBlockSize() int {
	return keyBlockHeaderSize + len(kb.DataKey.Raw) + len(kb.Checksum) + len(kb.Signature)
}

func checksumPayload(flags uint32, algo Algorithm, dataKey []byte) []byte {
	w := &fieldWriter{}
	w.put(keyBlockMagic)
	w.put(flags)
	w.put(uint16(algo))
	w.put(uint32(len(dataKey)))
	w.buf.Write(dataKey)
	b, _ := w.bytes()
	return b
}

// CreateKeyBlock produces a signed (or, if signer is nil, unsigned) key
// block wrapping pubkey, auto-detecting the Algorithm tag from pubkey's
// own Go type. This is the Envelope.create_keyblock facade operation of
// spec.md §4.3, used by the plain --signprivate path, which spec.md §6
// gives no algorithm-index option to override with.
func CreateKeyBlock(pubkey *primitives.PublicKey, signer *primitives.PrivateKey, flags uint32) ([]byte, error) {
	if pubkey == nil || pubkey.Key == nil {
		return nil, errors.New("create key block: nil public key")
	}
	algo, err := algorithmOf(pubkey.Key)
	if err != nil {
		return nil, fmt.Errorf("create key block: %w", err)
	}
	return createKeyBlock(pubkey, signer, flags, algo)
}

// CreateKeyBlockWithAlgorithm is CreateKeyBlock's variant for the
// --pem_algo path (spec.md §6): algo is the caller-selected algorithm
// index rather than one inferred from pubkey's Go type, matching
// original_source/futility/cmd_sign.c's explicit pem_algo parameter to
// PrivateKeyReadPem.
func CreateKeyBlockWithAlgorithm(pubkey *primitives.PublicKey, signer *primitives.PrivateKey, flags uint32, algo Algorithm) ([]byte, error) {
	return createKeyBlock(pubkey, signer, flags, algo)
}

func createKeyBlock(pubkey *primitives.PublicKey, signer *primitives.PrivateKey, flags uint32, algo Algorithm) ([]byte, error) {
	if pubkey == nil || pubkey.Key == nil {
		return nil, errors.New("create key block: nil public key")
	}
	raw, err := x509.MarshalPKIXPublicKey(pubkey.Key)
	if err != nil {
		return nil, fmt.Errorf("create key block: marshal public key: %w", err)
	}

	payload := checksumPayload(flags, algo, raw)
	sum := sha256.Sum256(payload)
	checksum := sum[:]

	var signature []byte
	if signer != nil {
		signedData := append(append([]byte{}, payload...), checksum...)
		signature, err = primitives.Sign(signedData, signer)
		if err != nil {
			return nil, fmt.Errorf("create key block: %w", err)
		}
		if len(signature) == 0 {
			return nil, errors.New("create key block: signer returned a null signature")
		}
	}

	kb := &KeyBlock{
		Flags:     flags,
		DataKey:   DataKey{Algo: algo, Raw: raw},
		Checksum:  checksum,
		Signature: signature,
	}
	return kb.Marshal(), nil
}

// CreateKeyBlockExternal is CreateKeyBlock's variant that delegates the
// signature computation to an out-of-process helper, per spec.md §4.3's
// create_keyblock_external and §4.4's PubkeyWrapper external-signer
// path. algo is the caller-selected --pem_algo index: --pem_external
// requires --pem_signpriv (ArgContract), and --pem_signpriv always
// carries an explicit --pem_algo, so this path never needs to fall back
// to auto-detection.
func CreateKeyBlockExternal(pubkey *primitives.PublicKey, flags uint32, helperPath string, algo Algorithm) ([]byte, error) {
	if pubkey == nil || pubkey.Key == nil {
		return nil, errors.New("create key block (external): nil public key")
	}
	raw, err := x509.MarshalPKIXPublicKey(pubkey.Key)
	if err != nil {
		return nil, fmt.Errorf("create key block (external): marshal public key: %w", err)
	}

	payload := checksumPayload(flags, algo, raw)
	sum := sha256.Sum256(payload)
	checksum := sum[:]
	signedData := append(append([]byte{}, payload...), checksum...)

	signature, err := primitives.RunExternalHelper(helperPath, signedData)
	if err != nil {
		return nil, fmt.Errorf("create key block (external): %w", err)
	}
	if len(signature) == 0 {
		return nil, errors.New("create key block (external): helper returned no signature bytes")
	}
	exact, max, err := expectedSignatureSize(algo)
	if err != nil {
		return nil, fmt.Errorf("create key block (external): %w", err)
	}
	if exact > 0 && len(signature) != exact {
		return nil, fmt.Errorf("create key block (external): helper returned %d signature bytes, want exactly %d for %v", len(signature), exact, algo)
	}
	if len(signature) > max {
		return nil, fmt.Errorf("create key block (external): helper returned %d signature bytes, exceeds %d-byte bound for %v", len(signature), max, algo)
	}

	kb := &KeyBlock{
		Flags:     flags,
		DataKey:   DataKey{Algo: algo, Raw: raw},
		Checksum:  checksum,
		Signature: signature,
	}
	return kb.Marshal(), nil
}

// Marshal serializes the key block to its on-wire form.
func (kb *KeyBlock) Marshal() []byte {
	w := &fieldWriter{}
	w.put(keyBlockMagic)
	w.put(uint32(kb.KeyBlockSize()))
	w.put(kb.Flags)
	w.put(uint16(kb.DataKey.Algo))
	w.put(uint16(0)) // reserved
	w.put(uint32(len(kb.DataKey.Raw)))
	w.put(uint32(len(kb.Checksum)))
	w.put(uint32(len(kb.Signature)))
	w.buf.Write(kb.DataKey.Raw)
	w.buf.Write(kb.Checksum)
	w.buf.Write(kb.Signature)
	b, _ := w.bytes()
	return b
}

// ParseKeyBlock parses a KeyBlock from the head of buf. It returns the
// parsed block and the number of bytes it occupies (key_block_size),
// which may be less than len(buf): callers are expected to locate the
// preamble immediately following it (spec.md §3 invariant 1).
func ParseKeyBlock(buf []byte) (*KeyBlock, int, error) {
	if len(buf) < keyBlockHeaderSize {
		return nil, 0, errors.New("parse key block: buffer shorter than header")
	}
	r := newFieldReader(buf[:keyBlockHeaderSize])
	var magic [8]byte
	var keyBlockSize, flags uint32
	var algo, reserved uint16
	var dataKeySize, checksumSize32, sigSize uint32
	r.get(&magic)
	r.get(&keyBlockSize)
	r.get(&flags)
	r.get(&algo)
	r.get(&reserved)
	r.get(&dataKeySize)
	r.get(&checksumSize32)
	r.get(&sigSize)
	if err := r.done(); err != nil {
		return nil, 0, fmt.Errorf("parse key block: %w", err)
	}
	if magic != keyBlockMagic {
		return nil, 0, errors.New("parse key block: bad magic")
	}
	if int(keyBlockSize) > len(buf) {
		return nil, 0, fmt.Errorf("parse key block: key_block_size %d exceeds buffer %d", keyBlockSize, len(buf))
	}

	limit := int(keyBlockSize)
	offset := keyBlockHeaderSize
	dataKey, offset, err := sliceField(buf, offset, int(dataKeySize), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("parse key block: data key: %w", err)
	}
	checksum, offset, err := sliceField(buf, offset, int(checksumSize32), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("parse key block: checksum: %w", err)
	}
	signature, offset, err := sliceField(buf, offset, int(sigSize), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("parse key block: signature: %w", err)
	}
	if offset != limit {
		return nil, 0, fmt.Errorf("parse key block: trailing garbage (offset %d, key_block_size %d)", offset, limit)
	}

	kb := &KeyBlock{
		Flags:     flags,
		DataKey:   DataKey{Algo: Algorithm(algo), Raw: dataKey},
		Checksum:  checksum,
		Signature: signature,
	}
	return kb, int(keyBlockSize), nil
}

// VerifyKeyBlock is the Envelope.verify_keyblock primitive: it checks the
// key block's internal checksum (an integrity check, not a chain-of-trust
// verification — see spec.md §1 Non-goals and §9's open question) and
// that it fits within maxLen.
func VerifyKeyBlock(buf []byte, maxLen int) error {
	kb, size, err := ParseKeyBlock(buf)
	if err != nil {
		return err
	}
	if size > maxLen {
		return fmt.Errorf("verify key block: size %d exceeds region %d", size, maxLen)
	}
	payload := checksumPayload(kb.Flags, kb.DataKey.Algo, kb.DataKey.Raw)
	sum := sha256.Sum256(payload)
	if len(kb.Checksum) != len(sum) || string(kb.Checksum) != string(sum[:]) {
		return errors.New("verify key block: checksum mismatch")
	}
	return nil
}
