// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/vbsign/pkg/envelope"
	"github.com/linuxboot/vbsign/pkg/params"
	"github.com/linuxboot/vbsign/pkg/primitives"
)

func genKeyPair(t *testing.T) (*primitives.PrivateKey, *primitives.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &primitives.PrivateKey{Signer: key}, &primitives.PublicKey{Key: &key.PublicKey}
}

func TestRunBarePubkeyFreshOutput(t *testing.T) {
	dir := t.TempDir()
	signPriv, _ := genKeyPair(t)
	_, dataPub := genKeyPair(t)
	der, err := x509.MarshalPKIXPublicKey(dataPub.Key)
	require.NoError(t, err)

	infile := filepath.Join(dir, "datakey.bin")
	require.NoError(t, os.WriteFile(infile, der, 0o600))
	outfile := filepath.Join(dir, "keyblock.bin")

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.Infile = infile
	p.Outfile = outfile

	errCount := Run(p)
	require.Equal(t, 0, errCount)

	out, err := os.ReadFile(outfile)
	require.NoError(t, err)
	kb, size, err := envelope.ParseKeyBlock(out)
	require.NoError(t, err)
	require.Equal(t, len(out), size)
	require.NotEmpty(t, kb.Signature)
}

func TestRunMissingRequiredParamsAccumulates(t *testing.T) {
	dir := t.TempDir()
	_, kernelSubkey := genKeyPair(t)

	body := make([]byte, 1024)
	infile := filepath.Join(dir, "body.bin")
	require.NoError(t, os.WriteFile(infile, body, 0o600))

	p := params.NewSigningParams()
	p.KernelSubkey = kernelSubkey
	p.FVSpecified = true
	p.Infile = infile
	p.Outfile = filepath.Join(dir, "out.bin")

	errCount := Run(p)
	require.Greater(t, errCount, 0)
	_, statErr := os.Stat(p.Outfile)
	require.True(t, os.IsNotExist(statErr))
}

func TestRunKernelPartitionResignInPlace(t *testing.T) {
	dir := t.TempDir()
	signPriv, signPub := genKeyPair(t)
	keyBlockRaw, err := envelope.CreateKeyBlock(signPub, nil, 0)
	require.NoError(t, err)

	body := []byte("kernel body bytes for in-place pipeline resign")
	const padding = 65536
	vblock, err := envelope.SignKernelBlob(body, padding, 1, 0x100000, keyBlockRaw, signPriv, 0, true)
	require.NoError(t, err)
	partition := append(append([]byte{}, vblock...), body...)

	infile := filepath.Join(dir, "partition.bin")
	require.NoError(t, os.WriteFile(infile, partition, 0o600))

	p := params.NewSigningParams()
	p.SignPrivate = signPriv
	p.Padding = padding
	p.Infile = infile
	p.TypeOverride = params.KindKernelPartition

	errCount := Run(p)
	require.Equal(t, 0, errCount)

	out, err := os.ReadFile(infile)
	require.NoError(t, err)
	require.Equal(t, body, out[padding:])
}
