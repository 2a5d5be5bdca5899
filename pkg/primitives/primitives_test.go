// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package primitives

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePEM(t *testing.T, dir, name, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	block := &pem.Block{Type: blockType, Bytes: der}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestReadPrivateRSA(t *testing.T) {
	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	path := writePEM(t, dir, "rsa.pem", "RSA PRIVATE KEY", der)

	priv, err := ReadPrivate(path)
	require.NoError(t, err)
	require.IsType(t, &rsa.PrivateKey{}, priv.Signer)
}

func TestReadPrivateECDSA(t *testing.T) {
	dir := t.TempDir()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	path := writePEM(t, dir, "ec.pem", "EC PRIVATE KEY", der)

	priv, err := ReadPrivate(path)
	require.NoError(t, err)
	require.IsType(t, &ecdsa.PrivateKey{}, priv.Signer)
}

func TestReadPublicBareAndPEM(t *testing.T) {
	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	pemPath := writePEM(t, dir, "pub.pem", "PUBLIC KEY", der)
	pub, err := ReadPublic(pemPath)
	require.NoError(t, err)
	require.IsType(t, &rsa.PublicKey{}, pub.Key)

	barePath := filepath.Join(dir, "pub.der")
	require.NoError(t, os.WriteFile(barePath, der, 0o600))
	pub2, err := ReadPublic(barePath)
	require.NoError(t, err)
	require.IsType(t, &rsa.PublicKey{}, pub2.Key)
}

func TestSignVerifyRoundTripRSAAndECDSA(t *testing.T) {
	data := []byte("verified boot signs this")

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaPriv := &PrivateKey{Signer: rsaKey}
	rsaPub := &PublicKey{Key: &rsaKey.PublicKey}
	sig, err := Sign(data, rsaPriv)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
	require.NoError(t, VerifySignature(data, sig, rsaPub))
	require.Error(t, VerifySignature([]byte("tampered"), sig, rsaPub))

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecPriv := &PrivateKey{Signer: ecKey}
	ecPub := &PublicKey{Key: &ecKey.PublicKey}
	sig2, err := Sign(data, ecPriv)
	require.NoError(t, err)
	require.NotEmpty(t, sig2)
	require.NoError(t, VerifySignature(data, sig2, ecPub))
}

func TestPackKernelBlobDeterministic(t *testing.T) {
	vmlinuz := make([]byte, 10000)
	for i := range vmlinuz {
		vmlinuz[i] = byte(i)
	}
	config := []byte("console=ttyS0 root=/dev/sda1")
	bootloader := []byte{1, 2, 3, 4, 5}

	blob1, err := PackKernelBlob(vmlinuz, ArchX86, config, bootloader)
	require.NoError(t, err)
	blob2, err := PackKernelBlob(vmlinuz, ArchX86, config, bootloader)
	require.NoError(t, err)
	require.Equal(t, blob1, blob2)

	require.Equal(t, config, blob1[:len(config)])
	require.Equal(t, vmlinuz, blob1[configSectionSize:configSectionSize+len(vmlinuz)])
	require.Equal(t, bootloader, blob1[len(blob1)-len(bootloader):])
}

func TestPackKernelBlobConfigTooLarge(t *testing.T) {
	_, err := PackKernelBlob([]byte("k"), ArchX86, make([]byte, configSectionSize+1), nil)
	require.Error(t, err)
}

func TestUpdateBlobConfigRoundTrip(t *testing.T) {
	blob, err := PackKernelBlob([]byte("kernel body"), ArchX86, []byte("old config"), []byte("boot"))
	require.NoError(t, err)

	newConfig := []byte("console=ttyS1")
	require.NoError(t, UpdateBlobConfig(blob, newConfig))
	require.Equal(t, newConfig, blob[:len(newConfig)])
	// Rest of the config section is zeroed, not left over from the old value.
	require.NotContains(t, string(blob[:configSectionSize]), "old config")
}
