/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package certificate

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/kentakayama/tls-oracle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_OK(t *testing.T) {
	c := testutil.IssueCertificate(t, testutil.CertOptions{CommonName: "api.binance.us", Issuer: "Amazon RSA 2048 M02"})

	m, err := Decode(c.Base64)
	require.Nil(t, err)

	assert.Equal(t, c.DER, m.Raw)
	assert.Equal(t, "CN=api.binance.us", m.Subject)
	assert.Equal(t, "CN=Amazon RSA 2048 M02", m.Issuer)
	assert.Equal(t, sha256.Sum256(c.Cert.RawSubjectPublicKeyInfo), m.SPKIHash)
	assert.Equal(t, sha256.Sum256(c.DER), m.Fingerprint)
	assert.Equal(t, []string{"api.binance.us"}, m.DNSNames)
	assert.NotEmpty(t, m.SerialNumber)
	assert.NotNil(t, m.Certificate())
}

func TestDecode_Deterministic(t *testing.T) {
	c := testutil.IssueCertificate(t, testutil.CertOptions{})

	a, err := Decode(c.Base64)
	require.Nil(t, err)
	b, err := Decode(c.Base64)
	require.Nil(t, err)

	assert.Equal(t, a.SPKIHashHex(), b.SPKIHashHex())
	assert.Equal(t, a.FingerprintHex(), b.FingerprintHex())
}

func TestDecode_PEMAndWrappedBase64(t *testing.T) {
	c := testutil.IssueCertificate(t, testutil.CertOptions{})

	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.DER}))
	m, err := Decode(pemText)
	require.Nil(t, err)
	assert.Equal(t, c.DER, m.Raw)

	wrapped := ""
	for i := 0; i < len(c.Base64); i += 64 {
		end := i + 64
		if end > len(c.Base64) {
			end = len(c.Base64)
		}
		wrapped += c.Base64[i:end] + "\n"
	}
	m, err = Decode(wrapped)
	require.Nil(t, err)
	assert.Equal(t, c.DER, m.Raw)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("")
	assert.Equal(t, ErrCertificateMissing, err)

	_, err = Decode("   \n")
	assert.Equal(t, ErrCertificateMissing, err)

	_, err = Decode("not base64 at all!")
	assert.Equal(t, ErrCertificateMalformed, err)

	_, err = Decode(base64.StdEncoding.EncodeToString([]byte("valid base64, not DER")))
	assert.Equal(t, ErrCertificateMalformed, err)

	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}}))
	_, err = Decode(keyPEM)
	assert.Equal(t, ErrCertificateMalformed, err)
}

func TestDecodeChain(t *testing.T) {
	a := testutil.IssueCertificate(t, testutil.CertOptions{CommonName: "intermediate-1"})
	b := testutil.IssueCertificate(t, testutil.CertOptions{CommonName: "intermediate-2"})

	chain, err := DecodeChain([]string{a.Base64, b.Base64})
	require.Nil(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "CN=intermediate-2", chain[1].Subject)

	chain, err = DecodeChain(nil)
	require.Nil(t, err)
	assert.Empty(t, chain)

	_, err = DecodeChain([]string{a.Base64, ""})
	assert.Equal(t, ErrCertificateMalformed, err)

	_, err = DecodeChain([]string{"%%%"})
	assert.Equal(t, ErrCertificateMalformed, err)
}

func TestMaterial_ValidAt(t *testing.T) {
	nb := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	na := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := testutil.IssueCertificate(t, testutil.CertOptions{NotBefore: nb, NotAfter: na})
	m, err := FromDER(c.DER)
	require.Nil(t, err)

	assert.True(t, m.ValidAt(nb))
	assert.True(t, m.ValidAt(na))
	assert.True(t, m.ValidAt(nb.Add(24*time.Hour)))
	assert.False(t, m.ValidAt(nb.Add(-time.Second)))
	assert.False(t, m.ValidAt(na.Add(time.Second)))
}

func TestNormalizeDigest(t *testing.T) {
	digest := sha256.Sum256([]byte("spki"))
	colon := FormatColonHex(digest[:])
	assert.Regexp(t, `^SHA256:([0-9A-F]{2}:){31}[0-9A-F]{2}$`, colon)

	got, err := NormalizeDigest(colon)
	require.Nil(t, err)
	assert.Len(t, got, 64)

	plain, err := NormalizeDigest(got)
	require.Nil(t, err)
	assert.Equal(t, got, plain)

	b64, err := NormalizeDigest("sha256/" + base64.StdEncoding.EncodeToString(digest[:]))
	require.Nil(t, err)
	assert.Equal(t, got, b64)

	_, err = NormalizeDigest("SHA256:AB:CD")
	assert.Equal(t, ErrInvalidDigest, err)
}
