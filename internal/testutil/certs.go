/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package testutil mints throwaway certificates for tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"
)

type CertOptions struct {
	CommonName string
	DNSNames   []string
	Issuer     string
	NotBefore  time.Time
	NotAfter   time.Time
	Key        *ecdsa.PrivateKey
}

type Cert struct {
	DER    []byte
	Base64 string
	Key    *ecdsa.PrivateKey
	Cert   *x509.Certificate
}

// NewKey returns a fresh P-256 key.
func NewKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

// IssueCertificate creates a certificate signed by a throwaway issuer key, so the
// issuer name is whatever opts.Issuer says. Zero values get sensible defaults.
func IssueCertificate(t testing.TB, opts CertOptions) Cert {
	t.Helper()

	if opts.CommonName == "" {
		opts.CommonName = "example.com"
	}
	if opts.DNSNames == nil {
		opts.DNSNames = []string{opts.CommonName}
	}
	if opts.Issuer == "" {
		opts.Issuer = "Test Issuing CA"
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(24 * time.Hour)
	}
	if opts.Key == nil {
		opts.Key = NewKey(t)
	}

	issuerKey := NewKey(t)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: opts.CommonName},
		DNSNames:     opts.DNSNames,
		NotBefore:    opts.NotBefore,
		NotAfter:     opts.NotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	parent := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: opts.Issuer},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &opts.Key.PublicKey, issuerKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	return Cert{
		DER:    der,
		Base64: base64.StdEncoding.EncodeToString(der),
		Key:    opts.Key,
		Cert:   cert,
	}
}
