/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package certificate

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"time"
)

// Material is the view of one X.509 certificate taken from untrusted bytes.
// Every field is derived from Raw; nothing is populated unless the full decode succeeded.
type Material struct {
	Raw          []byte
	Subject      string
	Issuer       string
	NotBefore    time.Time
	NotAfter     time.Time
	SPKIHash     [sha256.Size]byte
	Fingerprint  [sha256.Size]byte
	SerialNumber string
	DNSNames     []string

	cert *x509.Certificate
}

// Decode parses a base64 DER certificate as captured by the host.
// PEM armor and embedded whitespace are tolerated.
func Decode(encoded string) (*Material, error) {
	body := strings.TrimSpace(encoded)
	if body == "" {
		return nil, ErrCertificateMissing
	}

	var der []byte
	if block, _ := pem.Decode([]byte(body)); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, ErrCertificateMalformed
		}
		der = block.Bytes
	} else {
		body = strings.Join(strings.Fields(body), "")
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, ErrCertificateMalformed
		}
		der = b
	}

	return FromDER(der)
}

// FromDER builds Material from raw DER bytes.
func FromDER(der []byte) (*Material, error) {
	if len(der) == 0 {
		return nil, ErrCertificateMissing
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, ErrCertificateMalformed
	}

	return &Material{
		Raw:          cert.Raw,
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		SPKIHash:     sha256.Sum256(cert.RawSubjectPublicKeyInfo),
		Fingerprint:  sha256.Sum256(cert.Raw),
		SerialNumber: hex.EncodeToString(cert.SerialNumber.Bytes()),
		DNSNames:     append([]string(nil), cert.DNSNames...),
		cert:         cert,
	}, nil
}

// DecodeChain decodes the optional intermediates that accompany a leaf.
// A single malformed entry fails the whole chain.
func DecodeChain(encoded []string) ([]*Material, error) {
	chain := make([]*Material, 0, len(encoded))
	for _, e := range encoded {
		m, err := Decode(e)
		if err != nil {
			if err == ErrCertificateMissing {
				return nil, ErrCertificateMalformed
			}
			return nil, err
		}
		chain = append(chain, m)
	}
	return chain, nil
}

// Certificate returns the parsed certificate for checks that need the x509 structure,
// such as hostname matching.
func (m *Material) Certificate() *x509.Certificate {
	return m.cert
}

// ValidAt reports whether t lies within [NotBefore, NotAfter].
func (m *Material) ValidAt(t time.Time) bool {
	return !t.Before(m.NotBefore) && !t.After(m.NotAfter)
}

func (m *Material) SPKIHashHex() string {
	return hex.EncodeToString(m.SPKIHash[:])
}

func (m *Material) FingerprintHex() string {
	return hex.EncodeToString(m.Fingerprint[:])
}
