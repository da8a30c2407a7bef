/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package verifier

import (
	"io"
	"log"
	"net/url"
	"time"

	"github.com/kentakayama/tls-oracle/internal/certificate"
	"github.com/kentakayama/tls-oracle/internal/pinning"
	"github.com/kentakayama/tls-oracle/internal/util"
)

// Verifier re-checks a certificate captured by the untrusted host against the
// pin policy. It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	policy   *pinning.Policy
	now      func() time.Time
	logger   *log.Logger
	failOpen bool
}

type Option func(*Verifier)

// WithClock replaces time.Now for the validity-window check.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithLogger(logger *log.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// WithFailOpenUnpinned lets hosts without a pin entry pass the pinning step.
// Off by default: an unpinned host yields NoPinConfigured.
func WithFailOpenUnpinned(enabled bool) Option {
	return func(v *Verifier) { v.failOpen = enabled }
}

func New(policy *pinning.Policy, opts ...Option) *Verifier {
	v := &Verifier{
		policy: policy,
		now:    time.Now,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyEncoded decodes the base64 leaf and optional chain and verifies the leaf.
// Decode failures are reported as verdicts, never as errors.
func (v *Verifier) VerifyEncoded(leaf string, chain []string, hostname, expectedURL string) Verdict {
	m, err := certificate.Decode(leaf)
	if err != nil {
		v.logger.Printf("certificate decode failed: %v", err)
		return Verdict{Reason: reasonFromDecodeError(err)}
	}
	if _, err := certificate.DecodeChain(chain); err != nil {
		v.logger.Printf("certificate chain decode failed: %v", err)
		return Verdict{Reason: CertificateMalformed, Material: m}
	}
	return v.Verify(m, hostname, expectedURL)
}

// Verify runs the time window, hostname, pin and URL checks in that order and
// stops at the first failure.
func (v *Verifier) Verify(m *certificate.Material, hostname, expectedURL string) Verdict {
	if m == nil {
		return Verdict{Reason: CertificateMissing}
	}
	verdict := Verdict{Material: m}

	if now := v.now(); !m.ValidAt(now) {
		v.logger.Printf("certificate outside validity window: now=%s notBefore=%s notAfter=%s",
			now.UTC().Format(time.RFC3339), m.NotBefore.UTC().Format(time.RFC3339), m.NotAfter.UTC().Format(time.RFC3339))
		verdict.Reason = Expired
		return verdict
	}

	host, err := pinning.NormalizeHostname(hostname)
	if err != nil || m.Certificate() == nil || m.Certificate().VerifyHostname(host) != nil {
		v.logger.Printf("certificate does not cover hostname %q: subject=%q dns=%v", hostname, m.Subject, m.DNSNames)
		verdict.Reason = HostnameMismatch
		return verdict
	}

	entry, ok := v.policy.Lookup(host)
	if !ok || entry.Empty() {
		if !v.failOpen {
			v.logger.Printf("no pin configured for %s, rejecting", host)
			verdict.Reason = NoPinConfigured
			return verdict
		}
		v.logger.Printf("WARNING: no pin configured for %s, continuing because fail-open is enabled", host)
		verdict.Unpinned = true
	} else {
		category, matched := matchPin(entry, m)
		verdict.PinnedBy = category
		if !matched {
			v.logger.Printf("certificate pinning failed for %s (%s): spki=%s fingerprint=%s issuer=%q",
				host, category, certificate.FormatColonHex(m.SPKIHash[:]), m.FingerprintHex(), m.Issuer)
			v.logger.Printf("  accepted: %v", acceptedValues(entry, category))
			verdict.Reason = PinMismatch
			return verdict
		}
	}

	if expectedURL != "" && !urlMatchesHost(expectedURL, host) {
		v.logger.Printf("source URL %q does not belong to %s", expectedURL, host)
		verdict.Reason = UrlHostnameMismatch
		return verdict
	}

	v.logger.Printf("certificate verification successful: subject=%q issuer=%q validUntil=%s",
		m.Subject, m.Issuer, m.NotAfter.UTC().Format(time.RFC3339))
	verdict.Reason = Valid
	return verdict
}

// matchPin consults the first non-empty category in the order SPKI hash,
// fingerprint, issuer. That category alone decides; a configured but
// mismatching category never falls through to a weaker one.
func matchPin(e *pinning.PinEntry, m *certificate.Material) (PinCategory, bool) {
	switch {
	case len(e.SPKIHashes) > 0:
		return PinSPKIHash, e.SPKIHashes.Has(m.SPKIHashHex())
	case len(e.Fingerprints) > 0:
		return PinFingerprint, e.Fingerprints.Has(m.FingerprintHex())
	case len(e.Issuers) > 0:
		return PinIssuer, e.Issuers.Has(m.Issuer)
	default:
		return PinNone, false
	}
}

func acceptedValues(e *pinning.PinEntry, c PinCategory) []string {
	switch c {
	case PinSPKIHash:
		return util.Sorted(e.SPKIHashes)
	case PinFingerprint:
		return util.Sorted(e.Fingerprints)
	case PinIssuer:
		return util.Sorted(e.Issuers)
	}
	return nil
}

func urlMatchesHost(raw, host string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	h, err := pinning.NormalizeHostname(u.Hostname())
	if err != nil {
		return false
	}
	return h == host
}
