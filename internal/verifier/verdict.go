/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package verifier

import (
	"errors"

	"github.com/kentakayama/tls-oracle/internal/certificate"
)

// Reason is the outcome code of one verification pass. The string values are
// the codes surfaced to the host in failure responses.
type Reason string

const (
	Valid                Reason = "Valid"
	CertificateMissing   Reason = "CertificateMissing"
	CertificateMalformed Reason = "CertificateMalformed"
	Expired              Reason = "Expired"
	HostnameMismatch     Reason = "HostnameMismatch"
	NoPinConfigured      Reason = "NoPinConfigured"
	PinMismatch          Reason = "PinMismatch"
	UrlHostnameMismatch  Reason = "UrlHostnameMismatch"
)

// Reasons lists every outcome, Valid first.
var Reasons = []Reason{
	Valid,
	CertificateMissing,
	CertificateMalformed,
	Expired,
	HostnameMismatch,
	NoPinConfigured,
	PinMismatch,
	UrlHostnameMismatch,
}

func (r Reason) String() string { return string(r) }

// PinCategory names the pin set that decided a pinning check.
type PinCategory string

const (
	PinNone        PinCategory = ""
	PinSPKIHash    PinCategory = "spki_sha256"
	PinFingerprint PinCategory = "fingerprint_sha256"
	PinIssuer      PinCategory = "issuer"
)

// Verdict is the immutable result of one verification pass.
type Verdict struct {
	Reason   Reason
	Material *certificate.Material
	// PinnedBy is the category that was authoritative for this host, PinNone when unpinned.
	PinnedBy PinCategory
	// Unpinned is set when the host had no pin entry and the verifier runs fail-open.
	Unpinned bool
}

func (v Verdict) OK() bool {
	return v.Reason == Valid
}

func reasonFromDecodeError(err error) Reason {
	if errors.Is(err, certificate.ErrCertificateMissing) {
		return CertificateMissing
	}
	return CertificateMalformed
}
