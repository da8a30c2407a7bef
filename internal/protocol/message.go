/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/kentakayama/tls-oracle/internal/attestation"
)

const (
	TypeGetPublicKey    = "getPublicKey"
	TypeValidateAndSign = "validateAndSign"

	// InvalidRequestError is the error string of every protocol-level rejection;
	// the specific kind travels in Response.Reason.
	InvalidRequestError = "invalid request"
)

// Message is the JSON document exchanged from host to validator.
type Message struct {
	Type           string          `json:"type"`
	PriceData      *PriceData      `json:"priceData,omitempty" validate:"required"`
	TLSCertificate *TLSCertificate `json:"tlsCertificate,omitempty" validate:"required"`
	// Source is the literal URL the host fetched the payload from.
	Source string `json:"source,omitempty"`
	// Hostname is the host the payload was fetched from.
	Hostname string `json:"hostname,omitempty"`
}

type PriceData struct {
	Symbol    string      `json:"symbol" validate:"required"`
	Price     json.Number `json:"price" validate:"required"`
	Timestamp string      `json:"timestamp" validate:"required"`
}

// ErrPriceNotNumber rejects a price sent as anything but a JSON number.
var ErrPriceNotNumber = errors.New("price must be a JSON number")

// UnmarshalJSON decodes price data, taking price only as a JSON number literal.
// A quoted price is refused; an absent or null price is left empty.
func (p *PriceData) UnmarshalJSON(b []byte) error {
	type plain PriceData
	var aux struct {
		plain
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = PriceData(aux.plain)
	p.Price = ""

	raw := bytes.TrimSpace(aux.Price)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		return ErrPriceNotNumber
	}
	if err := json.Unmarshal(raw, &p.Price); err != nil {
		return ErrPriceNotNumber
	}
	return nil
}

// TLSCertificate carries the certificate material the host observed. The
// descriptive fields are informational only; the validator derives everything
// it checks from the DER bytes.
type TLSCertificate struct {
	Certificate      string   `json:"certificate"`
	CertificateChain []string `json:"certificateChain,omitempty"`
	Subject          string   `json:"subject,omitempty"`
	Issuer           string   `json:"issuer,omitempty"`
	ValidFrom        string   `json:"validFrom,omitempty"`
	ValidTo          string   `json:"validTo,omitempty"`
	Fingerprint      string   `json:"fingerprint,omitempty"`
	SerialNumber     string   `json:"serialNumber,omitempty"`
}

// Response is the JSON document the validator writes back before closing.
type Response struct {
	Success             bool                     `json:"success"`
	PublicKey           string                   `json:"publicKey,omitempty"`
	PublicKeyCompressed string                   `json:"publicKeyCompressed,omitempty"`
	Address             string                   `json:"address,omitempty"`
	SignedPrice         *attestation.SignedPrice `json:"signedPrice,omitempty"`
	Error               string                   `json:"error,omitempty"`
	Reason              string                   `json:"reason,omitempty"`
}

// NewGetPublicKeyMessage builds the request for the validator's public key.
func NewGetPublicKeyMessage() *Message {
	return &Message{Type: TypeGetPublicKey}
}

// NewValidateAndSignMessage builds a verify-then-sign request.
func NewValidateAndSignMessage(p PriceData, cert TLSCertificate, source, hostname string) *Message {
	return &Message{
		Type:           TypeValidateAndSign,
		PriceData:      &p,
		TLSCertificate: &cert,
		Source:         source,
		Hostname:       hostname,
	}
}

func InvalidRequest(kind ErrorKind) *Response {
	return &Response{Success: false, Error: InvalidRequestError, Reason: string(kind)}
}

func Failure(reason string) *Response {
	return &Response{Success: false, Error: reason, Reason: reason}
}
