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
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kentakayama/tls-oracle/internal/attestation"
)

// Request is the parsed, closed set of things a host may ask for.
type Request interface {
	Kind() string
}

type GetPublicKeyRequest struct{}

func (GetPublicKeyRequest) Kind() string { return TypeGetPublicKey }

// ValidateAndSignRequest has passed shape checks; its payload is already normalised.
type ValidateAndSignRequest struct {
	Price            attestation.PriceData
	Certificate      string
	CertificateChain []string
	Source           string
	Hostname         string
}

func (ValidateAndSignRequest) Kind() string { return TypeValidateAndSign }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Parse decodes one request document. Anything that is not exactly one JSON
// object of a known type with its required fields is rejected here, before the
// request reaches verification or signing.
func Parse(data []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequestShape, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after request", ErrInvalidRequestShape)
	}

	switch msg.Type {
	case TypeGetPublicKey:
		return GetPublicKeyRequest{}, nil
	case TypeValidateAndSign:
		return parseValidateAndSign(&msg)
	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingRequiredField)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, msg.Type)
	}
}

func parseValidateAndSign(msg *Message) (Request, error) {
	if err := validate.Struct(msg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequiredField, strings.TrimPrefix(verrs[0].Namespace(), "Message."))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequestShape, err)
	}

	p, err := attestation.NewPriceData(msg.PriceData.Symbol, msg.PriceData.Price, msg.PriceData.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequestShape, err)
	}

	return ValidateAndSignRequest{
		Price:            p,
		Certificate:      msg.TLSCertificate.Certificate,
		CertificateChain: msg.TLSCertificate.CertificateChain,
		Source:           msg.Source,
		Hostname:         msg.Hostname,
	}, nil
}
