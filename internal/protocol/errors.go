/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package protocol

import "errors"

// ErrorKind names a protocol-level failure. Verification failures are reported
// with verifier reasons instead.
type ErrorKind string

const (
	InvalidRequestShape  ErrorKind = "InvalidRequestShape"
	MissingRequiredField ErrorKind = "MissingRequiredField"
	UnknownRequestType   ErrorKind = "UnknownRequestType"
	TransportTimeout     ErrorKind = "TransportTimeout"
)

var (
	ErrInvalidRequestShape  = errors.New("invalid request shape")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnknownRequestType   = errors.New("unknown request type")
	ErrTransportTimeout     = errors.New("transport timeout")
)

// KindOf maps a parse or transport error to its kind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrMissingRequiredField):
		return MissingRequiredField
	case errors.Is(err, ErrUnknownRequestType):
		return UnknownRequestType
	case errors.Is(err, ErrTransportTimeout):
		return TransportTimeout
	default:
		return InvalidRequestShape
	}
}
