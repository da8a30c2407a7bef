/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package attestation

import "errors"

var (
	ErrInvalidPriceData    = errors.New("invalid price data")
	ErrMessageHashMismatch = errors.New("message hash does not match the canonical message")
	ErrMalformedSignature  = errors.New("malformed signature")
	ErrPublicKeyMismatch   = errors.New("signature was not produced by the expected key")
)
