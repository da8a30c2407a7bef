/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import "errors"

var (
	// ErrKeyGenerationExhausted and ErrSigningFailure are process-fatal: a validator
	// that cannot prove possession of its key has no safe degraded mode.
	ErrKeyGenerationExhausted = errors.New("key generation exhausted without a valid scalar")
	ErrSigningFailure         = errors.New("signing failure")
	ErrRandomSource           = errors.New("random source failed")
	ErrInvalidSignature       = errors.New("invalid signature")
)
