/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"time"

	"github.com/kentakayama/tls-oracle/internal/attestation"
)

// SignedPrice is an attested price as stored by the host, keyed by the token it is served under.
type SignedPrice struct {
	ID          int64
	Token       string
	Symbol      string
	MessageHash string
	Record      *attestation.SignedPrice
	CreatedAt   time.Time
}
