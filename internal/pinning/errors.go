/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pinning

import "errors"

var (
	ErrEmptyHostname     = errors.New("hostname is empty")
	ErrEmptyEntry        = errors.New("no spki_sha256, fingerprint_sha256 or issuers configured")
	ErrDuplicateHostname = errors.New("hostname listed more than once")
)
