/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package certificate

import "errors"

var (
	ErrCertificateMissing   = errors.New("no certificate data provided")
	ErrCertificateMalformed = errors.New("certificate is malformed")
	ErrInvalidDigest        = errors.New("invalid SHA-256 digest")
)
