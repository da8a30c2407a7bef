/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import "errors"

var (
	ErrNotFound       = errors.New("item not found")
	ErrCorruptRecord  = errors.New("stored record is corrupt")
	ErrUnsignedRecord = errors.New("record does not carry a valid signature")
)
