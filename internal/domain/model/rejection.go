/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// Rejection records why the latest attempt to refresh a token produced no attested price.
type Rejection struct {
	ID        int64
	Token     string
	Reason    string
	CreatedAt time.Time
}
