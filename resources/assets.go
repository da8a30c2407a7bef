/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package resources

import (
	_ "embed"
)

var (
	// DefaultPins is used when no pin policy file is configured.
	//go:embed pins.yaml
	DefaultPins []byte
)
