/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// oracle runs either side of the TLS-pinned price oracle: the isolated
// validator that checks certificates and signs, or the untrusted host that
// fetches prices and serves the signed results.
package main

import (
	"fmt"
	"os"

	"github.com/kentakayama/tls-oracle/cmd/oracle/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
