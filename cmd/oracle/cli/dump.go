/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package cli

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/domain/model"
	"github.com/kentakayama/tls-oracle/internal/infra/sqlite"
	"github.com/kentakayama/tls-oracle/internal/util"
	"github.com/spf13/cobra"
)

// recordLabels names the integer keys of a stored record.
var recordLabels = map[uint64]string{
	1: "symbol",
	2: "price",
	3: "timestamp",
	4: "signature",
	5: "recovery",
	6: "messageHash",
	7: "publicKey",
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the latest stored signed prices",
		Long: `Print the latest signed price per token from the host database.

Each record is shown as decoded from its stored CBOR form, followed by the
result of re-verifying its signature, and the last rejection for the token.
With --public-key the signature must recover to that key (hex, 65 bytes
uncompressed); otherwise the key embedded in the record is used.`,
		Args: cobra.NoArgs,
		RunE: runDump,
	}
	cmd.Flags().String("db-path", config.DefaultDBPath, "SQLite database written by the host")
	cmd.Flags().String("token", "", "Only this token")
	cmd.Flags().String("public-key", "", "Expected validator public key")
	cmd.MarkFlagFilename("db-path", "db")
	return cmd
}

func runDump(cmd *cobra.Command, _ []string) error {
	v, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	var expected []byte
	if pk := v.GetString("public_key"); pk != "" {
		expected, err = hex.DecodeString(strings.TrimPrefix(pk, "0x"))
		if err != nil {
			return fmt.Errorf("public key: %w", err)
		}
	}

	db, err := sqlite.InitDB(cmd.Context(), v.GetString("db_path"))
	if err != nil {
		return err
	}
	defer sqlite.CloseDB(db)

	return dump(cmd.Context(), cmd.OutOrStdout(), db, strings.ToUpper(v.GetString("token")), expected)
}

func dump(ctx context.Context, w io.Writer, db *sql.DB, token string, expected []byte) error {
	prices := sqlite.NewSignedPriceRepository(db)
	rejections := sqlite.NewRejectionRepository(db)

	latest := make(map[string]*model.SignedPrice)
	if token != "" {
		p, err := prices.FindLatestByToken(ctx, token)
		if err != nil {
			return err
		}
		latest[token] = p
	} else {
		all, err := prices.ListLatest(ctx)
		if err != nil {
			return err
		}
		latest = all
	}

	tokens := make([]string, 0, len(latest))
	for t := range latest {
		tokens = append(tokens, t)
	}
	slices.Sort(tokens)

	for _, t := range tokens {
		fmt.Fprintf(w, "== %s\n", t)
		p := latest[t]
		if p == nil {
			fmt.Fprintln(w, "no signed price")
		} else if err := dumpRecord(w, p, expected); err != nil {
			return err
		}

		rej, err := rejections.FindLatestByToken(ctx, t)
		if err != nil {
			return err
		}
		if rej != nil {
			fmt.Fprintf(w, "last rejection: %s at %s\n", rej.Reason, rej.CreatedAt.UTC().Format(attestation.TimestampLayout))
		}
	}
	return nil
}

func dumpRecord(w io.Writer, p *model.SignedPrice, expected []byte) error {
	raw, err := sqlite.EncodeRecord(p.Record)
	if err != nil {
		return err
	}
	pretty, err := util.RenderCBORPretty(raw, recordLabels)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "stored %s (%d bytes CBOR)\n%s\n", p.CreatedAt.UTC().Format(attestation.TimestampLayout), len(raw), pretty)

	if err := attestation.Verify(p.Record, expected); err != nil {
		fmt.Fprintf(w, "signature: INVALID (%v)\n", err)
	} else {
		fmt.Fprintln(w, "signature: ok")
	}
	return nil
}
