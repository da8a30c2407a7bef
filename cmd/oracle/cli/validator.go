/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/validator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newValidatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validator",
		Short: "Run the validator that verifies certificates and signs prices",
		Long: `Run the validator.

The validator listens on a loopback address only. It generates a fresh signing
key at start-up; the key never leaves the process. Each connection carries one
JSON request, terminated by the client half-closing its side.`,
		Args: cobra.NoArgs,
		RunE: runValidator,
	}

	d := config.DefaultValidatorConfig()
	cmd.Flags().String("addr", d.Addr, "Loopback address to listen on")
	cmd.Flags().Duration("idle-timeout", d.IdleTimeout, "Close connections that send nothing for this long")
	cmd.Flags().Duration("request-timeout", d.RequestTimeout, "Close connections that have not sent a complete request after this long")
	cmd.Flags().Int64("max-concurrent", d.MaxConcurrent, "Connections handled at the same time")
	cmd.Flags().Int64("max-request-size", d.MaxRequestSize, "Largest accepted request in bytes")
	cmd.Flags().String("pins-file", "", "Pin policy YAML (default: built-in policy)")
	cmd.Flags().String("default-hostname", "", "Hostname assumed when a request names none")
	cmd.Flags().Bool("fail-open-unpinned", false, "Accept certificates for hosts that have no pin entry")
	cmd.MarkFlagFilename("pins-file", "yaml", "yml")
	return cmd
}

func validatorConfig(v *viper.Viper) (config.ValidatorConfig, error) {
	cfg := config.DefaultValidatorConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func runValidator(cmd *cobra.Command, _ []string) error {
	v, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cfg, err := validatorConfig(v)
	if err != nil {
		return err
	}
	cfg.Logger = newLogger(v, "validator: ")

	srv, err := validator.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}
