/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package cli

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const envPrefix = "ORACLE"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "TLS-pinned price oracle",
		Long: `TLS-pinned price oracle.

The validator holds a secp256k1 key and signs price data only after the TLS
certificate it came with passes the pin policy. The host fetches prices,
forwards them with the captured certificate and serves what comes back signed.

Every flag can also be set as ORACLE_<FLAG> (dashes become underscores) or in
the file given with --config.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (yaml, json or toml)")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated")
	cmd.PersistentFlags().Int("log-max-size", 100, "Rotate the log file after this many megabytes")
	cmd.PersistentFlags().Int("log-max-backups", 3, "Rotated log files to keep")
	cmd.MarkPersistentFlagFilename("config", "yaml", "yml", "json", "toml")

	cmd.AddCommand(newValidatorCmd())
	cmd.AddCommand(newHostCmd())
	cmd.AddCommand(newPinCmd())
	cmd.AddCommand(newDumpCmd())
	return cmd
}

func Execute() error {
	return rootCmd.Execute()
}

// loadSettings merges flags, ORACLE_* variables and the optional config file.
// Keys are flag names with dashes replaced by underscores.
func loadSettings(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var bindErr error
	bind := func(f *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(settingKey(f.Name), f)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return nil, bindErr
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func settingKey(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

// newLogger returns the process logger; with log_file set, output also goes to a
// rotating file.
func newLogger(v *viper.Viper, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if path := v.GetString("log_file"); path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    v.GetInt("log_max_size"),
			MaxBackups: v.GetInt("log_max_backups"),
			Compress:   true,
		})
	}
	logger := log.New(w, prefix, log.LstdFlags|log.Lmsgprefix)
	log.SetOutput(w)
	return logger
}
