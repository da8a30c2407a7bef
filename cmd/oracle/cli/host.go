/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/infra/exchange"
	"github.com/kentakayama/tls-oracle/internal/infra/sqlite"
	"github.com/kentakayama/tls-oracle/internal/infra/validatorclient"
	"github.com/kentakayama/tls-oracle/internal/relay"
	"github.com/kentakayama/tls-oracle/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the host relay and the price API",
		Long: `Run the untrusted host.

The host polls the exchange over TLS, sends each price together with the
certificate it was served with to the validator, checks the returned signature
against the validator's public key and serves only prices that pass.

The token map can only be set in the config file:

  tokens:
    BTC: BTCUSDT
    ETH: ETHUSDT`,
		Args: cobra.NoArgs,
		RunE: runHost,
	}

	d := config.DefaultHostConfig()
	cmd.Flags().String("addr", d.Addr, "HTTP listen address for the price API")
	cmd.Flags().String("validator-addr", d.ValidatorAddr, "Loopback address of the validator")
	cmd.Flags().String("exchange-url", d.ExchangeURL, "Ticker endpoint; the symbol is added as ?symbol=")
	cmd.Flags().Duration("poll-interval", d.PollInterval, "Time between refresh cycles")
	cmd.Flags().Duration("initial-delay", d.InitialDelay, "Wait before the first refresh")
	cmd.Flags().Duration("fetch-timeout", d.FetchTimeout, "Timeout for exchange and validator round trips")
	cmd.Flags().Bool("insecure-tls", false, "Skip chain verification when fetching (the validator still checks pins)")
	cmd.Flags().String("db-path", d.DBPath, "SQLite database for signed prices")
	cmd.Flags().StringSlice("cors-origins", d.CORSOrigins, "Allowed CORS origins")
	return cmd
}

func hostConfig(v *viper.Viper) (config.HostConfig, error) {
	cfg := config.DefaultHostConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	// keys arrive lower-cased
	if v.IsSet("tokens") {
		cfg.Tokens = make(map[string]string)
		for token, symbol := range v.GetStringMapString("tokens") {
			cfg.Tokens[strings.ToUpper(token)] = strings.ToUpper(symbol)
		}
	}
	return cfg, cfg.Validate()
}

func runHost(cmd *cobra.Command, _ []string) error {
	v, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cfg, err := hostConfig(v)
	if err != nil {
		return err
	}
	cfg.Logger = newLogger(v, "host: ")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer sqlite.CloseDB(db)

	source, err := exchange.NewClient(config.ExchangeConfig{
		BaseURL:     cfg.ExchangeURL,
		InsecureTLS: cfg.InsecureTLS,
		Timeout:     cfg.FetchTimeout,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return err
	}
	validatorClient := validatorclient.New(cfg.ValidatorAddr, cfg.FetchTimeout)

	prices := sqlite.NewSignedPriceRepository(db)
	r := relay.New(relay.Config{
		Tokens:       cfg.Tokens,
		Interval:     cfg.PollInterval,
		InitialDelay: cfg.InitialDelay,
		Logger:       cfg.Logger,
	}, source, validatorClient, prices, sqlite.NewRejectionRepository(db))
	api := server.New(cfg, prices, validatorClient, r.Tokens())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(api.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return api.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
