/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/domain/service"
	"github.com/rs/cors"
)

// Server serves attested prices to untrusting clients over HTTP.
type Server struct {
	cfg     config.HostConfig
	handler http.Handler
	http    *http.Server
	logger  *log.Logger
}

// New constructs a Server serving tokens from prices.
func New(cfg config.HostConfig, prices service.SignedPriceRepository, keys PublicKeySource, tokens []string) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	h := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	}).Handler(newHandler(prices, keys, tokens, logger))

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		cfg:     cfg,
		handler: h,
		http:    httpSrv,
		logger:  logger,
	}
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("Run price API on %s.", s.http.Addr)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully takes down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
