/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package relay runs the host's polling loop: fetch over TLS, have the
// validator attest, check the attestation, store it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/domain/model"
	"github.com/kentakayama/tls-oracle/internal/domain/service"
	"github.com/kentakayama/tls-oracle/internal/infra/exchange"
	"github.com/kentakayama/tls-oracle/internal/infra/validatorclient"
	"github.com/kentakayama/tls-oracle/internal/metrics"
	"github.com/kentakayama/tls-oracle/internal/protocol"
)

// Rejection reasons recorded when the failure is on the host side.
const (
	ReasonFetchFailed      = "FetchFailed"
	ReasonValidatorError   = "ValidatorUnavailable"
	ReasonInvalidSignature = "InvalidSignature"
	ReasonSymbolMismatch   = "SymbolMismatch"
)

// Validator is the attesting side as seen from the host.
type Validator interface {
	PublicKey(ctx context.Context) (*validatorclient.PublicKey, error)
	ValidateAndSign(ctx context.Context, msg *protocol.Message) (*attestation.SignedPrice, error)
}

type Config struct {
	// Tokens maps the served token name to the exchange symbol.
	Tokens       map[string]string
	Interval     time.Duration
	InitialDelay time.Duration
	Logger       *log.Logger
}

type Relay struct {
	source     exchange.PriceSource
	validator  Validator
	prices     service.SignedPriceRepository
	rejections service.RejectionRepository
	tokens     map[string]string
	interval   time.Duration
	delay      time.Duration
	logger     *log.Logger

	mu        sync.Mutex
	publicKey []byte
}

func New(cfg Config, source exchange.PriceSource, v Validator, prices service.SignedPriceRepository, rejections service.RejectionRepository) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		source:     source,
		validator:  v,
		prices:     prices,
		rejections: rejections,
		tokens:     cfg.Tokens,
		interval:   cfg.Interval,
		delay:      cfg.InitialDelay,
		logger:     logger,
	}
}

// Tokens returns the served token names in a stable order.
func (r *Relay) Tokens() []string {
	out := make([]string, 0, len(r.tokens))
	for t := range r.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Run refreshes every interval after the initial delay until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(r.delay):
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Refresh(ctx); err != nil {
			r.logger.Printf("Refresh finished with errors: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh processes every token once, serially. A failure for one token leaves
// its previously stored price in place and does not stop the others.
func (r *Relay) Refresh(ctx context.Context) error {
	var errs []error
	for _, token := range r.Tokens() {
		if ctx.Err() != nil {
			break
		}
		if err := r.refreshToken(ctx, token, r.tokens[token]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", token, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Relay) refreshToken(ctx context.Context, token, symbol string) error {
	pub, err := r.validatorKey(ctx)
	if err != nil {
		return r.reject(ctx, token, ReasonValidatorError, "validator_error", err)
	}

	quote, err := r.source.Fetch(ctx, symbol)
	if err != nil {
		return r.reject(ctx, token, ReasonFetchFailed, "fetch_error", err)
	}

	signed, err := r.validator.ValidateAndSign(ctx, quote.Message())
	if err != nil {
		var rejected *validatorclient.RejectedError
		if errors.As(err, &rejected) {
			return r.reject(ctx, token, rejected.Reason, "rejected", err)
		}
		return r.reject(ctx, token, ReasonValidatorError, "validator_error", err)
	}

	if err := attestation.Verify(signed, pub); err != nil {
		// the validator may have restarted with a new key
		r.forgetKey()
		return r.reject(ctx, token, ReasonInvalidSignature, "invalid_signature", err)
	}
	if signed.Symbol != symbol {
		return r.reject(ctx, token, ReasonSymbolMismatch, "rejected",
			fmt.Errorf("asked for %s, validator signed %s", symbol, signed.Symbol))
	}

	if _, err := r.prices.Create(ctx, &model.SignedPrice{Token: token, Record: signed}); err != nil {
		return fmt.Errorf("store signed price: %w", err)
	}
	metrics.RecordRelay(token, "stored")
	r.logger.Printf("Updated signed price for %s: %s", token, signed.Price)
	return nil
}

func (r *Relay) reject(ctx context.Context, token, reason, result string, cause error) error {
	metrics.RecordRelay(token, result)
	r.logger.Printf("No update for %s (%s): %v", token, reason, cause)
	if _, err := r.rejections.Create(ctx, &model.Rejection{Token: token, Reason: reason}); err != nil {
		r.logger.Printf("Failed to record rejection for %s: %v", token, err)
	}
	return cause
}

// validatorKey returns the uncompressed key attestations are checked against,
// asking the validator on first use.
func (r *Relay) validatorKey(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publicKey != nil {
		return r.publicKey, nil
	}
	key, err := r.validator.PublicKey(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Printf("Validator public key %x (address %s)", key.Uncompressed, key.Address)
	r.publicKey = key.Uncompressed
	return r.publicKey, nil
}

func (r *Relay) forgetKey() {
	r.mu.Lock()
	r.publicKey = nil
	r.mu.Unlock()
}
