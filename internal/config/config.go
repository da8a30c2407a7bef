/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultValidatorAddr  = "127.0.0.1:8080"
	DefaultHostAddr       = ":3000"
	DefaultIdleTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxConcurrent  = 16
	DefaultMaxRequestSize = 1 << 20
	DefaultExchangeURL    = "https://api.binance.us/api/v3/ticker/price"
	DefaultPollInterval   = 5 * time.Second
	DefaultInitialDelay   = 2 * time.Second
	DefaultFetchTimeout   = 10 * time.Second
	DefaultDBPath         = "oracle.db"
)

// ValidatorConfig captures the tunables required to start the validator.
type ValidatorConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required,loopback"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	// RequestTimeout bounds the whole read of one request, however slowly it trickles in.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gtefield=IdleTimeout"`
	MaxConcurrent  int64         `mapstructure:"max_concurrent" validate:"gt=0"`
	MaxRequestSize int64         `mapstructure:"max_request_size" validate:"gt=0"`
	// PinsFile overrides the built-in pin policy.
	PinsFile string `mapstructure:"pins_file"`
	// DefaultHostname is used when a request does not name the host it fetched from.
	DefaultHostname  string      `mapstructure:"default_hostname" validate:"omitempty,hostname_rfc1123"`
	FailOpenUnpinned bool        `mapstructure:"fail_open_unpinned"`
	Logger           *log.Logger `mapstructure:"-"`
}

// HostConfig captures the tunables required to start the untrusted host relay.
type HostConfig struct {
	Addr          string            `mapstructure:"addr" validate:"required"`
	ValidatorAddr string            `mapstructure:"validator_addr" validate:"required,loopback"`
	ExchangeURL   string            `mapstructure:"exchange_url" validate:"required,url"`
	Tokens        map[string]string `mapstructure:"-" validate:"required,min=1"`
	PollInterval  time.Duration     `mapstructure:"poll_interval" validate:"gt=0"`
	InitialDelay  time.Duration     `mapstructure:"initial_delay" validate:"gte=0"`
	FetchTimeout  time.Duration     `mapstructure:"fetch_timeout" validate:"gt=0"`
	InsecureTLS   bool              `mapstructure:"insecure_tls"`
	DBPath        string            `mapstructure:"db_path" validate:"required"`
	CORSOrigins   []string          `mapstructure:"cors_origins"`
	Logger        *log.Logger       `mapstructure:"-"`
}

// ExchangeConfig is what the outbound exchange client needs.
type ExchangeConfig struct {
	BaseURL     string
	InsecureTLS bool
	Timeout     time.Duration
	Logger      *log.Logger
}

// DefaultTokens maps served token names to exchange symbols.
func DefaultTokens() map[string]string {
	return map[string]string{
		"BTC": "BTCUSDT",
		"ETH": "ETHUSDT",
		"SOL": "SOLUSDT",
	}
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Addr:           DefaultValidatorAddr,
		IdleTimeout:    DefaultIdleTimeout,
		RequestTimeout: DefaultRequestTimeout,
		MaxConcurrent:  DefaultMaxConcurrent,
		MaxRequestSize: DefaultMaxRequestSize,
	}
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		Addr:          DefaultHostAddr,
		ValidatorAddr: DefaultValidatorAddr,
		ExchangeURL:   DefaultExchangeURL,
		Tokens:        DefaultTokens(),
		PollInterval:  DefaultPollInterval,
		InitialDelay:  DefaultInitialDelay,
		FetchTimeout:  DefaultFetchTimeout,
		DBPath:        DefaultDBPath,
		CORSOrigins:   []string{"*"},
	}
}

var ErrInvalidConfig = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("loopback", validateLoopback); err != nil {
		panic(fmt.Sprintf("register loopback validation: %v", err))
	}
	return v
}

func validateLoopback(fl validator.FieldLevel) bool {
	return IsLoopbackAddr(fl.Field().String())
}

func (c ValidatorConfig) Validate() error {
	return check(c)
}

func (c HostConfig) Validate() error {
	return check(c)
}

func check(c any) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// IsLoopbackAddr reports whether a host:port names a loopback address.
// "localhost" is accepted; other names are not resolved.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback()
}
