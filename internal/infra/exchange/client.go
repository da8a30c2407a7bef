/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package exchange

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/certificate"
	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/protocol"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "tls-oracle-host/1"
	maxBodySize      = 1 << 20
)

var (
	ErrNoPeerCertificate = errors.New("no TLS peer certificate captured")
	ErrInvalidTicker     = errors.New("invalid ticker response")
)

// Quote is a price as observed over TLS, with the certificate the server presented.
type Quote struct {
	PriceData   protocol.PriceData
	Certificate protocol.TLSCertificate
	Source      string
	Hostname    string
}

// Message is the validateAndSign request that submits q for attestation.
func (q *Quote) Message() *protocol.Message {
	return protocol.NewValidateAndSignMessage(q.PriceData, q.Certificate, q.Source, q.Hostname)
}

// PriceSource fetches one symbol.
type PriceSource interface {
	Fetch(ctx context.Context, symbol string) (*Quote, error)
}

type ticker struct {
	Symbol string      `json:"symbol"`
	Price  json.Number `json:"price"`
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time
}

func NewClient(cfg config.ExchangeConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse exchange URL: %w", err)
	}
	if base.Scheme != "https" {
		return nil, fmt.Errorf("exchange URL %q must use https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: cfg.InsecureTLS},
		DisableKeepAlives: true,
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Fetch retrieves the ticker for symbol on a fresh TLS connection and captures
// the peer certificates of that connection.
func (c *Client) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	u := *c.baseURL
	query := u.Query()
	query.Set("symbol", symbol)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected ticker status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return nil, ErrNoPeerCertificate
	}

	var t ticker
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicker, err)
	}
	if t.Price == "" {
		return nil, fmt.Errorf("%w: no price for %s", ErrInvalidTicker, symbol)
	}
	if t.Symbol != "" && !strings.EqualFold(t.Symbol, symbol) {
		return nil, fmt.Errorf("%w: asked for %s, got %s", ErrInvalidTicker, symbol, t.Symbol)
	}
	c.logger.Printf("Fetched %s = %s from %s", symbol, t.Price, u.Hostname())

	return &Quote{
		PriceData: protocol.PriceData{
			Symbol:    symbol,
			Price:     t.Price,
			Timestamp: c.now().UTC().Format(attestation.TimestampLayout),
		},
		Certificate: describe(resp.TLS.PeerCertificates),
		Source:      u.String(),
		Hostname:    u.Hostname(),
	}, nil
}

func describe(peers []*x509.Certificate) protocol.TLSCertificate {
	leaf := peers[0]
	fingerprint := sha256.Sum256(leaf.Raw)

	chain := make([]string, 0, len(peers)-1)
	for _, c := range peers[1:] {
		chain = append(chain, base64.StdEncoding.EncodeToString(c.Raw))
	}

	return protocol.TLSCertificate{
		Certificate:      base64.StdEncoding.EncodeToString(leaf.Raw),
		CertificateChain: chain,
		Subject:          leaf.Subject.String(),
		Issuer:           leaf.Issuer.String(),
		ValidFrom:        leaf.NotBefore.UTC().Format(time.RFC3339),
		ValidTo:          leaf.NotAfter.UTC().Format(time.RFC3339),
		Fingerprint:      certificate.FormatColonHex(fingerprint[:]),
		SerialNumber:     strings.ToUpper(leaf.SerialNumber.Text(16)),
	}
}
