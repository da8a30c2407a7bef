/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package validatorclient talks to the validator over its loopback stream transport.
package validatorclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/protocol"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

var ErrEmptyResponse = errors.New("validator closed the connection without a response")

// RejectedError is a well-formed failure response from the validator.
type RejectedError struct {
	Message string
	Reason  string
}

func (e *RejectedError) Error() string {
	if e.Message == e.Reason || e.Reason == "" {
		return "validator rejected request: " + e.Message
	}
	return fmt.Sprintf("validator rejected request: %s (%s)", e.Message, e.Reason)
}

// PublicKey is the validator's published key material.
type PublicKey struct {
	Uncompressed []byte
	Compressed   []byte
	Address      string
}

type Client struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

func New(addr string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) PublicKey(ctx context.Context) (*PublicKey, error) {
	resp, err := c.roundTrip(ctx, protocol.NewGetPublicKeyMessage())
	if err != nil {
		return nil, err
	}
	pub, err := hex.DecodeString(resp.PublicKey)
	if err != nil || len(pub) != 65 {
		return nil, fmt.Errorf("malformed public key %q", resp.PublicKey)
	}
	compressed, err := hex.DecodeString(resp.PublicKeyCompressed)
	if err != nil {
		return nil, fmt.Errorf("malformed compressed public key %q", resp.PublicKeyCompressed)
	}
	return &PublicKey{Uncompressed: pub, Compressed: compressed, Address: resp.Address}, nil
}

// ValidateAndSign submits msg and returns the attested price. A rejection by the
// validator is returned as *RejectedError.
func (c *Client) ValidateAndSign(ctx context.Context, msg *protocol.Message) (*attestation.SignedPrice, error) {
	resp, err := c.roundTrip(ctx, msg)
	if err != nil {
		return nil, err
	}
	if resp.SignedPrice == nil {
		return nil, fmt.Errorf("validator reported success without a signed price")
	}
	return resp.SignedPrice, nil
}

// roundTrip writes one request, half-closes, and reads the response until EOF.
func (c *Client) roundTrip(ctx context.Context, msg *protocol.Message) (*protocol.Response, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connect to validator: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return nil, fmt.Errorf("half-close: %w", err)
		}
	}

	body, err := io.ReadAll(io.LimitReader(conn, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyResponse
	}

	var resp protocol.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !resp.Success {
		return nil, &RejectedError{Message: resp.Error, Reason: resp.Reason}
	}
	return &resp, nil
}
