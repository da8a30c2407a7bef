/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package validator

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, f fixture, cfg config.ValidatorConfig) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	cfg.Logger = quiet
	srv := NewServer(cfg, f.service)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.Nil(t, err)
		case <-time.After(5 * time.Second):
			t.Errorf("server did not shut down")
		}
	})
	return ln.Addr().String()
}

func roundTrip(t *testing.T, addr string, payload []byte) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.Nil(t, err)
	defer conn.Close()

	_, err = conn.Write(payload)
	require.Nil(t, err)
	require.Nil(t, conn.(*net.TCPConn).CloseWrite())
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	resp, err := io.ReadAll(conn)
	require.Nil(t, err)
	return resp
}

func TestServer_ValidateAndSign(t *testing.T) {
	f := newFixture(t, true)
	addr := startServer(t, f, config.DefaultValidatorConfig())

	resp := decode(t, roundTrip(t, addr, request(t, f.cert.Base64, testHost)))
	assert.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.SignedPrice)
}

func TestServer_ConcurrentConnectionsAreIndependent(t *testing.T) {
	f := newFixture(t, true)
	cfg := config.DefaultValidatorConfig()
	cfg.MaxConcurrent = 2
	addr := startServer(t, f, cfg)

	var wg sync.WaitGroup
	results := make([]protocol.Response, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(`{"type":"getPublicKey"}`)
			if i%2 == 1 {
				payload = []byte(`{"type":"nope"}`)
			}
			results[i] = decode(t, roundTrip(t, addr, payload))
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if i%2 == 1 {
			assert.Equal(t, string(protocol.UnknownRequestType), r.Reason)
			continue
		}
		assert.True(t, r.Success)
		assert.Equal(t, results[0].PublicKey, r.PublicKey)
	}
}

func TestServer_IdleConnectionClosedWithoutResponse(t *testing.T) {
	f := newFixture(t, true)
	cfg := config.DefaultValidatorConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	addr := startServer(t, f, cfg)

	conn, err := net.Dial("tcp", addr)
	require.Nil(t, err)
	defer conn.Close()

	// never half-close
	_, err = conn.Write([]byte(`{"type":"getPub`))
	require.Nil(t, err)
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	resp, err := io.ReadAll(conn)
	assert.Nil(t, err)
	assert.Empty(t, resp)

	// the server keeps serving
	ok := decode(t, roundTrip(t, addr, []byte(`{"type":"getPublicKey"}`)))
	assert.True(t, ok.Success)
}

func TestServer_TricklingPeerHitsRequestDeadline(t *testing.T) {
	f := newFixture(t, true)
	cfg := config.DefaultValidatorConfig()
	cfg.IdleTimeout = 200 * time.Millisecond
	cfg.RequestTimeout = 400 * time.Millisecond
	addr := startServer(t, f, cfg)

	conn, err := net.Dial("tcp", addr)
	require.Nil(t, err)
	defer conn.Close()

	// one byte well inside every idle window, never half-closing
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := conn.Write([]byte(" ")); err != nil {
					return
				}
			}
		}
	}()

	start := time.Now()
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	// the server may reset rather than close cleanly once bytes arrive after it stopped reading
	resp, _ := io.ReadAll(conn)
	assert.Empty(t, resp)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewServer_RequestTimeoutNotBelowIdle(t *testing.T) {
	f := newFixture(t, true)
	cfg := config.DefaultValidatorConfig()
	cfg.IdleTimeout = time.Minute
	cfg.RequestTimeout = time.Second
	srv := NewServer(cfg, f.service)
	assert.Equal(t, time.Minute, srv.cfg.RequestTimeout)
}

func TestServer_OversizedRequest(t *testing.T) {
	f := newFixture(t, true)
	cfg := config.DefaultValidatorConfig()
	cfg.MaxRequestSize = 64
	addr := startServer(t, f, cfg)

	payload := make([]byte, 65)
	for i := range payload {
		payload[i] = ' '
	}
	resp := decode(t, roundTrip(t, addr, payload))
	assert.False(t, resp.Success)
	assert.Equal(t, string(protocol.InvalidRequestShape), resp.Reason)
}

func TestLoopbackPeer(t *testing.T) {
	assert.True(t, loopbackPeer(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")}))
	assert.True(t, loopbackPeer(&net.TCPAddr{IP: net.ParseIP("::1")}))
	assert.False(t, loopbackPeer(&net.TCPAddr{IP: net.ParseIP("10.1.2.3")}))
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "AwaitingRequest", stateAwaitingRequest.String())
	assert.Equal(t, "Closed", stateClosed.String())
}
