/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package validator

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/metrics"
	"github.com/kentakayama/tls-oracle/internal/pinning"
	"github.com/kentakayama/tls-oracle/internal/protocol"
	"github.com/kentakayama/tls-oracle/internal/signer"
	"github.com/kentakayama/tls-oracle/internal/verifier"
	"golang.org/x/sync/semaphore"
)

type connState int

const (
	stateAwaitingRequest connState = iota
	stateProcessing
	stateResponding
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAwaitingRequest:
		return "AwaitingRequest"
	case stateProcessing:
		return "Processing"
	case stateResponding:
		return "Responding"
	case stateClosed:
		return "Closed"
	}
	return "Unknown"
}

// Server accepts one request per loopback connection and answers it through a Service.
type Server struct {
	cfg      config.ValidatorConfig
	service  *Service
	identity *signer.Identity
	logger   *log.Logger
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// New builds the pin policy, signing identity and service described by cfg.
func New(cfg config.ValidatorConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	policy, err := loadPolicy(cfg.PinsFile)
	if err != nil {
		return nil, err
	}
	logger.Printf("Loaded pins for %d host(s): %v", policy.Len(), policy.Hostnames())
	if cfg.FailOpenUnpinned {
		logger.Printf("WARNING: hosts without a pin entry will be accepted")
	}

	id, err := signer.New()
	if err != nil {
		return nil, err
	}
	logger.Printf("Signing identity ready, address %s", id.Address().Hex())

	v := verifier.New(policy,
		verifier.WithLogger(logger),
		verifier.WithFailOpenUnpinned(cfg.FailOpenUnpinned),
	)
	svc := NewService(v, id,
		WithLogger(logger),
		WithDefaultHostname(cfg.DefaultHostname),
	)
	s := NewServer(cfg, svc)
	s.identity = id
	return s, nil
}

func loadPolicy(path string) (*pinning.Policy, error) {
	if path == "" {
		return pinning.Default()
	}
	return pinning.Load(path)
}

// NewServer wraps an existing service. cfg is used for limits and logging only.
func NewServer(cfg config.ValidatorConfig, svc *Service) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultIdleTimeout
	}
	if cfg.RequestTimeout < cfg.IdleTimeout {
		cfg.RequestTimeout = max(config.DefaultRequestTimeout, cfg.IdleTimeout)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = config.DefaultMaxConcurrent
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = config.DefaultMaxRequestSize
	}
	return &Server{
		cfg:     cfg,
		service: svc,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// ListenAndServe listens on the configured loopback address and blocks until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.logger.Printf("Run validator on %s.", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then waits for in-flight
// connections to finish. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.wg.Wait()
			return err
		}
		if !loopbackPeer(conn.RemoteAddr()) {
			s.logger.Printf("dropping connection from non-loopback peer %s", conn.RemoteAddr())
			conn.Close()
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handleConn(ctx, conn)
		}()
	}
}

// Close releases the signing key owned by a Server built with New.
func (s *Server) Close() {
	if s.identity != nil {
		s.identity.Close()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	state := stateAwaitingRequest
	defer func() {
		conn.Close()
		s.logger.Printf("[%s] %s after %s", id, stateClosed, state)
	}()

	r := &idleReader{
		conn:     conn,
		timeout:  s.cfg.IdleTimeout,
		deadline: time.Now().Add(s.cfg.RequestTimeout),
	}
	raw, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxRequestSize+1))
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			metrics.RecordProtocolError(string(protocol.TransportTimeout))
			s.logger.Printf("[%s] %v: no complete request (idle %s, total %s)", id, protocol.ErrTransportTimeout, s.cfg.IdleTimeout, s.cfg.RequestTimeout)
			return
		}
		s.logger.Printf("[%s] read failed: %v", id, err)
		return
	}

	var resp []byte
	if int64(len(raw)) > s.cfg.MaxRequestSize {
		metrics.RecordProtocolError(string(protocol.InvalidRequestShape))
		s.logger.Printf("[%s] request exceeds %d bytes", id, s.cfg.MaxRequestSize)
		resp = encode(protocol.InvalidRequest(protocol.InvalidRequestShape))
	} else {
		state = stateProcessing
		resp = s.service.Handle(WithRequestID(ctx, id), raw)
	}

	state = stateResponding
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
		s.logger.Printf("[%s] set write deadline: %v", id, err)
	}
	if _, err := conn.Write(resp); err != nil {
		s.logger.Printf("[%s] write failed: %v", id, err)
	}
}

// idleReader pushes the read deadline forward before every read, never past
// the request deadline. A stalled peer hits the idle timeout; a trickling one
// hits the request deadline.
type idleReader struct {
	conn     net.Conn
	timeout  time.Duration
	deadline time.Time
}

func (r *idleReader) Read(p []byte) (int, error) {
	next := time.Now().Add(r.timeout)
	if next.After(r.deadline) {
		next = r.deadline
	}
	if err := r.conn.SetReadDeadline(next); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}

func loopbackPeer(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return true
	}
	return tcp.IP.IsLoopback()
}
