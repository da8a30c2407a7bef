/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package validator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/metrics"
	"github.com/kentakayama/tls-oracle/internal/protocol"
	"github.com/kentakayama/tls-oracle/internal/verifier"
)

// SigningFailure is reported if a fatal hook returns instead of exiting.
const SigningFailure = "SigningFailure"

// Identity is the signing key the service attests with.
type Identity interface {
	attestation.Signer
	PublicKeyCompressed() []byte
	Address() common.Address
}

// Service turns one request document into one response document.
type Service struct {
	verifier        *verifier.Verifier
	identity        Identity
	defaultHostname string
	logger          *log.Logger
	fatal           func(format string, v ...any)
}

type Option func(*Service)

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDefaultHostname sets the host assumed when a request does not carry one.
func WithDefaultHostname(hostname string) Option {
	return func(s *Service) { s.defaultHostname = hostname }
}

// WithFatalHook replaces the handler for unrecoverable signer errors.
// The default logs and exits the process.
func WithFatalHook(fatal func(format string, v ...any)) Option {
	return func(s *Service) { s.fatal = fatal }
}

func NewService(v *verifier.Verifier, id Identity, opts ...Option) *Service {
	s := &Service{
		verifier: v,
		identity: id,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.fatal == nil {
		s.fatal = s.logger.Fatalf
	}
	return s
}

// Handle never fails: malformed input and rejected certificates are reported
// in the returned document.
func (s *Service) Handle(ctx context.Context, raw []byte) []byte {
	return encode(s.dispatch(ctx, raw))
}

func (s *Service) dispatch(ctx context.Context, raw []byte) *protocol.Response {
	id := requestID(ctx)

	req, err := protocol.Parse(raw)
	if err != nil {
		kind := protocol.KindOf(err)
		metrics.RecordProtocolError(string(kind))
		s.logger.Printf("[%s] invalid request: %v", id, err)
		return protocol.InvalidRequest(kind)
	}

	switch r := req.(type) {
	case protocol.GetPublicKeyRequest:
		s.logger.Printf("[%s] public key requested", id)
		return s.publicKey()
	case protocol.ValidateAndSignRequest:
		return s.validateAndSign(id, r)
	default:
		metrics.RecordProtocolError(string(protocol.UnknownRequestType))
		return protocol.InvalidRequest(protocol.UnknownRequestType)
	}
}

func (s *Service) publicKey() *protocol.Response {
	return &protocol.Response{
		Success:             true,
		PublicKey:           hex.EncodeToString(s.identity.PublicKey()),
		PublicKeyCompressed: hex.EncodeToString(s.identity.PublicKeyCompressed()),
		Address:             s.identity.Address().Hex(),
	}
}

func (s *Service) validateAndSign(id string, r protocol.ValidateAndSignRequest) *protocol.Response {
	hostname := r.Hostname
	if hostname == "" {
		hostname = s.defaultHostname
	}
	if hostname == "" {
		metrics.RecordProtocolError(string(protocol.MissingRequiredField))
		s.logger.Printf("[%s] invalid request: no hostname and no default configured", id)
		return protocol.InvalidRequest(protocol.MissingRequiredField)
	}

	s.logger.Printf("[%s] validating %s from %s", id, r.Price.Symbol, hostname)
	verdict := s.verifier.VerifyEncoded(r.Certificate, r.CertificateChain, hostname, r.Source)
	metrics.RecordVerdict(verdict.Reason.String())
	if !verdict.OK() {
		s.logger.Printf("[%s] certificate rejected: %s", id, verdict.Reason)
		return protocol.Failure(verdict.Reason.String())
	}
	if verdict.Unpinned {
		metrics.RecordUnpinned()
	}

	start := time.Now()
	signed, err := attestation.Attest(r.Price, s.identity)
	if err != nil {
		s.fatal("[%s] signing failed, refusing to continue: %v", id, err)
		return protocol.Failure(SigningFailure)
	}
	metrics.ObserveSign(time.Since(start))

	s.logger.Printf("[%s] signed %s", id, signed.MessageHash)
	return &protocol.Response{Success: true, SignedPrice: signed}
}

func encode(resp *protocol.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(protocol.InvalidRequest(protocol.InvalidRequestShape))
	}
	return b
}

type requestIDKey struct{}

// WithRequestID tags ctx with the correlation id used in log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "-"
}
