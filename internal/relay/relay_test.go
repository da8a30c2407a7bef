/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/certificate"
	"github.com/kentakayama/tls-oracle/internal/config"
	"github.com/kentakayama/tls-oracle/internal/infra/exchange"
	"github.com/kentakayama/tls-oracle/internal/infra/sqlite"
	"github.com/kentakayama/tls-oracle/internal/infra/validatorclient"
	"github.com/kentakayama/tls-oracle/internal/pinning"
	"github.com/kentakayama/tls-oracle/internal/protocol"
	"github.com/kentakayama/tls-oracle/internal/signer"
	"github.com/kentakayama/tls-oracle/internal/testutil"
	"github.com/kentakayama/tls-oracle/internal/validator"
	"github.com/kentakayama/tls-oracle/internal/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangeHost = "api.exchange.test"

var quiet = log.New(io.Discard, "", 0)

// fakeSource answers with a fixed price and whatever certificate is configured per symbol.
type fakeSource struct {
	certs map[string]testutil.Cert
	price string
	err   error
}

func (f *fakeSource) Fetch(_ context.Context, symbol string) (*exchange.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := f.certs[symbol]
	return &exchange.Quote{
		PriceData: protocol.PriceData{
			Symbol:    symbol,
			Price:     json.Number(f.price),
			Timestamp: time.Now().UTC().Format(attestation.TimestampLayout),
		},
		Certificate: protocol.TLSCertificate{Certificate: c.Base64},
		Source:      "https://" + exchangeHost + "/api/v3/ticker/price?symbol=" + symbol,
		Hostname:    exchangeHost,
	}, nil
}

type harness struct {
	relay      *Relay
	source     *fakeSource
	prices     *sqlite.SignedPriceRepository
	rejections *sqlite.RejectionRepository
	identity   *signer.Identity
	goodCert   testutil.Cert
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	good := testutil.IssueCertificate(t, testutil.CertOptions{CommonName: exchangeHost})
	m, err := certificate.FromDER(good.DER)
	require.Nil(t, err)
	policy, err := pinning.NewPolicy(pinning.Entry{Hostname: exchangeHost, SPKIHashes: []string{m.SPKIHashHex()}})
	require.Nil(t, err)

	id, err := signer.New()
	require.Nil(t, err)
	svc := validator.NewService(verifier.New(policy), id, validator.WithLogger(quiet))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	srv := validator.NewServer(config.ValidatorConfig{Logger: quiet}, svc)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()

	db, err := sqlite.InitDB(ctx, ":memory:")
	require.Nil(t, err)

	t.Cleanup(func() {
		cancel()
		<-done
		sqlite.CloseDB(db)
		id.Close()
	})

	source := &fakeSource{
		certs: map[string]testutil.Cert{"BTCUSDT": good, "ETHUSDT": good},
		price: "50000.12",
	}
	prices := sqlite.NewSignedPriceRepository(db)
	rejections := sqlite.NewRejectionRepository(db)
	r := New(Config{
		Tokens:       map[string]string{"BTC": "BTCUSDT", "ETH": "ETHUSDT"},
		Interval:     10 * time.Millisecond,
		InitialDelay: 0,
		Logger:       quiet,
	}, source, validatorclient.New(ln.Addr().String(), 2*time.Second), prices, rejections)

	return &harness{
		relay:      r,
		source:     source,
		prices:     prices,
		rejections: rejections,
		identity:   id,
		goodCert:   good,
	}
}

func TestRefresh_StoresVerifiedPrices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Nil(t, h.relay.Refresh(ctx))

	latest, err := h.prices.ListLatest(ctx)
	require.Nil(t, err)
	require.Len(t, latest, 2)
	for token, p := range latest {
		assert.Nil(t, attestation.Verify(p.Record, h.identity.PublicKey()), token)
		assert.Equal(t, "50000.12", p.Record.Price.String())
	}
}

func TestRefresh_RejectedCertificateKeepsPreviousPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.Nil(t, h.relay.Refresh(ctx))

	// the host now presents a certificate that is not pinned
	h.source.certs["ETHUSDT"] = testutil.IssueCertificate(t, testutil.CertOptions{CommonName: exchangeHost})
	h.source.price = "1"

	err := h.relay.Refresh(ctx)
	require.NotNil(t, err)

	eth, err := h.prices.FindLatestByToken(ctx, "ETH")
	require.Nil(t, err)
	assert.Equal(t, "50000.12", eth.Record.Price.String())

	btc, err := h.prices.FindLatestByToken(ctx, "BTC")
	require.Nil(t, err)
	assert.Equal(t, "1", btc.Record.Price.String())

	rej, err := h.rejections.FindLatestByToken(ctx, "ETH")
	require.Nil(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, string(verifier.PinMismatch), rej.Reason)
}

func TestRefresh_FetchFailureRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.err = errors.New("connection refused")

	assert.NotNil(t, h.relay.Refresh(ctx))
	p, err := h.prices.FindLatestByToken(ctx, "BTC")
	require.Nil(t, err)
	assert.Nil(t, p)

	rej, err := h.rejections.FindLatestByToken(ctx, "BTC")
	require.Nil(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonFetchFailed, rej.Reason)
}

// forgingValidator signs with a key other than the one it publishes.
type forgingValidator struct {
	published *signer.Identity
	actual    *signer.Identity
}

func (f *forgingValidator) PublicKey(context.Context) (*validatorclient.PublicKey, error) {
	return &validatorclient.PublicKey{Uncompressed: f.published.PublicKey()}, nil
}

func (f *forgingValidator) ValidateAndSign(_ context.Context, msg *protocol.Message) (*attestation.SignedPrice, error) {
	p, err := attestation.NewPriceData(msg.PriceData.Symbol, msg.PriceData.Price, msg.PriceData.Timestamp)
	if err != nil {
		return nil, err
	}
	return attestation.Attest(p, f.actual)
}

func TestRefresh_UnverifiableSignatureNeverStored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other, err := signer.New()
	require.Nil(t, err)

	r := New(Config{Tokens: map[string]string{"BTC": "BTCUSDT"}, Logger: quiet},
		h.source, &forgingValidator{published: h.identity, actual: other}, h.prices, h.rejections)

	assert.NotNil(t, r.Refresh(ctx))
	p, err := h.prices.FindLatestByToken(ctx, "BTC")
	require.Nil(t, err)
	assert.Nil(t, p)

	rej, err := h.rejections.FindLatestByToken(ctx, "BTC")
	require.Nil(t, err)
	assert.Equal(t, ReasonInvalidSignature, rej.Reason)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		p, err := h.prices.FindLatestByToken(context.Background(), "ETH")
		return err == nil && p != nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestTokens_Sorted(t *testing.T) {
	r := New(Config{Tokens: config.DefaultTokens()}, nil, nil, nil, nil)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, r.Tokens())
}
