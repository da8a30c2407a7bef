/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/domain"
	"github.com/kentakayama/tls-oracle/internal/domain/model"
	"github.com/kentakayama/tls-oracle/internal/signer"
	"github.com/stretchr/testify/assert"
)

func signed(t *testing.T, id *signer.Identity, symbol, price string) *attestation.SignedPrice {
	t.Helper()
	p, err := attestation.NewPriceData(symbol, json.Number(price), "2024-01-01T00:00:00.000Z")
	if err != nil {
		t.Fatalf("NewPriceData error: %v", err)
	}
	sp, err := attestation.Attest(p, id)
	if err != nil {
		t.Fatalf("Attest error: %v", err)
	}
	return sp
}

func TestSignedPrice_CreateFindLatest(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	id, err := signer.New()
	if err != nil {
		t.Fatalf("signer.New error: %v", err)
	}
	defer id.Close()

	repo := NewSignedPriceRepository(db)

	got, err := repo.FindLatestByToken(ctx, "BTC")
	if err != nil {
		t.Fatalf("FindLatestByToken error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil before first insert, got %+v", got)
	}

	for _, price := range []string{"50000.1", "50001.2"} {
		if _, err := repo.Create(ctx, &model.SignedPrice{Token: "BTC", Record: signed(t, id, "BTCUSDT", price)}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	got, err = repo.FindLatestByToken(ctx, "BTC")
	if err != nil {
		t.Fatalf("FindLatestByToken error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected signed price, got nil")
	}
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, "50001.2", got.Record.Price.String())
	assert.Equal(t, got.Record.MessageHash, got.MessageHash)
	// the stored record still verifies
	assert.Nil(t, attestation.Verify(got.Record, id.PublicKey()))
}

func TestSignedPrice_ListLatest(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	id, err := signer.New()
	if err != nil {
		t.Fatalf("signer.New error: %v", err)
	}
	repo := NewSignedPriceRepository(db)

	now := time.Now().UTC().Truncate(time.Second)
	rows := []*model.SignedPrice{
		{Token: "BTC", Record: signed(t, id, "BTCUSDT", "1"), CreatedAt: now},
		{Token: "ETH", Record: signed(t, id, "ETHUSDT", "2"), CreatedAt: now},
		{Token: "BTC", Record: signed(t, id, "BTCUSDT", "3"), CreatedAt: now},
	}
	for _, r := range rows {
		if _, err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	latest, err := repo.ListLatest(ctx)
	if err != nil {
		t.Fatalf("ListLatest error: %v", err)
	}
	assert.Len(t, latest, 2)
	assert.Equal(t, "3", latest["BTC"].Record.Price.String())
	assert.Equal(t, "2", latest["ETH"].Record.Price.String())
	assert.Nil(t, latest["SOL"])
}

func TestSignedPrice_RejectsUnsigned(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	_, err = NewSignedPriceRepository(db).Create(ctx, &model.SignedPrice{Token: "BTC"})
	if !errors.Is(err, domain.ErrUnsignedRecord) {
		t.Fatalf("expected ErrUnsignedRecord, got %v", err)
	}
}

func TestRecord_DeterministicEncoding(t *testing.T) {
	id, err := signer.New()
	if err != nil {
		t.Fatalf("signer.New error: %v", err)
	}
	sp := signed(t, id, "SOLUSDT", "101.5")

	a, err := EncodeRecord(sp)
	if err != nil {
		t.Fatalf("EncodeRecord error: %v", err)
	}
	b, err := EncodeRecord(sp)
	if err != nil {
		t.Fatalf("EncodeRecord error: %v", err)
	}
	assert.Equal(t, a, b)

	back, err := DecodeRecord(a)
	if err != nil {
		t.Fatalf("DecodeRecord error: %v", err)
	}
	assert.Equal(t, sp, back)

	_, err = DecodeRecord([]byte{0xff, 0x00})
	assert.True(t, errors.Is(err, domain.ErrCorruptRecord))
}

func TestRejection_CreateFindLatest(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewRejectionRepository(db)
	for _, reason := range []string{"PinMismatch", "Expired"} {
		if _, err := repo.Create(ctx, &model.Rejection{Token: "ETH", Reason: reason}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	got, err := repo.FindLatestByToken(ctx, "ETH")
	if err != nil {
		t.Fatalf("FindLatestByToken error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected rejection, got nil")
	}
	assert.Equal(t, "Expired", got.Reason)

	got, err = repo.FindLatestByToken(ctx, "BTC")
	if err != nil {
		t.Fatalf("FindLatestByToken error: %v", err)
	}
	assert.Nil(t, got)
}
