/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/domain"
	"github.com/kentakayama/tls-oracle/internal/domain/model"
)

var recordEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// EncodeRecord is the stored form of a signed price.
func EncodeRecord(sp *attestation.SignedPrice) ([]byte, error) {
	return recordEncMode.Marshal(sp)
}

func DecodeRecord(b []byte) (*attestation.SignedPrice, error) {
	var sp attestation.SignedPrice
	if err := cbor.Unmarshal(b, &sp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
	}
	return &sp, nil
}

// SignedPriceRepository handles attested price persistence.
type SignedPriceRepository struct {
	db *sql.DB
}

func NewSignedPriceRepository(db *sql.DB) *SignedPriceRepository {
	return &SignedPriceRepository{db: db}
}

// Create inserts a new signed price and returns the inserted id.
func (r *SignedPriceRepository) Create(ctx context.Context, p *model.SignedPrice) (int64, error) {
	if p.Record == nil {
		return 0, fmt.Errorf("insert signed price: %w", domain.ErrUnsignedRecord)
	}
	record, err := EncodeRecord(p.Record)
	if err != nil {
		return 0, fmt.Errorf("encode signed price: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO signed_prices (token, symbol, message_hash, record, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, p.Token, p.Record.Symbol, p.Record.MessageHash, record, createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert signed price: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindLatestByToken returns the most recent signed price for token, or nil if there is none.
func (r *SignedPriceRepository) FindLatestByToken(ctx context.Context, token string) (*model.SignedPrice, error) {
	const q = `
		SELECT id, token, symbol, message_hash, record, created_at
		FROM signed_prices
		WHERE token = ?
		ORDER BY id DESC
		LIMIT 1
	`
	p, err := scanSignedPrice(r.db.QueryRowContext(ctx, q, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListLatest returns the most recent signed price of every token that has one.
func (r *SignedPriceRepository) ListLatest(ctx context.Context) (map[string]*model.SignedPrice, error) {
	const q = `
		SELECT id, token, symbol, message_hash, record, created_at
		FROM signed_prices
		WHERE id IN (SELECT MAX(id) FROM signed_prices GROUP BY token)
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query latest signed prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*model.SignedPrice)
	for rows.Next() {
		p, err := scanSignedPrice(rows)
		if err != nil {
			return nil, err
		}
		out[p.Token] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signed prices: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignedPrice(s scanner) (*model.SignedPrice, error) {
	var (
		p      model.SignedPrice
		record []byte
	)
	if err := s.Scan(&p.ID, &p.Token, &p.Symbol, &p.MessageHash, &record, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan signed price: %w", err)
	}
	sp, err := DecodeRecord(record)
	if err != nil {
		return nil, err
	}
	p.Record = sp
	return &p, nil
}
