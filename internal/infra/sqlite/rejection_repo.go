/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kentakayama/tls-oracle/internal/domain/model"
)

// RejectionRepository handles refresh failure persistence.
type RejectionRepository struct {
	db *sql.DB
}

func NewRejectionRepository(db *sql.DB) *RejectionRepository {
	return &RejectionRepository{db: db}
}

// Create inserts a new rejection and returns the inserted id.
func (r *RejectionRepository) Create(ctx context.Context, rej *model.Rejection) (int64, error) {
	createdAt := rej.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO rejections (token, reason, created_at)
		VALUES (?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, rej.Token, rej.Reason, createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert rejection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindLatestByToken returns the most recent rejection for token, or nil if there is none.
func (r *RejectionRepository) FindLatestByToken(ctx context.Context, token string) (*model.Rejection, error) {
	const q = `
		SELECT id, token, reason, created_at
		FROM rejections
		WHERE token = ?
		ORDER BY id DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, token)
	var rej model.Rejection
	if err := row.Scan(&rej.ID, &rej.Token, &rej.Reason, &rej.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan rejection: %w", err)
	}
	return &rej, nil
}
