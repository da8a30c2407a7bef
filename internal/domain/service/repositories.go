/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/tls-oracle/internal/domain/model"
)

// SignedPriceRepository defines the interface for attested price persistence.
type SignedPriceRepository interface {
	Create(ctx context.Context, p *model.SignedPrice) (int64, error)
	FindLatestByToken(ctx context.Context, token string) (*model.SignedPrice, error)
	ListLatest(ctx context.Context) (map[string]*model.SignedPrice, error)
}

// RejectionRepository defines the interface for refresh failure persistence.
type RejectionRepository interface {
	Create(ctx context.Context, r *model.Rejection) (int64, error)
	FindLatestByToken(ctx context.Context, token string) (*model.Rejection, error)
}
