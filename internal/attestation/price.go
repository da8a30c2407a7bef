/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package attestation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the ISO-8601 form used inside the canonical message:
// UTC, millisecond precision, literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const fieldSeparator = "|"

// Accepted price range. The exponent bounds follow float64 so the rendered
// price stays a few hundred bytes at most.
const (
	MaxPriceDigits   = 40
	MaxPriceExponent = 308
	MinPriceExponent = -324
)

// PriceData is the payload the validator attests to.
type PriceData struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// NewPriceData validates and normalises the three attested fields.
func NewPriceData(symbol string, price json.Number, timestamp string) (PriceData, error) {
	if symbol == "" || strings.Contains(symbol, fieldSeparator) {
		return PriceData{}, fmt.Errorf("%w: symbol %q", ErrInvalidPriceData, symbol)
	}
	p, err := decimal.NewFromString(price.String())
	if err != nil {
		return PriceData{}, fmt.Errorf("%w: price %q", ErrInvalidPriceData, price)
	}
	if err := checkPriceRange(p); err != nil {
		return PriceData{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return PriceData{}, fmt.Errorf("%w: timestamp %q", ErrInvalidPriceData, timestamp)
	}
	return PriceData{Symbol: symbol, Price: p, Timestamp: ts}, nil
}

func checkPriceRange(p decimal.Decimal) error {
	if p.NumDigits() > MaxPriceDigits {
		return fmt.Errorf("%w: price has more than %d significant digits", ErrInvalidPriceData, MaxPriceDigits)
	}
	if exp := p.Exponent(); exp > MaxPriceExponent || exp < MinPriceExponent {
		return fmt.Errorf("%w: price exponent %d out of range", ErrInvalidPriceData, exp)
	}
	return nil
}

// PriceString is the shortest exact decimal rendering of the price: no exponent,
// no trailing zeros.
func (p PriceData) PriceString() string {
	return p.Price.String()
}

func (p PriceData) TimestampString() string {
	return p.Timestamp.UTC().Format(TimestampLayout)
}

// CanonicalMessage is the byte string that gets hashed and signed:
// symbol|price|timestamp. Any change to this encoding breaks every consumer
// that verifies earlier signatures.
func (p PriceData) CanonicalMessage() []byte {
	return []byte(p.Symbol + fieldSeparator + p.PriceString() + fieldSeparator + p.TimestampString())
}
