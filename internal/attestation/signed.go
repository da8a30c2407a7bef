/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package attestation

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/kentakayama/tls-oracle/internal/signer"
)

// compactHeaderBase is the first byte of a compact recoverable signature for an
// uncompressed key with recovery id 0.
const compactHeaderBase = 27

// SignedPrice is the attested payload as returned to the host and served to clients.
type SignedPrice struct {
	Symbol      string      `json:"symbol" cbor:"1,keyasint"`
	Price       json.Number `json:"price" cbor:"2,keyasint"`
	Timestamp   string      `json:"timestamp" cbor:"3,keyasint"`
	Signature   string      `json:"signature" cbor:"4,keyasint"`
	Recovery    int         `json:"recovery" cbor:"5,keyasint"`
	MessageHash string      `json:"messageHash" cbor:"6,keyasint"`
	PublicKey   string      `json:"publicKey" cbor:"7,keyasint"`
}

// Signer is the part of the signing identity attestation needs.
type Signer interface {
	Sign(message []byte) (*signer.Signature, error)
	PublicKey() []byte
}

// Attest signs the canonical message of p. An error here comes from the signer and
// is fatal for the validator.
func Attest(p PriceData, s Signer) (*SignedPrice, error) {
	sig, err := s.Sign(p.CanonicalMessage())
	if err != nil {
		return nil, err
	}
	return &SignedPrice{
		Symbol:      p.Symbol,
		Price:       json.Number(p.PriceString()),
		Timestamp:   p.TimestampString(),
		Signature:   hex.EncodeToString(sig.RS),
		Recovery:    int(sig.RecoveryID),
		MessageHash: hex.EncodeToString(sig.Hash),
		PublicKey:   hex.EncodeToString(s.PublicKey()),
	}, nil
}

// PriceData rebuilds the attested fields from the signed record.
func (sp *SignedPrice) PriceData() (PriceData, error) {
	return NewPriceData(sp.Symbol, sp.Price, sp.Timestamp)
}

// Verify checks sp independently of the signer: the message hash must match the
// canonical message rebuilt from the record, and the signature must recover to
// expectedPublicKey (65-byte uncompressed). When expectedPublicKey is nil the key
// embedded in the record is used.
func Verify(sp *SignedPrice, expectedPublicKey []byte) error {
	p, err := sp.PriceData()
	if err != nil {
		return err
	}
	hash := ethcrypto.Keccak256(p.CanonicalMessage())

	claimed, err := hex.DecodeString(sp.MessageHash)
	if err != nil || !bytes.Equal(claimed, hash) {
		return ErrMessageHashMismatch
	}

	rs, err := hex.DecodeString(sp.Signature)
	if err != nil || len(rs) != 64 || sp.Recovery < 0 || sp.Recovery > 1 {
		return ErrMalformedSignature
	}
	compact := make([]byte, 0, 65)
	compact = append(compact, byte(compactHeaderBase+sp.Recovery))
	compact = append(compact, rs...)

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	recovered := pub.SerializeUncompressed()

	embedded, err := hex.DecodeString(sp.PublicKey)
	if err != nil || !bytes.Equal(embedded, recovered) {
		return ErrPublicKeyMismatch
	}
	if expectedPublicKey != nil && !bytes.Equal(expectedPublicKey, recovered) {
		return ErrPublicKeyMismatch
	}
	return nil
}
