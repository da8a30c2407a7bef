/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	privKeyBytesLen = 32
	// MaxKeyAttempts bounds the rejection sampling loop. The chance of a uniformly random
	// 32-byte string falling outside [1, N) on secp256k1 is about 2^-128 per draw.
	MaxKeyAttempts = 64
)

// Signature is a recoverable secp256k1 signature over Hash.
type Signature struct {
	RS         []byte // R || S, 64 bytes
	RecoveryID byte   // 0 or 1
	Hash       []byte // Keccak-256 of the signed message
}

// Identity owns the validator's signing key for the life of the process.
// The private scalar is never exported; only the public key and signatures leave it.
type Identity struct {
	mu         sync.RWMutex
	key        *ecdsa.PrivateKey
	public     []byte
	compressed []byte
	address    common.Address
}

// New generates a fresh identity from crypto/rand.
func New() (*Identity, error) {
	return NewFromReader(rand.Reader)
}

// NewFromReader draws candidate scalars from r until one is a valid secp256k1
// private key, rejecting zero and values >= N.
func NewFromReader(r io.Reader) (*Identity, error) {
	candidate := make([]byte, privKeyBytesLen)
	defer zero(candidate)

	for attempt := 0; attempt < MaxKeyAttempts; attempt++ {
		if _, err := io.ReadFull(r, candidate); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRandomSource, err)
		}
		key, err := ethcrypto.ToECDSA(candidate)
		if err != nil {
			continue
		}
		return newIdentity(key), nil
	}
	return nil, ErrKeyGenerationExhausted
}

func newIdentity(key *ecdsa.PrivateKey) *Identity {
	return &Identity{
		key:        key,
		public:     ethcrypto.FromECDSAPub(&key.PublicKey),
		compressed: ethcrypto.CompressPubkey(&key.PublicKey),
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}
}

// PublicKey returns the 65-byte uncompressed public key (0x04 || X || Y).
func (id *Identity) PublicKey() []byte {
	return bytes.Clone(id.public)
}

// PublicKeyCompressed returns the 33-byte SEC1 compressed public key.
func (id *Identity) PublicKeyCompressed() []byte {
	return bytes.Clone(id.compressed)
}

// Address returns the Ethereum-style address of the public key, for consumers that
// check signatures with ecrecover.
func (id *Identity) Address() common.Address {
	return id.address
}

// Sign hashes message with Keccak-256 and signs the digest. The signature is
// recovered and compared with the published key before it is returned; any
// failure here means the key is unusable and is reported as ErrSigningFailure.
func (id *Identity) Sign(message []byte) (*Signature, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()

	if id.key == nil {
		return nil, fmt.Errorf("%w: identity closed", ErrSigningFailure)
	}

	hash := ethcrypto.Keccak256(message)
	sig, err := ethcrypto.Sign(hash, id.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}

	recovered, err := ethcrypto.Ecrecover(hash, sig)
	if err != nil || !bytes.Equal(recovered, id.public) {
		return nil, fmt.Errorf("%w: signature does not recover to the identity key", ErrSigningFailure)
	}

	return &Signature{
		RS:         sig[:64],
		RecoveryID: sig[64],
		Hash:       hash,
	}, nil
}

// Close zeroes the private scalar. Sign fails afterwards.
func (id *Identity) Close() {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.key != nil {
		id.key.D.SetInt64(0)
		id.key = nil
	}
}

func (id *Identity) String() string {
	return fmt.Sprintf("Identity{address: %s, privateKey: *****}", id.address.Hex())
}

// Recover returns the uncompressed public key that produced sig over hash.
func Recover(hash, rs []byte, recoveryID byte) ([]byte, error) {
	if len(rs) != 64 || recoveryID > 1 {
		return nil, ErrInvalidSignature
	}
	sig := make([]byte, 65)
	copy(sig, rs)
	sig[64] = recoveryID
	pub, err := ethcrypto.Ecrecover(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return pub, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
