/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package certificate

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// FormatColonHex renders a digest as "SHA256:AA:BB:...", the form operators usually copy
// out of browsers and openssl.
func FormatColonHex(digest []byte) string {
	h := strings.ToUpper(hex.EncodeToString(digest))
	parts := make([]string, 0, len(h)/2)
	for i := 0; i+1 < len(h); i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return "SHA256:" + strings.Join(parts, ":")
}

// NormalizeDigest accepts a SHA-256 pin written as plain hex, colon separated hex
// (optionally prefixed with "SHA256:" or "sha256/"), or standard base64, and returns
// lower-case hex.
func NormalizeDigest(s string) (string, error) {
	v := strings.TrimSpace(s)
	for _, prefix := range []string{"SHA256:", "sha256:", "sha256/", "SHA256/"} {
		v = strings.TrimPrefix(v, prefix)
	}

	if h := strings.ReplaceAll(v, ":", ""); len(h) == hex.EncodedLen(sha256.Size) {
		if b, err := hex.DecodeString(h); err == nil {
			return hex.EncodeToString(b), nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil && len(b) == sha256.Size {
		return hex.EncodeToString(b), nil
	}
	return "", ErrInvalidDigest
}
