/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pinning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hashHex   = "321eee7ebe987a9770bf82069cc14225c546f4fd18788ab368cafe7ae268d3f5"
	hashColon = "SHA256:32:1E:EE:7E:BE:98:7A:97:70:BF:82:06:9C:C1:42:25:C5:46:F4:FD:18:78:8A:B3:68:CA:FE:7A:E2:68:D3:F5"
)

func TestPolicy_LookupExactMatch(t *testing.T) {
	p, err := NewPolicy(Entry{Hostname: "Example.COM.", SPKIHashes: []string{hashColon}})
	require.Nil(t, err)

	e, ok := p.Lookup("example.com")
	require.True(t, ok)
	assert.Equal(t, "example.com", e.Hostname)
	assert.True(t, e.SPKIHashes.Has(hashHex))

	_, ok = p.Lookup("EXAMPLE.com")
	assert.True(t, ok)

	// no wildcard or suffix matching
	_, ok = p.Lookup("www.example.com")
	assert.False(t, ok)
	_, ok = p.Lookup("")
	assert.False(t, ok)
}

func TestPolicy_NilIsUnconfigured(t *testing.T) {
	var p *Policy
	_, ok := p.Lookup("example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
}

func TestPolicy_RejectsEmptyEntry(t *testing.T) {
	_, err := NewPolicy(Entry{Hostname: "example.com"})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrEmptyEntry))

	var ee *EntryError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "example.com", ee.Hostname)
}

func TestPolicy_RejectsDuplicatesAndBadDigests(t *testing.T) {
	_, err := NewPolicy(
		Entry{Hostname: "example.com", Issuers: []string{"CN=A"}},
		Entry{Hostname: "EXAMPLE.com", Issuers: []string{"CN=B"}},
	)
	assert.True(t, errors.Is(err, ErrDuplicateHostname))

	_, err = NewPolicy(Entry{Hostname: "example.com", SPKIHashes: []string{"deadbeef"}})
	assert.NotNil(t, err)

	_, err = NewPolicy(Entry{Hostname: "  ", Issuers: []string{"CN=A"}})
	assert.True(t, errors.Is(err, ErrEmptyHostname))
}

func TestParse_YAML(t *testing.T) {
	data := []byte(`
pins:
  - hostname: api.binance.us
    spki_sha256: ["` + hashHex + `"]
    fingerprint_sha256: ["` + hashColon + `"]
    issuers: ["CN=Amazon RSA 2048 M02,O=Amazon,C=US"]
  - hostname: jsonplaceholder.typicode.com
    issuers: ["CN=WE1,O=Google Trust Services,C=US"]
`)
	p, err := Parse(data)
	require.Nil(t, err)
	assert.Equal(t, []string{"api.binance.us", "jsonplaceholder.typicode.com"}, p.Hostnames())

	e, ok := p.Lookup("api.binance.us")
	require.True(t, ok)
	assert.Len(t, e.SPKIHashes, 1)
	assert.True(t, e.Fingerprints.Has(hashHex))
	assert.True(t, e.Issuers.Has("CN=Amazon RSA 2048 M02,O=Amazon,C=US"))
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("pins:\n  - hostname: example.com\n    spki_sha265: [abc]\n"))
	assert.NotNil(t, err)
}

func TestParse_EmptyDocument(t *testing.T) {
	p, err := Parse(nil)
	require.Nil(t, err)
	assert.Equal(t, 0, p.Len())
}

func TestLoadAndDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.yaml")
	require.Nil(t, os.WriteFile(path, []byte("pins:\n  - hostname: example.com\n    issuers: [\"CN=Test\"]\n"), 0o600))

	p, err := Load(path)
	require.Nil(t, err)
	_, ok := p.Lookup("example.com")
	assert.True(t, ok)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)

	d, err := Default()
	require.Nil(t, err)
	e, ok := d.Lookup("jsonplaceholder.typicode.com")
	require.True(t, ok)
	assert.True(t, e.SPKIHashes.Has(hashHex))
	_, ok = d.Lookup("api.binance.us")
	assert.True(t, ok)
}

func TestNormalizeHostname(t *testing.T) {
	h, err := NormalizeHostname("BÜCHER.example.")
	require.Nil(t, err)
	assert.Equal(t, "xn--bcher-kva.example", h)
}
