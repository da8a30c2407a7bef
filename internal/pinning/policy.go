/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pinning

import (
	"sort"
	"strings"

	"github.com/kentakayama/tls-oracle/internal/util"
	"golang.org/x/net/idna"
)

// PinEntry is the set of identities accepted for one hostname.
// At least one of the three sets is non-empty; Policy never holds an empty entry.
type PinEntry struct {
	Hostname     string
	SPKIHashes   util.Set[string] // lower-case hex SHA-256 of SubjectPublicKeyInfo
	Fingerprints util.Set[string] // lower-case hex SHA-256 of the DER certificate
	Issuers      util.Set[string] // issuer distinguished names, RFC 2253 form
}

// Empty reports whether no category is configured.
func (e *PinEntry) Empty() bool {
	return len(e.SPKIHashes) == 0 && len(e.Fingerprints) == 0 && len(e.Issuers) == 0
}

// Policy maps normalised hostnames to pin entries. It is immutable once built.
type Policy struct {
	entries map[string]*PinEntry
}

// NewPolicy builds a Policy, normalising hostnames and pin encodings.
func NewPolicy(entries ...Entry) (*Policy, error) {
	p := &Policy{entries: make(map[string]*PinEntry, len(entries))}
	for _, e := range entries {
		pe, err := e.compile()
		if err != nil {
			return nil, err
		}
		if _, dup := p.entries[pe.Hostname]; dup {
			return nil, &EntryError{Hostname: pe.Hostname, Err: ErrDuplicateHostname}
		}
		p.entries[pe.Hostname] = pe
	}
	return p, nil
}

// Lookup returns the entry for an exact hostname match. A false result means pinning
// is not configured for the host, which callers must not read as a pass.
func (p *Policy) Lookup(hostname string) (*PinEntry, bool) {
	if p == nil {
		return nil, false
	}
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return nil, false
	}
	e, ok := p.entries[h]
	return e, ok
}

// Hostnames lists the configured hosts in sorted order.
func (p *Policy) Hostnames() []string {
	if p == nil {
		return nil
	}
	hosts := make([]string, 0, len(p.entries))
	for h := range p.entries {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// NormalizeHostname lower-cases, strips a trailing dot and converts IDNs to their ASCII form.
func NormalizeHostname(hostname string) (string, error) {
	h := strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	if h == "" {
		return "", ErrEmptyHostname
	}
	ascii, err := idna.Lookup.ToASCII(h)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}
