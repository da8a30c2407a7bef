/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pinning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kentakayama/tls-oracle/internal/certificate"
	"github.com/kentakayama/tls-oracle/internal/util"
	"github.com/kentakayama/tls-oracle/resources"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a pin policy.
type File struct {
	Pins []Entry `yaml:"pins"`
}

// Entry is one hostname's pins as written by an operator.
type Entry struct {
	Hostname     string   `yaml:"hostname"`
	SPKIHashes   []string `yaml:"spki_sha256,omitempty"`
	Fingerprints []string `yaml:"fingerprint_sha256,omitempty"`
	Issuers      []string `yaml:"issuers,omitempty"`
}

// EntryError reports which hostname a policy problem belongs to.
type EntryError struct {
	Hostname string
	Err      error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("pin entry %q: %v", e.Hostname, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

func (e Entry) compile() (*PinEntry, error) {
	host, err := NormalizeHostname(e.Hostname)
	if err != nil {
		return nil, &EntryError{Hostname: e.Hostname, Err: err}
	}

	pe := &PinEntry{
		Hostname:     host,
		SPKIHashes:   util.NewSet[string](),
		Fingerprints: util.NewSet[string](),
		Issuers:      util.NewSet[string](),
	}
	for _, h := range e.SPKIHashes {
		d, err := certificate.NormalizeDigest(h)
		if err != nil {
			return nil, &EntryError{Hostname: host, Err: fmt.Errorf("spki_sha256 %q: %w", h, err)}
		}
		pe.SPKIHashes.Add(d)
	}
	for _, f := range e.Fingerprints {
		d, err := certificate.NormalizeDigest(f)
		if err != nil {
			return nil, &EntryError{Hostname: host, Err: fmt.Errorf("fingerprint_sha256 %q: %w", f, err)}
		}
		pe.Fingerprints.Add(d)
	}
	for _, i := range e.Issuers {
		if i = strings.TrimSpace(i); i != "" {
			pe.Issuers.Add(i)
		}
	}

	if pe.Empty() {
		return nil, &EntryError{Hostname: host, Err: ErrEmptyEntry}
	}
	return pe, nil
}

// Parse decodes a YAML policy. Unknown keys are rejected so a typo cannot silently
// drop a pin category.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return NewPolicy()
		}
		return nil, fmt.Errorf("parse pin policy: %w", err)
	}
	return NewPolicy(f.Pins...)
}

// Load reads a YAML policy from path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pin policy: %w", err)
	}
	return Parse(data)
}

// Default returns the policy embedded in the binary.
func Default() (*Policy, error) {
	return Parse(resources.DefaultPins)
}
