/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kentakayama/tls-oracle/internal/attestation"
	"github.com/kentakayama/tls-oracle/internal/domain/service"
	"github.com/kentakayama/tls-oracle/internal/infra/validatorclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// PublicKeySource asks the validator for its key on every call.
type PublicKeySource interface {
	PublicKey(ctx context.Context) (*validatorclient.PublicKey, error)
}

type handler struct {
	prices  service.SignedPriceRepository
	keys    PublicKeySource
	tokens  []string
	known   map[string]bool
	metrics http.Handler
	logger  *log.Logger
	now     func() time.Time
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
}

type priceResponse struct {
	Success bool                     `json:"success"`
	Data    *attestation.SignedPrice `json:"data,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

type pricesResponse struct {
	Success     bool                                `json:"success"`
	Data        map[string]*attestation.SignedPrice `json:"data"`
	LastUpdated string                              `json:"lastUpdated"`
}

type publicKeyResponse struct {
	Success             bool   `json:"success"`
	PublicKey           string `json:"publicKey,omitempty"`
	PublicKeyCompressed string `json:"publicKeyCompressed,omitempty"`
	Address             string `json:"address,omitempty"`
	Error               string `json:"error,omitempty"`
}

type healthResponse struct {
	Status          string   `json:"status"`
	Timestamp       string   `json:"timestamp"`
	AvailablePrices []string `json:"availablePrices"`
	TotalPrices     int      `json:"totalPrices"`
}

func newHandler(prices service.SignedPriceRepository, keys PublicKeySource, tokens []string, logger *log.Logger) *handler {
	known := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		known[t] = true
	}
	return &handler{
		prices:  prices,
		keys:    keys,
		tokens:  tokens,
		known:   known,
		metrics: promhttp.Handler(),
		logger:  logger,
		now:     time.Now,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if token, ok := strings.CutPrefix(r.URL.Path, "/price/"); ok {
		h.price(w, r, token)
		return
	}

	switch r.URL.Path {
	case "/prices":
		h.allPrices(w, r)
	case "/public-key":
		h.publicKey(w, r)
	case "/health":
		h.health(w, r)
	case "/metrics":
		h.metrics.ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *handler) price(w http.ResponseWriter, r *http.Request, token string) {
	if !h.known[token] {
		h.writeJSON(w, http.StatusNotFound, priceResponse{Error: fmt.Sprintf("unknown token %s", token)})
		return
	}

	p, err := h.prices.FindLatestByToken(r.Context(), token)
	if err != nil {
		h.logger.Printf("failed loading price for %s: %v", token, err)
		h.writeJSON(w, http.StatusInternalServerError, priceResponse{Error: "failed to load price"})
		return
	}
	if p == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, priceResponse{Error: token + " price not available yet"})
		return
	}
	h.writeJSON(w, http.StatusOK, priceResponse{Success: true, Data: p.Record})
}

func (h *handler) allPrices(w http.ResponseWriter, r *http.Request) {
	latest, err := h.prices.ListLatest(r.Context())
	if err != nil {
		h.logger.Printf("failed loading prices: %v", err)
		h.writeJSON(w, http.StatusInternalServerError, priceResponse{Error: "failed to load prices"})
		return
	}

	data := make(map[string]*attestation.SignedPrice, len(h.tokens))
	for _, t := range h.tokens {
		data[t] = nil
		if p, ok := latest[t]; ok {
			data[t] = p.Record
		}
	}
	h.writeJSON(w, http.StatusOK, pricesResponse{
		Success:     true,
		Data:        data,
		LastUpdated: h.now().UTC().Format(timestampLayout),
	})
}

func (h *handler) publicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.PublicKey(r.Context())
	if err != nil {
		h.logger.Printf("failed retrieving validator public key: %v", err)
		h.writeJSON(w, http.StatusServiceUnavailable, publicKeyResponse{Error: "Unable to retrieve public key from validator"})
		return
	}
	h.writeJSON(w, http.StatusOK, publicKeyResponse{
		Success:             true,
		PublicKey:           hex.EncodeToString(key.Uncompressed),
		PublicKeyCompressed: hex.EncodeToString(key.Compressed),
		Address:             key.Address,
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	latest, err := h.prices.ListLatest(r.Context())
	if err != nil {
		h.logger.Printf("failed loading prices: %v", err)
	}
	available := make([]string, 0, len(h.tokens))
	for _, t := range h.tokens {
		if _, ok := latest[t]; ok {
			available = append(available, t)
		}
	}
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:          "healthy",
		Timestamp:       h.now().UTC().Format(timestampLayout),
		AvailablePrices: available,
		TotalPrices:     len(available),
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("failed encoding response: %v", err)
		h.writeResponse(w, responseSpec{status: http.StatusInternalServerError})
		return
	}
	h.writeResponse(w, responseSpec{
		status:      status,
		body:        body,
		contentType: "application/json",
	})
}

func (h *handler) writeResponse(w http.ResponseWriter, spec responseSpec) {
	if len(spec.body) > 0 {
		for k, v := range defaultHeaders {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			h.logger.Printf("failed writing response body: %v", err)
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":           "no-store",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}
