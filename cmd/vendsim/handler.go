// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cunicu.li/go-ageverify"
)

// Counts are the decisions received so far.
type Counts struct {
	OK     int `json:"ok"`
	Denied int `json:"denied"`
}

// Handler simulates the vending machine side of the notification.
type Handler struct {
	logger *zap.Logger

	mu     sync.Mutex
	counts Counts
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/verify", h.HandleVerify)
	r.Get("/status", h.HandleStatus)
}

// HandleVerify implements POST /verify.
// Input: {"result": "ok"|"denied"}
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024)

	var p ageverify.NotifyPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.logger.Warn("Failed to decode notification", zap.Error(err))
		http.Error(w, "invalid JSON", http.StatusBadRequest)

		return
	}

	h.mu.Lock()
	switch p.Result {
	case ageverify.PayloadOK:
		h.counts.OK++
	case ageverify.PayloadDenied:
		h.counts.Denied++
	default:
		h.mu.Unlock()

		h.logger.Warn("Invalid result", zap.String("result", p.Result))
		http.Error(w, "invalid result", http.StatusBadRequest)

		return
	}
	h.mu.Unlock()

	if p.Result == ageverify.PayloadOK {
		h.logger.Info("Purchase allowed")
	} else {
		h.logger.Info("Purchase denied")
	}

	w.WriteHeader(http.StatusOK)
}

// HandleStatus implements GET /status.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	c := h.counts
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}
