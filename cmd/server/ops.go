// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilcore/vigil/internal/breaker"
	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/recovery"
	"github.com/vigilcore/vigil/internal/supervisor"
)

// startOpsServer mounts the operational surface: health, prometheus
// metrics, breaker state, and the approval endpoints a human (or their
// tooling) drives decisions through. Listen failures are fatal; an
// operator who asked for the ops port should not silently lose it.
func startOpsServer(cfg config.OpsConfig, meta *supervisor.Meta, desk *recovery.ApprovalDesk, breakers *breaker.Registry) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz(meta))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/breakers", handleBreakers(breakers))

	r.Route("/api/v1/approvals", func(r chi.Router) {
		r.Get("/", handleListApprovals(desk))
		r.Get("/{id}", handleGetApproval(desk))
		r.Post("/{id}/approve", handleApprove(desk))
		r.Post("/{id}/reject", handleReject(desk))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("Ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("Ops server failed")
		}
	}()
	return srv
}

func handleHealthz(meta *supervisor.Meta) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"status":   meta.State().String(),
			"root":     meta.ID(),
			"children": meta.ChildHealth(),
		}
		code := http.StatusOK
		if meta.State() != supervisor.StateRunning {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	}
}

func handleBreakers(breakers *breaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]string{}
		for _, resource := range breakers.Resources() {
			out[resource] = breakers.State(resource).String()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListApprovals(desk *recovery.ApprovalDesk) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, desk.Pending())
	}
}

func handleGetApproval(desk *recovery.ApprovalDesk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := desk.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleApprove(desk *recovery.ApprovalDesk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := desk.Approve(id); err != nil {
			writeError(w, err)
			return
		}
		a, err := desk.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleReject(desk *recovery.ApprovalDesk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		// Body is optional; a bare reject carries no reason.
		_ = json.NewDecoder(r.Body).Decode(&body)

		id := chi.URLParam(r, "id")
		if err := desk.Reject(id, body.Reason); err != nil {
			writeError(w, err)
			return
		}
		a, err := desk.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Err(err).Msg("ops response encoding failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, errs.ErrNotFound) {
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
