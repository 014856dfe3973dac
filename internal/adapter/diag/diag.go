// Package diag exposes a read-only HTTP introspection server over an
// Environment's Snapshot: dispatcher queue depths, timer heap size,
// cooperation and agent counts. This is the operational surface around
// the message_delivery_tracer hook described in §6 — a human can curl it
// instead of tailing a tracer sink.
//
// Grounded on the teacher's internal/handler/lp/delivery.go, which
// mounts a single go-chi/chi/v5 handler on a path parameter; this
// package mounts a small fixed set of read-only routes instead.
package diag

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/agentflow/internal/core/environment"
)

// Server is a read-only HTTP introspection endpoint over env.
type Server struct {
	env    *environment.Environment
	logger *slog.Logger
	router chi.Router
}

// New builds a Server with its routes mounted, ready to be served by
// http.ListenAndServe or embedded into a larger mux.
func New(env *environment.Environment, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{env: env, logger: logger, router: chi.NewRouter()}
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/stats/dispatchers/{name}", s.handleDispatcherStats)
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.env.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error("DIAG_ENCODE_FAILED", slog.Any("err", err))
	}
}

func (s *Server) handleDispatcherStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap := s.env.Snapshot()
	stats, ok := snap.Dispatchers[name]
	if !ok {
		http.Error(w, "unknown dispatcher", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Error("DIAG_ENCODE_FAILED", slog.Any("err", err))
	}
}
