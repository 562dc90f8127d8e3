// Package opsserver exposes the optional local observability endpoint:
// Prometheus metrics, a health probe, the daemon status block and the
// recent transfer history. It only runs when GLOBAL metrics_addr is
// configured; the daemon's primary control surface stays the CLI.
package opsserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/filesync/internal/history"
)

// StatusFunc renders the daemon status text block on demand.
type StatusFunc func() string

// HistorySource serves the recent-transfer view; nil disables the
// /history route.
type HistorySource interface {
	Recent(n int) ([]history.Record, error)
}

// Server is the ops HTTP endpoint.
type Server struct {
	addr    string
	status  StatusFunc
	history HistorySource
	logger  *slog.Logger
	httpSrv *http.Server
}

// New creates the server without starting it.
func New(addr string, status StatusFunc, hist HistorySource, logger *slog.Logger) *Server {
	return &Server{addr: addr, status: status, history: hist, logger: logger}
}

// Start launches the listener in its own goroutine.
func (s *Server) Start() {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("ops endpoint listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops endpoint failed", "error", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop() {
	if s.httpSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.status()))
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	records, err := s.history.Recent(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}
