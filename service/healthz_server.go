package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// WorkerSnapshot is one worker slot as reported on /status
type WorkerSnapshot struct {
	Slot    int    `json:"slot"`
	Pid     int    `json:"pid,omitempty"`
	Root    string `json:"root,omitempty"`
	Current string `json:"current,omitempty"`
	Idle    bool   `json:"idle"`
}

// ResultSnapshot summarizes the last finished run
type ResultSnapshot struct {
	RunID   string `json:"runId"`
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Total   int    `json:"total"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// StatusSnapshot is the body of /status
type StatusSnapshot struct {
	RunID      string           `json:"runId,omitempty"`
	State      string           `json:"state"`
	Workers    []WorkerSnapshot `json:"workers"`
	LastResult *ResultSnapshot  `json:"lastResult,omitempty"`
}

// StatusSource provides the live view served on /status
type StatusSource interface {
	Snapshot() StatusSnapshot
}

type HealthzServer struct {
	ctx    context.Context
	server *http.Server
	Status StatusSource
}

// Handler serves /healthz and, when a status source is set, /status
func (h *HealthzServer) Handler() http.Handler {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	hdlr.HandleFunc("/status", h.HandleStatus)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(hdlr)
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	h.server = &http.Server{
		Handler: h.Handler(),
		Addr:    addr,
	}
	h.ctx = ctx
	return h.server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (h *HealthzServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Status.Snapshot()); err != nil {
		log.Warn("Failed to encode status", "err", err)
	}
}
