// Package web provides an HTTP status and control server for the
// jema-terminal daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mobakitch/jema-terminal/internal/logger"
	"github.com/mobakitch/jema-terminal/internal/logic"
	"github.com/mobakitch/jema-terminal/internal/status"
	"github.com/mobakitch/jema-terminal/internal/terminal"
)

// Switch is the part of the terminal controller the server drives.
type Switch interface {
	Set(ctx context.Context, desired bool) (bool, error)
}

// History is the event log read by /history.json.
type History interface {
	Recent(ctx context.Context, limit int) ([]logic.Event, error)
}

// Bounds of the /history.json limit parameter.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	sw         Switch
	history    History
}

// Option customises a Server.
type Option func(*Server)

// WithHistory enables /history.json.
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// HistoryResponse is the JSON body returned by /history.json.
type HistoryResponse struct {
	Events []HistoryEvent `json:"events"`
}

// HistoryEvent is one logged terminal event.
type HistoryEvent struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	State     string `json:"state"`
}

// SetResponse is the JSON body returned by POST /set.
type SetResponse struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// New creates a Server that reads state from the given tracker. A nil sw
// disables the /set endpoint.
func New(addr string, tracker *status.Tracker, sw Switch, opts ...Option) *Server {
	s := &Server{tracker: tracker, sw: sw}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/set", s.handleSet)
	mux.HandleFunc("/history.json", s.handleHistory)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.sw != nil, s.history != nil)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleSet accepts POST /set?state=on|off. The request context bounds the
// wait behind an in-flight pulse.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeSet(w, http.StatusMethodNotAllowed, SetResponse{Error: "method not allowed"})
		return
	}
	if s.sw == nil {
		writeSet(w, http.StatusServiceUnavailable, SetResponse{Error: "control disabled"})
		return
	}

	var desired bool
	switch strings.ToLower(r.FormValue("state")) {
	case "on":
		desired = true
	case "off":
		desired = false
	default:
		writeSet(w, http.StatusBadRequest, SetResponse{Error: `state must be "on" or "off"`})
		return
	}

	ctx := logger.WithName(r.Context(), "web")
	got, err := s.sw.Set(ctx, desired)
	resp := SetResponse{State: string(logic.StateOf(got))}
	switch {
	case err == nil:
		writeSet(w, http.StatusOK, resp)
	case errors.Is(err, terminal.ErrHardwareFault):
		resp.Error = err.Error()
		writeSet(w, http.StatusBadGateway, resp)
	default:
		logger.WarnKV(ctx, "set failed", "desired", desired, "error", err)
		resp.Error = err.Error()
		writeSet(w, http.StatusServiceUnavailable, resp)
	}
}

// handleHistory returns the most recent logged events, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}

	limit := defaultHistoryLimit
	if v := r.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		logger.WarnKV(logger.WithName(r.Context(), "web"), "history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	resp := HistoryResponse{Events: make([]HistoryEvent, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, HistoryEvent{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(e.Type),
			State:     string(e.State),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeSet(w http.ResponseWriter, code int, resp SetResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
