// Package api serves the embedded status and control surface: run state,
// the ledger of past runs, the newest captured frame, metrics, and an
// on-demand capture trigger.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Roelanb/duetlapse/internal/runlog"
	"github.com/Roelanb/duetlapse/internal/timelapse"
)

type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// Control is the slice of the run loop the API is allowed to touch.
type Control interface {
	Snapshot() *timelapse.Snapshot
	RequestCapture()
}

type Server struct {
	log        Logger
	ctrl       Control
	runs       runlog.Store
	latestPath string

	mux   *http.ServeMux
	srv   *http.Server
	addr  string
	ln    net.Listener
	mu    sync.Mutex
	start bool
}

func New(log Logger, ctrl Control, runs runlog.Store, latestPath, addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		log:        log,
		ctrl:       ctrl,
		runs:       runs,
		latestPath: latestPath,
		mux:        mux,
		addr:       addr,
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/frames/latest", s.handleLatestFrame)
	mux.Handle("/metrics", promhttp.Handler())
	s.mountUI()
	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Infow("api server listening", "addr", s.addr)
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("api server error", "error", err)
		}
	}()
	s.start = true
	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.start = false
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var snap *timelapse.Snapshot
	if s.ctrl != nil {
		snap = s.ctrl.Snapshot()
	}
	if snap == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"phase": "starting"})
		return
	}
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.runs == nil {
		_ = json.NewEncoder(w).Encode([]runlog.RunRecord{})
		return
	}
	recs, err := s.runs.List(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []runlog.RunRecord{}
	}
	_ = json.NewEncoder(w).Encode(recs)
}

// handleSnapshot queues one plain capture for the next tick.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if s.ctrl == nil {
		http.Error(w, "control unavailable", http.StatusServiceUnavailable)
		return
	}
	s.ctrl.RequestCapture()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if s.latestPath == "" {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(s.latestPath); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.latestPath)
}
