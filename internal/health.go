package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ReadyFunc func(ctx context.Context) error

// HealthServer exposes health endpoints, metrics, and PPROF endpoints.
type HealthServer struct {
	server *http.Server

	m              sync.RWMutex
	readyFunctions map[string]ReadyFunc
}

func NewHealthServer(addr string, gatherer prometheus.Gatherer) *HealthServer {
	mux := http.NewServeMux()

	server := http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 1 * time.Second,
	}

	s := HealthServer{
		server:         &server,
		readyFunctions: make(map[string]ReadyFunc),
	}

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/health/ready", http.HandlerFunc(s.readyHandler))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &s
}

type ReadyResult struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Handler returns the handler of the health server.
func (s *HealthServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HealthServer) readyHandler(
	w http.ResponseWriter, req *http.Request,
) {
	var failed bool

	result := make(map[string]ReadyResult)

	s.m.RLock()
	defer s.m.RUnlock()

	for name, fn := range s.readyFunctions {
		err := fn(req.Context())
		if err != nil {
			failed = true

			result[name] = ReadyResult{
				Ok:    false,
				Error: err.Error(),
			}

			continue
		}

		result[name] = ReadyResult{Ok: true}
	}

	w.Header().Set("Content-Type", "application/json")

	if failed {
		w.WriteHeader(http.StatusInternalServerError)
	}

	enc := json.NewEncoder(w)

	enc.SetIndent("", "  ")

	_ = enc.Encode(result)
}

func (s *HealthServer) AddReadyFunction(name string, fn ReadyFunc) {
	s.m.Lock()
	s.readyFunctions[name] = fn
	s.m.Unlock()
}

func (s *HealthServer) Close() error {
	err := s.server.Close()
	if err != nil {
		return fmt.Errorf("failed to close http server: %w", err)
	}

	return nil
}

func (s *HealthServer) ListenAndServe(ctx context.Context) error {
	return ListenAndServeContext(ctx, s.server)
}
