package versioning

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephantine"
)

type EngineOptions struct {
	Logger            *slog.Logger
	MetricsRegisterer prometheus.Registerer
	// Clock is used to timestamp snapshots, defaults to time.Now.
	Clock func() time.Time
}

// Engine snapshots, queries, diffs and restores versioned records. The
// engine holds no per-table state, the Config for a table is passed to
// every call.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time

	snapshots *prometheus.CounterVec
	restores  *prometheus.CounterVec
	diffs     *prometheus.CounterVec
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.MetricsRegisterer == nil {
		opts.MetricsRegisterer = prometheus.DefaultRegisterer
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := Engine{
		logger: opts.Logger,
		now:    opts.Clock,
	}

	prom := elephantine.NewMetricsHelper(opts.MetricsRegisterer)

	prom.CounterVec(&e.snapshots, prometheus.CounterOpts{
		Name: "versionlog_snapshots_total",
		Help: "Number of archive entries written.",
	}, []string{"table", "kind"})

	prom.CounterVec(&e.restores, prometheus.CounterOpts{
		Name: "versionlog_restores_total",
		Help: "Number of restores attempted.",
	}, []string{"table", "status"})

	prom.CounterVec(&e.diffs, prometheus.CounterOpts{
		Name: "versionlog_diffs_total",
		Help: "Number of change sets computed.",
	}, []string{"table"})

	if err := prom.Err(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &e, nil
}
