package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
)

// Metric definitions for the custody API

var (
	ledgerAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Total number of ledger entries appended",
		},
		[]string{"action"},
	)

	custodyTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "chain",
			Name:      "transitions_total",
			Help:      "Total number of custody transitions recorded",
		},
		[]string{"action"},
	)

	gapFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "chain",
			Name:      "gap_findings_total",
			Help:      "Total number of custody gap findings flagged",
		},
		[]string{"finding"},
	)

	integrityFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "ledger",
			Name:      "integrity_failures_total",
			Help:      "Total number of detected integrity failures",
		},
	)

	retentionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "retention",
			Name:      "events_total",
			Help:      "Total number of retention lifecycle events",
		},
		[]string{"type"},
	)

	dbConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "connections",
			Help:      "Current number of connections in the pool",
		},
		[]string{"state"},
	)

	dbConnectionPoolMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "max_conns",
			Help:      "Maximum number of connections in the pool",
		},
	)
)

// complianceEventMetrics translates compliance notifications into counters.
// Subscribed to the process notifier so every service feeds the same series.
func complianceEventMetrics(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.EventGapDetected:
		gapFindingsTotal.WithLabelValues(event.Detail["first"]).Inc()
	case events.EventIntegrityFailure:
		integrityFailuresTotal.Inc()
	case events.EventLegalHoldBlockedDisposal, events.EventRetentionDue:
		retentionEventsTotal.WithLabelValues(string(event.Type)).Inc()
	}
}

// RecordLedgerAppend counts a committed ledger entry
func RecordLedgerAppend(action string) {
	ledgerAppendsTotal.WithLabelValues(action).Inc()
}

// RecordCustodyTransition counts a recorded custody transition
func RecordCustodyTransition(action string) {
	custodyTransitionsTotal.WithLabelValues(action).Inc()
}

// startMetricsServer serves Prometheus metrics and samples pool statistics
func startMetricsServer(port int, pool *pgxpool.Pool) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if pool != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				stat := pool.Stat()
				dbConnectionPoolSize.WithLabelValues("acquired").Set(float64(stat.AcquiredConns()))
				dbConnectionPoolSize.WithLabelValues("idle").Set(float64(stat.IdleConns()))
				dbConnectionPoolSize.WithLabelValues("total").Set(float64(stat.TotalConns()))
				dbConnectionPoolMax.Set(float64(stat.MaxConns()))
			}
		}()
	}

	server := &http.Server{
		Addr:    addr(port),
		Handler: mux,
	}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}
