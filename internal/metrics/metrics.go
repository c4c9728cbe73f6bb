package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every Prometheus metric the pipeline exposes. A single
// instance is created at startup and threaded into the components that
// record; tests build their own throwaway instance.
type Registry struct {
	// Event core
	EventUpserts            *prometheus.CounterVec
	InsertConflictFallbacks prometheus.Counter
	EvidenceCompacted       prometheus.Counter

	// Heat
	HeatComputes  *prometheus.CounterVec
	HeatCacheHits prometheus.Counter
	HeatPersist   *prometheus.CounterVec

	// Cards
	CardsPush        *prometheus.CounterVec
	CardsPushFail    *prometheus.CounterVec
	CardsRenderFail  *prometheus.CounterVec
	CardsUnknownType *prometheus.CounterVec
	CardsDedup       *prometheus.CounterVec
	CardLatency      *prometheus.HistogramVec

	// Outbox
	OutboxEnqueued  prometheus.Counter
	OutboxDrained   *prometheus.CounterVec
	OutboxDLQ       prometheus.Counter
	OutboxBatchSize prometheus.Histogram

	// Rules / on-chain
	RulesReloads   *prometheus.CounterVec
	RulesVerdicts  *prometheus.CounterVec
	BQQueries      *prometheus.CounterVec
	BQBytesScanned prometheus.Histogram

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Scheduler
	JobRuns      *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	HeartbeatAge prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry builds and registers the full metric set.
func NewRegistry() *Registry {
	r := &Registry{
		EventUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_event_upserts_total",
				Help: "Event upserts by result (inserted, merged, fallback)",
			},
			[]string{"result"},
		),
		InsertConflictFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenpulse_insert_conflict_fallback_total",
				Help: "Upserts that exhausted compaction lock retries and took the append-only fallback",
			},
		),
		EvidenceCompacted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenpulse_evidence_compacted_total",
				Help: "Evidence items removed by post-merge compaction",
			},
		),
		HeatComputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_heat_computes_total",
				Help: "Heat computations by trend outcome",
			},
			[]string{"trend"},
		),
		HeatCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenpulse_heat_cache_hits_total",
				Help: "Heat results served from the bucket cache",
			},
		),
		HeatPersist: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_heat_persist_total",
				Help: "Heat persistence attempts by outcome",
			},
			[]string{"outcome"},
		),
		CardsPush: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_cards_push_total",
				Help: "Cards successfully dispatched by type",
			},
			[]string{"type"},
		),
		CardsPushFail: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_cards_push_fail_total",
				Help: "Card dispatch failures by type and failure class",
			},
			[]string{"type", "code"},
		),
		CardsRenderFail: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_cards_render_fail_total",
				Help: "Card render failures by reason",
			},
			[]string{"reason"},
		),
		CardsUnknownType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_cards_unknown_type_count",
				Help: "Card requests with an unrecognized type",
			},
			[]string{"type"},
		),
		CardsDedup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_cards_dedup_total",
				Help: "Card dedup decisions by reason",
			},
			[]string{"reason"},
		),
		CardLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_card_pipeline_seconds",
				Help:    "End-to-end card pipeline latency by type",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"type"},
		),
		OutboxEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenpulse_outbox_enqueued_total",
				Help: "Rows accepted into the push outbox (duplicates excluded)",
			},
		),
		OutboxDrained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_outbox_drained_total",
				Help: "Outbox rows processed by terminal result",
			},
			[]string{"result"},
		),
		OutboxDLQ: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenpulse_outbox_dlq_total",
				Help: "Rows moved to the dead-letter table",
			},
		),
		OutboxBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_outbox_batch_size",
				Help:    "Rows leased per drain batch",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
			},
		),
		RulesReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_rules_reloads_total",
				Help: "On-chain rules reload attempts by result",
			},
			[]string{"result"},
		),
		RulesVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_rules_verdicts_total",
				Help: "Rules engine verdicts by decision",
			},
			[]string{"decision"},
		),
		BQQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_bq_queries_total",
				Help: "BigQuery template executions by result",
			},
			[]string{"template", "result"},
		),
		BQBytesScanned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_bq_bytes_scanned",
				Help:    "Bytes scanned per BigQuery execution",
				Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_http_latency_seconds",
				Help:    "HTTP handler latency by route",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"route"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_job_runs_total",
				Help: "Scheduler job executions by job and result",
			},
			[]string{"job", "result"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_job_duration_seconds",
				Help:    "Scheduler job wall time",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"job"},
		),
		HeartbeatAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tokenpulse_scheduler_heartbeat_age_seconds",
				Help: "Seconds since the scheduler heartbeat was last refreshed",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.EventUpserts, r.InsertConflictFallbacks, r.EvidenceCompacted,
		r.HeatComputes, r.HeatCacheHits, r.HeatPersist,
		r.CardsPush, r.CardsPushFail, r.CardsRenderFail, r.CardsUnknownType,
		r.CardsDedup, r.CardLatency,
		r.OutboxEnqueued, r.OutboxDrained, r.OutboxDLQ, r.OutboxBatchSize,
		r.RulesReloads, r.RulesVerdicts, r.BQQueries, r.BQBytesScanned,
		r.HTTPRequests, r.HTTPLatency,
		r.JobRuns, r.JobDuration, r.HeartbeatAge,
	)

	return r
}

// Gatherer exposes the underlying registry for the /metrics handler.
func (r *Registry) Gatherer() *prometheus.Registry {
	return r.registry
}
