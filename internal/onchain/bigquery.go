package onchain

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"

	"github.com/tokenpulse/tokenpulse/internal/metrics"
)

// QueryTemplate is one named, parameterized SQL template. Snapshot
// templates read a point-in-time view and are exempt from the time-window
// lint.
type QueryTemplate struct {
	Name     string
	SQL      string
	Snapshot bool
}

// The built-in template set. SQL text references the dataset via %s and
// binds parameters by name.
var builtinTemplates = map[string]QueryTemplate{
	"active_addresses": {
		Name: "active_addresses",
		SQL: `SELECT block_ts, COUNT(DISTINCT from_address) AS active_addrs
FROM %s.token_transfers
WHERE token_address = @address AND block_ts >= @from_ts AND block_ts < @to_ts
GROUP BY block_ts ORDER BY block_ts LIMIT 1000`,
	},
	"top_holders": {
		Name:     "top_holders",
		Snapshot: true,
		SQL: `SELECT holder_address, balance
FROM %s.token_balances_latest
WHERE token_address = @address
ORDER BY balance DESC LIMIT @top_n`,
	},
	"transfer_graph": {
		Name: "transfer_graph",
		SQL: `SELECT from_address, to_address, COUNT(*) AS tx_count, SUM(value) AS volume
FROM %s.token_transfers
WHERE token_address = @address
  AND block_ts >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL @window_minutes MINUTE)
GROUP BY from_address, to_address
ORDER BY tx_count DESC LIMIT 500`,
	},
}

// LintTemplate enforces the query contract before anything reaches the
// warehouse: an explicit LIMIT, a bounded time window for non-snapshot
// templates, and no trailing garbage after the statement.
func LintTemplate(t QueryTemplate) error {
	sql := strings.TrimSpace(t.SQL)

	if idx := strings.Index(sql, ";"); idx >= 0 && strings.TrimSpace(sql[idx+1:]) != "" {
		return fmt.Errorf("lint %s: trailing content after statement terminator", t.Name)
	}

	if !regexp.MustCompile(`(?i)\bLIMIT\s+(@\w+|\d+)`).MatchString(sql) {
		return fmt.Errorf("lint %s: LIMIT clause is required", t.Name)
	}

	if !t.Snapshot {
		windowed := strings.Contains(sql, "@from_ts") && strings.Contains(sql, "@to_ts")
		relative := strings.Contains(sql, "@window_minutes")
		if !windowed && !relative {
			return fmt.Errorf("lint %s: non-snapshot template must bind a time window", t.Name)
		}
	}
	return nil
}

// QueryResult carries rows plus execution metadata.
type QueryResult struct {
	Rows           []map[string]bigquery.Value `json:"rows"`
	BytesScanned   int64                       `json:"bq_bytes_scanned"`
	CacheHit       bool                        `json:"cache_hit"`
	DataAsOfLagSec float64                     `json:"data_as_of_lag"`
	Approximate    bool                        `json:"approximate"`
}

// QueryParams bind a template invocation.
type QueryParams struct {
	Address       string
	FromTS        time.Time
	ToTS          time.Time
	WindowMinutes int
	TopN          int
}

// BQRunner executes named templates against BigQuery with a dry-run cost
// guard in front of every execution.
type BQRunner struct {
	client       *bigquery.Client
	dataset      string
	location     string
	timeout      time.Duration
	maxScannedGB float64
	metrics      *metrics.Registry
}

// NewBQRunner builds the runner. Project and dataset are validated by the
// caller at startup (missing config is fatal there).
func NewBQRunner(ctx context.Context, project, dataset, location string, timeout time.Duration, maxScannedGB float64, m *metrics.Registry) (*BQRunner, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &BQRunner{
		client:       client,
		dataset:      dataset,
		location:     location,
		timeout:      timeout,
		maxScannedGB: maxScannedGB,
		metrics:      m,
	}, nil
}

// Template resolves a named template; unknown names are caller errors.
func Template(name string) (QueryTemplate, bool) {
	t, ok := builtinTemplates[name]
	return t, ok
}

// TemplateNames lists the available templates for diagnostics.
func TemplateNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	return names
}

// Run lints, dry-runs and executes one template. A dry-run estimate above
// the scanned-bytes budget aborts before any money is spent.
func (r *BQRunner) Run(ctx context.Context, tmpl QueryTemplate, params QueryParams) (*QueryResult, error) {
	if err := LintTemplate(tmpl); err != nil {
		r.metrics.BQQueries.WithLabelValues(tmpl.Name, "lint_failed").Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sql := fmt.Sprintf(tmpl.SQL, fmt.Sprintf("`%s`", r.dataset))
	bind := func() *bigquery.Query {
		q := r.client.Query(sql)
		q.Location = r.location
		q.Parameters = buildParameters(tmpl, params)
		return q
	}

	dry := bind()
	dry.DryRun = true
	dryJob, err := dry.Run(ctx)
	if err != nil {
		r.metrics.BQQueries.WithLabelValues(tmpl.Name, "dry_run_failed").Inc()
		return nil, fmt.Errorf("dry run %s: %w", tmpl.Name, err)
	}
	estimated := dryJob.LastStatus().Statistics.TotalBytesProcessed
	if gb := float64(estimated) / (1 << 30); gb > r.maxScannedGB {
		r.metrics.BQQueries.WithLabelValues(tmpl.Name, "cost_guard").Inc()
		return nil, fmt.Errorf("query %s would scan %.2f GB, budget is %.2f GB", tmpl.Name, gb, r.maxScannedGB)
	}

	job, err := bind().Run(ctx)
	if err != nil {
		r.metrics.BQQueries.WithLabelValues(tmpl.Name, "run_failed").Inc()
		return nil, fmt.Errorf("run %s: %w", tmpl.Name, err)
	}
	it, err := job.Read(ctx)
	if err != nil {
		r.metrics.BQQueries.WithLabelValues(tmpl.Name, "read_failed").Inc()
		return nil, fmt.Errorf("read %s: %w", tmpl.Name, err)
	}

	result := &QueryResult{Rows: []map[string]bigquery.Value{}}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			r.metrics.BQQueries.WithLabelValues(tmpl.Name, "iterate_failed").Inc()
			return nil, fmt.Errorf("iterate %s: %w", tmpl.Name, err)
		}
		result.Rows = append(result.Rows, row)
	}

	status := job.LastStatus()
	if status != nil && status.Statistics != nil {
		result.BytesScanned = status.Statistics.TotalBytesProcessed
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			result.CacheHit = qs.CacheHit
		}
	}

	r.metrics.BQQueries.WithLabelValues(tmpl.Name, "ok").Inc()
	r.metrics.BQBytesScanned.Observe(float64(result.BytesScanned))
	log.Debug().Str("template", tmpl.Name).Int64("bytes", result.BytesScanned).
		Bool("cache_hit", result.CacheHit).Msg("bq template executed")
	return result, nil
}

func buildParameters(tmpl QueryTemplate, params QueryParams) []bigquery.QueryParameter {
	out := []bigquery.QueryParameter{
		{Name: "address", Value: params.Address},
	}
	if strings.Contains(tmpl.SQL, "@from_ts") {
		out = append(out,
			bigquery.QueryParameter{Name: "from_ts", Value: params.FromTS},
			bigquery.QueryParameter{Name: "to_ts", Value: params.ToTS})
	}
	if strings.Contains(tmpl.SQL, "@window_minutes") {
		out = append(out, bigquery.QueryParameter{Name: "window_minutes", Value: params.WindowMinutes})
	}
	if strings.Contains(tmpl.SQL, "@top_n") {
		topN := params.TopN
		if topN <= 0 {
			topN = 10
		}
		out = append(out, bigquery.QueryParameter{Name: "top_n", Value: topN})
	}
	return out
}
