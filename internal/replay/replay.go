package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/store"
)

// Source lists and marks replayable payloads; satisfied by store.ReplayRepo.
type Source interface {
	Failed(ctx context.Context, limit int) ([]store.ReplayRow, error)
	MarkAttempt(ctx context.Context, uniqueKey, status string, latency time.Duration, attemptErr string) error
}

// Config carries the re-drive settings.
type Config struct {
	TargetURL string
	Limit     int
	Timeout   time.Duration
}

// Summary is the per-run outcome table.
type Summary struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
	MaxMS     int64         `json:"max_latency_ms"`
	P50MS     int64         `json:"p50_latency_ms"`
}

// Runner re-drives failed payloads against an HTTP ingest endpoint. Only
// rows whose last attempt did not succeed are considered; a replayed row
// that succeeds will not be picked up again.
type Runner struct {
	cfg    Config
	source Source
	client *http.Client
}

// NewRunner wires the re-drive runner.
func NewRunner(cfg Config, source Source) *Runner {
	if cfg.Limit <= 0 {
		cfg.Limit = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Runner{
		cfg:    cfg,
		source: source,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Run drives one pass over the failed set and returns the summary. Row
// failures are recorded, not fatal; only listing errors abort the run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	runID := uuid.New().String()[:8]
	start := time.Now()

	rows, err := r.source.Failed(ctx, r.cfg.Limit)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{RunID: runID, Total: len(rows)}
	latencies := make([]int64, 0, len(rows))
	for _, row := range rows {
		latency, err := r.redrive(ctx, row)
		ms := latency.Milliseconds()
		latencies = append(latencies, ms)
		if ms > summary.MaxMS {
			summary.MaxMS = ms
		}

		status := "ok"
		errText := ""
		if err != nil {
			status = "failed"
			errText = err.Error()
			summary.Failed++
			log.Warn().Err(err).Str("run_id", runID).Str("unique_key", row.UniqueKey).
				Msg("replay attempt failed")
		} else {
			summary.Succeeded++
		}
		if markErr := r.source.MarkAttempt(ctx, row.UniqueKey, status, latency, errText); markErr != nil {
			log.Error().Err(markErr).Str("unique_key", row.UniqueKey).Msg("replay bookkeeping failed")
		}
	}

	summary.Elapsed = time.Since(start)
	summary.P50MS = percentile50(latencies)
	log.Info().Str("run_id", runID).Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).
		Dur("elapsed", summary.Elapsed).Msg("replay run complete")
	return summary, nil
}

func (r *Runner) redrive(ctx context.Context, row store.ReplayRow) (time.Duration, error) {
	body, err := json.Marshal(map[string]interface{}{
		"source":     row.Source,
		"unique_key": row.UniqueKey,
		"payload":    row.Payload,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal replay body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build replay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, fmt.Errorf("post %s: %w", row.UniqueKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latency, fmt.Errorf("post %s: status %d", row.UniqueKey, resp.StatusCode)
	}
	return latency, nil
}

func percentile50(latencies []int64) int64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
