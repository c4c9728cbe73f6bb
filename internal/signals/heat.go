package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/kv"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

// Trend classifications.
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// Heat is one windowed activity result. Slope is nil below the noise floor
// or when the sample is too thin to trust.
type Heat struct {
	Token     string     `json:"token,omitempty"`
	TokenCA   string     `json:"token_ca,omitempty"`
	Cnt10m    int        `json:"cnt_10m"`
	Cnt30m    int        `json:"cnt_30m"`
	Slope     *float64   `json:"slope"` // posts per minute
	Trend     string     `json:"trend"`
	SlopeEMA  *float64   `json:"slope_ema,omitempty"`
	TrendEMA  string     `json:"trend_ema,omitempty"`
	Degrade   bool       `json:"degrade"`
	FromCache bool       `json:"from_cache"`
	TS        time.Time  `json:"ts"`
}

// CounterSource supplies window counts and the database clock; satisfied by
// the posts repo plus the store manager, faked in tests.
type CounterSource interface {
	CountWindows(ctx context.Context, symbol, tokenCA string, now time.Time, maxRows int, timeout time.Duration) (store.WindowCounts, error)
}

// Clock yields the authoritative now; the DB clock in production.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// HeatConfig carries the tunables for the slope computation.
type HeatConfig struct {
	ThetaRise  float64
	MinSample  int
	NoiseFloor int
	EMAAlpha   float64
	CacheTTL   time.Duration
	MaxRows    int
	Timeout    time.Duration
}

// Computer derives heat from raw post counts. The EMA cache is per-process
// and best-effort; restarts reset it.
type Computer struct {
	cfg     HeatConfig
	source  CounterSource
	clock   Clock
	cache   *kv.Store
	metrics *metrics.Registry

	mu  sync.Mutex
	ema map[string]float64
}

// NewComputer wires the heat computer. cache may be nil (no result caching).
func NewComputer(cfg HeatConfig, source CounterSource, clock Clock, cache *kv.Store, m *metrics.Registry) *Computer {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 800 * time.Millisecond
	}
	return &Computer{cfg: cfg, source: source, clock: clock, cache: cache, metrics: m, ema: make(map[string]float64)}
}

// Compute runs the windowed heat calculation for a symbol or contract. When
// nowTS is nil the database clock is used, so skewed workers agree on the
// windows. A cache hit bypasses the database entirely.
func (c *Computer) Compute(ctx context.Context, token, tokenCA string, nowTS *time.Time) (Heat, error) {
	if token == "" && tokenCA == "" {
		return Heat{}, fmt.Errorf("compute heat: token or token_ca required")
	}
	ident := tokenCA
	if ident == "" {
		ident = token
	}

	now := time.Time{}
	if nowTS != nil {
		now = *nowTS
	} else {
		dbNow, err := c.clock.Now(ctx)
		if err != nil {
			return Heat{}, fmt.Errorf("heat clock: %w", err)
		}
		now = dbNow
	}

	cacheKey := ""
	if c.cache != nil && c.cfg.CacheTTL > 0 {
		bucket := now.Unix() / int64(c.cfg.CacheTTL.Seconds())
		cacheKey = kv.HeatKey(ident, bucket)
		if raw, found, err := c.cache.Get(ctx, cacheKey); err == nil && found {
			var cached Heat
			if json.Unmarshal([]byte(raw), &cached) == nil {
				cached.FromCache = true
				c.metrics.HeatCacheHits.Inc()
				return cached, nil
			}
		}
	}

	counts, err := c.source.CountWindows(ctx, token, tokenCA, now, c.cfg.MaxRows, c.cfg.Timeout)
	if err != nil {
		return Heat{}, fmt.Errorf("heat windows: %w", err)
	}

	result := Heat{
		Token:   token,
		TokenCA: tokenCA,
		Cnt10m:  counts.Cnt10m,
		Cnt30m:  counts.Cnt30m,
		Trend:   TrendFlat,
		TS:      now,
	}

	switch {
	case counts.Cnt10m < c.cfg.NoiseFloor:
		// Below the noise floor: flat and trusted, not degraded.
	case counts.Cnt30m < c.cfg.MinSample:
		result.Degrade = true
	default:
		slope := float64(counts.Cnt10m-counts.CntPrev) / 10.0
		result.Slope = &slope
		result.Trend = c.classify(slope)

		if c.cfg.EMAAlpha > 0 {
			ema := c.foldEMA(ident, slope)
			result.SlopeEMA = &ema
			result.TrendEMA = c.classify(ema)
		}
	}

	c.metrics.HeatComputes.WithLabelValues(result.Trend).Inc()

	if cacheKey != "" {
		if raw, err := json.Marshal(result); err == nil {
			if err := c.cache.Set(ctx, cacheKey, string(raw), c.cfg.CacheTTL); err != nil {
				log.Debug().Err(err).Str("stage", "heat_cache").Msg("heat cache write failed")
			}
		}
	}
	return result, nil
}

func (c *Computer) classify(slope float64) string {
	switch {
	case slope >= c.cfg.ThetaRise:
		return TrendUp
	case slope <= -c.cfg.ThetaRise:
		return TrendDown
	default:
		return TrendFlat
	}
}

func (c *Computer) foldEMA(ident string, slope float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.ema[ident]
	if !ok {
		prev = slope
	}
	ema := c.cfg.EMAAlpha*slope + (1-c.cfg.EMAAlpha)*prev
	c.ema[ident] = ema
	return ema
}
