package goplus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/store"
)

// Risk levels, ordered worst to best. Gray means "not enough data to say".
const (
	RiskRed    = "red"
	RiskYellow = "yellow"
	RiskGreen  = "green"
	RiskGray   = "gray"
)

// Assessment is the evaluator's read of an event's security posture.
// ForbidGreen is set when the data is too incomplete to certify a token as
// clean; the card pipeline downgrades green to gray in that case.
type Assessment struct {
	RiskLevel   string   `json:"risk_level"`
	ForbidGreen bool     `json:"forbid_green"`
	RulesFired  []string `json:"rules_fired,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// Security thresholds. Taxes are fractions, not percents.
const (
	taxYellowThreshold = 0.10
	taxRedThreshold    = 0.50
	lpLockMinDays      = 30
)

// Evaluate grades an event from its mirrored GoPlus fields. Missing fields
// never improve the verdict; absence of evidence is not evidence of safety.
func Evaluate(ev *store.Event) Assessment {
	if ev == nil {
		return Assessment{RiskLevel: RiskGray, ForbidGreen: true, Note: "no event data"}
	}

	var fired []string
	complete := ev.Honeypot.Valid && ev.BuyTax.Valid && ev.SellTax.Valid && ev.LPLockDays.Valid

	if ev.Honeypot.Valid && ev.Honeypot.Bool {
		fired = append(fired, "honeypot")
		return Assessment{RiskLevel: RiskRed, RulesFired: fired, Note: "honeypot detected"}
	}
	if ev.BuyTax.Valid && ev.BuyTax.Float64 >= taxRedThreshold {
		fired = append(fired, "buy_tax_extreme")
	}
	if ev.SellTax.Valid && ev.SellTax.Float64 >= taxRedThreshold {
		fired = append(fired, "sell_tax_extreme")
	}
	if len(fired) > 0 {
		return Assessment{RiskLevel: RiskRed, RulesFired: fired, Note: "confiscatory tax"}
	}

	if ev.BuyTax.Valid && ev.BuyTax.Float64 >= taxYellowThreshold {
		fired = append(fired, "buy_tax_high")
	}
	if ev.SellTax.Valid && ev.SellTax.Float64 >= taxYellowThreshold {
		fired = append(fired, "sell_tax_high")
	}
	if ev.LPLockDays.Valid && ev.LPLockDays.Int64 < lpLockMinDays {
		fired = append(fired, "lp_lock_short")
	}
	if len(fired) > 0 {
		return Assessment{RiskLevel: RiskYellow, RulesFired: fired, Note: "elevated token risk"}
	}

	if !complete {
		return Assessment{
			RiskLevel:   RiskGray,
			ForbidGreen: true,
			Note:        "security data incomplete",
		}
	}
	return Assessment{RiskLevel: RiskGreen}
}

// Fetcher retrieves a raw upstream response for (endpoint, chainID, key).
// The HTTP client itself lives outside this package; callers inject it.
type Fetcher func(ctx context.Context, endpoint, chainID, key string) (json.RawMessage, error)

// CachedClient fronts a Fetcher with the content-addressed response cache.
type CachedClient struct {
	cache   *store.GoplusCacheRepo
	fetch   Fetcher
	ttl     time.Duration
}

// NewCachedClient wires the client.
func NewCachedClient(cache *store.GoplusCacheRepo, fetch Fetcher, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedClient{cache: cache, fetch: fetch, ttl: ttl}
}

// Get serves from cache when fresh, fetches otherwise, and falls back to a
// stale cached row when the upstream fails. The bool reports staleness.
func (c *CachedClient) Get(ctx context.Context, endpoint, chainID, key string) (json.RawMessage, bool, error) {
	hash := store.PayloadHash([]byte(endpoint + "|" + chainID + "|" + key))

	if row, err := c.cache.Get(ctx, endpoint, chainID, key, hash, false); err == nil && row != nil {
		return row.RespJSON, false, nil
	}

	resp, err := c.fetch(ctx, endpoint, chainID, key)
	if err != nil {
		stale, cacheErr := c.cache.Get(ctx, endpoint, chainID, key, hash, true)
		if cacheErr == nil && stale != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Str("stage", "goplus_fetch").
				Msg("goplus upstream failed; serving stale cache")
			return stale.RespJSON, true, nil
		}
		return nil, false, fmt.Errorf("goplus fetch %s: %w", endpoint, err)
	}

	if err := c.cache.Put(ctx, endpoint, chainID, key, hash, resp, "ok", c.ttl); err != nil {
		log.Warn().Err(err).Str("stage", "goplus_cache").Msg("goplus cache write failed")
	}
	return resp, false, nil
}
