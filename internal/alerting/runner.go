package alerting

import (
	"context"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Runner scrapes metrics on an interval and walks the rules. A rule must
// stay breached for its full window before it fires; after firing, its
// silence window suppresses repeats. State persists across restarts so a
// crash mid-breach does not reset the debounce clock.
type Runner struct {
	cfg      *Config
	scraper  *Scraper
	notifier *Notifier
	state    *State
	now      func() time.Time
}

func NewRunner(cfg *Config) (*Runner, error) {
	st, err := LoadState(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:      cfg,
		scraper:  NewScraper(cfg.ScrapeURL, time.Duration(cfg.Notify.TimeoutSec)*time.Second),
		notifier: NewNotifier(cfg.Notify),
		state:    st,
		now:      time.Now,
	}, nil
}

// Run evaluates until the context ends.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval())
	defer ticker.Stop()
	for {
		r.cycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	families, err := r.scraper.Scrape(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("scrape failed; skipping cycle")
		return
	}
	for _, rule := range r.cfg.Rules {
		r.evaluate(ctx, rule, families)
	}
	if err := r.state.Save(r.cfg.StatePath); err != nil {
		log.Error().Err(err).Msg("failed to persist alert state")
	}
}

func (r *Runner) evaluate(ctx context.Context, rule Rule, families map[string]*dto.MetricFamily) {
	value, ok := r.ruleValue(rule, families)
	if !ok {
		return
	}

	now := r.now()
	if value <= rule.Threshold {
		delete(r.state.Breaches, rule.Name)
		return
	}

	since, breaching := r.state.Breaches[rule.Name]
	if !breaching {
		r.state.Breaches[rule.Name] = now.Unix()
		log.Debug().Str("rule", rule.Name).Float64("value", value).
			Msg("breach started; debouncing")
		return
	}
	if now.Unix()-since < int64(rule.WindowSec) {
		return
	}
	if until, silenced := r.state.Silenced[rule.Name]; silenced && now.Unix() < until {
		return
	}

	r.state.Silenced[rule.Name] = now.Add(time.Duration(rule.SilenceSec) * time.Second).Unix()
	log.Warn().Str("rule", rule.Name).Float64("value", value).
		Float64("threshold", rule.Threshold).Msg("alert fired")
	r.notifier.Notify(ctx, Alert{
		Rule:      rule.Name,
		Type:      rule.Type,
		Value:     value,
		Threshold: rule.Threshold,
		Since:     time.Unix(since, 0),
		FiredAt:   now,
	})
}

// ruleValue computes the rule's current reading. Counter-based rules work
// on deltas against the previous scrape; the first sighting of a counter
// only seeds last_values.
func (r *Runner) ruleValue(rule Rule, families map[string]*dto.MetricFamily) (float64, bool) {
	switch rule.Type {
	case RuleErrorRate:
		numDelta, numOK := r.counterDelta("num:"+rule.Name, rule.Numerator, families)
		denDelta, denOK := r.counterDelta("den:"+rule.Name, rule.Denominator, families)
		if !numOK || !denOK || denDelta <= 0 {
			return 0, false
		}
		return numDelta / denDelta, true
	case RuleDelta:
		return r.counterDelta("delta:"+rule.Name, rule.Metric, families)
	case RuleP95:
		return histogramP95(families, rule.Metric)
	}
	return 0, false
}

func (r *Runner) counterDelta(stateKey, metric string, families map[string]*dto.MetricFamily) (float64, bool) {
	current, ok := counterSum(families, metric)
	if !ok {
		return 0, false
	}
	prev, seen := r.state.LastValues[stateKey]
	r.state.LastValues[stateKey] = current
	if !seen {
		return 0, false
	}
	delta := current - prev
	if delta < 0 {
		// counter reset
		delta = current
	}
	return delta, true
}
