package onchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/tokenpulse/tokenpulse/internal/metrics"
)

// Rules is one immutable on-chain rules snapshot. Readers dereference the
// registry once per evaluation and never see a half-applied reload.
type Rules struct {
	Windows    []int                         `yaml:"windows"`
	Thresholds map[string]map[string]float64 `yaml:"thresholds"`
	Verdict    VerdictRules                  `yaml:"verdict"`
}

// VerdictRules name the conditions for each decision.
type VerdictRules struct {
	UpgradeIf   []string `yaml:"upgrade_if"`
	DowngradeIf []string `yaml:"downgrade_if"`
}

// ValidateStructure rejects snapshots that drifted from the expected shape.
func (r *Rules) ValidateStructure() error {
	if len(r.Windows) == 0 {
		return fmt.Errorf("rules: windows is empty")
	}
	for _, w := range r.Windows {
		if w <= 0 {
			return fmt.Errorf("rules: window %d is not positive", w)
		}
	}
	if len(r.Thresholds) == 0 {
		return fmt.Errorf("rules: thresholds is empty")
	}
	if len(r.Verdict.UpgradeIf) == 0 && len(r.Verdict.DowngradeIf) == 0 {
		return fmt.Errorf("rules: verdict has no conditions")
	}
	for _, cond := range append(append([]string{}, r.Verdict.UpgradeIf...), r.Verdict.DowngradeIf...) {
		if _, err := parseCondition(cond); err != nil {
			return err
		}
	}
	return nil
}

// ParseRules decodes a YAML document strictly; unknown fields are structure
// drift and rejected.
func ParseRules(data []byte) (*Rules, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var rules Rules
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := rules.ValidateStructure(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// Registry hot-reloads the rules file and publishes immutable snapshots.
type Registry struct {
	path    string
	current atomic.Pointer[Rules]
	metrics *metrics.Registry
}

// NewRegistry loads the initial snapshot; a missing or malformed file at
// startup is fatal.
func NewRegistry(path string, m *metrics.Registry) (*Registry, error) {
	r := &Registry{path: path, metrics: m}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry wraps fixed rules; used by tests and the linter.
func NewStaticRegistry(rules *Rules, m *metrics.Registry) *Registry {
	r := &Registry{metrics: m}
	r.current.Store(rules)
	return r
}

// Current returns the live snapshot.
func (r *Registry) Current() *Rules {
	return r.current.Load()
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read rules %s: %w", r.path, err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return err
	}
	r.current.Store(rules)
	return nil
}

// Run reloads periodically until ctx is done. A failed reload keeps the
// previous snapshot and is only logged; readers are never left without
// rules.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if r.path == "" {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.reload(); err != nil {
				r.metrics.RulesReloads.WithLabelValues("rejected").Inc()
				log.Warn().Err(err).Str("path", r.path).Msg("rules reload rejected; keeping previous snapshot")
				continue
			}
			r.metrics.RulesReloads.WithLabelValues("ok").Inc()
			log.Info().Str("path", r.path).Msg("rules snapshot reloaded")
		}
	}
}
