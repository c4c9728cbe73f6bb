package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenpulse/tokenpulse/internal/metrics"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

type fakeCounts struct {
	counts store.WindowCounts
	calls  int
}

func (f *fakeCounts) CountWindows(_ context.Context, _, _ string, _ time.Time, _ int, _ time.Duration) (store.WindowCounts, error) {
	f.calls++
	return f.counts, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now(context.Context) (time.Time, error) { return c.t, nil }

func newComputer(t *testing.T, cfg HeatConfig, counts store.WindowCounts) (*Computer, *fakeCounts) {
	t.Helper()
	src := &fakeCounts{counts: counts}
	clock := fixedClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewComputer(cfg, src, clock, nil, metrics.NewRegistry()), src
}

func baseConfig() HeatConfig {
	return HeatConfig{ThetaRise: 0.5, MinSample: 5, NoiseFloor: 3}
}

func TestCompute_BelowNoiseFloor(t *testing.T) {
	c, _ := newComputer(t, baseConfig(), store.WindowCounts{})

	heat, err := c.Compute(context.Background(), "PEPE", "", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, heat.Cnt10m)
	assert.Equal(t, 0, heat.Cnt30m)
	assert.Nil(t, heat.Slope)
	assert.Equal(t, TrendFlat, heat.Trend)
	assert.False(t, heat.Degrade, "below noise floor is flat, not degraded")
}

func TestCompute_ThinSampleDegrades(t *testing.T) {
	c, _ := newComputer(t, baseConfig(), store.WindowCounts{Cnt10m: 4, Cnt30m: 4})

	heat, err := c.Compute(context.Background(), "PEPE", "", nil)
	require.NoError(t, err)

	assert.True(t, heat.Degrade)
	assert.Nil(t, heat.Slope)
	assert.Equal(t, TrendFlat, heat.Trend)
}

func TestCompute_SlopeAndTrend(t *testing.T) {
	tests := []struct {
		name      string
		counts    store.WindowCounts
		wantSlope float64
		wantTrend string
	}{
		{"rising", store.WindowCounts{Cnt10m: 12, Cnt30m: 20, CntPrev: 4}, 0.8, TrendUp},
		{"falling", store.WindowCounts{Cnt10m: 4, Cnt30m: 30, CntPrev: 12}, -0.8, TrendDown},
		{"steady", store.WindowCounts{Cnt10m: 6, Cnt30m: 15, CntPrev: 5}, 0.1, TrendFlat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newComputer(t, baseConfig(), tt.counts)
			heat, err := c.Compute(context.Background(), "", "0xabc", nil)
			require.NoError(t, err)
			require.NotNil(t, heat.Slope)
			assert.InDelta(t, tt.wantSlope, *heat.Slope, 1e-9)
			assert.Equal(t, tt.wantTrend, heat.Trend)
			assert.False(t, heat.Degrade)
		})
	}
}

func TestCompute_EMASmoothing(t *testing.T) {
	cfg := baseConfig()
	cfg.EMAAlpha = 0.5
	src := &fakeCounts{counts: store.WindowCounts{Cnt10m: 12, Cnt30m: 20, CntPrev: 4}}
	clock := fixedClock{t: time.Unix(1735732800, 0)}
	c := NewComputer(cfg, src, clock, nil, metrics.NewRegistry())

	first, err := c.Compute(context.Background(), "PEPE", "", nil)
	require.NoError(t, err)
	require.NotNil(t, first.SlopeEMA)
	// Seed observation: EMA equals the raw slope.
	assert.InDelta(t, 0.8, *first.SlopeEMA, 1e-9)

	src.counts = store.WindowCounts{Cnt10m: 4, Cnt30m: 30, CntPrev: 12}
	second, err := c.Compute(context.Background(), "PEPE", "", nil)
	require.NoError(t, err)
	require.NotNil(t, second.SlopeEMA)
	// 0.5*(-0.8) + 0.5*0.8 = 0
	assert.InDelta(t, 0.0, *second.SlopeEMA, 1e-9)
	assert.Equal(t, TrendFlat, second.TrendEMA)
	assert.Equal(t, TrendDown, second.Trend)
}

func TestCompute_RequiresIdentifier(t *testing.T) {
	c, _ := newComputer(t, baseConfig(), store.WindowCounts{})
	_, err := c.Compute(context.Background(), "", "", nil)
	assert.Error(t, err)
}

func TestCompute_ExplicitNowSkipsClock(t *testing.T) {
	cfg := baseConfig()
	src := &fakeCounts{counts: store.WindowCounts{Cnt10m: 10, Cnt30m: 20, CntPrev: 5}}
	c := NewComputer(cfg, src, nil, nil, metrics.NewRegistry())

	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	heat, err := c.Compute(context.Background(), "PEPE", "", &now)
	require.NoError(t, err)
	assert.Equal(t, now, heat.TS)
	assert.Equal(t, 1, src.calls)
}

type fakeResolver struct{ key string }

func (f fakeResolver) ResolveEventKey(context.Context, string, string, bool) (string, error) {
	return f.key, nil
}

type fakeWriter struct {
	reason string
	writes int
	slopes int
}

func (f *fakeWriter) MergeFeature(context.Context, string, string, interface{}, time.Duration) (string, error) {
	f.writes++
	return f.reason, nil
}

func (f *fakeWriter) SetHeatSlope(context.Context, string, float64) error {
	f.slopes++
	return nil
}

func TestPersist_Disabled(t *testing.T) {
	p := NewPersister(PersistConfig{Enabled: false}, fakeResolver{key: "e1"}, &fakeWriter{reason: store.MergeOK}, metrics.NewRegistry())
	ok, reason, err := p.Persist(context.Background(), Heat{TokenCA: "0xabc"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "disabled", reason)
}

func TestPersist_RowNotFoundRefusesCreate(t *testing.T) {
	w := &fakeWriter{reason: store.MergeRowNotFound}
	p := NewPersister(PersistConfig{Enabled: true}, fakeResolver{key: "e1"}, w, metrics.NewRegistry())

	ok, reason, err := p.Persist(context.Background(), Heat{TokenCA: "0xabc"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, store.MergeRowNotFound, reason)
}

func TestPersist_LockConflictReturnsReason(t *testing.T) {
	w := &fakeWriter{reason: store.MergeLockConflict}
	p := NewPersister(PersistConfig{Enabled: true}, fakeResolver{key: "e1"}, w, metrics.NewRegistry())

	ok, reason, err := p.Persist(context.Background(), Heat{TokenCA: "0xabc"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, store.MergeLockConflict, reason)
}

func TestPersist_OKMirrorsSlope(t *testing.T) {
	w := &fakeWriter{reason: store.MergeOK}
	p := NewPersister(PersistConfig{Enabled: true}, fakeResolver{key: "e1"}, w, metrics.NewRegistry())

	slope := 0.8
	ok, _, err := p.Persist(context.Background(), Heat{TokenCA: "0xabc", Slope: &slope})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, w.writes)
	assert.Equal(t, 1, w.slopes)
}

func TestPersist_NoEventFound(t *testing.T) {
	p := NewPersister(PersistConfig{Enabled: true}, fakeResolver{}, &fakeWriter{}, metrics.NewRegistry())
	ok, reason, err := p.Persist(context.Background(), Heat{TokenCA: "0xabc"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "event_not_found", reason)
}
