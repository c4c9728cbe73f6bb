package onchain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() *Rules {
	return &Rules{
		Windows: []int{30, 60, 180},
		Thresholds: map[string]map[string]float64{
			"active_addr_pctl": {"high": 0.95},
			"growth_ratio":     {"fast": 2.0},
			"top10_share":      {"high_risk": 0.70},
			"self_loop_ratio":  {"suspicious": 0.20},
		},
		Verdict: VerdictRules{
			UpgradeIf:   []string{"active_addr_pctl>=high", "growth_ratio>=fast"},
			DowngradeIf: []string{"top10_share>=high_risk", "self_loop_ratio>=suspicious"},
		},
	}
}

func TestEvaluate_DowngradeDominatesUpgrade(t *testing.T) {
	f := Feature{
		ActiveAddrPctl: 0.96,
		GrowthRatio:    2.5,
		Top10Share:     0.75,
		SelfLoopRatio:  0.25,
		WindowMin:      60,
	}

	v := Evaluate(f, testRules())
	assert.Equal(t, DecisionDowngrade, v.Decision)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.Len(t, v.HitRules, 2)
}

func TestEvaluate_Upgrade(t *testing.T) {
	f := Feature{
		ActiveAddrPctl: 0.97,
		GrowthRatio:    3.0,
		Top10Share:     0.40,
		SelfLoopRatio:  0.05,
		WindowMin:      60,
	}

	v := Evaluate(f, testRules())
	assert.Equal(t, DecisionUpgrade, v.Decision)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
}

func TestEvaluate_HoldWhenNeitherSideFullyFires(t *testing.T) {
	f := Feature{
		ActiveAddrPctl: 0.97, // upgrade cond 1 holds
		GrowthRatio:    1.0,  // upgrade cond 2 fails
		Top10Share:     0.75, // downgrade cond 1 holds
		SelfLoopRatio:  0.05, // downgrade cond 2 fails
		WindowMin:      60,
	}

	v := Evaluate(f, testRules())
	assert.Equal(t, DecisionHold, v.Decision)
	assert.InDelta(t, 0.5, v.Confidence, 1e-9)
}

func TestEvaluate_UnsupportedWindow(t *testing.T) {
	v := Evaluate(Feature{WindowMin: 45}, testRules())
	assert.Equal(t, DecisionInsufficient, v.Decision)
	assert.True(t, strings.HasPrefix(v.Note, ReasonWindowUnsupported))
}

func TestEvaluate_FeatureOutOfRange(t *testing.T) {
	v := Evaluate(Feature{ActiveAddrPctl: 1.5, WindowMin: 60}, testRules())
	assert.Equal(t, DecisionInsufficient, v.Decision)
	assert.True(t, strings.HasPrefix(v.Note, ReasonFeatureOutOfRange))
}

func TestEvaluate_MissingThresholdLabel(t *testing.T) {
	rules := testRules()
	rules.Verdict.DowngradeIf = []string{"top10_share>=nonexistent"}

	v := Evaluate(Feature{WindowMin: 60}, rules)
	assert.Equal(t, DecisionInsufficient, v.Decision)
	assert.True(t, strings.HasPrefix(v.Note, ReasonThresholdLabelMissing))
}

func TestEvaluate_RuleParseError(t *testing.T) {
	rules := testRules()
	rules.Verdict.DowngradeIf = []string{"top10_share>high_risk"}

	v := Evaluate(Feature{WindowMin: 60}, rules)
	assert.Equal(t, DecisionInsufficient, v.Decision)
	assert.True(t, strings.HasPrefix(v.Note, ReasonRuleParseError))
}

func TestEvaluate_UnknownField(t *testing.T) {
	rules := testRules()
	rules.Verdict.UpgradeIf = []string{"mystery_field>=high"}
	rules.Verdict.DowngradeIf = nil

	v := Evaluate(Feature{WindowMin: 60}, rules)
	assert.Equal(t, DecisionInsufficient, v.Decision)
}

func TestEvaluate_Pure(t *testing.T) {
	f := Feature{ActiveAddrPctl: 0.96, GrowthRatio: 2.5, Top10Share: 0.75, SelfLoopRatio: 0.25, WindowMin: 60}
	rules := testRules()
	v1 := Evaluate(f, rules)
	v2 := Evaluate(f, rules)
	assert.Equal(t, v1, v2)
}

func TestParseRules_RejectsDrift(t *testing.T) {
	_, err := ParseRules([]byte(`
windows: [60]
thresholds:
  top10_share: {high_risk: 0.7}
verdict:
  downgrade_if: ["top10_share>=high_risk"]
surprise_section:
  foo: bar
`))
	assert.Error(t, err, "unknown top-level field is structure drift")
}

func TestParseRules_Valid(t *testing.T) {
	rules, err := ParseRules([]byte(`
windows: [30, 60, 180]
thresholds:
  active_addr_pctl: {high: 0.95}
  growth_ratio: {fast: 2.0}
  top10_share: {high_risk: 0.70}
  self_loop_ratio: {suspicious: 0.20}
verdict:
  upgrade_if: ["active_addr_pctl>=high", "growth_ratio>=fast"]
  downgrade_if: ["top10_share>=high_risk", "self_loop_ratio>=suspicious"]
`))
	require.NoError(t, err)
	assert.Equal(t, []int{30, 60, 180}, rules.Windows)
}

func TestParseRules_RejectsEmptyWindows(t *testing.T) {
	_, err := ParseRules([]byte(`
windows: []
thresholds:
  top10_share: {high_risk: 0.7}
verdict:
  downgrade_if: ["top10_share>=high_risk"]
`))
	assert.Error(t, err)
}
