package onchain

import (
	"fmt"
	"strings"
	"time"
)

// Feature is the typed input to the rules engine.
type Feature struct {
	ActiveAddrPctl float64   `json:"active_addr_pctl"` // [0,1]
	GrowthRatio    float64   `json:"growth_ratio"`     // >= 0
	Top10Share     float64   `json:"top10_share"`      // [0,1]
	SelfLoopRatio  float64   `json:"self_loop_ratio"`  // [0,1]
	AsOfTS         time.Time `json:"asof_ts"`
	WindowMin      int       `json:"window_min"`
}

// Decisions and insufficiency reasons.
const (
	DecisionUpgrade      = "upgrade"
	DecisionDowngrade    = "downgrade"
	DecisionHold         = "hold"
	DecisionInsufficient = "insufficient"

	ReasonWindowUnsupported     = "window_unsupported"
	ReasonFeatureOutOfRange     = "feature_out_of_range"
	ReasonThresholdLabelMissing = "threshold_label_missing"
	ReasonRuleParseError        = "rule_parse_error"
)

// Verdict is the rules-engine output.
type Verdict struct {
	Decision   string   `json:"decision"`
	Confidence float64  `json:"confidence"`
	Note       string   `json:"note,omitempty"`
	HitRules   []string `json:"hit_rules,omitempty"`
}

type condition struct {
	Field string
	Op    string // ">=" or "<="
	Label string
	Raw   string
}

var knownFields = map[string]bool{
	"active_addr_pctl": true,
	"growth_ratio":     true,
	"top10_share":      true,
	"self_loop_ratio":  true,
}

func parseCondition(raw string) (condition, error) {
	for _, op := range []string{">=", "<="} {
		if idx := strings.Index(raw, op); idx > 0 {
			field := strings.TrimSpace(raw[:idx])
			label := strings.TrimSpace(raw[idx+len(op):])
			if field == "" || label == "" {
				break
			}
			return condition{Field: field, Op: op, Label: label, Raw: raw}, nil
		}
	}
	return condition{}, fmt.Errorf("rules: cannot parse condition %q", raw)
}

// Evaluate applies the snapshot conservatively: any structural doubt yields
// insufficient rather than a guess. When both sides would fire, downgrade
// wins. A pure function; two calls with equal inputs agree.
func Evaluate(f Feature, rules *Rules) Verdict {
	if rules == nil {
		return insufficient(ReasonRuleParseError, "no rules snapshot")
	}

	windowOK := false
	for _, w := range rules.Windows {
		if f.WindowMin == w {
			windowOK = true
			break
		}
	}
	if !windowOK {
		return insufficient(ReasonWindowUnsupported, fmt.Sprintf("window %d not in %v", f.WindowMin, rules.Windows))
	}

	if f.ActiveAddrPctl < 0 || f.ActiveAddrPctl > 1 ||
		f.Top10Share < 0 || f.Top10Share > 1 ||
		f.SelfLoopRatio < 0 || f.SelfLoopRatio > 1 ||
		f.GrowthRatio < 0 {
		return insufficient(ReasonFeatureOutOfRange, "feature outside its documented range")
	}

	downgradeHits, verdict := evalSide(f, rules, rules.Verdict.DowngradeIf)
	if verdict != nil {
		return *verdict
	}
	if len(rules.Verdict.DowngradeIf) > 0 && len(downgradeHits) == len(rules.Verdict.DowngradeIf) {
		return fired(DecisionDowngrade, downgradeHits)
	}

	upgradeHits, verdict := evalSide(f, rules, rules.Verdict.UpgradeIf)
	if verdict != nil {
		return *verdict
	}
	if len(rules.Verdict.UpgradeIf) > 0 && len(upgradeHits) == len(rules.Verdict.UpgradeIf) {
		return fired(DecisionUpgrade, upgradeHits)
	}

	return Verdict{Decision: DecisionHold, Confidence: 0.5}
}

// evalSide evaluates one condition list; a non-nil verdict short-circuits
// with an insufficiency.
func evalSide(f Feature, rules *Rules, conds []string) ([]string, *Verdict) {
	hits := make([]string, 0, len(conds))
	for _, raw := range conds {
		cond, err := parseCondition(raw)
		if err != nil {
			v := insufficient(ReasonRuleParseError, err.Error())
			return nil, &v
		}
		if !knownFields[cond.Field] {
			v := insufficient(ReasonRuleParseError, fmt.Sprintf("unknown field %q", cond.Field))
			return nil, &v
		}
		labels, ok := rules.Thresholds[cond.Field]
		if !ok {
			v := insufficient(ReasonThresholdLabelMissing, fmt.Sprintf("no thresholds for %q", cond.Field))
			return nil, &v
		}
		threshold, ok := labels[cond.Label]
		if !ok {
			v := insufficient(ReasonThresholdLabelMissing, fmt.Sprintf("label %q missing for %q", cond.Label, cond.Field))
			return nil, &v
		}

		value := fieldValue(f, cond.Field)
		holds := (cond.Op == ">=" && value >= threshold) || (cond.Op == "<=" && value <= threshold)
		if holds {
			hits = append(hits, cond.Raw)
		}
	}
	return hits, nil
}

func fieldValue(f Feature, field string) float64 {
	switch field {
	case "active_addr_pctl":
		return f.ActiveAddrPctl
	case "growth_ratio":
		return f.GrowthRatio
	case "top10_share":
		return f.Top10Share
	case "self_loop_ratio":
		return f.SelfLoopRatio
	}
	return 0
}

// fired builds a verdict for a fully-satisfied side. hit_fraction is 1.0 by
// construction (all required conditions held), so confidence lands at 1.0.
func fired(decision string, hits []string) Verdict {
	hitFraction := 1.0
	confidence := 0.6 + 0.4*hitFraction
	if confidence > 1.0 {
		confidence = 1.0
	}
	return Verdict{Decision: decision, Confidence: confidence, HitRules: hits}
}

func insufficient(reason, note string) Verdict {
	return Verdict{
		Decision:   DecisionInsufficient,
		Confidence: 0,
		Note:       reason + ": " + note,
	}
}
