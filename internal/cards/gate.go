package cards

import (
	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/goplus"
)

// ApplyPrimaryGate folds a security assessment into a primary card before
// render. The gate only ever tightens: forbid_green downgrades green to
// gray and marks the card degraded so consumers know the verdict is a
// data-coverage artifact, not a clean bill.
func ApplyPrimaryGate(c *Card, a goplus.Assessment) {
	if c.RiskLevel == "" {
		c.RiskLevel = a.RiskLevel
	}
	if a.RiskLevel != "" && riskRank(a.RiskLevel) < riskRank(c.RiskLevel) {
		c.RiskLevel = a.RiskLevel
	}
	c.RiskSource = "goplus"
	if len(a.RulesFired) > 0 {
		c.RulesFired = mergeRules(c.RulesFired, a.RulesFired)
	}
	if c.RiskNote == "" && a.Note != "" {
		c.RiskNote = a.Note
	}

	if a.ForbidGreen && c.RiskLevel == RiskGreen {
		c.RiskLevel = RiskGray
		c.States.Degrade = true
		if c.States.Reason == "" {
			c.States.Reason = "security_data_incomplete"
		}
		if a.Note != "" {
			c.RiskNote = a.Note
		}
		log.Debug().Str("event_key", c.EventKey).
			Msg("primary gate downgraded green to gray")
	}
}

// riskRank orders levels worst first so the gate can take the stricter of
// two verdicts.
func riskRank(level string) int {
	switch level {
	case RiskRed:
		return 0
	case RiskYellow:
		return 1
	case RiskGray:
		return 2
	case RiskGreen:
		return 3
	default:
		return 4
	}
}

func mergeRules(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, r := range existing {
		seen[r] = true
	}
	for _, r := range incoming {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
