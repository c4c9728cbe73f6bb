package cards

import (
	"fmt"
	"time"
)

// Pushcard is the external JSON contract handed to delivery channels. It
// mirrors Card field for field; the two exist so the internal shape can
// move without breaking consumers.
type Pushcard struct {
	Type       string      `json:"type"`
	RiskLevel  string      `json:"risk_level"`
	TokenInfo  TokenInfo   `json:"token_info"`
	Metrics    CardMetrics `json:"metrics"`
	Sources    Sources     `json:"sources"`
	States     States      `json:"states"`
	Evidence   []string    `json:"evidence,omitempty"`
	RiskNote   string      `json:"risk_note"`
	VerifyPath string      `json:"verify_path"`
	DataAsOf   time.Time   `json:"data_as_of"`
	RulesFired []string    `json:"rules_fired,omitempty"`
	LegalNote  string      `json:"legal_note,omitempty"`
	Rendered   *Rendered   `json:"rendered,omitempty"`
	EventKey   string      `json:"event_key,omitempty"`

	// StateVersion lets the delivery worker advance the dedup marker only
	// after a successful dispatch.
	StateVersion string `json:"state_version,omitempty"`
}

// ToPushcard maps the internal card onto the external schema.
func ToPushcard(c Card) Pushcard {
	return Pushcard{
		Type:       c.Type,
		RiskLevel:  c.RiskLevel,
		TokenInfo:  c.TokenInfo,
		Metrics:    c.Metrics,
		Sources:    c.Sources,
		States:     c.States,
		Evidence:   c.Evidence,
		RiskNote:   c.RiskNote,
		VerifyPath: c.VerifyPath,
		DataAsOf:   c.DataAsOf,
		RulesFired: c.RulesFired,
		LegalNote:  c.LegalNote,
		Rendered:   c.Rendered,
		EventKey:   c.EventKey,
	}
}

// FromPushcard maps an external card back to the internal shape. Fields the
// external schema does not carry (state, risk_source) are left zero.
func FromPushcard(p Pushcard) Card {
	return Card{
		Type:       p.Type,
		EventKey:   p.EventKey,
		RiskLevel:  p.RiskLevel,
		TokenInfo:  p.TokenInfo,
		Metrics:    p.Metrics,
		Sources:    p.Sources,
		States:     p.States,
		Evidence:   p.Evidence,
		RiskNote:   p.RiskNote,
		VerifyPath: p.VerifyPath,
		DataAsOf:   p.DataAsOf,
		RulesFired: p.RulesFired,
		LegalNote:  p.LegalNote,
		Rendered:   p.Rendered,
	}
}

var validRiskLevels = map[string]bool{
	RiskRed: true, RiskYellow: true, RiskGreen: true, RiskGray: true,
}

// Validate checks the required fields of the external schema. Callers treat
// a failure as Degraded, not fatal: the card still ships, flagged.
func (p Pushcard) Validate() error {
	if _, err := NormalizeType(p.Type); err != nil {
		return err
	}
	if !validRiskLevels[p.RiskLevel] {
		return fmt.Errorf("pushcard: invalid risk_level %q", p.RiskLevel)
	}
	if p.TokenInfo.Symbol == "" {
		return fmt.Errorf("pushcard: token_info.symbol is required")
	}
	if p.TokenInfo.Chain == "" {
		return fmt.Errorf("pushcard: token_info.chain is required")
	}
	if p.Sources.SecuritySource == "" || p.Sources.DexSource == "" {
		return fmt.Errorf("pushcard: sources must name security and dex origins")
	}
	if p.RiskNote == "" {
		return fmt.Errorf("pushcard: risk_note is required")
	}
	if p.VerifyPath == "" {
		return fmt.Errorf("pushcard: verify_path is required")
	}
	if p.DataAsOf.IsZero() {
		return fmt.Errorf("pushcard: data_as_of is required")
	}
	return nil
}
