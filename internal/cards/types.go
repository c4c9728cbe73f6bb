package cards

import (
	"fmt"
	"strings"
	"time"
)

// The closed card type set. Anything else is an UnknownTypeError.
const (
	TypePrimary    = "primary"
	TypeSecondary  = "secondary"
	TypeTopic      = "topic"
	TypeMarketRisk = "market_risk"
)

// Risk levels shared with the GoPlus evaluator.
const (
	RiskRed    = "red"
	RiskYellow = "yellow"
	RiskGreen  = "green"
	RiskGray   = "gray"
)

// UnknownTypeError is fatal for the call that carried the type; the
// pipeline counts it under cards_unknown_type_count.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown card type %q", e.Type)
}

// NormalizeType trims and lowercases, then checks membership.
func NormalizeType(raw string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch t {
	case TypePrimary, TypeSecondary, TypeTopic, TypeMarketRisk:
		return t, nil
	}
	return "", &UnknownTypeError{Type: raw}
}

// OHLC is one open/high/low/close bar.
type OHLC struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
}

// CardMetrics are the market numbers shown on a card.
type CardMetrics struct {
	PriceUSD     *float64        `json:"price_usd,omitempty"`
	LiquidityUSD *float64        `json:"liquidity_usd,omitempty"`
	FDV          *float64        `json:"fdv,omitempty"`
	OHLC         map[string]OHLC `json:"ohlc,omitempty"` // keys m5, h1, h24
}

// TokenInfo identifies the token on a card.
type TokenInfo struct {
	Symbol string `json:"symbol"`
	CANorm string `json:"ca_norm,omitempty"`
	Chain  string `json:"chain"`
}

// Sources name where the security and market data came from.
type Sources struct {
	SecuritySource string `json:"security_source"`
	DexSource      string `json:"dex_source"`
}

// States carry the degradation flags downstream consumers key on.
type States struct {
	Cache   bool   `json:"cache"`
	Degrade bool   `json:"degrade"`
	Stale   bool   `json:"stale"`
	Reason  string `json:"reason,omitempty"`
}

// Rendered holds the two template outputs when rendering was requested.
type Rendered struct {
	TG string `json:"tg,omitempty"`
	UI string `json:"ui,omitempty"`
}

// Card is the internal card representation the pipeline works on.
type Card struct {
	Type       string      `json:"type"`
	EventKey   string      `json:"event_key,omitempty"`
	RiskLevel  string      `json:"risk_level"`
	RiskSource string      `json:"risk_source,omitempty"`
	State      string      `json:"state,omitempty"`
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
}

// RenderMeta travels with a payload through the pipeline for logging and
// metrics.
type RenderMeta struct {
	Type            string   `json:"type"`
	EventKey        string   `json:"event_key"`
	Degrade         bool     `json:"degrade"`
	TemplateBase    string   `json:"template_base"`
	LatencyMS       int64    `json:"latency_ms,omitempty"`
	DiagnosticFlags []string `json:"diagnostic_flags,omitempty"`
}

// RenderPayload is what a generator hands the renderer.
type RenderPayload struct {
	TemplateName string
	Context      map[string]interface{}
	Meta         RenderMeta
}
