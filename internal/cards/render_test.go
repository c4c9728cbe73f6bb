package cards

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenpulse/tokenpulse/internal/goplus"
)

func assessmentWith(level string, forbidGreen bool, rules ...string) goplus.Assessment {
	return goplus.Assessment{RiskLevel: level, ForbidGreen: forbidGreen, RulesFired: rules}
}

func TestRendererRendersAllTypes(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	for _, typ := range []string{TypePrimary, TypeSecondary, TypeTopic, TypeMarketRisk} {
		card := testCard()
		card.Type = typ
		gen, err := Route(typ)
		require.NoError(t, err, typ)

		out, degraded := r.Render(gen(card))
		assert.False(t, degraded, typ)
		assert.NotEmpty(t, out.TG, typ)
		assert.NotEmpty(t, out.UI, typ)
		assert.Contains(t, out.TG, card.VerifyPath, typ)
	}
}

func TestRendererMissingTemplateFallsBack(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	p := RenderPayload{
		TemplateName: "no_such_card",
		Context: map[string]interface{}{
			"symbol":      "PEPE",
			"risk_level":  RiskYellow,
			"risk_note":   "elevated buy tax",
			"verify_path": "/verify/abc",
		},
	}
	out, degraded := r.Render(p)
	assert.True(t, degraded)
	assert.Contains(t, out.TG, "PEPE")
	assert.Contains(t, out.TG, "elevated buy tax")
	assert.Contains(t, out.UI, "/verify/abc")
}

func TestRendererUIEscapesHTML(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	card := testCard()
	card.RiskNote = `<script>alert("x")</script>`
	gen, err := Route(TypePrimary)
	require.NoError(t, err)

	out, degraded := r.Render(gen(card))
	assert.False(t, degraded)
	assert.NotContains(t, out.UI, "<script>")
	// Telegram output is markdown, not HTML; it passes through untouched.
	assert.Contains(t, out.TG, "<script>")
}

func TestRouteUnknownType(t *testing.T) {
	_, err := Route("billboard")
	var ute *UnknownTypeError
	require.ErrorAs(t, err, &ute)

	_, err = TemplateBase("billboard")
	require.ErrorAs(t, err, &ute)
}

func TestPushcardRoundtrip(t *testing.T) {
	card := testCard()
	card.Rendered = &Rendered{TG: "tg", UI: "ui"}
	card.RulesFired = []string{"lp_drain"}

	back := FromPushcard(ToPushcard(card))
	// state and risk_source do not cross the external schema
	card.State, card.RiskSource = "", ""
	assert.Equal(t, card, back)
}

func TestPushcardValidate(t *testing.T) {
	good := ToPushcard(testCard())
	require.NoError(t, good.Validate())

	cases := []struct {
		name   string
		mutate func(*Pushcard)
	}{
		{"bad type", func(p *Pushcard) { p.Type = "billboard" }},
		{"bad risk level", func(p *Pushcard) { p.RiskLevel = "purple" }},
		{"no symbol", func(p *Pushcard) { p.TokenInfo.Symbol = "" }},
		{"no chain", func(p *Pushcard) { p.TokenInfo.Chain = "" }},
		{"no security source", func(p *Pushcard) { p.Sources.SecuritySource = "" }},
		{"no risk note", func(p *Pushcard) { p.RiskNote = "" }},
		{"no verify path", func(p *Pushcard) { p.VerifyPath = "" }},
		{"zero data_as_of", func(p *Pushcard) { p.DataAsOf = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ToPushcard(testCard())
			tc.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestGateTakesStricterVerdict(t *testing.T) {
	card := testCard()
	card.RiskLevel = RiskGreen
	ApplyPrimaryGate(&card, assessmentWith(RiskRed, false, "honeypot"))
	assert.Equal(t, RiskRed, card.RiskLevel)
	assert.Equal(t, "goplus", card.RiskSource)
	assert.Contains(t, card.RulesFired, "honeypot")

	// The gate never loosens an existing verdict.
	card = testCard()
	card.RiskLevel = RiskRed
	ApplyPrimaryGate(&card, assessmentWith(RiskGreen, false))
	assert.Equal(t, RiskRed, card.RiskLevel)
}

func TestGateMergesRulesWithoutDuplicates(t *testing.T) {
	card := testCard()
	card.RulesFired = []string{"lp_drain", "honeypot"}
	ApplyPrimaryGate(&card, assessmentWith(RiskRed, false, "honeypot", "buy_tax_extreme"))
	assert.Equal(t, []string{"lp_drain", "honeypot", "buy_tax_extreme"}, card.RulesFired)
}

func TestFallbackTextShape(t *testing.T) {
	p := RenderPayload{Context: map[string]interface{}{
		"symbol": "WIF", "risk_level": "red", "risk_note": "rug", "verify_path": "/v/1",
	}}
	got := fallbackText(p)
	assert.True(t, strings.HasPrefix(got, "WIF [red]"), got)
}
