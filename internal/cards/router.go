package cards

// Generator builds the template context for one card type.
type Generator func(Card) RenderPayload

// routes maps each card type to its generator and template base. The two
// tables stay separate so template bases can be checked without running a
// generator.
var routes = map[string]Generator{
	TypePrimary:    generatePrimary,
	TypeSecondary:  generateSecondary,
	TypeTopic:      generateTopic,
	TypeMarketRisk: generateMarketRisk,
}

var templateBases = map[string]string{
	TypePrimary:    "primary_card",
	TypeSecondary:  "secondary_card",
	TypeTopic:      "topic_card",
	TypeMarketRisk: "market_risk_card",
}

// Route resolves a normalized card type to its generator.
func Route(cardType string) (Generator, error) {
	gen, ok := routes[cardType]
	if !ok {
		return nil, &UnknownTypeError{Type: cardType}
	}
	return gen, nil
}

// TemplateBase resolves a normalized card type to its template pair base.
func TemplateBase(cardType string) (string, error) {
	base, ok := templateBases[cardType]
	if !ok {
		return "", &UnknownTypeError{Type: cardType}
	}
	return base, nil
}

func baseContext(c Card) map[string]interface{} {
	ctx := map[string]interface{}{
		"symbol":      c.TokenInfo.Symbol,
		"chain":       c.TokenInfo.Chain,
		"ca":          c.TokenInfo.CANorm,
		"risk_level":  c.RiskLevel,
		"risk_note":   c.RiskNote,
		"verify_path": c.VerifyPath,
		"degrade":     c.States.Degrade,
	}
	if c.Metrics.PriceUSD != nil {
		ctx["price_usd"] = *c.Metrics.PriceUSD
	}
	if c.Metrics.LiquidityUSD != nil {
		ctx["liquidity_usd"] = *c.Metrics.LiquidityUSD
	}
	if len(c.RulesFired) > 0 {
		ctx["rules_fired"] = c.RulesFired
	}
	return ctx
}

func payload(c Card, base string, ctx map[string]interface{}) RenderPayload {
	return RenderPayload{
		TemplateName: base,
		Context:      ctx,
		Meta: RenderMeta{
			Type:         c.Type,
			EventKey:     c.EventKey,
			Degrade:      c.States.Degrade,
			TemplateBase: base,
		},
	}
}

func generatePrimary(c Card) RenderPayload {
	return payload(c, templateBases[TypePrimary], baseContext(c))
}

func generateSecondary(c Card) RenderPayload {
	ctx := baseContext(c)
	if c.State != "" {
		ctx["heat_trend"] = c.State
	}
	return payload(c, templateBases[TypeSecondary], ctx)
}

func generateTopic(c Card) RenderPayload {
	ctx := baseContext(c)
	ctx["topic"] = c.TokenInfo.Symbol
	if len(c.Evidence) > 0 {
		ctx["entities"] = c.Evidence
	}
	return payload(c, templateBases[TypeTopic], ctx)
}

func generateMarketRisk(c Card) RenderPayload {
	return payload(c, templateBases[TypeMarketRisk], baseContext(c))
}
