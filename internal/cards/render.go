package cards

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/rs/zerolog/log"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer produces the two rendered surfaces for a card. Telegram output
// goes through text/template because Telegram markdown must not be HTML
// escaped; the web surface goes through html/template so injection through
// user-supplied symbols or notes is impossible.
type Renderer struct {
	tg *texttemplate.Template
	ui *htmltemplate.Template
}

// NewRenderer parses the embedded template set. Parse failures are
// programmer errors and surface at construction.
func NewRenderer() (*Renderer, error) {
	tg, err := texttemplate.ParseFS(templateFS, "templates/*.tg.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse tg templates: %w", err)
	}
	ui, err := htmltemplate.ParseFS(templateFS, "templates/*.ui.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse ui templates: %w", err)
	}
	return &Renderer{tg: tg, ui: ui}, nil
}

// Render fills both surfaces for a payload. A missing or failing template
// never drops the card: the affected surface falls back to a minimal text
// line and the payload is marked degraded.
func (r *Renderer) Render(p RenderPayload) (Rendered, bool) {
	degraded := false
	out := Rendered{}

	tgName := p.TemplateName + ".tg.tmpl"
	var buf bytes.Buffer
	if t := r.tg.Lookup(tgName); t == nil {
		degraded = true
		out.TG = fallbackText(p)
		log.Warn().Str("template", tgName).Str("event_key", p.Meta.EventKey).
			Msg("tg template missing; using fallback")
	} else if err := t.Execute(&buf, p.Context); err != nil {
		degraded = true
		out.TG = fallbackText(p)
		log.Warn().Err(err).Str("template", tgName).Str("event_key", p.Meta.EventKey).
			Msg("tg template render failed; using fallback")
	} else {
		out.TG = buf.String()
	}

	uiName := p.TemplateName + ".ui.tmpl"
	buf.Reset()
	if t := r.ui.Lookup(uiName); t == nil {
		degraded = true
		out.UI = fallbackText(p)
		log.Warn().Str("template", uiName).Str("event_key", p.Meta.EventKey).
			Msg("ui template missing; using fallback")
	} else if err := t.Execute(&buf, p.Context); err != nil {
		degraded = true
		out.UI = fallbackText(p)
		log.Warn().Err(err).Str("template", uiName).Str("event_key", p.Meta.EventKey).
			Msg("ui template render failed; using fallback")
	} else {
		out.UI = buf.String()
	}

	return out, degraded
}

func fallbackText(p RenderPayload) string {
	symbol, _ := p.Context["symbol"].(string)
	risk, _ := p.Context["risk_level"].(string)
	note, _ := p.Context["risk_note"].(string)
	verify, _ := p.Context["verify_path"].(string)
	return fmt.Sprintf("%s [%s] %s (verify: %s)", symbol, risk, note, verify)
}
