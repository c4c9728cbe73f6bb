package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tokenpulse/tokenpulse/internal/cards"
	"github.com/tokenpulse/tokenpulse/internal/goplus"
	"github.com/tokenpulse/tokenpulse/internal/kv"
	"github.com/tokenpulse/tokenpulse/internal/onchain"
	"github.com/tokenpulse/tokenpulse/internal/signals"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

var (
	eventKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
	addressPattern  = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// Pinger is the readiness contract for a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SignalReader loads signal rows; satisfied by store.SignalsRepo.
type SignalReader interface {
	Get(ctx context.Context, eventKey string) (*store.Signal, error)
}

// EventReader loads canonical events; satisfied by store.EventsRepo.
type EventReader interface {
	Get(ctx context.Context, eventKey string) (*store.Event, error)
}

// FeatureReader serves on-chain feature vectors; satisfied by
// store.OnchainRepo.
type FeatureReader interface {
	Latest(ctx context.Context, chain, address string) ([]store.OnchainFeatureRow, error)
	LatestByAddress(ctx context.Context, address string) ([]store.OnchainFeatureRow, error)
	Freshness(ctx context.Context, chain string) (time.Time, error)
}

// HeatSource computes windowed heat; satisfied by signals.Computer.
type HeatSource interface {
	Compute(ctx context.Context, token, tokenCA string, nowTS *time.Time) (signals.Heat, error)
}

// HeatPersister merges heat into the signal row; satisfied by
// signals.Persister.
type HeatPersister interface {
	Persist(ctx context.Context, heat signals.Heat) (bool, string, error)
}

// QueryRunner executes named warehouse templates; satisfied by
// onchain.BQRunner. Nil when the backend is not configured.
type QueryRunner interface {
	Run(ctx context.Context, tmpl onchain.QueryTemplate, params onchain.QueryParams) (*onchain.QueryResult, error)
}

// Cache is the subset of the KV store the handlers use.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// HandlersConfig carries the endpoint tunables.
type HandlersConfig struct {
	ExpertView       bool
	ExpertKey        string
	ExpertRatePerMin int
	ExpertCacheTTL   time.Duration
	FreshnessSLO     time.Duration
	SignalCacheTTL   time.Duration
	PreviewTimeout   time.Duration
}

// DefaultHandlersConfig matches the documented defaults.
func DefaultHandlersConfig() HandlersConfig {
	return HandlersConfig{
		ExpertRatePerMin: 30,
		ExpertCacheTTL:   5 * time.Minute,
		FreshnessSLO:     30 * time.Minute,
		SignalCacheTTL:   120 * time.Second,
		PreviewTimeout:   1500 * time.Millisecond,
	}
}

// Handlers implements the read API. Every dependency is an interface so
// tests can run against fakes without a database.
type Handlers struct {
	cfg      HandlersConfig
	db       Pinger
	kvPing   Pinger
	cache    Cache
	signals  SignalReader
	events   EventReader
	features FeatureReader
	heat     HeatSource
	persist  HeatPersister
	runner   QueryRunner
	rules    *onchain.Registry
	renderer *cards.Renderer

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHandlers wires the handler set. runner and persist may be nil when the
// corresponding backend is disabled.
func NewHandlers(cfg HandlersConfig, db, kvPing Pinger, cache Cache,
	sig SignalReader, ev EventReader, feat FeatureReader,
	heat HeatSource, persist HeatPersister, runner QueryRunner,
	rules *onchain.Registry, renderer *cards.Renderer) *Handlers {
	if cfg.SignalCacheTTL <= 0 {
		cfg.SignalCacheTTL = 120 * time.Second
	}
	if cfg.ExpertRatePerMin <= 0 {
		cfg.ExpertRatePerMin = 30
	}
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = 1500 * time.Millisecond
	}
	return &Handlers{
		cfg:      cfg,
		db:       db,
		kvPing:   kvPing,
		cache:    cache,
		signals:  sig,
		events:   ev,
		features: feat,
		heat:     heat,
		persist:  persist,
		runner:   runner,
		rules:    rules,
		renderer: renderer,
		limiters: make(map[string]*rate.Limiter),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// Healthz is liveness only; it never touches dependencies.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz checks both stores; either one down means 503.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{"db": "ok", "kv": "ok"}
	ready := true
	if err := h.db.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		ready = false
	}
	if err := h.kvPing.Ping(ctx); err != nil {
		checks["kv"] = err.Error()
		ready = false
	}
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "unready"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

// NotFound keeps unmatched paths on the JSON contract.
func (h *Handlers) NotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not_found", "no such route")
}

type signalResponse struct {
	EventKey string           `json:"event_key"`
	Type     string           `json:"type"`
	State    string           `json:"state"`
	Onchain  json.RawMessage  `json:"onchain,omitempty"`
	Verdict  *onchain.Verdict `json:"verdict,omitempty"`
	Cache    cacheInfo        `json:"cache"`
}

type cacheInfo struct {
	Hit    bool  `json:"hit"`
	TTLSec int64 `json:"ttl_sec"`
}

// SignalByKey serves one signal with a freshly evaluated on-chain verdict.
// Responses are cached in the KV layer; the remaining TTL is reported so
// callers can reason about staleness.
func (h *Handlers) SignalByKey(w http.ResponseWriter, r *http.Request) {
	eventKey := mux.Vars(r)["event_key"]
	if !eventKeyPattern.MatchString(eventKey) {
		writeError(w, http.StatusNotFound, "not_found", "event_key must be 40 hex characters")
		return
	}
	ctx := r.Context()

	cacheKey := kv.SignalKey(eventKey)
	if h.cache != nil {
		if cached, found, err := h.cache.Get(ctx, cacheKey); err == nil && found {
			ttl, _ := h.cache.TTL(ctx, cacheKey)
			var resp signalResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				resp.Cache = cacheInfo{Hit: true, TTLSec: int64(ttl.Seconds())}
				writeJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	sig, err := h.signals.Get(ctx, eventKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "signal lookup failed")
		return
	}
	if sig == nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown event_key")
		return
	}

	resp := signalResponse{
		EventKey: sig.EventKey,
		Type:     sig.Type,
		State:    sig.State,
	}
	if len(sig.FeaturesSnapshot) > 0 {
		var snapshot map[string]json.RawMessage
		if json.Unmarshal(sig.FeaturesSnapshot, &snapshot) == nil {
			resp.Onchain = snapshot["onchain"]
		}
	}
	resp.Verdict = h.evaluateVerdict(ctx, eventKey)

	if h.cache != nil {
		if payload, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(ctx, cacheKey, string(payload), h.cfg.SignalCacheTTL); err != nil {
				log.Warn().Err(err).Str("event_key", eventKey).Msg("signal cache write failed")
			}
		}
	}
	resp.Cache = cacheInfo{Hit: false, TTLSec: int64(h.cfg.SignalCacheTTL.Seconds())}
	writeJSON(w, http.StatusOK, resp)
}

// evaluateVerdict re-runs the rules engine against the freshest feature
// vector. Missing data yields an insufficient verdict rather than none.
func (h *Handlers) evaluateVerdict(ctx context.Context, eventKey string) *onchain.Verdict {
	insufficient := &onchain.Verdict{Decision: onchain.DecisionInsufficient, Note: "no onchain features"}
	if h.events == nil || h.features == nil || h.rules == nil {
		return insufficient
	}
	ev, err := h.events.Get(ctx, eventKey)
	if err != nil || ev == nil || !ev.TokenCA.Valid {
		return insufficient
	}
	rows, err := h.features.LatestByAddress(ctx, ev.TokenCA.String)
	if err != nil || len(rows) == 0 {
		return insufficient
	}
	row := rows[0]
	verdict := onchain.Evaluate(onchain.Feature{
		ActiveAddrPctl: row.AddrActive.Float64,
		GrowthRatio:    row.GrowthRatio.Float64,
		Top10Share:     row.Top10Share.Float64,
		SelfLoopRatio:  row.SelfLoopRatio.Float64,
		AsOfTS:         row.AsOfTS,
		WindowMin:      row.WindowMinutes,
	}, h.rules.Current())
	return &verdict
}

type heatResponse struct {
	signals.Heat
	Persisted     bool   `json:"persisted"`
	PersistReason string `json:"persist_reason,omitempty"`
}

// SignalsHeat computes heat for exactly one of token / token_ca. Persist
// failures degrade the response instead of failing it.
func (h *Handlers) SignalsHeat(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	tokenCA := r.URL.Query().Get("token_ca")
	if (token == "") == (tokenCA == "") {
		writeError(w, http.StatusBadRequest, "invalid_input", "exactly one of token or token_ca is required")
		return
	}

	heat, err := h.heat.Compute(r.Context(), token, tokenCA, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "heat computation failed")
		return
	}

	resp := heatResponse{Heat: heat}
	if h.persist != nil {
		persisted, reason, err := h.persist.Persist(r.Context(), heat)
		if err != nil {
			log.Warn().Err(err).Str("stage", "heat_persist").Msg("persist failed on read path")
			resp.PersistReason = "error"
		} else {
			resp.Persisted = persisted
			resp.PersistReason = reason
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type featureView struct {
	Chain         string    `json:"chain"`
	Address       string    `json:"address"`
	AsOfTS        time.Time `json:"as_of_ts"`
	WindowMinutes int       `json:"window_minutes"`
	AddrActive    *float64  `json:"addr_active,omitempty"`
	TxCount       *float64  `json:"tx_count,omitempty"`
	GrowthRatio   *float64  `json:"growth_ratio,omitempty"`
	Top10Share    *float64  `json:"top10_share,omitempty"`
	SelfLoopRatio *float64  `json:"self_loop_ratio,omitempty"`
	CalcVersion   string    `json:"calc_version"`
}

func viewOf(row store.OnchainFeatureRow) featureView {
	v := featureView{
		Chain:         row.Chain,
		Address:       row.Address,
		AsOfTS:        row.AsOfTS,
		WindowMinutes: row.WindowMinutes,
		CalcVersion:   row.CalcVersion,
	}
	if row.AddrActive.Valid {
		v.AddrActive = &row.AddrActive.Float64
	}
	if row.TxCount.Valid {
		v.TxCount = &row.TxCount.Float64
	}
	if row.GrowthRatio.Valid {
		v.GrowthRatio = &row.GrowthRatio.Float64
	}
	if row.Top10Share.Valid {
		v.Top10Share = &row.Top10Share.Float64
	}
	if row.SelfLoopRatio.Valid {
		v.SelfLoopRatio = &row.SelfLoopRatio.Float64
	}
	return v
}

// OnchainFeatures serves the newest feature vector per window.
func (h *Handlers) OnchainFeatures(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !addressPattern.MatchString(address) {
		writeError(w, http.StatusBadRequest, "invalid_input", "address must match ^0x[a-fA-F0-9]{40}$")
		return
	}
	chain := r.URL.Query().Get("chain")

	var rows []store.OnchainFeatureRow
	var err error
	if chain != "" {
		rows, err = h.features.Latest(r.Context(), chain, address)
	} else {
		rows, err = h.features.LatestByAddress(r.Context(), address)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "feature lookup failed")
		return
	}

	views := make([]featureView, 0, len(rows))
	for _, row := range rows {
		views = append(views, viewOf(row))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  address,
		"chain":    chain,
		"features": views,
	})
}

// OnchainFreshness reports the data lag for a chain against the SLO.
func (h *Handlers) OnchainFreshness(w http.ResponseWriter, r *http.Request) {
	chain := r.URL.Query().Get("chain")
	if chain == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "chain is required")
		return
	}
	asOf, err := h.features.Freshness(r.Context(), chain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "freshness lookup failed")
		return
	}
	lag := time.Since(asOf)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":      chain,
		"data_as_of": asOf,
		"lag_sec":    int64(lag.Seconds()),
		"stale":      lag > h.cfg.FreshnessSLO,
	})
}

// OnchainQuery runs one named warehouse template. Lint failures and bad
// parameters are the caller's fault; warehouse failures degrade to an
// empty result instead of an error.
func (h *Handlers) OnchainQuery(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "warehouse backend not configured")
		return
	}
	q := r.URL.Query()
	tmpl, ok := onchain.Template(q.Get("template"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown template")
		return
	}
	if err := onchain.LintTemplate(tmpl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	address := q.Get("address")
	if !addressPattern.MatchString(address) {
		writeError(w, http.StatusBadRequest, "invalid_input", "address must match ^0x[a-fA-F0-9]{40}$")
		return
	}

	params := onchain.QueryParams{Address: address}
	if v := q.Get("from_ts"); v != "" {
		unix, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "from_ts must be a unix timestamp")
			return
		}
		params.FromTS = time.Unix(unix, 0).UTC()
	}
	if v := q.Get("to_ts"); v != "" {
		unix, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "to_ts must be a unix timestamp")
			return
		}
		params.ToTS = time.Unix(unix, 0).UTC()
	}
	if v := q.Get("window_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "window_minutes must be a positive integer")
			return
		}
		params.WindowMinutes = n
	}
	if v := q.Get("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "top_n must be a positive integer")
			return
		}
		params.TopN = n
	}

	result, err := h.runner.Run(r.Context(), tmpl, params)
	if err != nil {
		log.Warn().Err(err).Str("template", tmpl.Name).Str("stage", "bq_query").Msg("warehouse query degraded")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rows":    []interface{}{},
			"degrade": true,
			"reason":  "warehouse_unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) expertLimiter(key string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[key]
	if !ok {
		perSec := rate.Limit(float64(h.cfg.ExpertRatePerMin) / 60.0)
		lim = rate.NewLimiter(perSec, h.cfg.ExpertRatePerMin)
		h.limiters[key] = lim
	}
	return lim
}

type expertSeries struct {
	H24 []featureView `json:"h24"`
	D7  []featureView `json:"d7"`
}

type expertOverview struct {
	Top10Share  float64 `json:"top10_share"`
	OthersShare float64 `json:"others_share"`
}

type expertResponse struct {
	Series   expertSeries   `json:"series"`
	Overview expertOverview `json:"overview"`
	DataAsOf time.Time      `json:"data_as_of"`
	Stale    bool           `json:"stale"`
	Cache    bool           `json:"cache"`
}

// ExpertOnchain is the gated deep view. The route does not exist while the
// feature is off, so probes cannot distinguish it from any other 404.
func (h *Handlers) ExpertOnchain(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.ExpertView {
		h.NotFound(w, r)
		return
	}
	if h.cfg.ExpertKey == "" || r.Header.Get("X-Expert-Key") != h.cfg.ExpertKey {
		writeError(w, http.StatusForbidden, "forbidden", "bad expert key")
		return
	}

	q := r.URL.Query()
	chain := q.Get("chain")
	address := q.Get("address")
	if chain == "" || !addressPattern.MatchString(address) {
		writeError(w, http.StatusBadRequest, "invalid_input", "chain and a 0x-prefixed address are required")
		return
	}

	if !h.expertLimiter(r.Header.Get("X-Expert-Key")).Allow() {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "expert view rate limit exceeded")
		return
	}
	ctx := r.Context()

	cacheKey := kv.ExpertKey(chain, address)
	if h.cache != nil {
		if cached, found, err := h.cache.Get(ctx, cacheKey); err == nil && found {
			var resp expertResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				resp.Cache = true
				writeJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	rows, err := h.features.Latest(ctx, chain, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "feature lookup failed")
		return
	}

	var resp expertResponse
	for _, row := range rows {
		view := viewOf(row)
		switch {
		case row.WindowMinutes <= 24*60:
			resp.Series.H24 = append(resp.Series.H24, view)
		default:
			resp.Series.D7 = append(resp.Series.D7, view)
		}
		if row.AsOfTS.After(resp.DataAsOf) {
			resp.DataAsOf = row.AsOfTS
		}
		if row.Top10Share.Valid && resp.Overview.Top10Share == 0 {
			resp.Overview.Top10Share = row.Top10Share.Float64
			resp.Overview.OthersShare = 1 - row.Top10Share.Float64
		}
	}
	resp.Stale = resp.DataAsOf.IsZero() || time.Since(resp.DataAsOf) > h.cfg.FreshnessSLO

	if h.cache != nil {
		if payload, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(ctx, cacheKey, string(payload), h.cfg.ExpertCacheTTL); err != nil {
				log.Warn().Err(err).Str("address", address).Msg("expert cache write failed")
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CardPreview builds a card for an event without emitting it. With
// render=1 the templates run under a short deadline; blowing the deadline
// degrades to the plain-text summary instead of failing.
func (h *Handlers) CardPreview(w http.ResponseWriter, r *http.Request) {
	eventKey := r.URL.Query().Get("event_key")
	if !eventKeyPattern.MatchString(eventKey) {
		writeError(w, http.StatusBadRequest, "invalid_input", "event_key must be 40 hex characters")
		return
	}
	ctx := r.Context()

	ev, err := h.events.Get(ctx, eventKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "event lookup failed")
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown event_key")
		return
	}
	sig, err := h.signals.Get(ctx, eventKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "signal lookup failed")
		return
	}

	card := previewCard(ev, sig)
	if card.Type == cards.TypePrimary {
		cards.ApplyPrimaryGate(&card, goplus.Evaluate(ev))
	}

	if r.URL.Query().Get("render") == "1" && h.renderer != nil {
		renderCtx, cancel := context.WithTimeout(ctx, h.cfg.PreviewTimeout)
		h.renderPreview(renderCtx, &card)
		cancel()
	}
	writeJSON(w, http.StatusOK, card)
}

// renderPreview runs the template pair on a worker goroutine so the
// preview deadline is enforced even when template execution stalls.
func (h *Handlers) renderPreview(ctx context.Context, card *cards.Card) {
	type renderOut struct {
		rendered cards.Rendered
		degraded bool
	}
	done := make(chan renderOut, 1)
	go func() {
		gen, err := cards.Route(card.Type)
		if err != nil {
			done <- renderOut{degraded: true}
			return
		}
		rendered, degraded := h.renderer.Render(gen(*card))
		done <- renderOut{rendered: rendered, degraded: degraded}
	}()

	select {
	case out := <-done:
		card.Rendered = &cards.Rendered{TG: out.rendered.TG, UI: out.rendered.UI}
		if out.degraded {
			card.States.Degrade = true
			card.States.Reason = "render_fallback"
		}
	case <-ctx.Done():
		card.States.Degrade = true
		card.States.Reason = "render_timeout"
	}
}

// previewCard maps event and signal rows into the internal card schema.
// The type follows the signal when one exists; a bare event previews as a
// topic card.
func previewCard(ev *store.Event, sig *store.Signal) cards.Card {
	card := cards.Card{
		Type:     cards.TypeTopic,
		EventKey: ev.EventKey,
		TokenInfo: cards.TokenInfo{
			Symbol: ev.Symbol.String,
			CANorm: ev.TokenCA.String,
			Chain:  "unknown",
		},
		Sources:    cards.Sources{SecuritySource: "goplus", DexSource: "dex"},
		RiskLevel:  cards.RiskGray,
		RiskNote:   "preview",
		VerifyPath: "/signals/" + ev.EventKey,
		DataAsOf:   ev.LastTS,
	}
	if ev.GoplusRisk.Valid {
		card.RiskLevel = ev.GoplusRisk.String
	}
	if sig != nil {
		card.State = sig.State
		if t, err := cards.NormalizeType(sig.Type); err == nil {
			card.Type = t
		}
		if sig.DexLiquidity.Valid {
			card.Metrics.LiquidityUSD = &sig.DexLiquidity.Float64
		}
	}
	if len(ev.Evidence) > 0 {
		var items []map[string]interface{}
		if json.Unmarshal(ev.Evidence, &items) == nil {
			for _, item := range items {
				if u, ok := item["url"].(string); ok && u != "" {
					card.Evidence = append(card.Evidence, u)
				}
				if len(card.Evidence) >= 3 {
					break
				}
			}
		}
	}
	return card
}
