package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenpulse/tokenpulse/internal/cards"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
	"github.com/tokenpulse/tokenpulse/internal/onchain"
	"github.com/tokenpulse/tokenpulse/internal/signals"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

const testEventKey = "ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34"

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type memCache struct {
	vals map[string]string
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{vals: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.vals[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) TTL(_ context.Context, key string) (time.Duration, error) {
	return m.ttls[key], nil
}

type fakeSignals struct {
	sig *store.Signal
	err error
}

func (f *fakeSignals) Get(context.Context, string) (*store.Signal, error) { return f.sig, f.err }

type fakeEvents struct {
	ev *store.Event
}

func (f *fakeEvents) Get(context.Context, string) (*store.Event, error) { return f.ev, nil }

type fakeFeatures struct {
	rows  []store.OnchainFeatureRow
	asOf  time.Time
	calls int
}

func (f *fakeFeatures) Latest(context.Context, string, string) ([]store.OnchainFeatureRow, error) {
	f.calls++
	return f.rows, nil
}

func (f *fakeFeatures) LatestByAddress(context.Context, string) ([]store.OnchainFeatureRow, error) {
	f.calls++
	return f.rows, nil
}

func (f *fakeFeatures) Freshness(context.Context, string) (time.Time, error) {
	return f.asOf, nil
}

type fakeHeat struct {
	heat signals.Heat
	err  error
}

func (f *fakeHeat) Compute(context.Context, string, string, *time.Time) (signals.Heat, error) {
	return f.heat, f.err
}

type fakePersist struct {
	persisted bool
	reason    string
}

func (f *fakePersist) Persist(context.Context, signals.Heat) (bool, string, error) {
	return f.persisted, f.reason, nil
}

type fakeRunner struct {
	result *onchain.QueryResult
	err    error
	params onchain.QueryParams
}

func (f *fakeRunner) Run(_ context.Context, _ onchain.QueryTemplate, params onchain.QueryParams) (*onchain.QueryResult, error) {
	f.params = params
	return f.result, f.err
}

type deps struct {
	db       *fakePinger
	kvp      *fakePinger
	cache    *memCache
	signals  *fakeSignals
	events   *fakeEvents
	features *fakeFeatures
	heat     *fakeHeat
	persist  *fakePersist
	runner   *fakeRunner
	cfg      HandlersConfig
}

func defaultDeps(t *testing.T) *deps {
	t.Helper()
	cfg := DefaultHandlersConfig()
	cfg.ExpertView = true
	cfg.ExpertKey = "sekrit"
	return &deps{
		db:       &fakePinger{},
		kvp:      &fakePinger{},
		cache:    newMemCache(),
		signals:  &fakeSignals{},
		events:   &fakeEvents{},
		features: &fakeFeatures{},
		heat:     &fakeHeat{},
		persist:  &fakePersist{},
		runner:   &fakeRunner{result: &onchain.QueryResult{}},
		cfg:      cfg,
	}
}

func testServer(t *testing.T, d *deps) http.Handler {
	t.Helper()
	rules, err := onchain.ParseRules([]byte(`
windows: [30, 60, 180]
thresholds:
  active_addr_pctl: {high: 0.8}
  growth_ratio: {spike: 2.0}
  top10_share: {concentrated: 0.7}
  self_loop_ratio: {wash: 0.3}
verdict:
  upgrade_if: ["active_addr_pctl>=high", "growth_ratio>=spike"]
  downgrade_if: ["top10_share>=concentrated", "self_loop_ratio>=wash"]
`))
	require.NoError(t, err)
	renderer, err := cards.NewRenderer()
	require.NoError(t, err)

	m := metrics.NewRegistry()
	registry := onchain.NewStaticRegistry(rules, m)
	h := NewHandlers(d.cfg, d.db, d.kvp, d.cache,
		d.signals, d.events, d.features, d.heat, d.persist, d.runner,
		registry, renderer)
	return NewServer(DefaultServerConfig(), h, m).Router()
}

func get(t *testing.T, srv http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReportsDownDependency(t *testing.T) {
	d := defaultDeps(t)
	d.db.err = errors.New("connection refused")
	srv := testServer(t, d)

	rec := get(t, srv, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unready", decode(t, rec)["status"])

	d.db.err = nil
	rec = get(t, srv, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignalByKeyRejectsMalformedKey(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, "/signals/not-hex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignalByKeyUnknownKeyIs404(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, "/signals/"+testEventKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignalByKeyCachesSecondRead(t *testing.T) {
	d := defaultDeps(t)
	d.signals.sig = &store.Signal{
		EventKey: testEventKey,
		Type:     store.SignalTypePrimary,
		State:    store.SignalStateCandidate,
	}
	srv := testServer(t, d)

	rec := get(t, srv, "/signals/"+testEventKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "candidate", body["state"])
	cache := body["cache"].(map[string]interface{})
	assert.False(t, cache["hit"].(bool))

	rec = get(t, srv, "/signals/"+testEventKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cache = decode(t, rec)["cache"].(map[string]interface{})
	assert.True(t, cache["hit"].(bool))
}

func TestSignalByKeyVerdictInsufficientWithoutFeatures(t *testing.T) {
	d := defaultDeps(t)
	d.signals.sig = &store.Signal{EventKey: testEventKey, Type: "primary", State: "candidate"}
	srv := testServer(t, d)

	body := decode(t, get(t, srv, "/signals/"+testEventKey, nil))
	verdict := body["verdict"].(map[string]interface{})
	assert.Equal(t, "insufficient", verdict["decision"])
}

func TestSignalByKeyVerdictFromFreshFeatures(t *testing.T) {
	d := defaultDeps(t)
	d.signals.sig = &store.Signal{EventKey: testEventKey, Type: "primary", State: "candidate"}
	d.events.ev = &store.Event{
		EventKey: testEventKey,
		TokenCA:  sql.NullString{String: "0x00112233445566778899aabbccddeeff00112233", Valid: true},
	}
	d.features.rows = []store.OnchainFeatureRow{{
		Chain: "1", Address: "0x00112233445566778899aabbccddeeff00112233",
		AsOfTS: time.Now(), WindowMinutes: 60,
		AddrActive:  sql.NullFloat64{Float64: 0.9, Valid: true},
		GrowthRatio: sql.NullFloat64{Float64: 3.0, Valid: true},
		Top10Share:  sql.NullFloat64{Float64: 0.2, Valid: true},
	}}
	srv := testServer(t, d)

	body := decode(t, get(t, srv, "/signals/"+testEventKey, nil))
	verdict := body["verdict"].(map[string]interface{})
	assert.Equal(t, "upgrade", verdict["decision"])
}

func TestSignalsHeatRequiresExactlyOneIdentifier(t *testing.T) {
	srv := testServer(t, defaultDeps(t))

	rec := get(t, srv, "/signals/heat", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, srv, "/signals/heat?token=PEPE&token_ca=0xabc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalsHeatReturnsPersistedFlag(t *testing.T) {
	d := defaultDeps(t)
	slope := 1.25
	d.heat.heat = signals.Heat{Token: "PEPE", Cnt10m: 12, Cnt30m: 20, Slope: &slope, Trend: signals.TrendUp}
	d.persist.persisted = true
	srv := testServer(t, d)

	rec := get(t, srv, "/signals/heat?token=PEPE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "up", body["trend"])
	assert.True(t, body["persisted"].(bool))
}

func TestOnchainFeaturesValidatesAddress(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, "/onchain/features?address=deadbeef", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnchainFeaturesReturnsWindows(t *testing.T) {
	d := defaultDeps(t)
	d.features.rows = []store.OnchainFeatureRow{
		{Chain: "1", Address: "0x00112233445566778899aabbccddeeff00112233", WindowMinutes: 30, CalcVersion: "v1"},
		{Chain: "1", Address: "0x00112233445566778899aabbccddeeff00112233", WindowMinutes: 60, CalcVersion: "v1"},
	}
	srv := testServer(t, d)

	rec := get(t, srv, "/onchain/features?chain=1&address=0x00112233445566778899aabbccddeeff00112233", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	features := decode(t, rec)["features"].([]interface{})
	assert.Len(t, features, 2)
}

func TestOnchainFreshnessFlagsStaleData(t *testing.T) {
	d := defaultDeps(t)
	d.features.asOf = time.Now().Add(-2 * time.Hour)
	srv := testServer(t, d)

	rec := get(t, srv, "/onchain/freshness?chain=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec)["stale"].(bool))
}

func TestOnchainQueryUnknownTemplate(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, "/onchain/query?template=nope&address=0x00112233445566778899aabbccddeeff00112233", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnchainQueryBindsParams(t *testing.T) {
	d := defaultDeps(t)
	d.runner.result = &onchain.QueryResult{BytesScanned: 1024}
	srv := testServer(t, d)

	rec := get(t, srv, "/onchain/query?template=top_holders&address=0x00112233445566778899aabbccddeeff00112233&top_n=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, d.runner.params.TopN)
	assert.Equal(t, float64(1024), decode(t, rec)["bq_bytes_scanned"])
}

func TestOnchainQueryDegradesOnWarehouseFailure(t *testing.T) {
	d := defaultDeps(t)
	d.runner.err = errors.New("deadline exceeded")
	srv := testServer(t, d)

	rec := get(t, srv, "/onchain/query?template=top_holders&address=0x00112233445566778899aabbccddeeff00112233", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.True(t, body["degrade"].(bool))
	assert.Equal(t, "warehouse_unavailable", body["reason"])
}

func TestOnchainQueryWithoutBackendIs503(t *testing.T) {
	d := defaultDeps(t)
	srv := testServerWithoutRunner(t, d)
	rec := get(t, srv, "/onchain/query?template=top_holders&address=0x00112233445566778899aabbccddeeff00112233", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func testServerWithoutRunner(t *testing.T, d *deps) http.Handler {
	t.Helper()
	renderer, err := cards.NewRenderer()
	require.NoError(t, err)
	m := metrics.NewRegistry()
	h := NewHandlers(d.cfg, d.db, d.kvp, d.cache,
		d.signals, d.events, d.features, d.heat, d.persist, nil, nil, renderer)
	return NewServer(DefaultServerConfig(), h, m).Router()
}

const expertPath = "/expert/onchain?chain=1&address=0x00112233445566778899aabbccddeeff00112233"

func TestExpertOnchainGateOffIs404(t *testing.T) {
	d := defaultDeps(t)
	d.cfg.ExpertView = false
	srv := testServer(t, d)
	rec := get(t, srv, expertPath, map[string]string{"X-Expert-Key": "sekrit"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExpertOnchainBadKeyIs403(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, expertPath, map[string]string{"X-Expert-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExpertOnchainRateLimit(t *testing.T) {
	d := defaultDeps(t)
	d.cfg.ExpertRatePerMin = 2
	srv := testServer(t, d)
	hdr := map[string]string{"X-Expert-Key": "sekrit"}

	assert.Equal(t, http.StatusOK, get(t, srv, expertPath, hdr).Code)
	assert.Equal(t, http.StatusOK, get(t, srv, expertPath, hdr).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, srv, expertPath, hdr).Code)
}

func TestExpertOnchainShapeAndCache(t *testing.T) {
	d := defaultDeps(t)
	d.features.rows = []store.OnchainFeatureRow{
		{Chain: "1", Address: "0xa", AsOfTS: time.Now(), WindowMinutes: 1440,
			Top10Share: sql.NullFloat64{Float64: 0.6, Valid: true}},
		{Chain: "1", Address: "0xa", AsOfTS: time.Now(), WindowMinutes: 10080},
	}
	srv := testServer(t, d)
	hdr := map[string]string{"X-Expert-Key": "sekrit"}

	rec := get(t, srv, expertPath, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	overview := body["overview"].(map[string]interface{})
	assert.InDelta(t, 0.6, overview["top10_share"].(float64), 1e-9)
	assert.InDelta(t, 0.4, overview["others_share"].(float64), 1e-9)
	assert.False(t, body["cache"].(bool))
	assert.False(t, body["stale"].(bool))
	series := body["series"].(map[string]interface{})
	assert.Len(t, series["h24"].([]interface{}), 1)
	assert.Len(t, series["d7"].([]interface{}), 1)

	rec = get(t, srv, expertPath, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec)["cache"].(bool))
}

func TestCardPreviewRendersWithinDeadline(t *testing.T) {
	d := defaultDeps(t)
	d.events.ev = &store.Event{
		EventKey:   testEventKey,
		Symbol:     sql.NullString{String: "PEPE", Valid: true},
		TokenCA:    sql.NullString{String: "0x00112233445566778899aabbccddeeff00112233", Valid: true},
		GoplusRisk: sql.NullString{String: "yellow", Valid: true},
		LastTS:     time.Now(),
		Evidence:   json.RawMessage(`[{"url":"https://x.com/p/1"}]`),
	}
	d.signals.sig = &store.Signal{EventKey: testEventKey, Type: "primary", State: "candidate"}
	srv := testServer(t, d)

	rec := get(t, srv, "/cards/preview?event_key="+testEventKey+"&render=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "primary", body["type"])
	assert.Equal(t, "yellow", body["risk_level"])
	rendered := body["rendered"].(map[string]interface{})
	assert.Contains(t, rendered["tg"].(string), "PEPE")
}

func TestCardPreviewUnknownEventIs404(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, "/cards/preview?event_key="+testEventKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnmatchedRouteReturnsJSON404(t *testing.T) {
	srv := testServer(t, defaultDeps(t))
	rec := get(t, srv, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not_found", body["error"].(map[string]interface{})["code"])
}
