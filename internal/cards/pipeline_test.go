package cards

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenpulse/tokenpulse/internal/goplus"
	"github.com/tokenpulse/tokenpulse/internal/kv"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
)

type fakeEnqueuer struct {
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	channelID, threadID, eventKey string
	payload                       json.RawMessage
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, channelID, threadID, eventKey string, payload json.RawMessage) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.calls = append(f.calls, enqueueCall{channelID, threadID, eventKey, payload})
	return true, nil
}

func testCard() Card {
	price := 0.0042
	return Card{
		Type:      TypePrimary,
		EventKey:  "ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34",
		RiskLevel: RiskYellow,
		State:     "candidate",
		TokenInfo: TokenInfo{Symbol: "PEPE", Chain: "eth", CANorm: "0x6982508145454ce325ddbe47a25d4ec3d2311933"},
		Metrics:   CardMetrics{PriceUSD: &price},
		Sources:   Sources{SecuritySource: "goplus", DexSource: "dexscreener"},
		RiskNote:  "elevated buy tax",
		VerifyPath: "/verify/ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34",
		DataAsOf:   time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
}

func newTestPipeline(t *testing.T, out Enqueuer) *Pipeline {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	client, _ := redismock.NewClientMock()
	d := NewDeduper(kv.NewFromClient(client), time.Hour, metrics.NewRegistry())
	return NewPipeline(r, d, out, metrics.NewRegistry(), []Channel{{ID: "-100123", ThreadID: "7"}}, "v1")
}

func TestPipelineEmitsFirstSeenThenSkipsUnchanged(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	client, mock := redismock.NewClientMock()
	d := NewDeduper(kv.NewFromClient(client), time.Hour, metrics.NewRegistry())
	out := &fakeEnqueuer{}
	p := NewPipeline(r, d, out, metrics.NewRegistry(), []Channel{{ID: "-100123"}}, "v1")

	card := testCard()
	version := StateVersion(card.State, card.RiskLevel, false, "v1", nil)
	key := kv.DedupKey(card.EventKey)

	mock.ExpectGet(key).RedisNil()
	res, err := p.Process(context.Background(), card, goplus.Assessment{RiskLevel: RiskYellow})
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Equal(t, ReasonFirstSeen, res.Reason)
	assert.Equal(t, version, res.StateVersion)
	require.Len(t, out.calls, 1)
	assert.Equal(t, "-100123", out.calls[0].channelID)
	assert.Equal(t, card.EventKey, out.calls[0].eventKey)

	// Dispatch succeeded; the worker records the marker.
	mock.ExpectSet(key, version, time.Hour).SetVal("OK")
	d.MarkEmitted(context.Background(), card.EventKey, version)

	mock.ExpectGet(key).SetVal(version)
	res, err = p.Process(context.Background(), card, goplus.Assessment{RiskLevel: RiskYellow})
	require.NoError(t, err)
	assert.False(t, res.Emitted)
	assert.Equal(t, ReasonStateUnchanged, res.Reason)
	require.Len(t, out.calls, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineRejectsUnknownType(t *testing.T) {
	out := &fakeEnqueuer{}
	p := newTestPipeline(t, out)

	card := testCard()
	card.Type = "mega_card"
	_, err := p.Process(context.Background(), card, goplus.Assessment{})

	var ute *UnknownTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "mega_card", ute.Type)
	assert.Empty(t, out.calls)
}

func TestPipelineNormalizesTypeCase(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	client, mock := redismock.NewClientMock()
	d := NewDeduper(kv.NewFromClient(client), time.Hour, metrics.NewRegistry())
	p := NewPipeline(r, d, &fakeEnqueuer{}, metrics.NewRegistry(), []Channel{{ID: "c"}}, "v1")

	card := testCard()
	card.Type = "  Primary "
	mock.ExpectGet(kv.DedupKey(card.EventKey)).RedisNil()
	res, err := p.Process(context.Background(), card, goplus.Assessment{RiskLevel: RiskYellow})
	require.NoError(t, err)
	assert.Equal(t, TypePrimary, res.Pushcard.Type)
}

func TestPipelineGateDowngradesGreen(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	client, mock := redismock.NewClientMock()
	d := NewDeduper(kv.NewFromClient(client), time.Hour, metrics.NewRegistry())
	p := NewPipeline(r, d, &fakeEnqueuer{}, metrics.NewRegistry(), []Channel{{ID: "c"}}, "v1")

	card := testCard()
	card.RiskLevel = RiskGreen
	mock.ExpectGet(kv.DedupKey(card.EventKey)).RedisNil()
	res, err := p.Process(context.Background(), card, goplus.Assessment{
		RiskLevel:   RiskGreen,
		ForbidGreen: true,
		Note:        "security data incomplete",
	})
	require.NoError(t, err)
	assert.Equal(t, RiskGray, res.Pushcard.RiskLevel)
	assert.True(t, res.Pushcard.States.Degrade)
	assert.Contains(t, res.StateVersion, "degrade:1")
}

func TestPipelineValidationFailureDegradesNotDrops(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	client, mock := redismock.NewClientMock()
	d := NewDeduper(kv.NewFromClient(client), time.Hour, metrics.NewRegistry())
	out := &fakeEnqueuer{}
	p := NewPipeline(r, d, out, metrics.NewRegistry(), []Channel{{ID: "c"}}, "v1")

	card := testCard()
	card.Sources.DexSource = "" // schema violation
	mock.ExpectGet(kv.DedupKey(card.EventKey)).RedisNil()
	res, err := p.Process(context.Background(), card, goplus.Assessment{RiskLevel: RiskYellow})
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.True(t, res.Pushcard.States.Degrade)
	assert.Equal(t, "schema_invalid", res.Pushcard.States.Reason)
	require.Len(t, out.calls, 1)
}

func TestPipelinePayloadIsValidPushcardJSON(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	client, mock := redismock.NewClientMock()
	d := NewDeduper(kv.NewFromClient(client), time.Hour, metrics.NewRegistry())
	out := &fakeEnqueuer{}
	p := NewPipeline(r, d, out, metrics.NewRegistry(), []Channel{{ID: "c"}}, "v1")

	card := testCard()
	mock.ExpectGet(kv.DedupKey(card.EventKey)).RedisNil()
	_, err = p.Process(context.Background(), card, goplus.Assessment{RiskLevel: RiskYellow})
	require.NoError(t, err)
	require.Len(t, out.calls, 1)

	var pc Pushcard
	require.NoError(t, json.Unmarshal(out.calls[0].payload, &pc))
	assert.Equal(t, card.TokenInfo.Symbol, pc.TokenInfo.Symbol)
	require.NotNil(t, pc.Rendered)
	assert.True(t, strings.Contains(pc.Rendered.TG, "PEPE"))
	assert.True(t, strings.Contains(pc.Rendered.UI, "PEPE"))
}
