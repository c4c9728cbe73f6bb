package kv

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	t.Cleanup(func() { require.NoError(t, mock.ExpectationsWereMet()) })
	return NewFromClient(client), mock
}

func TestGetMissingKeyIsNotAnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectGet("tp:dedup:k").RedisNil()

	val, found, err := store.Get(context.Background(), "tp:dedup:k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)
}

func TestSetThenGet(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectSet("k", "v", time.Minute).SetVal("OK")
	mock.ExpectGet("k").SetVal("v")

	require.NoError(t, store.Set(context.Background(), "k", "v", time.Minute))
	val, found, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)
}

func TestGetWrapsTransportError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectGet("k").SetErr(errors.New("broken pipe"))

	_, _, err := store.Get(context.Background(), "k")
	assert.ErrorContains(t, err, "redis get")
}

func TestTTLNormalizesNegativeValues(t *testing.T) {
	store, mock := newMockStore(t)
	// -2 is redis for "no such key", -1 for "no expiry".
	mock.ExpectTTL("absent").SetVal(-2 * time.Second)
	mock.ExpectTTL("forever").SetVal(-1 * time.Second)
	mock.ExpectTTL("k").SetVal(90 * time.Second)

	d, err := store.TTL(context.Background(), "absent")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = store.TTL(context.Background(), "forever")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = store.TTL(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestIncrRateBucketsByMinute(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)
	key := fmt.Sprintf("tp:rate:expert:%d", now.Unix()/60)

	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetVal(3)
	mock.ExpectExpire(key, 2*time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	n, err := store.IncrRate(context.Background(), "expert", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestBeatAgeRoundtrip(t *testing.T) {
	store, mock := newMockStore(t)
	beat := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	now := beat.Add(45 * time.Second)

	mock.ExpectSet("tp:scheduler:beat", fmt.Sprintf("%d", beat.Unix()), time.Duration(0)).SetVal("OK")
	mock.ExpectGet("tp:scheduler:beat").SetVal(fmt.Sprintf("%d", beat.Unix()))

	require.NoError(t, store.Beat(context.Background(), beat))
	age, found, err := store.BeatAge(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 45*time.Second, age)
}

func TestBeatAgeMissingHeartbeat(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectGet("tp:scheduler:beat").RedisNil()

	_, found, err := store.BeatAge(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBeatAgeMalformedValue(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectGet("tp:scheduler:beat").SetVal("garbage")

	_, _, err := store.BeatAge(context.Background(), time.Now())
	assert.ErrorContains(t, err, "malformed heartbeat")
}

func TestKeyNamespaces(t *testing.T) {
	assert.Equal(t, "tp:dedup:abc", DedupKey("abc"))
	assert.Equal(t, "tp:signals:abc", SignalKey("abc"))
	assert.Equal(t, "tp:heat:pepe:42", HeatKey("pepe", 42))
	assert.Equal(t, "tp:expert:1:0xabc", ExpertKey("1", "0xabc"))
}
