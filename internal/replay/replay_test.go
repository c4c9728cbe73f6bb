package replay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenpulse/tokenpulse/internal/store"
)

type fakeSource struct {
	rows    []store.ReplayRow
	marks   map[string]string
	markErr error
}

func (f *fakeSource) Failed(context.Context, int) ([]store.ReplayRow, error) {
	return f.rows, nil
}

func (f *fakeSource) MarkAttempt(_ context.Context, uniqueKey, status string, _ time.Duration, _ string) error {
	if f.marks == nil {
		f.marks = make(map[string]string)
	}
	f.marks[uniqueKey] = status
	return f.markErr
}

func row(key string) store.ReplayRow {
	return store.ReplayRow{
		UniqueKey: key,
		Source:    "x",
		Payload:   json.RawMessage(`{"text":"hello"}`),
	}
}

func TestRunRedrivesAndMarks(t *testing.T) {
	var bodies []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	src := &fakeSource{rows: []store.ReplayRow{row("a"), row("b")}}
	runner := NewRunner(Config{TargetURL: srv.URL}, src)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, "ok", src.marks["a"])
	assert.Equal(t, "ok", src.marks["b"])
	require.Len(t, bodies, 2)
	assert.Equal(t, "a", bodies[0]["unique_key"])
}

func TestRunRecordsFailuresAndContinues(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := &fakeSource{rows: []store.ReplayRow{row("bad"), row("good")}}
	runner := NewRunner(Config{TargetURL: srv.URL}, src)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, "failed", src.marks["bad"])
	assert.Equal(t, "ok", src.marks["good"])
}

func TestRunEmptySetIsNoop(t *testing.T) {
	src := &fakeSource{}
	runner := NewRunner(Config{TargetURL: "http://unused.invalid"}, src)
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.P50MS)
}
