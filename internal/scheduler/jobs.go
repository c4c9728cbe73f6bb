package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenpulse/tokenpulse/internal/event"
	"github.com/tokenpulse/tokenpulse/internal/metrics"
	"github.com/tokenpulse/tokenpulse/internal/onchain"
	"github.com/tokenpulse/tokenpulse/internal/store"
)

// CandidateSource lists recent candidate posts. Satisfied by
// store.PostsRepo.
type CandidateSource interface {
	RecentCandidates(ctx context.Context, since time.Time, limit int) ([]store.RawPost, error)
}

// EventSink accepts event merges. Satisfied by store.EventsRepo.
type EventSink interface {
	Upsert(ctx context.Context, up store.EventUpsert) (store.UpsertResult, error)
}

// SignalStore is the slice of the signals repo the jobs use.
type SignalStore interface {
	Ensure(ctx context.Context, eventKey, sigType string) error
	AggregateTopics(ctx context.Context, since time.Time) (int64, error)
	PendingVerification(ctx context.Context, staleBefore time.Time, limit int) ([]store.Signal, error)
	UpdateVerdict(ctx context.Context, eventKey, state string, confidence float64, asOf time.Time) error
}

// FeatureSource provides the latest on-chain feature snapshots. Satisfied
// by store.OnchainRepo.
type FeatureSource interface {
	LatestByAddress(ctx context.Context, address string) ([]store.OnchainFeatureRow, error)
}

// EventSource reads events for verification lookups. Satisfied by
// store.EventsRepo.
type EventSource interface {
	Get(ctx context.Context, eventKey string) (*store.Event, error)
}

const compactBatchLimit = 1000

// chainHints maps URL substrings to chain IDs. First hit wins; posts with
// no hint stay chainless and hash without a chain component.
var chainHints = []struct {
	needle string
	chain  string
}{
	{"etherscan.io", "1"},
	{"app.uniswap.org", "1"},
	{"bscscan.com", "56"},
	{"pancakeswap.finance", "56"},
	{"basescan.org", "8453"},
	{"arbiscan.io", "42161"},
	{"polygonscan.com", "137"},
	{"solscan.io", "sol"},
	{"raydium.io", "sol"},
	{"pump.fun", "sol"},
}

// InferChain guesses the chain ID from a post's URLs.
func InferChain(urls []string) string {
	for _, u := range urls {
		lower := strings.ToLower(u)
		for _, h := range chainHints {
			if strings.Contains(lower, h.needle) {
				return h.chain
			}
		}
	}
	return ""
}

// CompactJob re-keys the last day of candidate posts under the v2 identity
// scheme, folding the chain inferred from their URLs into the key. Rows
// that merged into an existing v2 event compact their evidence as a side
// effect of the upsert.
func CompactJob(posts CandidateSource, events EventSink, env event.KeyEnv, topicTopK int) Job {
	env.Version = "v2"
	return Job{
		Name:  "events.compact_5m",
		Every: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			since := time.Now().Add(-24 * time.Hour)
			batch, err := posts.RecentCandidates(ctx, since, compactBatchLimit)
			if err != nil {
				return err
			}
			for _, post := range batch {
				if err := compactPost(ctx, events, post, env, topicTopK); err != nil {
					log.Warn().Err(err).Int64("post_id", post.ID).
						Msg("compaction skipped post")
				}
			}
			return nil
		},
	}
}

func compactPost(ctx context.Context, events EventSink, post store.RawPost, env event.KeyEnv, topicTopK int) error {
	var urls []string
	if len(post.URLs) > 0 {
		if err := json.Unmarshal(post.URLs, &urls); err != nil {
			log.Debug().Err(err).Int64("post_id", post.ID).Msg("unreadable urls field")
		}
	}
	var keywords []string
	if len(post.Keywords) > 0 {
		_ = json.Unmarshal(post.Keywords, &keywords)
	}

	in := event.PostInput{
		Type:      post.Source,
		Symbol:    post.Symbol.String,
		TokenCA:   post.TokenCA.String,
		Text:      post.Text,
		CreatedTS: post.TS,
		ChainID:   InferChain(urls),
	}
	key, err := event.MakeEventKey(in, env)
	if err != nil {
		return err
	}

	item := event.Canonicalize(event.EvidenceItem{
		Source: post.Source,
		TS:     post.TS,
		Ref:    evidenceRef(post, urls),
	})
	_, err = events.Upsert(ctx, store.EventUpsert{
		EventKey:        key,
		Symbol:          event.NormalizeSymbol(post.Symbol.String),
		TokenCA:         event.NormalizeTokenCA(post.TokenCA.String),
		TopicHash:       event.TopicHash(keywords, topicTopK),
		Version:         env.Version,
		TimeBucketStart: post.TS.Truncate(time.Duration(env.TimeBucketSec) * time.Second),
		TS:              post.TS,
		KeywordsNorm:    keywords,
		SentimentLabel:  post.SentimentLabel.String,
		SentimentScore:  post.SentimentScore.Float64,
		CandidateScore:  event.CandidateScore(post.SentimentScore.Float64, len(keywords)),
		Evidence:        []event.EvidenceItem{item},
		CurrentSource:   post.Source,
	})
	return err
}

func evidenceRef(post store.RawPost, urls []string) map[string]string {
	ref := map[string]string{"post_id": strconv.FormatInt(post.ID, 10)}
	if len(urls) > 0 {
		ref["url"] = urls[0]
	}
	return ref
}

// ScanTopicSignalsJob ensures a topic signal row exists for every event a
// recent candidate post maps onto.
func ScanTopicSignalsJob(posts CandidateSource, signals SignalStore, env event.KeyEnv) Job {
	return Job{
		Name:  "scan_topic_signals",
		Every: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			since := time.Now().Add(-5 * time.Minute)
			batch, err := posts.RecentCandidates(ctx, since, compactBatchLimit)
			if err != nil {
				return err
			}
			for _, post := range batch {
				key, err := event.MakeEventKey(event.PostInput{
					Type:      post.Source,
					Symbol:    post.Symbol.String,
					TokenCA:   post.TokenCA.String,
					Text:      post.Text,
					CreatedTS: post.TS,
				}, env)
				if err != nil {
					continue
				}
				if err := signals.Ensure(ctx, key, store.SignalTypeTopic); err != nil {
					log.Warn().Err(err).Str("event_key", key).
						Msg("topic signal ensure failed")
				}
			}
			return nil
		},
	}
}

// AggregateTopicsJob refreshes topic footprints from events hourly.
func AggregateTopicsJob(signals SignalStore) Job {
	return Job{
		Name:  "aggregate_topics",
		Every: time.Hour,
		Run: func(ctx context.Context) error {
			n, err := signals.AggregateTopics(ctx, time.Now().Add(-time.Hour))
			if err != nil {
				return err
			}
			log.Info().Int64("signals", n).Msg("topic footprints refreshed")
			return nil
		},
	}
}

// Drainer is the outbox worker's single-pass contract.
type Drainer interface {
	DrainOnce(ctx context.Context) (int, error)
}

// OutboxDrainJob runs outbox passes on the shared schedule, for
// deployments that do not run a dedicated worker process.
func OutboxDrainJob(d Drainer) Job {
	return Job{
		Name:  "outbox.drain",
		Every: 10 * time.Second,
		Run: func(ctx context.Context) error {
			_, err := d.DrainOnce(ctx)
			return err
		},
	}
}

// VerifyOnchainJob re-grades candidate signals against fresh on-chain
// features every minute. A hold verdict leaves the row untouched so a
// verified state is never churned by inconclusive data.
func VerifyOnchainJob(signals SignalStore, features FeatureSource, events EventSource,
	rules *onchain.Registry, m *metrics.Registry, freshnessSLO time.Duration, limit int) Job {
	if limit <= 0 {
		limit = 100
	}
	return Job{
		Name:  "verify_onchain_signals",
		Every: time.Minute,
		Run: func(ctx context.Context) error {
			pending, err := signals.PendingVerification(ctx, time.Now().Add(-freshnessSLO), limit)
			if err != nil {
				return err
			}
			snapshot := rules.Current()
			for _, sig := range pending {
				verifyOne(ctx, signals, features, events, snapshot, m, sig)
			}
			return nil
		},
	}
}

func verifyOne(ctx context.Context, signals SignalStore, features FeatureSource,
	events EventSource, rules *onchain.Rules, m *metrics.Registry, sig store.Signal) {
	ev, err := events.Get(ctx, sig.EventKey)
	if err != nil || ev == nil || !ev.TokenCA.Valid {
		return
	}
	rows, err := features.LatestByAddress(ctx, ev.TokenCA.String)
	if err != nil || len(rows) == 0 {
		return
	}

	row := rows[0]
	verdict := onchain.Evaluate(onchain.Feature{
		ActiveAddrPctl: row.AddrActive.Float64,
		GrowthRatio:    row.GrowthRatio.Float64,
		Top10Share:     row.Top10Share.Float64,
		SelfLoopRatio:  row.SelfLoopRatio.Float64,
		AsOfTS:         row.AsOfTS,
		WindowMin:      row.WindowMinutes,
	}, rules)
	m.RulesVerdicts.WithLabelValues(verdict.Decision).Inc()

	var state string
	switch verdict.Decision {
	case onchain.DecisionUpgrade:
		state = store.SignalStateVerified
	case onchain.DecisionDowngrade:
		state = store.SignalStateDowngraded
	default:
		return
	}
	if err := signals.UpdateVerdict(ctx, sig.EventKey, state, verdict.Confidence, row.AsOfTS); err != nil {
		log.Warn().Err(err).Str("event_key", sig.EventKey).Msg("verdict update failed")
		return
	}
	log.Info().Str("event_key", sig.EventKey).Str("state", state).
		Float64("confidence", verdict.Confidence).Strs("hit_rules", verdict.HitRules).
		Msg("on-chain verdict applied")
}
