package event

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// Candidate score weights. Sentiment is rescaled from [-1,1] to [0,1];
// keyword count saturates at five.
const (
	scoreAlpha = 0.6
	scoreBeta  = 0.4
)

// CandidateScore maps sentiment and keyword richness to [0,1].
func CandidateScore(sentiment float64, keywordCount int) float64 {
	kw := float64(keywordCount)
	if kw > 5 {
		kw = 5
	}
	score := scoreAlpha*(sentiment+1)/2 + scoreBeta*kw/5
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// TopicHash derives the short topic identifier from normalized keywords:
// lowercase, sorted, top-K joined, SHA-1 truncated. The "t." prefix keeps
// topic hashes visually distinct from event keys in logs.
func TopicHash(keywords []string, topK int) string {
	if len(keywords) == 0 {
		return ""
	}
	norm := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			norm = append(norm, k)
		}
	}
	sort.Strings(norm)
	if topK > 0 && len(norm) > topK {
		norm = norm[:topK]
	}
	sum := sha1.Sum([]byte(strings.Join(norm, ",")))
	return "t." + hex.EncodeToString(sum[:])[:10]
}
