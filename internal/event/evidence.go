package event

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Evidence strength grades, derived from where the reference points.
const (
	StrengthWeak   = "weak"
	StrengthMedium = "medium"
	StrengthStrong = "strong"
)

// EvidenceItem is one upstream observation attached to an event. Items are
// append-only; merges deduplicate by DedupKey.
type EvidenceItem struct {
	Source   string            `json:"source"` // x, dex, goplus
	TS       time.Time         `json:"ts"`
	Ref      map[string]string `json:"ref"`
	Summary  string            `json:"summary,omitempty"`
	Weight   float64           `json:"weight,omitempty"`
	Strength string            `json:"strength,omitempty"`
}

var tweetStatusPattern = regexp.MustCompile(`(?i)(?:twitter\.com|x\.com)/[^/]+/status/(\d+)`)

// Tracking parameters stripped from evidence URLs before hashing.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true,
	"ref": true, "fbclid": true, "gclid": true, "igshid": true, "s": true, "t": true,
}

var strongDomains = []string{
	"etherscan.io", "bscscan.com", "basescan.org", "arbiscan.io",
	"polygonscan.com", "solscan.io", "blockchair.com",
}

var mediumDomains = []string{
	"dexscreener.com", "dextools.io", "geckoterminal.com", "birdeye.so",
}

// Canonicalize rewrites an item's ref into its canonical form: tracking
// params removed, tweet IDs extracted from status URLs, and a strength grade
// assigned when absent. The input is not mutated.
func Canonicalize(item EvidenceItem) EvidenceItem {
	out := item
	out.Ref = make(map[string]string, len(item.Ref))
	for k, v := range item.Ref {
		out.Ref[k] = v
	}

	if raw, ok := out.Ref["url"]; ok {
		if m := tweetStatusPattern.FindStringSubmatch(raw); m != nil {
			// A status URL is identified by its tweet ID alone; the URL form
			// (mobile, query params, alternate domain) must not split dedup.
			delete(out.Ref, "url")
			out.Ref["tweet_id"] = m[1]
		} else {
			out.Ref["url"] = stripTracking(raw)
		}
	}

	if out.Strength == "" {
		out.Strength = gradeStrength(out)
	}
	return out
}

func stripTracking(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func gradeStrength(item EvidenceItem) string {
	target := item.Ref["url"]
	if target == "" {
		target = item.Ref["domain"]
	}
	host := strings.ToLower(target)
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host = strings.ToLower(u.Host)
	}
	for _, d := range strongDomains {
		if strings.Contains(host, d) {
			return StrengthStrong
		}
	}
	for _, d := range mediumDomains {
		if strings.Contains(host, d) {
			return StrengthMedium
		}
	}
	return StrengthWeak
}

// DedupKey hashes (source, sorted ref fields). Two items with the same key
// are the same observation regardless of summary, weight or timestamp.
func DedupKey(item EvidenceItem) string {
	keys := make([]string, 0, len(item.Ref))
	for k := range item.Ref {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, item.Ref[k]})
	}
	refJSON, _ := json.Marshal(ordered)

	sum := sha1.Sum(append([]byte(item.Source), refJSON...))
	return hex.EncodeToString(sum[:])
}

// Dedupe canonicalizes every item and keeps the first occurrence per dedup
// key, preserving input order.
func Dedupe(items []EvidenceItem) []EvidenceItem {
	seen := make(map[string]bool, len(items))
	out := make([]EvidenceItem, 0, len(items))
	for _, item := range items {
		c := Canonicalize(item)
		key := DedupKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
