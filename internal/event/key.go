package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// KeyEnv carries the identity-scheme parameters. The same post with the same
// env always hashes to the same key; the function never reads the clock.
type KeyEnv struct {
	Salt          string
	Version       string // "v1" or "v2"
	TimeBucketSec int64
}

// PostInput is the subset of a post that participates in event identity.
type PostInput struct {
	Type      string
	Symbol    string
	TokenCA   string
	Text      string
	CreatedTS time.Time
	ChainID   string
}

// ErrInvalidInput marks calls rejected before any work was done.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

var (
	urlPattern     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+|\b[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|org|net|io|xyz|fi|gg|app|me|co)(?:/\S*)?`)
	handlePattern  = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	spacePattern   = regexp.MustCompile(`\s+`)
	hexCAPattern   = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
)

// MakeEventKey derives the deterministic 40-hex-char event key for a post
// under the given identity scheme.
func MakeEventKey(p PostInput, env KeyEnv) (string, error) {
	typeNorm := strings.ToLower(strings.TrimSpace(p.Type))
	if typeNorm == "" {
		return "", &ErrInvalidInput{Field: "type", Reason: "missing"}
	}

	symbolNorm := NormalizeSymbol(p.Symbol)
	caNorm := NormalizeTokenCA(p.TokenCA)
	textNorm := NormalizeText(p.Text)

	bucketSec := env.TimeBucketSec
	if bucketSec <= 0 {
		bucketSec = 600
	}
	bucket := (p.CreatedTS.Unix() / bucketSec) * bucketSec

	parts := []string{typeNorm, symbolNorm, caNorm, textNorm, fmt.Sprintf("%d", bucket), env.Salt}
	if env.Version == "v2" {
		parts = append(parts, p.ChainID)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:40], nil
}

// NormalizeSymbol trims, drops a cashtag prefix and uppercases. Internal
// spaces are preserved.
func NormalizeSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	s = strings.TrimPrefix(s, "$")
	return strings.ToUpper(s)
}

// NormalizeTokenCA lowercases a contract address. Malformed addresses are
// logged and normalized anyway; identity must not depend on upstream hygiene.
func NormalizeTokenCA(ca string) string {
	c := strings.ToLower(strings.TrimSpace(ca))
	if c != "" && !hexCAPattern.MatchString(c) {
		log.Warn().Str("token_ca", c).Msg("token_ca is not a 0x-prefixed hex-40 address")
	}
	return c
}

// NormalizeText canonicalizes post text for hashing: lowercase, Unicode NFC,
// URLs and @handles stripped, #hashtags preserved, whitespace collapsed.
func NormalizeText(text string) string {
	t := strings.ToLower(text)
	t = norm.NFC.String(t)
	t = urlPattern.ReplaceAllString(t, " ")
	t = handlePattern.ReplaceAllString(t, " ")
	t = spacePattern.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// ValidEventKey reports whether s is a well-formed event key.
func ValidEventKey(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}
