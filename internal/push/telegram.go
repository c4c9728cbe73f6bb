package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Failure classes for dispatch errors. The drain worker keys retry policy
// on these.
const (
	CodeRateLimited = "429"
	CodeClient      = "4xx"
	CodeServer      = "5xx"
	CodeNetwork     = "net"
	CodeBreakerOpen = "breaker_open"
)

// SendError classifies a failed dispatch. RetryAfter is only meaningful for
// CodeRateLimited, where the API told us when to come back.
type SendError struct {
	Code       string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Code, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Sender delivers one rendered message to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, threadID, text string) error
}

// TelegramSender delivers through the Telegram Bot API behind a circuit
// breaker so a dead API does not burn the whole lease batch.
type TelegramSender struct {
	bot     *bot.Bot
	breaker *gobreaker.CircuitBreaker
}

// NewTelegramSender builds the sender. The token is validated lazily on
// first send, not here.
func NewTelegramSender(token string) (*TelegramSender, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &TelegramSender{bot: b, breaker: gobreaker.NewCircuitBreaker(settings)}, nil
}

// Send posts the text as Telegram markdown. Errors come back classified.
func (s *TelegramSender) Send(ctx context.Context, channelID, threadID, text string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		params := &bot.SendMessageParams{
			ChatID:    chatID(channelID),
			Text:      text,
			ParseMode: models.ParseModeMarkdown,
		}
		if threadID != "" {
			if n, convErr := strconv.Atoi(threadID); convErr == nil {
				params.MessageThreadID = n
			}
		}
		_, sendErr := s.bot.SendMessage(ctx, params)
		return nil, sendErr
	})
	if err == nil {
		return nil
	}
	return Classify(err)
}

// chatID hands numeric channel IDs to the API as integers; anything else
// (an @channelname) passes through as a string.
func chatID(channelID string) interface{} {
	if n, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return n
	}
	return channelID
}

// Classify buckets an error into a SendError. Unknown errors are treated as
// transient network trouble and stay retryable.
func Classify(err error) *SendError {
	var tmr *bot.TooManyRequestsError
	if errors.As(err, &tmr) {
		return &SendError{
			Code:       CodeRateLimited,
			Retryable:  true,
			RetryAfter: time.Duration(tmr.RetryAfter) * time.Second,
			Err:        err,
		}
	}
	if errors.Is(err, bot.ErrorTooManyRequests) {
		return &SendError{Code: CodeRateLimited, Retryable: true, Err: err}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &SendError{Code: CodeBreakerOpen, Retryable: true, Err: err}
	}
	if errors.Is(err, bot.ErrorForbidden) ||
		errors.Is(err, bot.ErrorBadRequest) ||
		errors.Is(err, bot.ErrorUnauthorized) ||
		errors.Is(err, bot.ErrorNotFound) {
		return &SendError{Code: CodeClient, Retryable: false, Err: err}
	}
	return &SendError{Code: CodeNetwork, Retryable: true, Err: err}
}
