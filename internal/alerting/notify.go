package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Alert is the notification payload.
type Alert struct {
	Rule      string    `json:"rule"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Since     time.Time `json:"since"`
	FiredAt   time.Time `json:"fired_at"`
}

// Notifier delivers alerts over a webhook, an external script, or both.
// Webhook failures retry with doubling backoff; script failures do not
// retry (a crashing script will crash again).
type Notifier struct {
	cfg    NotifyConfig
	client *http.Client
	sleep  func(time.Duration)
}

func NewNotifier(cfg NotifyConfig) *Notifier {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffSec <= 0 {
		cfg.BackoffSec = 2
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		sleep:  time.Sleep,
	}
}

// Notify fans the alert out to the configured sinks. Errors are logged,
// not returned: a broken sink must not stall rule evaluation.
func (n *Notifier) Notify(ctx context.Context, a Alert) {
	if n.cfg.WebhookURL != "" {
		if err := n.webhook(ctx, a); err != nil {
			log.Error().Err(err).Str("rule", a.Rule).Msg("webhook notify failed")
		}
	}
	if n.cfg.Script != "" {
		if err := n.script(ctx, a); err != nil {
			log.Error().Err(err).Str("rule", a.Rule).Msg("script notify failed")
		}
	}
}

func (n *Notifier) webhook(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	backoff := time.Duration(n.cfg.BackoffSec) * time.Second
	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			n.sleep(backoff)
			backoff *= 2
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
	}
	return fmt.Errorf("webhook exhausted %d retries: %w", n.cfg.MaxRetries, lastErr)
}

func (n *Notifier) script(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	cmd := exec.CommandContext(ctx, n.cfg.Script, a.Rule)
	cmd.Stdin = bytes.NewReader(body)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("script %s: %w (output: %s)", n.cfg.Script, err, out)
	}
	return nil
}
