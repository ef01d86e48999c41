// Package notify delivers rule-triggered notifications to the outbound
// webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pipeline-engine/internal/resilience"
)

// Notification is one outbound message about a lead.
type Notification struct {
	CompanyID string    `json:"company_id"`
	LeadID    string    `json:"lead_id"`
	RuleName  string    `json:"rule_name,omitempty"`
	UserIDs   []string  `json:"user_ids,omitempty"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

// Notifier delivers notifications. Delivery is best-effort from the
// engine's perspective; failures must not abort rule execution.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards notifications. Used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// WebhookNotifier POSTs notifications as JSON to a configured endpoint,
// rate-limited and retried on transient failures.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewWebhook creates a WebhookNotifier. rps bounds outbound request rate
// and defaults to 5/s when non-positive.
func NewWebhook(url string, rps float64) *WebhookNotifier {
	if rps <= 0 {
		rps = 5
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		retry:   resilience.DefaultRetryConfig(),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "notify: marshal notification")
	}

	err = resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		if err := w.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "notify: rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "notify: build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "notify: post"), 0)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			err := eris.Errorf("notify: webhook returned %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	zap.L().Debug("notification delivered",
		zap.String("lead_id", n.LeadID),
		zap.String("rule", n.RuleName),
		zap.Int("recipients", len(n.UserIDs)))
	return nil
}
