// Package notify fans engine alerts out to persistence and an external text
// sink. Delivery is fire-and-forget: a failed send never rolls back the
// trade or position update that raised the alert.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wheelhouse/internal/logger"
	"wheelhouse/internal/store"
	"wheelhouse/internal/types"
)

// TextNotifier delivers a plain-text message to an external channel.
type TextNotifier interface {
	Send(ctx context.Context, text string) error
}

// sendRetries is how many times a webhook delivery is attempted before the
// message is dropped.
const sendRetries = 3

// WebhookNotifier posts messages as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned %s", resp.Status)
		} else {
			lastErr = err
		}
		logger.Warnf("notify: send attempt %d/%d failed: %v", attempt, sendRetries, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return fmt.Errorf("webhook send failed after %d attempts: %w", sendRetries, lastErr)
}

// Dispatcher persists alerts and forwards warning-or-higher ones to the text
// notifier.
type Dispatcher struct {
	store    store.Store
	notifier TextNotifier
	minLevel types.AlertPriority
}

func NewDispatcher(st store.Store, notifier TextNotifier) *Dispatcher {
	return &Dispatcher{store: st, notifier: notifier, minLevel: types.AlertWarning}
}

// Dispatch stores the alert and pushes it out. Safe to call from any
// goroutine; errors are logged, never returned.
func (d *Dispatcher) Dispatch(a types.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if err := d.store.InsertAlert(ctx, &a); err != nil {
		logger.Errorf("notify: persist alert: %v", err)
	}
	if d.notifier == nil || a.Priority < d.minLevel {
		return
	}
	if err := d.notifier.Send(ctx, format(a)); err != nil {
		logger.Warnf("notify: deliver alert %d: %v", a.ID, err)
	}
}

func format(a types.Alert) string {
	prefix := "INFO"
	switch a.Priority {
	case types.AlertWarning:
		prefix = "WARN"
	case types.AlertCritical:
		prefix = "CRITICAL"
	}
	if a.Symbol != "" {
		return fmt.Sprintf("[%s] %s %s: %s", prefix, a.Type, a.Symbol, a.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", prefix, a.Type, a.Message)
}
