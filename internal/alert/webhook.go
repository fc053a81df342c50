// Package alert delivers state-change notifications to a chat webhook.
package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoWebhook is returned when no webhook URL is configured.
var ErrNoWebhook = errors.New("no webhook URL configured")

// Notifier sends a single message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// NotificationError reports a failed delivery.
type NotificationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notification failed: %v", e.Err)
	}
	return fmt.Sprintf("notification rejected: %d %s", e.StatusCode, e.Body)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// messageCard is the Office 365 connector card accepted by Teams webhooks.
type messageCard struct {
	Type    string `json:"@type"`
	Context string `json:"@context"`
	Text    string `json:"text"`
}

// WebhookNotifier posts messages to an incoming webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for url. An empty url is allowed;
// every Notify then fails with ErrNoWebhook.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a webhook URL is set.
func (w *WebhookNotifier) Configured() bool {
	return w.url != ""
}

func (w *WebhookNotifier) Notify(ctx context.Context, message string) error {
	if w.url == "" {
		return &NotificationError{Err: ErrNoWebhook}
	}

	body, err := json.Marshal(messageCard{
		Type:    "MessageCard",
		Context: "http://schema.org/extensions",
		Text:    message,
	})
	if err != nil {
		return &NotificationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &NotificationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &NotificationError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &NotificationError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
