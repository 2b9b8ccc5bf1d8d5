package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts notifications to a chat webhook.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the content as a text message.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: content}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

// MultiChannel fans content out to several channels.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel. Nil channels are skipped.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	kept := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil {
			kept = append(kept, ch)
		}
	}
	return &MultiChannel{channels: kept}
}

// Send delivers to every channel and joins the failures.
func (m *MultiChannel) Send(ctx context.Context, content string) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
