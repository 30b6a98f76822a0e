package events

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

type WebhookConfig struct {
	PaymentURL     string `split_words:"true"`
	FulfillmentURL string `split_words:"true"`
}

func (c WebhookConfig) Enabled() bool {
	return strings.TrimSpace(c.PaymentURL) != "" || strings.TrimSpace(c.FulfillmentURL) != ""
}

type webhookPublisher interface {
	Publish(ctx context.Context, destination string, body any) (string, error)
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WebhookNotifier delivers events to HTTP endpoints through QStash, which retries
// until the receiver acknowledges.
type WebhookNotifier struct {
	client webhookPublisher
	cfg    WebhookConfig
}

var _ contractx.Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(client webhookPublisher, cfg WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{client: client, cfg: cfg}
}

func (n *WebhookNotifier) PaymentRequested(ctx context.Context, ev contractx.PaymentRequestedEvent) error {
	return n.deliver(ctx, n.cfg.PaymentURL, TypePaymentRequested, ev)
}

func (n *WebhookNotifier) PaymentConfirmed(ctx context.Context, ev contractx.FulfillmentEvent) error {
	return n.deliver(ctx, n.cfg.FulfillmentURL, TypeOrderConfirmed, ev)
}

func (n *WebhookNotifier) deliver(ctx context.Context, destination, eventType string, data any) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil
	}
	if _, err := n.client.Publish(ctx, destination, envelope{Type: eventType, Data: data}); err != nil {
		return fmt.Errorf("deliver %s webhook: %w", eventType, err)
	}
	return nil
}
