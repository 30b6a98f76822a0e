package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

type NATSConfig struct {
	URL           string        `envconfig:"URL"`
	Stream        string        `split_words:"true" default:"GRACE"`
	SubjectPrefix string        `split_words:"true" default:"grace"`
	PublishWait   time.Duration `split_words:"true" default:"5s"`
}

func (c NATSConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type jsPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamNotifier publishes order events to a JetStream stream so fulfillment and
// accounting workers can consume them durably.
type JetStreamNotifier struct {
	nc     *nats.Conn
	js     jsPublisher
	prefix string
	wait   time.Duration
}

var _ contractx.Notifier = (*JetStreamNotifier)(nil)

func NewJetStreamNotifier(cfg NATSConfig) (*JetStreamNotifier, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("grace"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	prefix := defaultString(cfg.SubjectPrefix, "grace")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      defaultString(cfg.Stream, "GRACE"),
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		log.Warn().Err(err).Str("stream", cfg.Stream).Msg("failed to ensure JetStream stream")
	}

	return &JetStreamNotifier{nc: nc, js: js, prefix: prefix, wait: cfg.PublishWait}, nil
}

func (n *JetStreamNotifier) PaymentRequested(ctx context.Context, ev contractx.PaymentRequestedEvent) error {
	return n.publish(ctx, Subject(n.prefix, TypePaymentRequested, ev.TenantID), ev.Reference+":requested", ev)
}

func (n *JetStreamNotifier) PaymentConfirmed(ctx context.Context, ev contractx.FulfillmentEvent) error {
	return n.publish(ctx, Subject(n.prefix, TypeOrderConfirmed, ev.TenantID), ev.Reference+":confirmed", ev)
}

func (n *JetStreamNotifier) publish(ctx context.Context, subject, msgID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	if n.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.wait)
		defer cancel()
	}

	// The message id lets JetStream drop replays of the same order event.
	if _, err := n.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

func (n *JetStreamNotifier) Close() {
	if n.nc != nil {
		n.nc.Close()
	}
}

func defaultString(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
