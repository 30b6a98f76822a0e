package events

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

const (
	TypePaymentRequested = "payment.requested"
	TypeOrderConfirmed   = "order.confirmed"
)

// Subject builds "<prefix>.<type>.<tenant>" with dots in the tenant id replaced.
func Subject(prefix, eventType, tenantID string) string {
	tenant := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(strings.TrimSpace(tenantID))
	if tenant == "" {
		tenant = "unknown"
	}
	return strings.Join([]string{prefix, eventType, tenant}, ".")
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []contractx.Notifier

var _ contractx.Notifier = Multi(nil)

func (m Multi) PaymentRequested(ctx context.Context, ev contractx.PaymentRequestedEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.PaymentRequested(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PaymentConfirmed(ctx context.Context, ev contractx.FulfillmentEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.PaymentConfirmed(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the global logger. It is the notifier of last resort.
type LogNotifier struct{}

var _ contractx.Notifier = LogNotifier{}

func (LogNotifier) PaymentRequested(_ context.Context, ev contractx.PaymentRequestedEvent) error {
	log.Info().
		Str("event", TypePaymentRequested).
		Str("tenant_id", ev.TenantID).
		Str("customer_id", ev.CustomerID).
		Str("reference", ev.Reference).
		Int64("amount", ev.Amount).
		Str("currency", ev.Currency).
		Str("accountant", ev.Accountant).
		Str("verification_code", ev.VerificationCode).
		Msg("payment requested")
	return nil
}

func (LogNotifier) PaymentConfirmed(_ context.Context, ev contractx.FulfillmentEvent) error {
	log.Info().
		Str("event", TypeOrderConfirmed).
		Str("tenant_id", ev.TenantID).
		Str("customer_id", ev.CustomerID).
		Str("reference", ev.Reference).
		Strs("skus", ev.SKUs).
		Int64("amount", ev.Amount).
		Msg("order confirmed")
	return nil
}
