package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

// NotifyFulfillment records the payment the customer was asked for and tells the
// tenant's back office about new and confirmed orders. The turn has already been
// saved, so failures here are logged and never change the reply.
func NotifyFulfillment(
	ctx context.Context,
	in *GraphState,
	ledger contractx.PaymentLedger,
	notifier contractx.Notifier,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	order := in.Session.Order
	if order == nil {
		return in, nil
	}

	logger := log.With().
		Str("tenant_id", in.Tenant.ID).
		Str("customer_id", in.Session.CustomerID).
		Str("reference", order.Reference).
		Logger()

	if in.Decision.OpenPayment {
		ev := contractx.PaymentRequestedEvent{
			TenantID:   in.Tenant.ID,
			CustomerID: in.Session.CustomerID,
			Reference:  order.Reference,
			Amount:     order.DepositAmount,
			Currency:   order.Currency,
			Accountant: in.Tenant.AccountantContact,
			At:         in.Now,
		}
		if ledger != nil {
			code, err := ledger.Open(ctx, ev)
			if err != nil {
				logger.Error().Err(err).Msg("open payment ledger entry failed")
			}
			ev.VerificationCode = code
		}
		if notifier != nil {
			if err := notifier.PaymentRequested(ctx, ev); err != nil {
				logger.Error().Err(err).Msg("notify accountant failed")
			}
		}
	}

	if in.Decision.NotifyFulfillment && notifier != nil {
		ev := contractx.FulfillmentEvent{
			TenantID:   in.Tenant.ID,
			CustomerID: in.Session.CustomerID,
			Reference:  order.Reference,
			SKUs:       append([]string(nil), order.SKUs...),
			Amount:     order.DepositAmount,
			Currency:   order.Currency,
			At:         in.Now,
		}
		if err := notifier.PaymentConfirmed(ctx, ev); err != nil {
			logger.Error().Err(err).Msg("notify fulfillment failed")
		}
	}

	return in, nil
}
