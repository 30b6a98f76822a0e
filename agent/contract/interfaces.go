package contract

import (
	"context"

	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

type TenantResolver interface {
	Resolve(channel string) (tenantx.Tenant, error)
}

type Classifier interface {
	Classify(ctx context.Context, s *statex.Session, msg statex.Message) (Intent, error)
}

// IntentModel is the language-model capability behind the classifier.
type IntentModel interface {
	Predict(ctx context.Context, req IntentRequest) (Intent, error)
}

// Writer voices drafted replies. Implementations may fail; callers fall back to the draft.
type Writer interface {
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}

// ToolGateway never returns an error; failures are encoded in ToolResult.
type ToolGateway interface {
	Invoke(ctx context.Context, turnID string, t tenantx.Tenant, req ToolRequest) ToolResult
}

type Composer interface {
	Compose(ctx context.Context, t tenantx.Tenant, s *statex.Session, d Decision) Reply
}

// PaymentLedger records expected deposits so an accountant can verify them.
type PaymentLedger interface {
	Open(ctx context.Context, ev PaymentRequestedEvent) (verificationCode string, err error)
}

type Notifier interface {
	PaymentRequested(ctx context.Context, ev PaymentRequestedEvent) error
	PaymentConfirmed(ctx context.Context, ev FulfillmentEvent) error
}
