package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

func ClassifyIntent(
	ctx context.Context,
	in *GraphState,
	classifier contractx.Classifier,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	// Automation is off while a human owns the conversation.
	if in.Session.Escalated {
		in.Intent = contractx.Intent{Label: contractx.IntentUnknown, Source: contractx.SourceFallback}
		return in, nil
	}

	last := in.Session.Window[len(in.Session.Window)-1]
	got, err := classifier.Classify(ctx, in.Session, last)
	if err != nil {
		log.Warn().
			Err(err).
			Str("tenant_id", in.Tenant.ID).
			Str("customer_id", in.Session.CustomerID).
			Msg("intent classification failed")
		got = contractx.Intent{Label: contractx.IntentUnknown, Source: contractx.SourceFallback}
	}

	in.Intent = got
	return in, nil
}
