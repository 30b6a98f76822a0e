package orchestratornode

import (
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	funnelx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/funnel"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	metricsx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/metrics"
)

const (
	NodeInvokeTool   = "invoke_tool"
	NodeComposeReply = "compose_reply"
)

func DecideStage(in *GraphState, machine *funnelx.Machine) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Decision = machine.Decide(in.Session, in.Tenant, in.Intent, in.PrevActivity, in.Now)
	recordTransition(in, in.Decision.From, in.Decision.To)
	return in, nil
}

// NextAfterDecision routes to the tool node only when the decision asked for one.
func NextAfterDecision(in *GraphState) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Decision.Tool != nil && !in.Decision.Suppress {
		return NodeInvokeTool, nil
	}
	return NodeComposeReply, nil
}

func recordTransition(in *GraphState, from, to statex.Stage) {
	if from == to {
		return
	}
	metricsx.StageTransitions.WithLabelValues(string(from), string(to)).Inc()

	log.Info().
		Str("tenant_id", in.Tenant.ID).
		Str("customer_id", in.Session.CustomerID).
		Str("intent", string(in.Intent.Label)).
		Str("from", string(from)).
		Str("stage", string(to)).
		Msg("funnel stage changed")
}
