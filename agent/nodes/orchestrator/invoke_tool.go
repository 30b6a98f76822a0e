package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	funnelx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/funnel"
)

func InvokeTool(
	ctx context.Context,
	in *GraphState,
	tools contractx.ToolGateway,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Decision.Tool == nil {
		return in, nil
	}

	result := tools.Invoke(ctx, in.TurnID, in.Tenant, *in.Decision.Tool)
	in.ToolResult = &result
	return in, nil
}

// ApplyToolResult folds the tool outcome back through the funnel.
func ApplyToolResult(in *GraphState, machine *funnelx.Machine) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.ToolResult == nil {
		return in, nil
	}

	before := in.Session.Stage
	in.Decision = machine.ApplyTool(in.Session, in.Decision, *in.ToolResult, in.Now)
	recordTransition(in, before, in.Session.Stage)
	return in, nil
}
