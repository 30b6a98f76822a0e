package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Lock.Release()

	reply := in.Reply
	if !reply.Suppressed && len(reply.Segments) == 0 {
		return GraphOutput{}, fmt.Errorf("%w: composer returned empty reply", contractx.ErrValidation)
	}
	if in.Session != nil {
		reply.Stage = in.Session.Stage
	}
	return GraphOutput{TenantID: in.Tenant.ID, Reply: reply}, nil
}
