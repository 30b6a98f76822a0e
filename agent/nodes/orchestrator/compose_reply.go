package orchestratornode

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
)

func ComposeReply(
	ctx context.Context,
	in *GraphState,
	composer contractx.Composer,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	reply := composer.Compose(ctx, in.Tenant, in.Session, in.Decision)
	if !reply.Suppressed && len(reply.Segments) > 0 {
		in.Session.AppendMessage(statex.Message{
			ID:   uuid.NewString(),
			Role: statex.RoleAssistant,
			Text: reply.Text(),
			At:   in.Now,
		})
	}

	in.Reply = reply
	return in, nil
}
