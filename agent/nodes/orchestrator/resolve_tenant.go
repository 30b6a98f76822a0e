package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

func ResolveTenant(in *GraphState, tenants contractx.TenantResolver) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	t, err := tenants.Resolve(in.Message.Channel)
	if err != nil {
		return nil, err
	}
	in.Tenant = t
	return in, nil
}
