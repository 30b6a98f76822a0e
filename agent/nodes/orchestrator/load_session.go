package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
)

type SessionConfig struct {
	WindowSize int
	// LoadRetryDelay is the pause before the single retry of a failed load.
	LoadRetryDelay time.Duration
}

// LoadSession takes the per-session lock, loads (or starts) the session and
// appends the inbound message.
func LoadSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	locker statex.Locker,
	cfg SessionConfig,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	key := statex.SessionKey(in.Tenant.ID, in.Message.CustomerID)
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	in.Lock.set(release)

	s, err := statex.LoadOrNew(ctx, store, in.Tenant.ID, in.Message.CustomerID, cfg.WindowSize, in.Now)
	if errors.Is(err, statex.ErrStoreUnavailable) {
		log.Warn().
			Err(err).
			Str("tenant_id", in.Tenant.ID).
			Str("customer_id", in.Message.CustomerID).
			Msg("session load failed, retrying once")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.LoadRetryDelay):
		}
		s, err = statex.LoadOrNew(ctx, store, in.Tenant.ID, in.Message.CustomerID, cfg.WindowSize, in.Now)
	}
	if err != nil {
		return nil, err
	}

	in.PrevActivity = s.LastActivity
	if in.Message.Name != "" {
		s.CustomerName = in.Message.Name
	}
	s.AppendMessage(statex.Message{
		ID:        uuid.NewString(),
		Role:      statex.RoleCustomer,
		Text:      in.Message.Text,
		MediaURLs: in.Message.MediaURLs,
		At:        in.Message.ReceivedAt.UTC(),
	})

	in.Session = s
	return in, nil
}
