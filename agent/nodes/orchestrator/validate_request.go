package orchestratornode

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

var (
	ErrInvalidMessage  = errors.New("message has neither text nor media")
	ErrInvalidCustomer = errors.New("customer id is empty")
	ErrInvalidChannel  = errors.New("channel is empty")
)

type GraphInput struct {
	Message contractx.InboundMessage
	// Lock is released by finalize_reply, or by the caller when the graph aborts.
	Lock *LockHandle
}

type GraphOutput struct {
	TenantID string
	Reply    contractx.Reply
}

type GraphState struct {
	TurnID  string
	Message contractx.InboundMessage
	Now     time.Time
	Lock    *LockHandle

	Tenant       tenantx.Tenant
	Session      *statex.Session
	PrevActivity time.Time

	Intent     contractx.Intent
	Decision   contractx.Decision
	ToolResult *contractx.ToolResult
	Reply      contractx.Reply
}

// LockHandle carries a session lock's release func across graph nodes.
type LockHandle struct {
	mu      sync.Mutex
	release func()
}

func (h *LockHandle) set(release func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.release = release
}

// Release is safe to call more than once.
func (h *LockHandle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	release := h.release
	h.release = nil
	h.mu.Unlock()
	if release != nil {
		release()
	}
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	msg := in.Message
	msg.Channel = strings.TrimSpace(msg.Channel)
	msg.CustomerID = strings.TrimSpace(msg.CustomerID)
	msg.Text = strings.TrimSpace(msg.Text)

	if msg.Channel == "" {
		return nil, ErrInvalidChannel
	}
	if msg.CustomerID == "" {
		return nil, ErrInvalidCustomer
	}

	media := msg.MediaURLs[:0:0]
	for _, u := range msg.MediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			media = append(media, u)
		}
	}
	msg.MediaURLs = media
	if msg.Text == "" && len(msg.MediaURLs) == 0 {
		return nil, ErrInvalidMessage
	}

	now := nowFn().UTC()
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}

	lock := in.Lock
	if lock == nil {
		lock = &LockHandle{}
	}

	return &GraphState{
		TurnID:  uuid.NewString(),
		Message: msg,
		Now:     now,
		Lock:    lock,
	}, nil
}
