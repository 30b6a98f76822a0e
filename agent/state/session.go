package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Session is the persisted conversation between one customer and one tenant.
// - Funnel position: Stage (+ ResumeStage while escalated)
// - Short-term memory: Window, bounded by WindowSize
// - Commerce progress: Candidates, PendingSelections, PaymentStatus, Order
type Session struct {
	// Identity
	TenantID   string `json:"tenant_id"`
	CustomerID string `json:"customer_id"`

	Stage       Stage `json:"stage"`
	ResumeStage Stage `json:"resume_stage,omitempty"`

	Window     []Message `json:"window,omitempty"`
	WindowSize int       `json:"window_size"`

	Candidates        []string      `json:"candidates,omitempty"`
	PendingSelections []string      `json:"pending_selections,omitempty"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	Order             *Order        `json:"order,omitempty"`

	Escalated           bool `json:"escalated,omitempty"`
	HandoffAcknowledged bool `json:"handoff_acknowledged,omitempty"`

	FallbackCount  int       `json:"fallback_count,omitempty"`
	LastFallbackAt time.Time `json:"last_fallback_at,omitempty"`

	CustomerName string `json:"customer_name,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`

	// Version is bumped by every successful Save.
	Version int64 `json:"version"`
}

type Stage string

const (
	StageGreeting         Stage = "GREETING"
	StageDiscovery        Stage = "DISCOVERY"
	StageSelection        Stage = "SELECTION"
	StageOrderSummary     Stage = "ORDER_SUMMARY"
	StagePaymentPending   Stage = "PAYMENT_PENDING"
	StagePaymentConfirmed Stage = "PAYMENT_CONFIRMED"
	StageFulfillment      Stage = "FULFILLMENT"
	StageClosed           Stage = "CLOSED"
	StageEscalated        Stage = "ESCALATED"
)

var stageOrdinals = map[Stage]int{
	StageGreeting:         0,
	StageDiscovery:        1,
	StageSelection:        2,
	StageOrderSummary:     3,
	StagePaymentPending:   4,
	StagePaymentConfirmed: 5,
	StageFulfillment:      6,
	StageClosed:           7,
	StageEscalated:        8,
}

func (s Stage) Valid() bool {
	_, ok := stageOrdinals[s]
	return ok
}

// Ordinal is the position of the stage in the funnel. ESCALATED sorts last.
func (s Stage) Ordinal() int {
	if n, ok := stageOrdinals[s]; ok {
		return n
	}
	return -1
}

type PaymentStatus string

const (
	PaymentNone           PaymentStatus = "none"
	PaymentProofSubmitted PaymentStatus = "proof_submitted"
	PaymentConfirmed      PaymentStatus = "confirmed"
)

func (p PaymentStatus) rank() int {
	switch p {
	case PaymentProofSubmitted:
		return 1
	case PaymentConfirmed:
		return 2
	default:
		return 0
	}
}

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text,omitempty"`
	MediaURLs []string  `json:"media_urls,omitempty"`
	At        time.Time `json:"at"`
}

func (m Message) HasMedia() bool {
	return len(m.MediaURLs) > 0
}

type Order struct {
	Reference     string    `json:"reference"`
	SKUs          []string  `json:"skus,omitempty"`
	DepositAmount int64     `json:"deposit_amount"`
	Currency      string    `json:"currency,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	ConfirmedAt   time.Time `json:"confirmed_at,omitempty"`
}

const DefaultWindowSize = 10

var (
	ErrInvalidStage   = errors.New("invalid funnel stage")
	ErrWindowOverflow = errors.New("message window exceeds bound")
)

/* -------------------------- Session helpers ------------------------------ */

// SessionKey is the storage identity of a session.
func SessionKey(tenantID, customerID string) string {
	return strings.TrimSpace(tenantID) + ":" + strings.TrimSpace(customerID)
}

func NewSession(tenantID, customerID string, windowSize int, now time.Time) *Session {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Session{
		TenantID:      strings.TrimSpace(tenantID),
		CustomerID:    strings.TrimSpace(customerID),
		Stage:         StageGreeting,
		WindowSize:    windowSize,
		PaymentStatus: PaymentNone,
		CreatedAt:     now.UTC(),
		LastActivity:  now.UTC(),
	}
}

func (s *Session) Key() string {
	return SessionKey(s.TenantID, s.CustomerID)
}

func (s *Session) Touch(now time.Time) {
	s.LastActivity = now.UTC()
}

// Restart reopens an archived session as a fresh GREETING conversation.
// Identity and Version are kept so the next Save overwrites the archived row.
func (s *Session) Restart(now time.Time) {
	fresh := NewSession(s.TenantID, s.CustomerID, s.WindowSize, now)
	fresh.Version = s.Version
	fresh.CustomerName = s.CustomerName
	*s = *fresh
}

// AppendMessage adds m to the window, evicting the oldest entries beyond WindowSize.
func (s *Session) AppendMessage(m Message) {
	if s.WindowSize <= 0 {
		s.WindowSize = DefaultWindowSize
	}
	s.Window = append(s.Window, m)
	if over := len(s.Window) - s.WindowSize; over > 0 {
		trimmed := make([]Message, s.WindowSize)
		copy(trimmed, s.Window[over:])
		s.Window = trimmed
	}
	if m.At.After(s.LastActivity) {
		s.LastActivity = m.At.UTC()
	}
}

// History returns the window as "role: text" lines, oldest first.
func (s *Session) History() []string {
	out := make([]string, 0, len(s.Window))
	for _, m := range s.Window {
		text := strings.TrimSpace(m.Text)
		if text == "" && m.HasMedia() {
			text = "[image]"
		}
		if text == "" {
			continue
		}
		out = append(out, string(m.Role)+": "+text)
	}
	return out
}

// AdvancePayment moves PaymentStatus forward. It reports whether the status changed.
func (s *Session) AdvancePayment(p PaymentStatus) bool {
	if p.rank() <= s.PaymentStatus.rank() {
		return false
	}
	s.PaymentStatus = p
	return true
}

// Escalate parks the current stage and hands the conversation to a human.
func (s *Session) Escalate() {
	if s.Stage != StageEscalated {
		s.ResumeStage = s.Stage
	}
	s.Stage = StageEscalated
	s.Escalated = true
}

// ClearEscalation returns the session to the stage it was escalated from.
func (s *Session) ClearEscalation() {
	if !s.Escalated && s.Stage != StageEscalated {
		return
	}
	resume := s.ResumeStage
	if !resume.Valid() || resume == StageEscalated {
		resume = StageDiscovery
	}
	s.Stage = resume
	s.ResumeStage = ""
	s.Escalated = false
	s.HandoffAcknowledged = false
	s.FallbackCount = 0
}

func (s *Session) SetCandidates(skus []string) {
	s.Candidates = dedupe(skus)
}

// CandidateSKU resolves ref against Candidates, ignoring case. Empty when not offered.
func (s *Session) CandidateSKU(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	for _, c := range s.Candidates {
		if strings.EqualFold(c, ref) {
			return c
		}
	}
	return ""
}

func (s *Session) AddSelection(sku string) {
	s.PendingSelections = dedupe(append(s.PendingSelections, sku))
	sort.Strings(s.PendingSelections)
}

// RecordFallback counts fallback replies inside window and returns the running count.
func (s *Session) RecordFallback(now time.Time, window time.Duration) int {
	if s.LastFallbackAt.IsZero() || now.Sub(s.LastFallbackAt) > window {
		s.FallbackCount = 0
	}
	s.FallbackCount++
	s.LastFallbackAt = now.UTC()
	return s.FallbackCount
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Window = make([]Message, len(s.Window))
	for i, m := range s.Window {
		m.MediaURLs = append([]string(nil), m.MediaURLs...)
		cp.Window[i] = m
	}
	cp.Candidates = append([]string(nil), s.Candidates...)
	cp.PendingSelections = append([]string(nil), s.PendingSelections...)
	if s.Order != nil {
		o := *s.Order
		o.SKUs = append([]string(nil), s.Order.SKUs...)
		cp.Order = &o
	}
	if s.ArchivedAt != nil {
		at := *s.ArchivedAt
		cp.ArchivedAt = &at
	}
	return &cp
}

func (s *Session) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" || strings.TrimSpace(s.CustomerID) == "" {
		return ErrInvalidSession
	}
	if !s.Stage.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, s.Stage)
	}
	if s.WindowSize > 0 && len(s.Window) > s.WindowSize {
		return fmt.Errorf("%w: len=%d bound=%d", ErrWindowOverflow, len(s.Window), s.WindowSize)
	}
	if s.Stage == StageEscalated && !s.Escalated {
		return fmt.Errorf("%w: escalated stage without escalation flag", ErrInvalidStage)
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
