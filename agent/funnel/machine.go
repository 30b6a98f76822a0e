package funnel

import (
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	intentx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/intent"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

const (
	DefaultFulfillmentIdle = 14 * 24 * time.Hour
)

type Policy struct {
	// ConfidenceThreshold is taken from the intent classifier so both gates agree.
	ConfidenceThreshold float64       `ignored:"true"`
	FulfillmentIdle     time.Duration `split_words:"true" default:"336h"`
}

// Machine applies the sales funnel transition table to a session.
// Decide runs before any tool call, ApplyTool after it. Both mutate the session
// they are given and return the Decision the composer must honor.
type Machine struct {
	policy       Policy
	newReference func() string
}

func New(policy Policy) *Machine {
	if policy.ConfidenceThreshold <= 0 || policy.ConfidenceThreshold > 1 {
		policy.ConfidenceThreshold = intentx.DefaultConfidenceThreshold
	}
	if policy.FulfillmentIdle <= 0 {
		policy.FulfillmentIdle = DefaultFulfillmentIdle
	}
	return &Machine{policy: policy, newReference: newOrderReference}
}

func (m *Machine) Threshold() float64 {
	return m.policy.ConfidenceThreshold
}

func newOrderReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "GRC-" + strings.ToUpper(id[:8])
}

// Decide evaluates the pre-tool transition for intent in. prevActivity is the
// session's last activity before the current message was appended.
func (m *Machine) Decide(
	s *statex.Session,
	t tenantx.Tenant,
	in contractx.Intent,
	prevActivity time.Time,
	now time.Time,
) contractx.Decision {
	d := contractx.Decision{From: s.Stage, To: s.Stage}

	if s.Stage == statex.StageEscalated || s.Escalated {
		d.Suppress = true
		d.Obligation = contractx.ObligationHandoff
		d.Notes = append(d.Notes, "automation_suppressed")
		return d
	}

	if in.Label == contractx.IntentEscalation {
		s.Escalate()
		d.To = s.Stage
		d.Suppress = true
		d.Obligation = contractx.ObligationHandoff
		d.Notes = append(d.Notes, "customer_requested_human")
		return d
	}

	// Low confidence never moves the funnel, not even in stages that advance on any input.
	if in.Label == contractx.IntentUnknown || in.Confidence < m.policy.ConfidenceThreshold {
		d.Obligation = contractx.ObligationClarify
		d.Notes = append(d.Notes, "low_confidence")
		return d
	}
	if in.Label == contractx.IntentOffTopic {
		d.Obligation = contractx.ObligationRedirect
		return d
	}

	switch s.Stage {
	case statex.StageGreeting:
		return m.transition(s, d, statex.StageDiscovery, contractx.ObligationGreet, nil)
	case statex.StageOrderSummary:
		return m.openPayment(s, t, d, now)
	case statex.StagePaymentConfirmed:
		return m.transition(s, d, statex.StageFulfillment, contractx.ObligationFulfillment, nil)
	case statex.StageFulfillment:
		if !prevActivity.IsZero() && now.Sub(prevActivity) > m.policy.FulfillmentIdle {
			return m.transition(s, d, statex.StageClosed, contractx.ObligationClosed, nil)
		}
		d.Obligation = contractx.ObligationFulfillment
		return d
	case statex.StageClosed:
		s.Candidates = nil
		s.PendingSelections = nil
		s.Order = nil
		s.PaymentStatus = statex.PaymentNone
		return m.transition(s, d, statex.StageDiscovery, contractx.ObligationGreet, nil)
	case statex.StageDiscovery:
		switch in.Label {
		case contractx.IntentProductInquiry:
			d.Tool = catalogTool(in)
			d.Obligation = contractx.ObligationListing
		case contractx.IntentImageSubmission:
			d.Tool = &contractx.ToolRequest{Kind: contractx.ToolImageMatch, ImageURL: in.Slots.ImageURL}
			d.Obligation = contractx.ObligationListing
		default:
			d.Obligation = contractx.ObligationPromptDiscovery
		}
	case statex.StageSelection:
		switch in.Label {
		case contractx.IntentFabricSelection:
			sku := s.CandidateSKU(in.Slots.SKU)
			if sku == "" {
				d.Obligation = contractx.ObligationClarifySelection
				d.Notes = append(d.Notes, "selection_not_offered")
				return d
			}
			s.AddSelection(sku)
			return m.transition(s, d, statex.StageOrderSummary, contractx.ObligationOrderSummary, nil)
		case contractx.IntentProductInquiry:
			d.Tool = catalogTool(in)
			d.Obligation = contractx.ObligationListing
		case contractx.IntentImageSubmission:
			d.Tool = &contractx.ToolRequest{Kind: contractx.ToolImageMatch, ImageURL: in.Slots.ImageURL}
			d.Obligation = contractx.ObligationListing
		default:
			d.Obligation = contractx.ObligationClarifySelection
		}
	case statex.StagePaymentPending:
		// Once proof is in, every follow-up re-checks the ledger.
		if in.Label == contractx.IntentPaymentProof || s.PaymentStatus == statex.PaymentProofSubmitted {
			s.AdvancePayment(statex.PaymentProofSubmitted)
			ref := ""
			if s.Order != nil {
				ref = s.Order.Reference
			}
			d.Tool = &contractx.ToolRequest{Kind: contractx.ToolPaymentStatus, Reference: ref}
			d.Obligation = contractx.ObligationPaymentReceivedPending
			return d
		}
		d.Obligation = contractx.ObligationPaymentInstructions
	}
	return d
}

// ApplyTool folds a tool result into the session and finalizes the decision.
func (m *Machine) ApplyTool(s *statex.Session, d contractx.Decision, r contractx.ToolResult, now time.Time) contractx.Decision {
	d.Result = &r
	if d.Tool == nil {
		return d
	}

	switch r.Kind {
	case contractx.ToolCatalogMatch, contractx.ToolImageMatch:
		switch {
		case r.OK && len(r.Products) > 0:
			skus := make([]string, 0, len(r.Products))
			if r.Kind == contractx.ToolImageMatch && r.MatchedSKU != "" {
				skus = append(skus, r.MatchedSKU)
			} else {
				for _, p := range r.Products {
					skus = append(skus, p.SKU)
				}
			}
			s.SetCandidates(skus)
			d.Listing = true
			return m.transition(s, d, statex.StageSelection, contractx.ObligationListing, nil)
		case r.Failed():
			d.Obligation = contractx.ObligationToolUnavailable
			d.Notes = append(d.Notes, "tool_"+string(r.Reason))
		default:
			d.Obligation = contractx.ObligationOfferAlternatives
		}
	case contractx.ToolPaymentStatus:
		if r.OK && r.Payment != nil && r.Payment.State == contractx.PaymentStateConfirmed {
			s.AdvancePayment(statex.PaymentConfirmed)
			if s.Order != nil {
				s.Order.ConfirmedAt = now.UTC()
			}
			d.NotifyFulfillment = true
			return m.transition(s, d, statex.StagePaymentConfirmed, contractx.ObligationPaymentConfirmed, nil)
		}
		if r.Failed() {
			d.Notes = append(d.Notes, "tool_"+string(r.Reason))
		}
		d.Obligation = contractx.ObligationPaymentReceivedPending
	}
	return d
}

func (m *Machine) openPayment(s *statex.Session, t tenantx.Tenant, d contractx.Decision, now time.Time) contractx.Decision {
	if s.Order == nil {
		s.Order = &statex.Order{
			Reference:     m.newReference(),
			SKUs:          append([]string(nil), s.PendingSelections...),
			DepositAmount: t.DepositAmount(),
			Currency:      t.Currency(),
			OpenedAt:      now.UTC(),
		}
		d.OpenPayment = true
	}
	return m.transition(s, d, statex.StagePaymentPending, contractx.ObligationPaymentInstructions, nil)
}

func (m *Machine) transition(
	s *statex.Session,
	d contractx.Decision,
	to statex.Stage,
	obligation contractx.Obligation,
	tool *contractx.ToolRequest,
) contractx.Decision {
	s.Stage = to
	d.To = to
	d.Obligation = obligation
	d.Tool = tool
	return d
}

func catalogTool(in contractx.Intent) *contractx.ToolRequest {
	return &contractx.ToolRequest{
		Kind:  contractx.ToolCatalogMatch,
		Query: in.Slots.Query,
		SKU:   in.Slots.SKU,
	}
}
