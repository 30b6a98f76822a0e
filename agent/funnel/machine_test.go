package funnel

import (
	"testing"
	"time"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testTenant() tenantx.Tenant {
	return tenantx.Tenant{
		ID:        "amaka",
		BrandName: "Amaka Fabrics",
		Payment: tenantx.PaymentDetails{
			BankName:          "GTBank",
			AccountName:       "Amaka Fabrics Ltd",
			AccountNumber:     "0123456789",
			Currency:          "NGN",
			PackageTotal:      250000,
			DepositPercentage: 0.5,
		},
	}
}

func newTestMachine() *Machine {
	m := New(Policy{})
	m.newReference = func() string { return "GRC-TEST0001" }
	return m
}

func sessionAt(stage statex.Stage, candidates ...string) *statex.Session {
	s := statex.NewSession("amaka", "+2348000000001", 10, testNow)
	s.Stage = stage
	s.SetCandidates(candidates)
	return s
}

func intent(label contractx.IntentLabel, confidence float64) contractx.Intent {
	return contractx.Intent{Label: label, Confidence: confidence, Source: contractx.SourceHeuristic}
}

func TestDecideTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		stage      statex.Stage
		candidates []string
		in         contractx.Intent
		wantStage  statex.Stage
		wantOb     contractx.Obligation
		wantTool   contractx.ToolKind
	}{
		{name: "greeting moves to discovery", stage: statex.StageGreeting, in: intent(contractx.IntentGreeting, 0.75), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationGreet},
		{name: "greeting with request only greets", stage: statex.StageGreeting, in: intent(contractx.IntentProductInquiry, 0.9), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationGreet},
		{name: "discovery inquiry searches", stage: statex.StageDiscovery, in: intent(contractx.IntentProductInquiry, 0.9), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationListing, wantTool: contractx.ToolCatalogMatch},
		{name: "discovery image matches", stage: statex.StageDiscovery, in: intent(contractx.IntentImageSubmission, 0.8), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationListing, wantTool: contractx.ToolImageMatch},
		{name: "discovery greeting prompts", stage: statex.StageDiscovery, in: intent(contractx.IntentGreeting, 0.75), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationPromptDiscovery},
		{name: "low confidence clarifies", stage: statex.StageDiscovery, in: intent(contractx.IntentProductInquiry, 0.3), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationClarify},
		{name: "unknown clarifies", stage: statex.StageSelection, in: intent(contractx.IntentUnknown, 0.9), wantStage: statex.StageSelection, wantOb: contractx.ObligationClarify},
		{name: "off topic redirects", stage: statex.StageDiscovery, in: intent(contractx.IntentOffTopic, 0.75), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationRedirect},
		{name: "selection re-searches", stage: statex.StageSelection, candidates: []string{"ANK-204"}, in: intent(contractx.IntentProductInquiry, 0.9), wantStage: statex.StageSelection, wantOb: contractx.ObligationListing, wantTool: contractx.ToolCatalogMatch},
		{name: "payment confirmed moves to fulfillment", stage: statex.StagePaymentConfirmed, in: intent(contractx.IntentGreeting, 0.75), wantStage: statex.StageFulfillment, wantOb: contractx.ObligationFulfillment},
		{name: "fulfillment stays when recent", stage: statex.StageFulfillment, in: intent(contractx.IntentGreeting, 0.75), wantStage: statex.StageFulfillment, wantOb: contractx.ObligationFulfillment},
		{name: "closed starts a new funnel", stage: statex.StageClosed, in: intent(contractx.IntentGreeting, 0.75), wantStage: statex.StageDiscovery, wantOb: contractx.ObligationGreet},
		{name: "low confidence holds greeting", stage: statex.StageGreeting, in: intent(contractx.IntentGreeting, 0.4), wantStage: statex.StageGreeting, wantOb: contractx.ObligationClarify},
		{name: "low confidence holds order summary", stage: statex.StageOrderSummary, in: intent(contractx.IntentFabricSelection, 0.4), wantStage: statex.StageOrderSummary, wantOb: contractx.ObligationClarify},
		{name: "low confidence holds payment confirmed", stage: statex.StagePaymentConfirmed, in: intent(contractx.IntentGreeting, 0.4), wantStage: statex.StagePaymentConfirmed, wantOb: contractx.ObligationClarify},
		{name: "low confidence holds fulfillment", stage: statex.StageFulfillment, in: intent(contractx.IntentUnknown, 0), wantStage: statex.StageFulfillment, wantOb: contractx.ObligationClarify},
		{name: "low confidence holds closed", stage: statex.StageClosed, in: intent(contractx.IntentProductInquiry, 0.3), wantStage: statex.StageClosed, wantOb: contractx.ObligationClarify},
		{name: "off topic holds order summary", stage: statex.StageOrderSummary, in: intent(contractx.IntentOffTopic, 0.75), wantStage: statex.StageOrderSummary, wantOb: contractx.ObligationRedirect},
		{name: "pending payment repeats instructions", stage: statex.StagePaymentPending, in: intent(contractx.IntentGreeting, 0.75), wantStage: statex.StagePaymentPending, wantOb: contractx.ObligationPaymentInstructions},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := sessionAt(tt.stage, tt.candidates...)
			d := newTestMachine().Decide(s, testTenant(), tt.in, testNow.Add(-time.Hour), testNow)

			if s.Stage != tt.wantStage || d.To != tt.wantStage {
				t.Fatalf("stage = %s (decision %s), want %s", s.Stage, d.To, tt.wantStage)
			}
			if d.From != tt.stage {
				t.Fatalf("from = %s, want %s", d.From, tt.stage)
			}
			if d.Obligation != tt.wantOb {
				t.Fatalf("obligation = %s, want %s", d.Obligation, tt.wantOb)
			}
			if d.OpenPayment && tt.stage != statex.StageOrderSummary {
				t.Fatalf("unexpected OpenPayment from %s", tt.stage)
			}
			if d.OpenPayment && tt.wantOb != contractx.ObligationPaymentInstructions {
				t.Fatalf("OpenPayment set with obligation %s", d.Obligation)
			}
			switch {
			case tt.wantTool == "" && d.Tool != nil:
				t.Fatalf("unexpected tool request %#v", d.Tool)
			case tt.wantTool != "" && (d.Tool == nil || d.Tool.Kind != tt.wantTool):
				t.Fatalf("tool = %#v, want %s", d.Tool, tt.wantTool)
			}
		})
	}
}

func TestDecideEscalationFromAnyStage(t *testing.T) {
	t.Parallel()

	for _, stage := range []statex.Stage{statex.StageGreeting, statex.StageDiscovery, statex.StageSelection, statex.StagePaymentPending, statex.StageFulfillment} {
		s := sessionAt(stage)
		d := newTestMachine().Decide(s, testTenant(), intent(contractx.IntentEscalation, 0.9), testNow, testNow)
		if s.Stage != statex.StageEscalated || !s.Escalated {
			t.Fatalf("%s: stage = %s escalated=%v", stage, s.Stage, s.Escalated)
		}
		if !d.Suppress || d.Obligation != contractx.ObligationHandoff {
			t.Fatalf("%s: unexpected decision %#v", stage, d)
		}
		if s.ResumeStage != stage {
			t.Fatalf("%s: resume stage = %s", stage, s.ResumeStage)
		}
	}
}

func TestDecideEscalatedSessionIsSuppressed(t *testing.T) {
	t.Parallel()

	s := sessionAt(statex.StageSelection, "ANK-204")
	s.Escalate()
	d := newTestMachine().Decide(s, testTenant(), intent(contractx.IntentFabricSelection, 0.9), testNow, testNow)
	if !d.Suppress || s.Stage != statex.StageEscalated || d.Tool != nil {
		t.Fatalf("escalated session was automated: stage=%s decision=%#v", s.Stage, d)
	}
}

func TestDecideSelection(t *testing.T) {
	t.Parallel()

	m := newTestMachine()

	s := sessionAt(statex.StageSelection, "ANK-204", "LACE-17")
	in := intent(contractx.IntentFabricSelection, 0.9)
	in.Slots.SKU = "lace-17"
	d := m.Decide(s, testTenant(), in, testNow, testNow)
	if s.Stage != statex.StageOrderSummary || d.Obligation != contractx.ObligationOrderSummary {
		t.Fatalf("valid selection: stage=%s obligation=%s", s.Stage, d.Obligation)
	}
	if len(s.PendingSelections) != 1 || s.PendingSelections[0] != "LACE-17" {
		t.Fatalf("selections = %v", s.PendingSelections)
	}

	s = sessionAt(statex.StageSelection, "ANK-204")
	in.Slots.SKU = "ZZZ-999"
	d = m.Decide(s, testTenant(), in, testNow, testNow)
	if s.Stage != statex.StageSelection || d.Obligation != contractx.ObligationClarifySelection {
		t.Fatalf("invalid selection: stage=%s obligation=%s", s.Stage, d.Obligation)
	}
	if len(s.PendingSelections) != 0 {
		t.Fatalf("invalid selection was recorded: %v", s.PendingSelections)
	}
}

func TestDecideOrderSummaryOpensPayment(t *testing.T) {
	t.Parallel()

	s := sessionAt(statex.StageOrderSummary)
	s.AddSelection("LACE-17")

	d := newTestMachine().Decide(s, testTenant(), intent(contractx.IntentFabricSelection, 0.75), testNow, testNow)
	if s.Stage != statex.StagePaymentPending || d.Obligation != contractx.ObligationPaymentInstructions {
		t.Fatalf("stage=%s obligation=%s", s.Stage, d.Obligation)
	}
	if !d.OpenPayment {
		t.Fatal("expected OpenPayment")
	}
	if s.Order == nil || s.Order.Reference != "GRC-TEST0001" || s.Order.DepositAmount != 125000 || s.Order.Currency != "NGN" {
		t.Fatalf("unexpected order %#v", s.Order)
	}
	if len(s.Order.SKUs) != 1 || s.Order.SKUs[0] != "LACE-17" {
		t.Fatalf("order skus = %v", s.Order.SKUs)
	}
}

func TestDecidePaymentProofRequestsStatus(t *testing.T) {
	t.Parallel()

	s := sessionAt(statex.StagePaymentPending)
	s.Order = &statex.Order{Reference: "GRC-AB12CD34", DepositAmount: 125000}

	d := newTestMachine().Decide(s, testTenant(), intent(contractx.IntentPaymentProof, 0.8), testNow, testNow)
	if s.PaymentStatus != statex.PaymentProofSubmitted {
		t.Fatalf("payment status = %s", s.PaymentStatus)
	}
	if d.Tool == nil || d.Tool.Kind != contractx.ToolPaymentStatus || d.Tool.Reference != "GRC-AB12CD34" {
		t.Fatalf("tool = %#v", d.Tool)
	}
	if s.Stage != statex.StagePaymentPending {
		t.Fatalf("stage = %s", s.Stage)
	}
}

func TestDecideFollowUpAfterProofRechecksPayment(t *testing.T) {
	t.Parallel()

	s := sessionAt(statex.StagePaymentPending)
	s.Order = &statex.Order{Reference: "GRC-AB12CD34", DepositAmount: 125000}
	s.AdvancePayment(statex.PaymentProofSubmitted)

	d := newTestMachine().Decide(s, testTenant(), intent(contractx.IntentGreeting, 0.75), testNow, testNow)
	if d.Obligation != contractx.ObligationPaymentReceivedPending {
		t.Fatalf("obligation = %s", d.Obligation)
	}
	if d.Tool == nil || d.Tool.Kind != contractx.ToolPaymentStatus || d.Tool.Reference != "GRC-AB12CD34" {
		t.Fatalf("tool = %#v", d.Tool)
	}
	if s.Stage != statex.StagePaymentPending || s.PaymentStatus != statex.PaymentProofSubmitted {
		t.Fatalf("stage=%s payment=%s", s.Stage, s.PaymentStatus)
	}

	s = sessionAt(statex.StagePaymentPending)
	s.Order = &statex.Order{Reference: "GRC-AB12CD34", DepositAmount: 125000}
	d = newTestMachine().Decide(s, testTenant(), intent(contractx.IntentGreeting, 0.75), testNow, testNow)
	if d.Tool != nil || d.Obligation != contractx.ObligationPaymentInstructions {
		t.Fatalf("before proof: decision %#v", d)
	}
}

func TestDecideFulfillmentClosesAfterIdle(t *testing.T) {
	t.Parallel()

	s := sessionAt(statex.StageFulfillment)
	d := newTestMachine().Decide(s, testTenant(), intent(contractx.IntentGreeting, 0.75), testNow.Add(-15*24*time.Hour), testNow)
	if s.Stage != statex.StageClosed || d.Obligation != contractx.ObligationClosed {
		t.Fatalf("stage=%s obligation=%s", s.Stage, d.Obligation)
	}
}

func TestApplyToolCatalog(t *testing.T) {
	t.Parallel()

	m := newTestMachine()
	products := []contractx.Product{{SKU: "ANK-204", Name: "Royal Ankara"}, {SKU: "ANK-210", Name: "Sunset Ankara"}}

	tests := []struct {
		name      string
		result    contractx.ToolResult
		wantStage statex.Stage
		wantOb    contractx.Obligation
	}{
		{
			name:      "found",
			result:    contractx.ToolResult{Kind: contractx.ToolCatalogMatch, OK: true, Products: products},
			wantStage: statex.StageSelection,
			wantOb:    contractx.ObligationListing,
		},
		{
			name:      "not found",
			result:    contractx.ToolResult{Kind: contractx.ToolCatalogMatch, Reason: contractx.ReasonNotFound},
			wantStage: statex.StageDiscovery,
			wantOb:    contractx.ObligationOfferAlternatives,
		},
		{
			name:      "timeout",
			result:    contractx.ToolResult{Kind: contractx.ToolCatalogMatch, Reason: contractx.ReasonTimeout},
			wantStage: statex.StageDiscovery,
			wantOb:    contractx.ObligationToolUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := sessionAt(statex.StageDiscovery)
			d := m.Decide(s, testTenant(), intent(contractx.IntentProductInquiry, 0.9), testNow, testNow)
			d = m.ApplyTool(s, d, tt.result, testNow)

			if s.Stage != tt.wantStage || d.To != tt.wantStage {
				t.Fatalf("stage = %s (decision %s), want %s", s.Stage, d.To, tt.wantStage)
			}
			if d.Obligation != tt.wantOb {
				t.Fatalf("obligation = %s, want %s", d.Obligation, tt.wantOb)
			}
			if tt.wantStage == statex.StageSelection {
				if !d.Listing || len(s.Candidates) != 2 || s.Candidates[0] != "ANK-204" {
					t.Fatalf("listing=%v candidates=%v", d.Listing, s.Candidates)
				}
			} else if d.Listing {
				t.Fatal("listing set without products")
			}
		})
	}
}

func TestApplyToolImageMatchKeepsOnlyMatchedSKU(t *testing.T) {
	t.Parallel()

	m := newTestMachine()
	s := sessionAt(statex.StageDiscovery)
	in := intent(contractx.IntentImageSubmission, 0.8)
	in.Slots.ImageURL = "https://cdn/photo.jpg"
	d := m.Decide(s, testTenant(), in, testNow, testNow)
	d = m.ApplyTool(s, d, contractx.ToolResult{
		Kind:       contractx.ToolImageMatch,
		OK:         true,
		MatchedSKU: "LACE-17",
		Products:   []contractx.Product{{SKU: "LACE-17"}, {SKU: "LACE-18"}},
	}, testNow)

	if s.Stage != statex.StageSelection || len(s.Candidates) != 1 || s.Candidates[0] != "LACE-17" {
		t.Fatalf("stage=%s candidates=%v", s.Stage, s.Candidates)
	}
	if d.Tool.ImageURL != "https://cdn/photo.jpg" {
		t.Fatalf("image url not forwarded: %#v", d.Tool)
	}
}

func TestApplyToolPayment(t *testing.T) {
	t.Parallel()

	m := newTestMachine()

	s := sessionAt(statex.StagePaymentPending)
	s.Order = &statex.Order{Reference: "GRC-AB12CD34"}
	d := m.Decide(s, testTenant(), intent(contractx.IntentPaymentProof, 0.8), testNow, testNow)
	d = m.ApplyTool(s, d, contractx.ToolResult{
		Kind:    contractx.ToolPaymentStatus,
		OK:      true,
		Payment: &contractx.PaymentInfo{State: contractx.PaymentStateConfirmed, Amount: 125000},
	}, testNow)
	if s.Stage != statex.StagePaymentConfirmed || s.PaymentStatus != statex.PaymentConfirmed {
		t.Fatalf("stage=%s payment=%s", s.Stage, s.PaymentStatus)
	}
	if !d.NotifyFulfillment || d.Obligation != contractx.ObligationPaymentConfirmed {
		t.Fatalf("unexpected decision %#v", d)
	}
	if s.Order.ConfirmedAt.IsZero() {
		t.Fatal("order confirmation time not set")
	}

	s = sessionAt(statex.StagePaymentPending)
	s.Order = &statex.Order{Reference: "GRC-AB12CD34"}
	d = m.Decide(s, testTenant(), intent(contractx.IntentPaymentProof, 0.8), testNow, testNow)
	d = m.ApplyTool(s, d, contractx.ToolResult{Kind: contractx.ToolPaymentStatus, Reason: contractx.ReasonTimeout}, testNow)
	if s.Stage != statex.StagePaymentPending || d.Obligation != contractx.ObligationPaymentReceivedPending || d.NotifyFulfillment {
		t.Fatalf("timeout: stage=%s decision=%#v", s.Stage, d)
	}
	if s.PaymentStatus != statex.PaymentProofSubmitted {
		t.Fatalf("payment status = %s", s.PaymentStatus)
	}
}

// Walks a customer from first hello to a confirmed deposit.
func TestFunnelHappyPath(t *testing.T) {
	t.Parallel()

	m := newTestMachine()
	tenant := testTenant()
	s := sessionAt(statex.StageGreeting)

	steps := []struct {
		in     contractx.Intent
		result *contractx.ToolResult
		want   statex.Stage
	}{
		{in: intent(contractx.IntentGreeting, 0.75), want: statex.StageDiscovery},
		{
			in:     intent(contractx.IntentProductInquiry, 0.9),
			result: &contractx.ToolResult{Kind: contractx.ToolCatalogMatch, OK: true, Products: []contractx.Product{{SKU: "ANK-204"}, {SKU: "LACE-17"}}},
			want:   statex.StageSelection,
		},
		{in: contractx.Intent{Label: contractx.IntentFabricSelection, Confidence: 0.9, Slots: contractx.Slots{SKU: "ANK-204"}}, want: statex.StageOrderSummary},
		{in: intent(contractx.IntentGreeting, 0.75), want: statex.StagePaymentPending},
		{
			in:     intent(contractx.IntentPaymentProof, 0.8),
			result: &contractx.ToolResult{Kind: contractx.ToolPaymentStatus, OK: true, Payment: &contractx.PaymentInfo{State: contractx.PaymentStateConfirmed}},
			want:   statex.StagePaymentConfirmed,
		},
		{in: intent(contractx.IntentGreeting, 0.75), want: statex.StageFulfillment},
	}

	prevOrdinal := -1
	for i, step := range steps {
		d := m.Decide(s, tenant, step.in, testNow, testNow)
		if step.result != nil {
			if d.Tool == nil {
				t.Fatalf("step %d: expected a tool request", i)
			}
			d = m.ApplyTool(s, d, *step.result, testNow)
		}
		if s.Stage != step.want {
			t.Fatalf("step %d: stage = %s, want %s", i, s.Stage, step.want)
		}
		if s.Stage.Ordinal() <= prevOrdinal {
			t.Fatalf("step %d: stage went backwards to %s", i, s.Stage)
		}
		prevOrdinal = s.Stage.Ordinal()
		if err := s.Validate(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestNewOrderReference(t *testing.T) {
	t.Parallel()

	a, b := newOrderReference(), newOrderReference()
	if len(a) != len("GRC-")+8 || a[:4] != "GRC-" {
		t.Fatalf("reference = %q", a)
	}
	if a == b {
		t.Fatalf("references collide: %q", a)
	}
}
