package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
)

type fakeIntentModel struct {
	responses []contractx.Intent
	errs      []error
	calls     int
	lastReq   contractx.IntentRequest
}

func (f *fakeIntentModel) Predict(ctx context.Context, req contractx.IntentRequest) (contractx.Intent, error) {
	idx := f.calls
	f.calls++
	f.lastReq = req
	if idx < len(f.errs) && f.errs[idx] != nil {
		return contractx.Intent{}, f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return contractx.Intent{}, errors.New("no fake response left")
}

func session(stage statex.Stage, candidates ...string) *statex.Session {
	s := statex.NewSession("t1", "c1", 10, time.Now())
	s.Stage = stage
	s.SetCandidates(candidates)
	return s
}

func text(t string) statex.Message {
	return statex.Message{Role: statex.RoleCustomer, Text: t, At: time.Now()}
}

func TestHeuristicLabels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stage statex.Stage
		msg   statex.Message
		want  contractx.IntentLabel
	}{
		{name: "greeting", stage: statex.StageGreeting, msg: text("Hello!"), want: contractx.IntentGreeting},
		{name: "greeting with request", stage: statex.StageGreeting, msg: text("hi, do you have ankara prints?"), want: contractx.IntentProductInquiry},
		{name: "catalog", stage: statex.StageDiscovery, msg: text("Show me your new arrivals"), want: contractx.IntentProductInquiry},
		{name: "off topic", stage: statex.StageDiscovery, msg: text("what's the weather like in lagos"), want: contractx.IntentOffTopic},
		{name: "escalation", stage: statex.StageSelection, msg: text("I want to speak to a real person"), want: contractx.IntentEscalation},
		{name: "payment text", stage: statex.StagePaymentPending, msg: text("I have paid, here is my receipt"), want: contractx.IntentPaymentProof},
		{name: "bare image", stage: statex.StageDiscovery, msg: statex.Message{MediaURLs: []string{"https://x/img.jpg"}}, want: contractx.IntentImageSubmission},
		{name: "gibberish", stage: statex.StageDiscovery, msg: text("qwpoeiru"), want: contractx.IntentUnknown},
		{name: "not a greeting inside a word", stage: statex.StageDiscovery, msg: text("this"), want: contractx.IntentUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Heuristic{}.Classify(session(tt.stage), tt.msg)
			if got.Label != tt.want {
				t.Fatalf("Classify(%q) = %s (%.2f), want %s", tt.msg.Text, got.Label, got.Confidence, tt.want)
			}
		})
	}
}

func TestHeuristicSelectsCandidate(t *testing.T) {
	t.Parallel()

	s := session(statex.StageSelection, "ANK-204", "LACE-17", "ASO-9")
	tests := map[string]string{
		"I'll take lace-17":     "LACE-17",
		"the second one please": "LACE-17",
		"3":                     "ASO-9",
		"option 1":              "ANK-204",
	}
	for in, want := range tests {
		got := Heuristic{}.Classify(s, text(in))
		if got.Slots.SKU != want {
			t.Fatalf("Classify(%q).Slots.SKU = %q, want %q", in, got.Slots.SKU, want)
		}
	}
}

func TestHeuristicCandidateNeedsWholeCode(t *testing.T) {
	t.Parallel()

	s := session(statex.StageSelection, "LACE-1", "LACE-12")

	got := Heuristic{}.Classify(s, text("I'll take LACE-12"))
	if got.Slots.SKU != "LACE-12" {
		t.Fatalf("SKU = %q, want LACE-12", got.Slots.SKU)
	}

	got = Heuristic{}.Classify(s, text("I'll take lace-1 or lace-12"))
	if got.Slots.SKU != "" {
		t.Fatalf("ambiguous pick resolved to %q", got.Slots.SKU)
	}
	if got.Label != contractx.IntentFabricSelection {
		t.Fatalf("label = %s, want fabric_selection", got.Label)
	}
}

func TestHeuristicAcknowledgement(t *testing.T) {
	t.Parallel()

	got := Heuristic{}.Classify(session(statex.StageOrderSummary), text("Ok"))
	if got.Label != contractx.IntentFabricSelection || got.Confidence < DefaultConfidenceThreshold {
		t.Fatalf("Classify(ok) = %s (%.2f)", got.Label, got.Confidence)
	}

	got = Heuristic{}.Classify(session(statex.StageDiscovery), text("ok show me your lace"))
	if got.Label != contractx.IntentProductInquiry {
		t.Fatalf("acknowledgement overrode inquiry: %s", got.Label)
	}
}

func TestHeuristicQuantity(t *testing.T) {
	t.Parallel()

	got := Heuristic{}.Classify(session(statex.StageDiscovery), text("do you have 12 yards of lace"))
	if got.Slots.Quantity != 12 {
		t.Fatalf("Quantity = %d, want 12", got.Slots.Quantity)
	}
	if got.Slots.Query == "" {
		t.Fatal("expected a catalog query slot")
	}
}

func TestClassifierStageBiasPaymentProof(t *testing.T) {
	t.Parallel()

	c := New(nil, Config{})
	msg := statex.Message{Role: statex.RoleCustomer, MediaURLs: []string{"https://cdn/receipt.jpg"}, At: time.Now()}

	got, err := c.Classify(context.Background(), session(statex.StagePaymentPending), msg)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != contractx.IntentPaymentProof {
		t.Fatalf("label = %s, want payment_proof", got.Label)
	}

	got, err = c.Classify(context.Background(), session(statex.StageDiscovery), msg)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != contractx.IntentImageSubmission {
		t.Fatalf("label outside payment stage = %s, want image_submission", got.Label)
	}
}

func TestClassifierEscalationAlwaysWins(t *testing.T) {
	t.Parallel()

	c := New(nil, Config{})
	got, err := c.Classify(context.Background(), session(statex.StageDiscovery), text("do you have lace? actually let me talk to a human"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != contractx.IntentEscalation {
		t.Fatalf("label = %s, want escalation", got.Label)
	}
}

func TestClassifierSkipsModelWhenConfident(t *testing.T) {
	t.Parallel()

	model := &fakeIntentModel{}
	c := New(model, Config{})
	got, err := c.Classify(context.Background(), session(statex.StageDiscovery), text("show me your catalog"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("model calls = %d, want 0", model.calls)
	}
	if got.Source != contractx.SourceHeuristic {
		t.Fatalf("source = %s", got.Source)
	}
}

func TestClassifierRetriesModelOnce(t *testing.T) {
	t.Parallel()

	model := &fakeIntentModel{
		errs:      []error{contractx.ErrModelInvoke},
		responses: []contractx.Intent{{}, {Label: contractx.IntentProductInquiry, Confidence: 0.8, Slots: contractx.Slots{Query: "bridal lace"}}},
	}
	c := New(model, Config{})
	s := session(statex.StageDiscovery)
	s.AppendMessage(text("hello"))

	got, err := c.Classify(context.Background(), s, text("something for my sister's wedding"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("model calls = %d, want 2", model.calls)
	}
	if got.Label != contractx.IntentProductInquiry || got.Source != contractx.SourceLLM {
		t.Fatalf("unexpected intent: %#v", got)
	}
	if model.lastReq.Stage != statex.StageDiscovery || len(model.lastReq.History) != 1 {
		t.Fatalf("unexpected model request: %#v", model.lastReq)
	}
}

func TestClassifierModelAnswerKeepsQuery(t *testing.T) {
	t.Parallel()

	model := &fakeIntentModel{responses: []contractx.Intent{{Label: contractx.IntentProductInquiry, Confidence: 0.8}}}
	c := New(model, Config{})

	got, err := c.Classify(context.Background(), session(statex.StageDiscovery), text("Something for my sister's wedding"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Source != contractx.SourceLLM || got.Label != contractx.IntentProductInquiry {
		t.Fatalf("unexpected intent: %#v", got)
	}
	if got.Slots.Query != "something for my sister's wedding" {
		t.Fatalf("query = %q", got.Slots.Query)
	}
}

func TestClassifierFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	model := &fakeIntentModel{errs: []error{contractx.ErrModelInvoke, contractx.ErrModelInvoke}}
	c := New(model, Config{})

	got, err := c.Classify(context.Background(), session(statex.StageDiscovery), text("qwpoeiru"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != contractx.IntentUnknown || got.Source != contractx.SourceFallback {
		t.Fatalf("unexpected fallback intent: %#v", got)
	}
	if model.calls != 2 {
		t.Fatalf("model calls = %d, want 2", model.calls)
	}
}

func TestClassifierRejectsInvalidModelLabel(t *testing.T) {
	t.Parallel()

	model := &fakeIntentModel{responses: []contractx.Intent{{Label: "buy_now"}, {Label: "buy_now"}}}
	c := New(model, Config{})

	got, err := c.Classify(context.Background(), session(statex.StageDiscovery), text("qwpoeiru"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != contractx.IntentUnknown {
		t.Fatalf("label = %s, want unknown", got.Label)
	}
}

func TestClassifierEmptyMessage(t *testing.T) {
	t.Parallel()

	c := New(nil, Config{})
	_, err := c.Classify(context.Background(), session(statex.StageDiscovery), text("   "))
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Classify() error = %v, want ErrValidation", err)
	}
}

func TestClassifierDeterministic(t *testing.T) {
	t.Parallel()

	c := New(nil, Config{})
	s := session(statex.StageSelection, "ANK-204", "LACE-17")
	msg := text("the first one, 6 yards")
	first, _ := c.Classify(context.Background(), s, msg)
	for i := 0; i < 20; i++ {
		again, _ := c.Classify(context.Background(), s, msg)
		if again != first {
			t.Fatalf("non-deterministic classification: %#v vs %#v", again, first)
		}
	}
	if first.Label != contractx.IntentFabricSelection || first.Slots.SKU != "ANK-204" || first.Slots.Quantity != 6 {
		t.Fatalf("unexpected intent: %#v", first)
	}
}
