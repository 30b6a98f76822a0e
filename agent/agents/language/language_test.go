package language

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	statex "github.com/tanpawarit/Grace-Conversational-Commerce/agent/state"
	openrouterx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/openrouter"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

func TestIntentModelPredictSuccess(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Content: `{"label":"fabric_selection","confidence":0.82,"sku":"lace-204","quantity":3}`},
		},
	}

	m, err := newIntentModel(context.Background(), fake, "intent prompt")
	if err != nil {
		t.Fatalf("newIntentModel() error = %v", err)
	}

	got, err := m.Predict(context.Background(), contractx.IntentRequest{
		Text:       "I'll take the second one, 3 yards",
		Stage:      statex.StageSelection,
		Candidates: []string{"LACE-101", "LACE-204"},
	})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if got.Label != contractx.IntentFabricSelection {
		t.Fatalf("unexpected label: %s", got.Label)
	}
	if got.Slots.SKU != "LACE-204" {
		t.Fatalf("expected candidate casing to be kept, got %q", got.Slots.SKU)
	}
	if got.Slots.Quantity != 3 {
		t.Fatalf("unexpected quantity: %d", got.Slots.Quantity)
	}
	if got.Source != contractx.SourceLLM {
		t.Fatalf("unexpected source: %s", got.Source)
	}
}

func TestIntentModelDropsUnlistedSKU(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Content: `{"label":"fabric_selection","confidence":0.9,"sku":"ANKARA-999"}`},
		},
	}

	m, err := newIntentModel(context.Background(), fake, "intent prompt")
	if err != nil {
		t.Fatalf("newIntentModel() error = %v", err)
	}

	got, err := m.Predict(context.Background(), contractx.IntentRequest{
		Text:       "ANKARA-999 please",
		Candidates: []string{"LACE-101"},
	})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if got.Slots.SKU != "" {
		t.Fatalf("expected sku to be dropped, got %q", got.Slots.SKU)
	}
}

func TestIntentModelPredictSchemaFailure(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"label":"buy_now","confidence":0.9}`,
		`{"label":"greeting","confidence":1.7}`,
	}

	for _, content := range cases {
		fake := &fakeToolCallingModel{responses: []*schema.Message{{Content: content}}}
		m, err := newIntentModel(context.Background(), fake, "intent prompt")
		if err != nil {
			t.Fatalf("newIntentModel() error = %v", err)
		}

		_, err = m.Predict(context.Background(), contractx.IntentRequest{Text: "hello"})
		if !errors.Is(err, contractx.ErrSchemaViolation) {
			t.Fatalf("content %s: expected ErrSchemaViolation, got %v", content, err)
		}
	}
}

func TestIntentModelPredictModelError(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{err: errors.New("upstream 502")}
	m, err := newIntentModel(context.Background(), fake, "intent prompt")
	if err != nil {
		t.Fatalf("newIntentModel() error = %v", err)
	}

	_, err = m.Predict(context.Background(), contractx.IntentRequest{Text: "hello"})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestIntentModelRequiresInput(t *testing.T) {
	t.Parallel()

	m, err := newIntentModel(context.Background(), &fakeToolCallingModel{}, "intent prompt")
	if err != nil {
		t.Fatalf("newIntentModel() error = %v", err)
	}

	_, err = m.Predict(context.Background(), contractx.IntentRequest{Text: "  "})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func newCompletionServer(t *testing.T, content string, status int, seen *map[string]any) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompletionWriterRewrite(t *testing.T) {
	t.Parallel()

	var seen map[string]any
	srv := newCompletionServer(t, "  Hi love! Your deposit is ₦125,000.  ", http.StatusOK, &seen)

	client := openrouterx.NewClient(openrouterx.Config{BaseURL: srv.URL, APIKey: "test-key"})
	w, err := NewCompletionWriter(client, "test-model", 0.4, "writer prompt")
	if err != nil {
		t.Fatalf("NewCompletionWriter() error = %v", err)
	}

	got, err := w.Rewrite(context.Background(), contractx.RewriteRequest{
		BrandName:  "Amaka Fabrics",
		Tone:       "warm",
		Obligation: contractx.ObligationPaymentInstructions,
		Draft:      "Your deposit is ₦125,000.",
		Facts:      []string{"₦125,000"},
	})
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if got != "Hi love! Your deposit is ₦125,000." {
		t.Fatalf("unexpected rewrite: %q", got)
	}
	if seen["model"] != "test-model" {
		t.Fatalf("unexpected model sent: %v", seen["model"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
}

func TestCompletionWriterEmptyContent(t *testing.T) {
	t.Parallel()

	srv := newCompletionServer(t, "   ", http.StatusOK, nil)
	client := openrouterx.NewClient(openrouterx.Config{BaseURL: srv.URL, APIKey: "test-key"})
	w, err := NewCompletionWriter(client, "test-model", 0.4, "writer prompt")
	if err != nil {
		t.Fatalf("NewCompletionWriter() error = %v", err)
	}

	_, err = w.Rewrite(context.Background(), contractx.RewriteRequest{Draft: "hello"})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestCompletionWriterUpstreamError(t *testing.T) {
	t.Parallel()

	srv := newCompletionServer(t, "", http.StatusBadRequest, nil)
	client := openrouterx.NewClient(openrouterx.Config{BaseURL: srv.URL, APIKey: "test-key"})
	w, err := NewCompletionWriter(client, "test-model", 0.4, "writer prompt")
	if err != nil {
		t.Fatalf("NewCompletionWriter() error = %v", err)
	}

	_, err = w.Rewrite(context.Background(), contractx.RewriteRequest{Draft: "hello"})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestNewCompletionWriterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewCompletionWriter(nil, "m", 0, "p"); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil client, got %v", err)
	}
	client := openrouterx.NewClient(openrouterx.Config{APIKey: "k"})
	if _, err := NewCompletionWriter(client, "m", 0, " "); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("expected ErrPromptMissing, got %v", err)
	}
}
