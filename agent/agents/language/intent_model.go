package language

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

type intentModelImpl struct {
	runner compose.Runnable[map[string]any, intentLLMOutput]
}

var _ contractx.IntentModel = (*intentModelImpl)(nil)

type intentLLMOutput struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	SKU        string  `json:"sku,omitempty"`
	Quantity   int     `json:"quantity,omitempty"`
	Query      string  `json:"query,omitempty"`
}

func newIntentModel(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*intentModelImpl, error) {
	runner, err := compileIntentGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile intent graph: %v", contractx.ErrModelInvoke, err)
	}
	return &intentModelImpl{runner: runner}, nil
}

func (m *intentModelImpl) Predict(ctx context.Context, req contractx.IntentRequest) (contractx.Intent, error) {
	if strings.TrimSpace(req.Text) == "" && !req.HasMedia {
		return contractx.Intent{}, fmt.Errorf("%w: text or media is required", contractx.ErrValidation)
	}

	inputBytes, err := json.Marshal(req)
	if err != nil {
		return contractx.Intent{}, fmt.Errorf("%w: marshal intent payload: %v", contractx.ErrValidation, err)
	}

	out, err := m.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return contractx.Intent{}, fmt.Errorf("%w: intent invoke: %v", contractx.ErrModelInvoke, err)
	}

	return toIntent(out, req.Candidates)
}

func toIntent(out intentLLMOutput, candidates []string) (contractx.Intent, error) {
	label := contractx.IntentLabel(strings.ToLower(strings.TrimSpace(out.Label)))
	if !label.Valid() {
		return contractx.Intent{}, fmt.Errorf("%w: unsupported label=%q", contractx.ErrSchemaViolation, out.Label)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return contractx.Intent{}, fmt.Errorf("%w: confidence out of range: %v", contractx.ErrSchemaViolation, out.Confidence)
	}

	in := contractx.Intent{
		Label:      label,
		Confidence: out.Confidence,
		Source:     contractx.SourceLLM,
		Slots: contractx.Slots{
			Quantity: max(out.Quantity, 0),
			Query:    strings.TrimSpace(out.Query),
		},
	}

	// Only codes the customer was actually shown are accepted.
	if sku := strings.TrimSpace(out.SKU); sku != "" {
		for _, c := range candidates {
			if strings.EqualFold(c, sku) {
				in.Slots.SKU = c
				break
			}
		}
	}

	return in, nil
}
