package language

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

// CompletionWriter voices drafted replies with a plain chat completion.
type CompletionWriter struct {
	client       *openaisdk.Client
	model        string
	temperature  float32
	systemPrompt string
}

var _ contractx.Writer = (*CompletionWriter)(nil)

func NewCompletionWriter(client *openaisdk.Client, model string, temperature float32, systemPrompt string) (*CompletionWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: writer model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: writer", contractx.ErrPromptMissing)
	}
	return &CompletionWriter{
		client:       client,
		model:        strings.TrimSpace(model),
		temperature:  temperature,
		systemPrompt: systemPrompt,
	}, nil
}

func (w *CompletionWriter) Rewrite(ctx context.Context, req contractx.RewriteRequest) (string, error) {
	if strings.TrimSpace(req.Draft) == "" {
		return "", fmt.Errorf("%w: draft is required", contractx.ErrValidation)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal writer payload: %v", contractx.ErrValidation, err)
	}

	resp, err := w.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(w.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(w.systemPrompt),
			openaisdk.UserMessage(string(payload)),
		},
		Temperature: openaisdk.Float(float64(w.temperature)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: writer invoke: %v", contractx.ErrModelInvoke, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: writer returned no choices", contractx.ErrSchemaViolation)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.Join(contractx.ErrSchemaViolation, errors.New("writer returned empty content"))
	}
	return text, nil
}
