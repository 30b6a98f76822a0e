package language

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	llmx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/llm"
	promptx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/prompt"
	openrouterx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/openrouter"
)

// Models bundles the language-model capabilities. Writer is nil when rewriting is disabled.
type Models struct {
	Intent contractx.IntentModel
	Writer contractx.Writer
}

func NewModels(ctx context.Context, cfg llmx.Config) (Models, error) {
	if err := cfg.Validate(); err != nil {
		return Models{}, err
	}

	prompts := promptx.LoadPromptSet()
	if err := prompts.Validate(); err != nil {
		return Models{}, err
	}

	classifierCfg := cfg.OpenRouterFor(llmx.RoleClassifier)
	classifierModel, err := classifierCfg.New(ctx)
	if err != nil {
		return Models{}, fmt.Errorf("%w: create classifier model: %v", contractx.ErrModelInvoke, err)
	}

	intentModel, err := newIntentModel(ctx, classifierModel, prompts.Intent)
	if err != nil {
		return Models{}, err
	}

	models := Models{Intent: intentModel}
	if !cfg.RewriteReplies {
		return models, nil
	}

	writerCfg := cfg.OpenRouterFor(llmx.RoleWriter)
	writer, err := NewCompletionWriter(openrouterx.NewClient(writerCfg), writerCfg.Model, writerCfg.Temperature, prompts.Writer)
	if err != nil {
		return Models{}, err
	}
	models.Writer = writer

	return models, nil
}
