package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
)

var (
	//go:embed template/intent.txt
	intentRaw string

	//go:embed template/writer.txt
	writerRaw string
)

// PromptSet holds the system prompts for each model role.
type PromptSet struct {
	Intent string
	Writer string
}

func LoadPromptSet() PromptSet {
	return PromptSet{
		Intent: strings.TrimSpace(intentRaw),
		Writer: strings.TrimSpace(writerRaw),
	}
}

func (p PromptSet) Validate() error {
	if p.Intent == "" {
		return fmt.Errorf("%w: intent", contractx.ErrPromptMissing)
	}
	if p.Writer == "" {
		return fmt.Errorf("%w: writer", contractx.ErrPromptMissing)
	}
	return nil
}
