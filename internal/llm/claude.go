package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aristath/stockwatch/internal/config"
)

// ClaudeAnalyzer calls the Anthropic Messages API.
type ClaudeAnalyzer struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewClaudeAnalyzer creates an analyzer.
func NewClaudeAnalyzer(cfg config.LLMConfig) *ClaudeAnalyzer {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ClaudeAnalyzer{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// Analyze implements domain.Analyzer.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
	}
	if a.temperature > 0 {
		params.Temperature = anthropic.Float(a.temperature)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify("claude", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("claude: empty response")
	}
	return strings.TrimSpace(text.String()), nil
}
