package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/stockwatch/internal/config"
	"google.golang.org/genai"
)

// GeminiAnalyzer calls the Gemini API.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiAnalyzer creates an analyzer.
func NewGeminiAnalyzer(ctx context.Context, cfg config.LLMConfig) (*GeminiAnalyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(cfg.Temperature)),
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
	}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	return &GeminiAnalyzer{
		client: client,
		model:  cfg.Model,
		config: genCfg,
	}, nil
}

// Analyze implements domain.Analyzer.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), a.config)
	if err != nil {
		return "", classify("gemini", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: empty response")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	return text, nil
}
