// Package llm adapts hosted inference engines to domain.Analyzer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/config"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/rs/zerolog"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// ErrNotConfigured is returned by the analyzer used when no API key is set.
var ErrNotConfigured = errors.New("inference engine not configured")

// SystemPrompt frames every analysis request.
const SystemPrompt = "你是一名严谨的A股证券分析师。仅依据提供的数据进行分析，数据缺失时明确说明，不要编造数字。按要求的章节标题逐节输出。"

var defaultModels = map[string]string{
	ProviderOpenAI: "gpt-4o-mini",
	ProviderClaude: "claude-sonnet-4-5",
	ProviderGemini: "gemini-2.5-flash",
}

// New builds the analyzer for cfg.Provider. Without an API key it returns an analyzer
// that always fails with ErrNotConfigured, so compositions fall back to synthetic results.
func New(ctx context.Context, cfg config.LLMConfig, log zerolog.Logger) (domain.Analyzer, error) {
	log = log.With().Str("component", "llm").Str("provider", cfg.Provider).Logger()

	if cfg.APIKey == "" {
		log.Warn().Msg("LLM_API_KEY not set, analyses will produce synthetic results")
		return unconfigured{}, nil
	}

	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}

	var (
		analyzer domain.Analyzer
		err      error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		analyzer = NewOpenAIAnalyzer(cfg)
	case ProviderClaude:
		analyzer = NewClaudeAnalyzer(cfg)
	case ProviderGemini:
		analyzer, err = NewGeminiAnalyzer(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("model", cfg.Model).Msg("Inference engine configured")
	return withTimeout(analyzer, cfg.Timeout), nil
}

type unconfigured struct{}

func (unconfigured) Analyze(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

type timeoutAnalyzer struct {
	next    domain.Analyzer
	timeout time.Duration
}

func withTimeout(next domain.Analyzer, timeout time.Duration) domain.Analyzer {
	if timeout <= 0 {
		return next
	}
	return &timeoutAnalyzer{next: next, timeout: timeout}
}

func (a *timeoutAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.Analyze(ctx, prompt)
}

// IsRateLimitError reports whether err looks like provider throttling or quota exhaustion.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota") ||
		strings.Contains(strings.ToLower(msg), "rate limit")
}

// classify wraps provider errors so throttling is recognisable upstream.
func classify(provider string, err error) error {
	if IsRateLimitError(err) {
		return fmt.Errorf("%s: %w: %w", provider, domain.ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}
