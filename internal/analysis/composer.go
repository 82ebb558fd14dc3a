// Package analysis turns an aggregated document into a structured analysis:
// it builds the engine prompt, calls the engine once and extracts named sections
// from the free-text answer.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/work"
	"github.com/rs/zerolog"
)

// Composer produces AnalysisResults. It is safe for concurrent use.
type Composer struct {
	analyzer   domain.Analyzer
	store      domain.ResultStore
	pool       *work.Pool
	sections   []string
	extractors []Extractor
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithSections overrides DefaultSections.
func WithSections(sections ...string) Option {
	return func(c *Composer) { c.sections = sections }
}

// WithExtractors overrides DefaultExtractors.
func WithExtractors(extractors ...Extractor) Option {
	return func(c *Composer) { c.extractors = extractors }
}

// WithClock sets the time source used for prompts and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

// NewComposer creates a composer. store may be nil, in which case results are not persisted.
func NewComposer(analyzer domain.Analyzer, store domain.ResultStore, pool *work.Pool, log zerolog.Logger, opts ...Option) *Composer {
	c := &Composer{
		analyzer:   analyzer,
		store:      store,
		pool:       pool,
		sections:   DefaultSections,
		extractors: DefaultExtractors(),
		now:        time.Now,
		log:        log.With().Str("component", "composer").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose calls the engine once for doc and returns the structured result.
// Engine failures yield a synthetic result instead of an error. The returned error
// is non-nil only when persisting the result failed; the result is valid either way.
func (c *Composer) Compose(ctx context.Context, securityID string, doc domain.AggregateDocument) (domain.AnalysisResult, error) {
	log := c.log.With().Str("security_id", securityID).Logger()
	now := c.now()

	prompt := BuildPrompt(securityID, doc, c.sections, now)

	var text string
	err := c.pool.Do(ctx, func(ctx context.Context) error {
		out, err := c.analyzer.Analyze(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})

	var result domain.AnalysisResult
	if err != nil || strings.TrimSpace(text) == "" {
		if err == nil {
			err = fmt.Errorf("engine returned empty response")
		}
		log.Warn().Err(err).Msg("Engine call failed, producing synthetic result")
		result = c.synthetic(securityID, doc, err)
	} else {
		result = domain.AnalysisResult{
			SecurityID: securityID,
			FullText:   text,
			Sections:   c.ExtractSections(text),
		}
	}

	result.Sources = nonNil(doc.Succeeded())
	result.FailedSources = nonNil(doc.Failures())
	result.CreatedAt = now

	if c.store != nil {
		if err := c.store.Save(ctx, result, doc); err != nil {
			log.Error().Err(err).Msg("Failed to persist analysis result")
			return result, fmt.Errorf("failed to persist analysis for %s: %w", securityID, err)
		}
	}

	log.Info().
		Bool("synthetic", result.Synthetic).
		Int("sources", len(result.Sources)).
		Int("failed_sources", len(result.FailedSources)).
		Msg("Analysis composed")

	return result, nil
}

// ExtractSections runs the extractor chain for every configured section.
// Each section gets the first extractor result that survives cleaning with at least
// MinSectionLength characters; otherwise it is set to domain.SectionNotFound.
func (c *Composer) ExtractSections(text string) map[string]string {
	sections := make(map[string]string, len(c.sections))
	for _, name := range c.sections {
		sections[name] = c.extractSection(text, name)
	}
	return sections
}

func (c *Composer) extractSection(text, name string) string {
	for _, ex := range c.extractors {
		content, ok := c.tryExtract(ex, text, name)
		if !ok {
			continue
		}
		if cleaned := Clean(content); runeLen(cleaned) >= MinSectionLength {
			return cleaned
		}
	}
	return domain.SectionNotFound
}

// tryExtract isolates extractor panics so one bad strategy cannot fail the chain.
func (c *Composer) tryExtract(ex Extractor, text, name string) (content string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Str("extractor", ex.Name()).
				Str("section", name).
				Interface("panic", r).
				Msg("Section extractor panicked")
			content, ok = "", false
		}
	}()
	return ex.Extract(text, name, c.sections)
}

// synthetic builds the fallback result used when the engine is unavailable.
func (c *Composer) synthetic(securityID string, doc domain.AggregateDocument, cause error) domain.AnalysisResult {
	var b strings.Builder
	fmt.Fprintf(&b, "分析引擎暂不可用（%v），以下为原始数据摘要。\n", cause)
	for _, name := range doc.Succeeded() {
		fmt.Fprintf(&b, "\n【%s】\n%s\n", name, strings.TrimSpace(doc[name].Value.Text))
	}
	if failures := doc.Failures(); len(failures) > 0 {
		fmt.Fprintf(&b, "\n不可用数据源：%s\n", strings.Join(failures, "、"))
	}

	sections := make(map[string]string, len(c.sections))
	for _, name := range c.sections {
		sections[name] = domain.SectionNotFound
	}
	return domain.AnalysisResult{
		SecurityID: securityID,
		FullText:   b.String(),
		Sections:   sections,
		Synthetic:  true,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
