package testing

import (
	"context"
	"sync"

	"github.com/aristath/stockwatch/internal/domain"
)

// StaticAggregator returns the same document for every security and counts calls.
type StaticAggregator struct {
	mu    sync.Mutex
	doc   domain.AggregateDocument
	calls map[string]int
}

// NewStaticAggregator creates an aggregator returning doc.
func NewStaticAggregator(doc domain.AggregateDocument) *StaticAggregator {
	return &StaticAggregator{doc: doc, calls: make(map[string]int)}
}

// Aggregate returns the configured document.
func (a *StaticAggregator) Aggregate(ctx context.Context, securityID string) domain.AggregateDocument {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[securityID]++
	return a.doc
}

// Calls returns how often securityID was aggregated.
func (a *StaticAggregator) Calls(securityID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[securityID]
}

// ComposerFunc adapts a function to domain.Composer.
type ComposerFunc func(ctx context.Context, securityID string, doc domain.AggregateDocument) (domain.AnalysisResult, error)

// Compose calls f.
func (f ComposerFunc) Compose(ctx context.Context, securityID string, doc domain.AggregateDocument) (domain.AnalysisResult, error) {
	return f(ctx, securityID, doc)
}

// StaticComposer returns a non-synthetic result with one extracted section.
func StaticComposer() ComposerFunc {
	return func(ctx context.Context, securityID string, doc domain.AggregateDocument) (domain.AnalysisResult, error) {
		return domain.AnalysisResult{
			SecurityID:    securityID,
			FullText:      EngineAnswer,
			Sections:      map[string]string{"综合评级": "中性偏多。"},
			Sources:       doc.Succeeded(),
			FailedSources: doc.Failures(),
		}, nil
	}
}

// AnalyzerFunc adapts a function to domain.Analyzer.
type AnalyzerFunc func(ctx context.Context, prompt string) (string, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
