package aggregator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/work"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, securityID string) (domain.Document, error) {
	args := m.Called(ctx, securityID)
	return args.Get(0).(domain.Document), args.Error(1)
}

func okFetcher(text string) domain.Fetcher {
	return domain.FetcherFunc(func(ctx context.Context, id string) (domain.Document, error) {
		return domain.Document{Text: text + ":" + id}, nil
	})
}

func errFetcher(err error) domain.Fetcher {
	return domain.FetcherFunc(func(ctx context.Context, id string) (domain.Document, error) {
		return domain.Document{}, err
	})
}

func newAggregator(sources []Source, opts Options) *Aggregator {
	return New(sources, cache.New[domain.Document](), work.NewPool(4, zerolog.Nop()), opts, zerolog.Nop())
}

func TestAggregate_PartialFailure(t *testing.T) {
	agg := newAggregator([]Source{
		{Name: "quote", TTL: time.Minute, Fetcher: okFetcher("q")},
		{Name: "news", TTL: time.Minute, Fetcher: errFetcher(errors.New("404"))},
		{Name: "flow", TTL: time.Minute, Fetcher: okFetcher("f")},
		{Name: "panicky", TTL: time.Minute, Fetcher: domain.FetcherFunc(func(context.Context, string) (domain.Document, error) {
			panic("boom")
		})},
	}, Options{Retries: 1})

	doc := agg.Aggregate(context.Background(), "000001")

	require.Len(t, doc, 4)
	assert.Equal(t, []string{"flow", "quote"}, doc.Succeeded())
	assert.Equal(t, []string{"news", "panicky"}, doc.Failures())

	assert.Equal(t, "q:000001", doc["quote"].Value.Text)
	assert.Equal(t, "quote", doc["quote"].Value.Source, "source name filled in when the fetcher leaves it empty")
	assert.Nil(t, doc["news"].Value)
	assert.Contains(t, doc["news"].Err, "404")
	assert.Contains(t, doc["panicky"].Err, "boom")
}

func TestAggregate_AllFail(t *testing.T) {
	agg := newAggregator([]Source{
		{Name: "a", Fetcher: errFetcher(errors.New("x"))},
		{Name: "b", Fetcher: errFetcher(errors.New("y"))},
	}, Options{})

	doc := agg.Aggregate(context.Background(), "600000")
	assert.Len(t, doc.Failures(), 2)
	assert.Empty(t, doc.Succeeded())
}

func TestAggregate_RetriesTransientOnly(t *testing.T) {
	transient := &mockFetcher{}
	transient.On("Fetch", mock.Anything, "600000").Return(domain.Document{}, domain.MarkTransient(errors.New("503"))).Twice()
	transient.On("Fetch", mock.Anything, "600000").Return(domain.Document{Text: "ok"}, nil).Once()

	permanent := &mockFetcher{}
	permanent.On("Fetch", mock.Anything, "600000").Return(domain.Document{}, errors.New("bad request")).Once()

	agg := newAggregator([]Source{
		{Name: "transient", Fetcher: transient},
		{Name: "permanent", Fetcher: permanent},
	}, Options{Retries: 3, RetryDelay: time.Millisecond})

	doc := agg.Aggregate(context.Background(), "600000")

	assert.False(t, doc["transient"].Failed)
	assert.Equal(t, "ok", doc["transient"].Value.Text)
	assert.True(t, doc["permanent"].Failed)
	assert.Contains(t, doc["permanent"].Err, "1 attempt(s)")

	transient.AssertNumberOfCalls(t, "Fetch", 3)
	permanent.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestAggregate_BranchTimeout(t *testing.T) {
	slow := domain.FetcherFunc(func(ctx context.Context, id string) (domain.Document, error) {
		select {
		case <-ctx.Done():
			return domain.Document{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return domain.Document{Text: "late"}, nil
		}
	})

	agg := newAggregator([]Source{
		{Name: "slow", Fetcher: slow, Timeout: 20 * time.Millisecond},
		{Name: "fast", Fetcher: okFetcher("f")},
	}, Options{Retries: 2, RetryDelay: time.Millisecond})

	start := time.Now()
	doc := agg.Aggregate(context.Background(), "600000")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, doc["slow"].Failed)
	assert.Contains(t, doc["slow"].Err, "2 attempt(s)")
	assert.False(t, doc["fast"].Failed)
}

func TestAggregate_UsesCacheWithinTTL(t *testing.T) {
	var calls atomic.Int32
	counting := domain.FetcherFunc(func(ctx context.Context, id string) (domain.Document, error) {
		calls.Add(1)
		return domain.Document{Text: "v"}, nil
	})

	agg := newAggregator([]Source{{Name: "quote", TTL: time.Minute, Fetcher: counting}}, Options{})

	agg.Aggregate(context.Background(), "600000")
	agg.Aggregate(context.Background(), "600000")
	agg.Aggregate(context.Background(), "000001")

	assert.Equal(t, int32(2), calls.Load(), "one fetch per security within the TTL")
}

func TestAggregate_FailuresAreNotCached(t *testing.T) {
	var calls atomic.Int32
	flaky := domain.FetcherFunc(func(ctx context.Context, id string) (domain.Document, error) {
		if calls.Add(1) == 1 {
			return domain.Document{}, errors.New("down")
		}
		return domain.Document{Text: "up"}, nil
	})

	agg := newAggregator([]Source{{Name: "quote", TTL: time.Minute, Fetcher: flaky}}, Options{})

	first := agg.Aggregate(context.Background(), "600000")
	second := agg.Aggregate(context.Background(), "600000")

	assert.True(t, first["quote"].Failed)
	assert.False(t, second["quote"].Failed)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	delayed := func(d time.Duration, text string) domain.Fetcher {
		return domain.FetcherFunc(func(ctx context.Context, id string) (domain.Document, error) {
			time.Sleep(d)
			return domain.Document{Text: text}, nil
		})
	}

	sources := []Source{
		{Name: "a", Fetcher: delayed(15*time.Millisecond, "A")},
		{Name: "b", Fetcher: delayed(0, "B")},
		{Name: "c", Fetcher: delayed(5*time.Millisecond, "C")},
	}
	doc := newAggregator(sources, Options{}).Aggregate(context.Background(), "600000")

	assert.Equal(t, "A", doc["a"].Value.Text)
	assert.Equal(t, "B", doc["b"].Value.Text)
	assert.Equal(t, "C", doc["c"].Value.Text)
	assert.Equal(t, []string{"a", "b", "c"}, newAggregator(sources, Options{}).SourceNames())
}
