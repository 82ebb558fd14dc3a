package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/stockwatch/internal/aggregator"
	"github.com/aristath/stockwatch/internal/analysis"
	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/config"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/llm"
	"github.com/aristath/stockwatch/internal/monitor"
	"github.com/aristath/stockwatch/internal/reliability"
	"github.com/aristath/stockwatch/internal/session"
	"github.com/aristath/stockwatch/internal/sources"
	"github.com/aristath/stockwatch/internal/tasks"
	"github.com/aristath/stockwatch/internal/work"
	"github.com/rs/zerolog"
)

// InitializeServices builds the pipeline, the task registry and the monitoring scheduler
// on top of the databases in container.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.MonitorDB == nil {
		return fmt.Errorf("container has no monitor database")
	}

	container.Pool = work.NewPool(cfg.Pipeline.WorkerPoolSize, log)
	container.Documents = cache.New[domain.Document]()

	// Data sources
	container.Sources = sources.NewClient(cfg.Sources.MarketDataBaseURL, cfg.Sources.RequestsPerSecond, log)
	container.Aggregator = aggregator.New(
		buildSources(container.Sources, cfg, log),
		container.Documents,
		container.Pool,
		aggregator.Options{
			BranchTimeout: cfg.Pipeline.FetchTimeout,
			Retries:       cfg.Pipeline.FetchRetries,
			RetryDelay:    cfg.Pipeline.RetryDelay,
		},
		log,
	)
	log.Info().Strs("sources", container.Aggregator.SourceNames()).Msg("Aggregator configured")

	// Inference and composition
	analyzer, err := llm.New(ctx, cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}
	container.Analyzer = analyzer
	container.Results = analysis.NewRepository(container.MonitorDB.Conn())
	container.Composer = analysis.NewComposer(analyzer, container.Results, container.Pool, log)

	container.Tasks = tasks.NewRegistry(container.Aggregator, container.Composer, log)

	// Trading calendar
	loc, err := time.LoadLocation(cfg.Monitor.TimeZone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Monitor.TimeZone).Msg("Falling back to China Standard Time")
		loc = session.ChinaLocation()
	}
	calendar, err := session.NewCalendar(session.XSHG(loc), cfg.Monitor.HolidayDates)
	if err != nil {
		return fmt.Errorf("failed to create trading calendar: %w", err)
	}
	container.Location = loc
	container.Calendar = calendar

	// Monitoring
	container.Jobs = monitor.NewRepository(container.MonitorDB.Conn())
	container.Monitor = monitor.NewScheduler(
		container.Jobs,
		container.Jobs,
		container.Aggregator,
		container.Composer,
		calendar,
		monitor.Options{PausePoll: cfg.Monitor.PausePoll},
		log,
	)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Client(ctx, cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.Backup = reliability.NewBackupService(store, cfg.DataDir, cfg.Backup.Prefix, log, container.MonitorDB)
	} else {
		log.Info().Msg("Offsite backups disabled (BACKUP_S3_BUCKET not set)")
	}

	return nil
}

// buildSources lists the aggregation branches with their cache TTLs.
func buildSources(client *sources.Client, cfg *config.Config, log zerolog.Logger) []aggregator.Source {
	return []aggregator.Source{
		{Name: sources.NameQuote, TTL: cache.TTLQuote, Fetcher: sources.NewQuoteFetcher(client)},
		{Name: sources.NameTechnical, TTL: cache.TTLKline, Fetcher: sources.NewTechnicalFetcher(client)},
		{Name: sources.NameFundFlow, TTL: cache.TTLFundFlow, Fetcher: sources.NewFundFlowFetcher(client)},
		{Name: sources.NameFinancials, TTL: cache.TTLFinancials, Fetcher: sources.NewFinancialsFetcher(client)},
		{Name: sources.NameNews, TTL: cache.TTLNews, Fetcher: sources.NewNewsFetcher(client, cfg.Sources.NewsBaseURL, log)},
	}
}
