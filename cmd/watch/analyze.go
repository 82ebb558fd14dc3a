package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/poller"
	"github.com/spf13/cobra"
)

type analyzeOptions struct {
	wait         time.Duration
	pollInterval time.Duration
	maxErrors    int
}

func newAnalyzeCmd(a *app) *cobra.Command {
	opts := analyzeOptions{}
	defaults := poller.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "analyze <security-id>...",
		Short: "Request analyses and follow them until they finish",
		Example: `  watch analyze 000001
  watch analyze 000001 600519 --wait 10m`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(commandContext(cmd), opts.wait)
			defer cancel()
			return a.analyze(ctx, cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.wait, "wait", 5*time.Minute, "give up following tasks after this long")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", defaults.Base, "delay between polls of one task")
	cmd.Flags().IntVar(&opts.maxErrors, "max-errors", defaults.MaxConsecutiveErrors, "stop following a task after this many consecutive poll errors")
	return cmd
}

// analyze submits one task per security and polls them concurrently.
// Repeated ids share one task.
func (a *app) analyze(ctx context.Context, w io.Writer, ids []string, opts analyzeOptions) error {
	cfg := poller.DefaultConfig()
	cfg.Base = opts.pollInterval
	if cfg.MinInterval > opts.pollInterval {
		cfg.MinInterval = opts.pollInterval
	}
	cfg.MaxConsecutiveErrors = opts.maxErrors

	var (
		mu       sync.Mutex
		failed   int
		progress = make(map[string]int)
	)

	p := poller.New(a.client, cfg, func(key string, snap domain.TaskSnapshot, err error) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case err != nil:
			failed++
			fmt.Fprintf(w, "%-10s %s %v\n", key, errColor.Sprint("ERROR"), err)
		case snap.Status != domain.TaskCompleted || snap.Result == nil:
			failed++
			fmt.Fprintf(w, "%-10s %s %s\n", key, taskStatusColor(snap.Status).Sprint(snap.Status), snap.Error)
		case a.jsonOut:
			_ = writeJSON(w, snap.Result)
		default:
			printResult(w, snap.Result)
		}
	}, a.log)

	if !a.jsonOut {
		p.OnProgress(func(key string, snap domain.TaskSnapshot) {
			mu.Lock()
			defer mu.Unlock()
			if last, ok := progress[key]; ok && last == snap.Progress {
				return
			}
			progress[key] = snap.Progress
			if !snap.Status.IsTerminal() {
				printProgress(w, key, snap)
			}
		})
	}

	for _, id := range ids {
		taskID, started, err := p.Track(ctx, id, func(ctx context.Context) (string, error) {
			return a.client.SubmitAnalysis(ctx, id)
		})

		mu.Lock()
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(w, "%-10s %s %v\n", id, errColor.Sprint("REJECTED"), err)
		case started && !a.jsonOut:
			fmt.Fprintf(w, "%-10s submitted as task %s\n", id, dimColor.Sprint(taskID))
		}
		mu.Unlock()
	}

	if err := p.Wait(ctx); err != nil {
		return fmt.Errorf("gave up waiting for analyses: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if failed > 0 {
		return fmt.Errorf("%d of %d analyses did not complete", failed, len(ids))
	}
	return nil
}

func newLatestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "latest <security-id>",
		Short: "Show the stored analysis of a security",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.LatestAnalysis(commandContext(cmd), args[0])
			if err != nil {
				return fmt.Errorf("no analysis for %s: %w", args[0], err)
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
