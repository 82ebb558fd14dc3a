package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/analysis"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/fatih/color"
)

var (
	headingColor = color.New(color.FgHiCyan, color.Bold)
	okColor      = color.New(color.FgHiGreen)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
)

func taskStatusColor(s domain.TaskStatus) *color.Color {
	switch s {
	case domain.TaskCompleted:
		return okColor
	case domain.TaskFailed, domain.TaskNotFound:
		return errColor
	case domain.TaskRunning:
		return color.New(color.FgHiBlue)
	default:
		return dimColor
	}
}

func jobStatusColor(s domain.JobStatus) *color.Color {
	switch s {
	case domain.JobRunning:
		return okColor
	case domain.JobPaused:
		return warnColor
	default:
		return dimColor
	}
}

func printProgress(w io.Writer, key string, snap domain.TaskSnapshot) {
	fmt.Fprintf(w, "%-10s %s %3d%%\n", key, taskStatusColor(snap.Status).Sprintf("%-9s", snap.Status), snap.Progress)
}

// printResult writes the sections of an analysis in the order they were requested,
// followed by any sections the engine returned under other names.
func printResult(w io.Writer, res *domain.AnalysisResult) {
	fmt.Fprintln(w, headingColor.Sprintf("═══ %s ═══", res.SecurityID))
	if res.Synthetic {
		fmt.Fprintln(w, errColor.Sprint("inference engine unavailable, showing placeholder analysis"))
	}
	if len(res.FailedSources) > 0 {
		fmt.Fprintln(w, warnColor.Sprintf("partial data, missing: %s", strings.Join(res.FailedSources, ", ")))
	}

	seen := make(map[string]bool, len(res.Sections))
	for _, name := range analysis.DefaultSections {
		if body, ok := res.Sections[name]; ok {
			printSection(w, name, body)
			seen[name] = true
		}
	}
	var rest []string
	for name := range res.Sections {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		printSection(w, name, res.Sections[name])
	}
}

func printSection(w io.Writer, name, body string) {
	fmt.Fprintln(w, headingColor.Sprintf("【%s】", name))
	if body == domain.SectionNotFound {
		fmt.Fprintln(w, dimColor.Sprint(body))
	} else {
		fmt.Fprintln(w, body)
	}
	fmt.Fprintln(w)
}

func printJob(w io.Writer, job *domain.MonitoringJob) {
	lastRun := "never"
	if job.LastRunAt != nil {
		lastRun = job.LastRunAt.Local().Format(time.DateTime)
	}
	fmt.Fprintf(w, "%s  %-10s %s every %2dm  last run %s  %s\n",
		job.JobID,
		job.SecurityID,
		jobStatusColor(job.Status).Sprintf("%-7s", job.Status),
		job.IntervalMinutes,
		lastRun,
		dimColor.Sprint(job.LastMessage),
	)
}

func printRecord(w io.Writer, rec domain.MonitoringRecord) {
	stamp := rec.CreatedAt.Local().Format(time.DateTime)
	if rec.IsError {
		fmt.Fprintf(w, "%s %s %s\n", dimColor.Sprint(stamp), errColor.Sprint("ERROR"), rec.Content)
		return
	}
	fmt.Fprintf(w, "%s %s\n", dimColor.Sprint(stamp), rec.Content)
}
