package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/crofton-cloud/sitectl/pkg/deploy"
)

// StageInfo holds information about a pipeline stage for progress tracking.
type StageInfo struct {
	Name      string
	Title     string
	Status    deploy.StageStatus
	Detail    string
	StartTime time.Time
	EndTime   time.Time
}

// StageTable displays deployment progress.
// It prints the plan up front, one line per stage transition, then a summary.
type StageTable struct {
	mu        sync.Mutex
	stages    map[deploy.Stage]*StageInfo
	order     []deploy.Stage
	writer    io.Writer
	startTime time.Time
}

// NewStageTable creates a progress table for the given stages in run order.
func NewStageTable(w io.Writer) *StageTable {
	return &StageTable{
		stages:    make(map[deploy.Stage]*StageInfo),
		writer:    w,
		startTime: time.Now(),
	}
}

// Add registers a stage to track. Stages print in insertion order.
func (s *StageTable) Add(stage deploy.Stage, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stages[stage]; !exists {
		s.order = append(s.order, stage)
	}
	s.stages[stage] = &StageInfo{
		Name:  string(stage),
		Title: title,
	}
}

// PrintPlan prints the stages that are about to run.
func (s *StageTable) PrintPlan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(s.writer)
	fmt.Fprintln(s.writer, "Deployment Plan:")
	fmt.Fprintln(s.writer, strings.Repeat("─", 60))
	for _, stage := range s.order {
		fmt.Fprintf(s.writer, "  + %-12s %s\n", s.stages[stage].Name, s.stages[stage].Title)
	}
	fmt.Fprintln(s.writer, strings.Repeat("─", 60))
	fmt.Fprintln(s.writer)
}

// Observe handles a pipeline stage event and prints the transition.
func (s *StageTable) Observe(ev deploy.StageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.stages[ev.Stage]
	if !ok {
		return
	}

	info.Status = ev.Status
	info.Detail = ev.Detail

	switch ev.Status {
	case deploy.StageRunning:
		info.StartTime = time.Now()
		fmt.Fprintf(s.writer, "%s Starting %s...\n", statusIcon(ev.Status), info.Name)
	case deploy.StageComplete:
		info.EndTime = time.Now()
		duration := ""
		if !info.StartTime.IsZero() {
			duration = fmt.Sprintf(" (%s)", info.EndTime.Sub(info.StartTime).Round(time.Millisecond))
		}
		fmt.Fprintf(s.writer, "%s %s completed%s", statusIcon(ev.Status), info.Name, duration)
		if ev.Detail != "" {
			fmt.Fprintf(s.writer, ": %s", ev.Detail)
		}
		fmt.Fprintln(s.writer)
	case deploy.StageFailed:
		info.EndTime = time.Now()
		fmt.Fprintf(s.writer, "%s %s failed", statusIcon(ev.Status), info.Name)
		if ev.Detail != "" {
			fmt.Fprintf(s.writer, ": %s", ev.Detail)
		}
		fmt.Fprintln(s.writer)
	case deploy.StageSkipped:
		fmt.Fprintf(s.writer, "%s %s skipped", statusIcon(ev.Status), info.Name)
		if ev.Detail != "" {
			fmt.Fprintf(s.writer, " (%s)", ev.Detail)
		}
		fmt.Fprintln(s.writer)
	}
}

// PrintSummary prints the final run summary.
func (s *StageTable) PrintSummary() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed, failed, skipped int
	for _, stage := range s.order {
		switch s.stages[stage].Status {
		case deploy.StageComplete:
			completed++
		case deploy.StageFailed:
			failed++
		case deploy.StageSkipped:
			skipped++
		}
	}

	elapsed := time.Since(s.startTime).Round(time.Millisecond)

	fmt.Fprintln(s.writer)
	fmt.Fprintln(s.writer, strings.Repeat("─", 60))
	if failed > 0 {
		fmt.Fprintf(s.writer, "Deployment failed after %s\n", elapsed)
		fmt.Fprintf(s.writer, "  ● %d completed, ✗ %d failed, ◌ %d skipped\n", completed, failed, skipped)
		for _, stage := range s.order {
			info := s.stages[stage]
			if info.Status == deploy.StageFailed {
				fmt.Fprintf(s.writer, "\n  ✗ %s: %s\n", info.Name, info.Detail)
			}
		}
	} else {
		fmt.Fprintf(s.writer, "Deployment completed successfully in %s\n", elapsed)
	}
}

// FailedCount returns the number of failed stages.
func (s *StageTable) FailedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, info := range s.stages {
		if info.Status == deploy.StageFailed {
			count++
		}
	}
	return count
}

func statusIcon(status deploy.StageStatus) string {
	switch status {
	case deploy.StageRunning:
		return "◐"
	case deploy.StageComplete:
		return "●"
	case deploy.StageFailed:
		return "✗"
	case deploy.StageSkipped:
		return "◌"
	default:
		return "○"
	}
}
