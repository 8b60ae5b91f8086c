package snapshot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tabula/internal/row"
)

// Analysis defaults.
const (
	DefaultBatchSize = 10
	DefaultDelay     = 50 * time.Millisecond
)

// Step is one analysis pass over every eligible row.
//
// Fn runs concurrently for the rows of a batch. It may read the store (for
// example to cross-reference other rows) and should record derived values
// with row.SetDerived. An error or panic is recorded in the row's
// AppData.Err and does not stop the run.
type Step struct {
	Message string
	Fn      func(ctx context.Context, r *row.Row, s *Store) error
}

// AnalysisOptions controls RunAnalysis. Start from DefaultAnalysisOptions;
// the zero value disables SkipIfAnalyzed.
type AnalysisOptions struct {
	// BatchSize is the number of rows processed concurrently. Values <= 0
	// mean DefaultBatchSize.
	BatchSize int

	// Delay is the pause between batches.
	Delay time.Duration

	// SkipIfAnalyzed leaves rows already marked Analyzed untouched.
	SkipIfAnalyzed bool
}

// DefaultAnalysisOptions returns batches of 10, a 50ms delay, and skipping
// of already analyzed rows.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		BatchSize:      DefaultBatchSize,
		Delay:          DefaultDelay,
		SkipIfAnalyzed: true,
	}
}

// RunAnalysis applies steps in order to every eligible row of Data.
//
// It returns false without doing anything if an analysis is already running.
// Otherwise it returns true once the run ends. The error is non-nil only
// when ctx was cancelled; in that case no eligible row is marked Analyzed.
//
// Rows stay readable and editable while the run proceeds.
func (s *Store) RunAnalysis(ctx context.Context, steps []Step, opts AnalysisOptions) (bool, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, &Error{Op: "analyze", Code: ErrCodeClosed, Message: "store is closed"}
	}
	if s.state.IsAnalyzing {
		s.mu.Unlock()
		return false, nil
	}
	s.analysisRun++
	run := s.analysisRun
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	s.state.IsAnalyzing = true
	s.state.AnalysisProgress = 0
	s.state.AnalysisMessage = "Analyzing..."
	if len(steps) > 0 {
		s.state.AnalysisMessage = steps[0].Message
	}
	s.notifyLocked()
	s.mu.Unlock()

	var rows []*row.Row
	for _, r := range s.data.Rows() {
		if opts.SkipIfAnalyzed && r.App().Analyzed {
			continue
		}
		r.UpdateApp(func(a *row.AppData) {
			a.Analyzing = true
			a.Err = ""
		})
		rows = append(rows, r)
	}
	s.logger.Debug("analysis started", "rows", len(rows), "steps", len(steps))

	ctx, done := s.opContext(ctx)
	defer done()
	err := s.runSteps(ctx, steps, rows, opts)

	for _, r := range rows {
		r.UpdateApp(func(a *row.AppData) {
			a.Analyzing = false
			if err == nil {
				a.Analyzed = true
			}
		})
	}
	s.finishAnalysis(run, err)

	if err != nil {
		s.logger.Info("analysis cancelled", "rows", len(rows), "error", err)
	} else {
		s.logger.Debug("analysis complete", "rows", len(rows))
	}
	return true, err
}

func (s *Store) runSteps(ctx context.Context, steps []Step, rows []*row.Row, opts AnalysisOptions) error {
	total := len(steps)
	for i, step := range steps {
		s.setAnalysis(progress(i, 0, total), step.Message)

		for start := 0; start < len(rows); start += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+opts.BatchSize, len(rows))

			var g errgroup.Group
			g.SetLimit(opts.BatchSize)
			for _, r := range rows[start:end] {
				g.Go(func() error {
					s.analyzeRow(ctx, step, r)
					return nil
				})
			}
			_ = g.Wait()

			s.setAnalysis(progress(i, float64(end)/float64(len(rows)), total), step.Message)

			last := i == total-1 && end == len(rows)
			if !last && opts.Delay > 0 {
				if err := sleep(ctx, opts.Delay); err != nil {
					return err
				}
			}
		}
	}
	return ctx.Err()
}

// analyzeRow runs one step on one row, recording any failure on the row.
func (s *Store) analyzeRow(ctx context.Context, step Step, r *row.Row) {
	defer func() {
		if p := recover(); p != nil {
			r.UpdateApp(func(a *row.AppData) { a.Err = fmt.Sprintf("panic: %v", p) })
			analysisRowsTotal.WithLabelValues("panic").Inc()
			s.logger.Error("analysis step panicked", "step", step.Message, "row", r.ID(), "panic", p)
		}
	}()

	if step.Fn == nil {
		return
	}
	if err := step.Fn(ctx, r, s); err != nil {
		r.UpdateApp(func(a *row.AppData) { a.Err = err.Error() })
		analysisRowsTotal.WithLabelValues("error").Inc()
		s.logger.Debug("analysis step failed", "step", step.Message, "row", r.ID(), "error", err)
		return
	}
	analysisRowsTotal.WithLabelValues("ok").Inc()
}

// setAnalysis publishes progress. Progress never decreases within a run.
func (s *Store) setAnalysis(pct int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pct > s.state.AnalysisProgress {
		s.state.AnalysisProgress = pct
	}
	s.state.AnalysisMessage = message
	s.notifyLocked()
}

func (s *Store) finishAnalysis(run int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsAnalyzing = false
	if err != nil {
		s.state.AnalysisProgress = 0
		s.state.AnalysisMessage = ""
		s.notifyLocked()
		return
	}

	s.state.AnalysisProgress = 100
	s.notifyLocked()
	if s.closed {
		return
	}
	s.resetTimer = time.AfterFunc(s.resetDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.analysisRun != run || s.state.IsAnalyzing {
			return
		}
		s.state.AnalysisProgress = 0
		s.state.AnalysisMessage = ""
		s.notifyLocked()
	})
}

// progress maps (completed steps + fraction of current step) to 0-100.
func progress(step int, fraction float64, total int) int {
	if total == 0 {
		return 100
	}
	pct := int((float64(step) + fraction) / float64(total) * 100)
	return max(0, min(100, pct))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
