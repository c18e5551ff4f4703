package poingest

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultMaxRuntime is the run SLA; exceeding it is a failure signal.
	DefaultMaxRuntime = 15 * time.Minute
	// DefaultBaselineWindow is how many recent successful runs feed the
	// rolling baseline.
	DefaultBaselineWindow = 10
	// DefaultMinDailyExpected is the baseline average below which a
	// zero-row daily run is considered normal.
	DefaultMinDailyExpected = 1
	// defaultHistoricalFloor flags historical runs producing less than this
	// fraction of the baseline (possible truncated source response).
	defaultHistoricalFloor = 0.25
)

// Evaluator compares a finished run against rolling baselines from the run
// log and decides whether the run warrants an alert.
type Evaluator struct {
	runLog           RunLogStore
	MaxRuntime       time.Duration
	BaselineWindow   int
	MinDailyExpected int
	HistoricalFloor  float64
}

// NewEvaluator create an Evaluator over the run log with default thresholds.
func NewEvaluator(runLog RunLogStore) *Evaluator {
	return &Evaluator{
		runLog:           runLog,
		MaxRuntime:       DefaultMaxRuntime,
		BaselineWindow:   DefaultBaselineWindow,
		MinDailyExpected: DefaultMinDailyExpected,
		HistoricalFloor:  defaultHistoricalFloor,
	}
}

// EvaluateRun returns ok=false plus the list of triggered heuristics when the
// run looks anomalous even if it nominally succeeded.
func (e *Evaluator) EvaluateRun(ctx context.Context, mode Mode, rowsProcessed int, runtime time.Duration) (bool, []string) {
	var issues []string

	if runtime > e.MaxRuntime {
		issues = append(issues, fmt.Sprintf("runtime %.1fs exceeded threshold %.0fs", runtime.Seconds(), e.MaxRuntime.Seconds()))
	}

	stats, err := e.runLog.RecentSuccessStats(ctx, mode, e.BaselineWindow)
	if err != nil {
		// a broken baseline query must not fail the run evaluation
		DefaultLogger.Error(ctx, "baseline query failed, mode:%v, err:%v", mode, err)
		return len(issues) == 0, issues
	}
	avgRows := 0.0
	if len(stats) > 0 {
		sum := 0
		for _, s := range stats {
			sum += s.RowsProcessed
		}
		avgRows = float64(sum) / float64(len(stats))
	}

	if mode == ModeDaily && rowsProcessed == 0 && avgRows >= float64(e.MinDailyExpected) {
		issues = append(issues, fmt.Sprintf("daily rows dropped to 0, recent average %.0f", avgRows))
	}
	if mode == ModeHistorical && avgRows > 0 && float64(rowsProcessed) < e.HistoricalFloor*avgRows {
		issues = append(issues, fmt.Sprintf("historical rows %v far below recent average %.0f, possible partial load", rowsProcessed, avgRows))
	}

	return len(issues) == 0, issues
}

// Watchdog detects stale or missing runs: no successful run within MaxAge
// raises an alert. Meant to run from its own schedule, independent of the
// pipeline itself (which cannot alert if it never starts).
type Watchdog struct {
	runLog   RunLogStore
	notifier Notifier
	MaxAge   time.Duration
	now      func() time.Time
}

// NewWatchdog create a Watchdog alerting through notifier when the last
// successful run is older than maxAge.
func NewWatchdog(runLog RunLogStore, notifier Notifier, maxAge time.Duration) *Watchdog {
	return &Watchdog{
		runLog:   runLog,
		notifier: notifier,
		MaxAge:   maxAge,
		now:      time.Now,
	}
}

// Check alerts when no successful run completed within MaxAge. Returns the
// delivery error, if any.
func (w *Watchdog) Check(ctx context.Context) error {
	lastEnd, err := w.runLog.LastSuccessEnd(ctx)
	if err != nil {
		return err
	}
	now := w.now().UTC()
	if lastEnd != nil && now.Sub(lastEnd.UTC()) <= w.MaxAge {
		return nil
	}
	last := "never"
	if lastEnd != nil {
		last = lastEnd.UTC().Format(time.RFC3339)
	}
	DefaultLogger.Warn(ctx, "watchdog: no successful run within %v, last:%v", w.MaxAge, last)
	n := &Notification{
		Job:    "watchdog",
		Status: "stale",
		Issues: []string{
			"last successful run: " + last,
			"checked at: " + now.Format(time.RFC3339),
		},
	}
	return w.notifier.Notify(ctx, n)
}
