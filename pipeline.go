package poingest

import (
	"context"
	"time"
)

const (
	// DefaultLockStaleAfter is how old a run lock may get before it is
	// considered abandoned by a crashed holder.
	DefaultLockStaleAfter = 30 * time.Minute
	// DefaultIncrementalDays is the lookback window of daily loads.
	DefaultIncrementalDays = 2
)

// RunReport summarizes one pipeline run for the caller and the alerting
// payload.
type RunReport struct {
	JobName       string
	Mode          Mode
	Status        string
	StartTime     time.Time
	EndTime       time.Time
	RowsProcessed int
	RowsWritten   int
	FilesSaved    int
	LastOffset    int
	Issues        []string
	Err           error
}

// Duration run wall time
func (r *RunReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// RefreshFunc triggers the downstream aggregate recompute after a successful
// run. Fire-and-forget: a failure is logged, never fails the run.
type RefreshFunc func(ctx context.Context) error

// Pipeline is the single-process orchestrator of one ingestion job: it
// acquires the run lock, resolves the starting offset from the checkpoint,
// streams pages through transform and load, advances the checkpoint, records
// the run, and hands anomalies to the notifier.
type Pipeline struct {
	jobName     string
	mode        Mode
	store       Store
	fetcher     *Fetcher
	transformer *Transformer
	loader      *Loader
	evaluator   *Evaluator
	notifier    Notifier
	refresh     RefreshFunc
	archiver    *PageArchiver

	pageLimit          int
	incrementalDays    int
	truncateHistorical bool
	lockStaleAfter     time.Duration
	now                func() time.Time
}

// Run executes one full ingestion pass in the pipeline's mode.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	return p.RunWindow(ctx, DateWindow{})
}

// RunAsync executes the run on the shared job pool. The Future resolves to
// the *RunReport.
func (p *Pipeline) RunAsync(ctx context.Context) Future {
	return jobPool.Submit(ctx, func() (interface{}, error) {
		return p.RunWindow(ctx, DateWindow{})
	})
}

// RunWindow executes one pass restricted to the given date window; backfill
// drivers use it to ingest one batch slice at a time. A zero window applies
// the mode's own window rules.
func (p *Pipeline) RunWindow(ctx context.Context, window DateWindow) (*RunReport, error) {
	if err := p.store.AcquireLock(ctx, p.jobName, p.lockStaleAfter); err != nil {
		DefaultLogger.Error(ctx, "run lock not acquired, job:%v, err:%v", p.jobName, err)
		return nil, err
	}
	DefaultLogger.Info(ctx, "run lock acquired, job:%v", p.jobName)
	defer func() {
		if err := p.store.ReleaseLock(context.WithoutCancel(ctx), p.jobName); err != nil {
			// stale-lock override is the backstop if this release is lost
			DefaultLogger.Error(ctx, "run lock release failed, job:%v, err:%v", p.jobName, err)
		}
	}()

	report := &RunReport{
		JobName:   p.jobName,
		Mode:      p.mode,
		Status:    StatusSuccess,
		StartTime: p.now().UTC(),
	}
	DefaultLogger.Info(ctx, "ingest started, job:%v, mode:%v", p.jobName, p.mode)

	offset, err := p.resolveStart(ctx, &window)
	if err == nil {
		report.LastOffset = offset
		err = p.ingest(ctx, offset, window, report)
	}
	if err != nil {
		report.Status = StatusFailed
		report.Err = err
	}
	report.EndTime = p.now().UTC()
	p.finish(ctx, report)
	return report, report.Err
}

// resolveStart applies the mode-dependent checkpoint rules and returns the
// offset to resume from.
func (p *Pipeline) resolveStart(ctx context.Context, window *DateWindow) (int, error) {
	cp, err := p.store.FindCheckpoint(ctx, p.jobName)
	if err != nil {
		return 0, err
	}
	offset := 0
	if cp != nil {
		offset = cp.LastOffset
	}

	switch p.mode {
	case ModeDaily:
		today := p.now().UTC().Truncate(24 * time.Hour)
		if cp != nil && cp.LastRun.UTC().Truncate(24*time.Hour).Before(today) {
			// new day's incremental window: persist the reset before any
			// fetching so a crash right after resumes from 0
			if err := p.store.SaveCheckpoint(ctx, p.jobName, 0, p.now().UTC()); err != nil {
				return 0, err
			}
			DefaultLogger.Info(ctx, "daily checkpoint reset, job:%v, previous_offset:%v", p.jobName, offset)
			offset = 0
		}
		if window.From == nil {
			from := p.now().UTC().AddDate(0, 0, -p.incrementalDays)
			window.From = &from
		}
	case ModeHistorical:
		if window.From != nil || window.To != nil {
			// bounded slice: pagination is relative to the slice window,
			// not the job-wide cursor
			offset = 0
		}
		if p.truncateHistorical {
			if err := p.store.TruncateRecords(ctx); err != nil {
				return 0, err
			}
			if err := p.store.SaveCheckpoint(ctx, p.jobName, 0, p.now().UTC()); err != nil {
				return 0, err
			}
			DefaultLogger.Info(ctx, "target table truncated for historical reload, checkpoint reset, job:%v", p.jobName)
			offset = 0
		}
	default:
		return 0, NewIngestError(ErrCodeConfig, "unknown mode:%v", p.mode)
	}
	DefaultLogger.Info(ctx, "resuming from checkpoint, job:%v, offset:%v", p.jobName, offset)
	return offset, nil
}

// ingest streams pages, loads them, and advances the checkpoint monotonically
// over the contiguous loaded prefix.
func (p *Pipeline) ingest(ctx context.Context, startOffset int, window DateWindow, report *RunReport) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := p.fetcher.Fetch(fetchCtx, startOffset, window)
	tracker := newOffsetTracker(startOffset, p.pageLimit)
	pagesLoaded, pagesFailed := 0, 0

	var runErr error
	for r := range results {
		if runErr != nil {
			continue // draining after abort
		}
		if r.Err != nil {
			pagesFailed++
			continue
		}
		page := r.Page
		if p.archiver != nil && len(page.Items) > 0 {
			if _, err := p.archiver.SavePage(ctx, p.jobName, page.Offset, page.Items); err != nil {
				DefaultLogger.Warn(ctx, "raw page archive failed, offset:%v, err:%v", page.Offset, err)
			} else {
				report.FilesSaved++
			}
		}
		if len(page.Items) == 0 {
			continue
		}

		records := p.transformer.Transform(ctx, page.Items)
		written, err := p.loader.Load(ctx, records)
		if err != nil {
			// already-committed chunks stay committed; the checkpoint has
			// not moved past this page
			runErr = err
			cancel()
			continue
		}
		pagesLoaded++
		report.RowsProcessed += len(records)
		report.RowsWritten += written

		if advanced, checkpoint := tracker.markLoaded(page.Offset, page.Returned); advanced {
			if err := p.store.SaveCheckpoint(ctx, p.jobName, checkpoint, p.now().UTC()); err != nil {
				runErr = err
				cancel()
				continue
			}
			report.LastOffset = checkpoint
		}
		DefaultLogger.Info(ctx, "page loaded, job:%v, offset:%v, rows:%v, written:%v, checkpoint:%v, total:%v",
			p.jobName, page.Offset, len(records), written, report.LastOffset, report.RowsProcessed)
	}
	if runErr != nil {
		return runErr
	}
	if pagesLoaded == 0 && pagesFailed > 0 {
		return NewIngestError(ErrCodeGeneral, "no viable page could be fetched, failed_pages:%v", pagesFailed)
	}
	return nil
}

// finish records the run outcome, evaluates health heuristics, alerts when
// warranted, and fires the downstream refresh on success. Failures here are
// logged, never masked over the run's own result.
func (p *Pipeline) finish(ctx context.Context, report *RunReport) {
	ctx = context.WithoutCancel(ctx)
	entry := &RunLogEntry{
		Mode:          p.mode,
		StartTime:     report.StartTime,
		EndTime:       report.EndTime,
		RowsProcessed: report.RowsProcessed,
		Status:        report.Status,
	}
	if report.Err != nil {
		msg := report.Err.Error()
		entry.ErrorMessage = &msg
	}
	if err := p.store.RecordRun(ctx, entry); err != nil {
		DefaultLogger.Error(ctx, "record run log failed, job:%v, err:%v", p.jobName, err)
	}

	healthy := true
	if p.evaluator != nil {
		var issues []string
		healthy, issues = p.evaluator.EvaluateRun(ctx, p.mode, report.RowsProcessed, report.Duration())
		report.Issues = issues
	}
	DefaultLogger.Info(ctx, "ingest finished, job:%v, mode:%v, status:%v, rows:%v, duration:%.2fs, last_offset:%v",
		p.jobName, p.mode, report.Status, report.RowsProcessed, report.Duration().Seconds(), report.LastOffset)

	if report.Status != StatusSuccess || !healthy {
		if err := p.notifier.Notify(ctx, NewNotification(report)); err != nil {
			DefaultLogger.Error(ctx, "alert delivery failed, job:%v, err:%v", p.jobName, err)
		}
	}
	if report.Status == StatusSuccess && p.refresh != nil {
		if err := p.refresh(ctx); err != nil {
			DefaultLogger.Error(ctx, "summary refresh trigger failed, job:%v, err:%v", p.jobName, err)
		}
	}
}

// offsetTracker advances the checkpoint over the contiguous prefix of loaded
// pages. Pages complete out of order under concurrent fetch; the checkpoint
// must never move past an unloaded page, or a crash would skip data.
type offsetTracker struct {
	limit      int
	next       int
	checkpoint int
	loaded     map[int]int
}

func newOffsetTracker(start, limit int) *offsetTracker {
	return &offsetTracker{
		limit:      limit,
		next:       start,
		checkpoint: start,
		loaded:     map[int]int{},
	}
}

// markLoaded records a loaded page and returns whether the checkpoint
// advanced, along with its new value: start plus the returned counts of all
// contiguously loaded pages.
func (t *offsetTracker) markLoaded(offset, returned int) (bool, int) {
	t.loaded[offset] = returned
	advanced := false
	for {
		r, ok := t.loaded[t.next]
		if !ok {
			break
		}
		delete(t.loaded, t.next)
		t.checkpoint += r
		t.next += t.limit
		advanced = true
	}
	return advanced, t.checkpoint
}
