package poingest

import (
	"context"
	"time"
)

// BackfillManager pre-slices a large historical window into monthly batches
// and hands them out one at a time. Claiming is exclusive across concurrent
// claimants via the store's skip-locked read.
type BackfillManager struct {
	batches BatchStore
}

// NewBackfillManager create a BackfillManager over the batch store.
func NewBackfillManager(batches BatchStore) *BackfillManager {
	return &BackfillManager{batches: batches}
}

// Initialize populates the batch table with one row per calendar month across
// [from, to). Idempotent: a non-empty table is left untouched. Returns the
// number of batches created.
func (m *BackfillManager) Initialize(ctx context.Context, from, to time.Time) (int, error) {
	count, err := m.batches.CountBatches(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		DefaultLogger.Info(ctx, "backfill batches already initialized, count:%v", count)
		return 0, nil
	}
	slices := MonthSlices(from, to)
	if len(slices) == 0 {
		return 0, NewIngestError(ErrCodeConfig, "backfill window is empty, from:%v, to:%v", from, to)
	}
	if err := m.batches.CreateBatches(ctx, slices); err != nil {
		return 0, err
	}
	DefaultLogger.Info(ctx, "created %v monthly backfill batches, from:%v, to:%v",
		len(slices), from.Format("2006-01-02"), to.Format("2006-01-02"))
	return len(slices), nil
}

// MonthSlices splits [from, to) into consecutive one-month spans, the last
// one clamped to the window end.
func MonthSlices(from, to time.Time) []Batch {
	var slices []Batch
	for current := from; current.Before(to); {
		next := current.AddDate(0, 1, 0)
		if next.After(to) {
			next = to
		}
		slices = append(slices, Batch{
			StartDate: current,
			EndDate:   next,
			Status:    BatchPending,
		})
		current = next
	}
	return slices
}

// Drain claims and processes PENDING batches until none remain, running one
// historical ingest per slice. A failed batch is marked FAILED and left for
// an explicit operator reset; failures are not auto-retried so a
// systematically broken batch is never masked.
func (m *BackfillManager) Drain(ctx context.Context, pipeline *Pipeline) error {
	for {
		batch, err := m.batches.ClaimNextBatch(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			DefaultLogger.Info(ctx, "no pending backfill batches remain")
			return nil
		}
		DefaultLogger.Info(ctx, "claimed backfill batch, id:%v, window:%v -> %v",
			batch.BatchId, batch.StartDate.Format("2006-01-02"), batch.EndDate.Format("2006-01-02"))

		window := DateWindow{From: &batch.StartDate, To: &batch.EndDate}
		report, err := pipeline.RunWindow(ctx, window)
		if err != nil {
			if ferr := m.batches.FailBatch(ctx, batch.BatchId, err.Error()); ferr != nil {
				DefaultLogger.Error(ctx, "mark batch failed errored, id:%v, err:%v", batch.BatchId, ferr)
			}
			// keep draining: one broken month must not block the rest
			DefaultLogger.Error(ctx, "backfill batch failed, id:%v, err:%v", batch.BatchId, err)
			continue
		}
		if err := m.batches.CompleteBatch(ctx, batch.BatchId, report.FilesSaved, report.RowsProcessed); err != nil {
			DefaultLogger.Error(ctx, "mark batch complete errored, id:%v, err:%v", batch.BatchId, err)
		}
	}
}

// ResetFailed flips FAILED batches back to PENDING so a subsequent Drain
// retries them. Explicit operator action by design.
func (m *BackfillManager) ResetFailed(ctx context.Context) (int, error) {
	n, err := m.batches.ResetFailedBatches(ctx)
	if err != nil {
		return 0, err
	}
	DefaultLogger.Info(ctx, "reset %v failed batches to pending", n)
	return n, nil
}
