package poingest

import (
	"context"
	"time"
)

// CheckpointStore persists the durable pagination cursor per job.
type CheckpointStore interface {
	FindCheckpoint(ctx context.Context, jobName string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, jobName string, offset int, runTime time.Time) error
}

// LockStore guards against overlapping runs of the same job. AcquireLock
// fails with ErrCodeLockHeld while another holder is active; a lock older
// than staleAfter is treated as abandoned and forcibly reclaimed.
// ReleaseLock is idempotent.
type LockStore interface {
	AcquireLock(ctx context.Context, jobName string, staleAfter time.Duration) error
	ReleaseLock(ctx context.Context, jobName string) error
}

// RunLogStore appends run outcomes and serves the health evaluator.
type RunLogStore interface {
	RecordRun(ctx context.Context, entry *RunLogEntry) error
	RecentSuccessStats(ctx context.Context, mode Mode, window int) ([]RunStats, error)
	LastSuccessEnd(ctx context.Context) (*time.Time, error)
}

// RecordStore writes transformed records. UpsertRecords runs in one
// transaction per call and must not touch rows whose source_hash is
// unchanged; it returns the number of rows actually written.
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []Record) (int, error)
	TruncateRecords(ctx context.Context) error
}

// BatchStore manages historical backfill slices. ClaimNextBatch uses
// skip-locked reads so no two claimants ever receive the same batch; it
// returns nil when no PENDING batch remains.
type BatchStore interface {
	CountBatches(ctx context.Context) (int, error)
	CreateBatches(ctx context.Context, batches []Batch) error
	ClaimNextBatch(ctx context.Context) (*Batch, error)
	CompleteBatch(ctx context.Context, batchId int64, filesCount, rowsInserted int) error
	FailBatch(ctx context.Context, batchId int64, errorMessage string) error
	ResetFailedBatches(ctx context.Context) (int, error)
}

// Store is the full durable surface the pipeline coordinates through. The
// checkpoint and lock rows are the only cross-instance coordination points,
// which is why all of this lives in the database rather than process memory.
type Store interface {
	CheckpointStore
	LockStore
	RunLogStore
	RecordStore
	BatchStore
}
