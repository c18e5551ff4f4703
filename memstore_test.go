package poingest

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the orchestration tests. It mirrors
// the database semantics the pipeline depends on: hash-aware upserts, lock
// staleness, ordered batch claiming.
type memStore struct {
	mu sync.Mutex

	checkpoints map[string]*Checkpoint
	locks       map[string]time.Time
	runs        []RunLogEntry
	hashes      map[string]string
	rows        map[string]Record
	truncated   int
	batches     []*Batch
	nextBatchId int64

	now           func() time.Time
	upsertErr     error
	checkpointErr error
}

func newMemStore() *memStore {
	return &memStore{
		checkpoints: map[string]*Checkpoint{},
		locks:       map[string]time.Time{},
		hashes:      map[string]string{},
		rows:        map[string]Record{},
		now:         time.Now,
	}
}

func (m *memStore) FindCheckpoint(ctx context.Context, jobName string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[jobName]
	if !ok {
		return nil, nil
	}
	c := *cp
	return &c, nil
}

func (m *memStore) SaveCheckpoint(ctx context.Context, jobName string, offset int, runTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpointErr != nil {
		return m.checkpointErr
	}
	m.checkpoints[jobName] = &Checkpoint{JobName: jobName, LastOffset: offset, LastRun: runTime}
	return nil
}

func (m *memStore) AcquireLock(ctx context.Context, jobName string, staleAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at, held := m.locks[jobName]; held && m.now().Sub(at) < staleAfter {
		return NewIngestError(ErrCodeLockHeld, "job:%v is already running", jobName)
	}
	m.locks[jobName] = m.now()
	return nil
}

func (m *memStore) ReleaseLock(ctx context.Context, jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, jobName)
	return nil
}

func (m *memStore) RecordRun(ctx context.Context, entry *RunLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.RunId = int64(len(m.runs) + 1)
	m.runs = append(m.runs, *entry)
	return nil
}

func (m *memStore) RecentSuccessStats(ctx context.Context, mode Mode, window int) ([]RunStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats []RunStats
	for i := len(m.runs) - 1; i >= 0 && len(stats) < window; i-- {
		r := m.runs[i]
		if r.Status == StatusSuccess && r.Mode == mode {
			stats = append(stats, RunStats{
				RowsProcessed: r.RowsProcessed,
				DurationSec:   r.EndTime.Sub(r.StartTime).Seconds(),
			})
		}
	}
	return stats, nil
}

func (m *memStore) LastSuccessEnd(ctx context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Status == StatusSuccess {
			end := m.runs[i].EndTime
			return &end, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpsertRecords(ctx context.Context, records []Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	written := 0
	for _, r := range records {
		key := r.PurchaseOrderId + "|" + r.LineItemNumber
		if m.hashes[key] == r.SourceHash {
			continue
		}
		m.hashes[key] = r.SourceHash
		m.rows[key] = r
		written++
	}
	return written, nil
}

func (m *memStore) TruncateRecords(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes = map[string]string{}
	m.rows = map[string]Record{}
	m.truncated++
	return nil
}

func (m *memStore) CountBatches(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches), nil
}

func (m *memStore) CreateBatches(ctx context.Context, batches []Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range batches {
		m.nextBatchId++
		nb := b
		nb.BatchId = m.nextBatchId
		m.batches = append(m.batches, &nb)
	}
	return nil
}

func (m *memStore) ClaimNextBatch(ctx context.Context) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Batch
	for _, b := range m.batches {
		if b.Status != BatchPending {
			continue
		}
		if best == nil || b.StartDate.Before(best.StartDate) {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = BatchInProgress
	claimed := *best
	return &claimed, nil
}

func (m *memStore) CompleteBatch(ctx context.Context, batchId int64, filesCount, rowsInserted int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.BatchId == batchId {
			b.Status = BatchCompleted
			b.FilesCount = filesCount
			b.RowsInserted = rowsInserted
			return nil
		}
	}
	return NewIngestError(ErrCodeDbFail, "no batch with id:%v", batchId)
}

func (m *memStore) FailBatch(ctx context.Context, batchId int64, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.BatchId == batchId {
			b.Status = BatchFailed
			b.ErrorMessage = &errorMessage
			return nil
		}
	}
	return NewIngestError(ErrCodeDbFail, "no batch with id:%v", batchId)
}

func (m *memStore) ResetFailedBatches(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		if b.Status == BatchFailed {
			b.Status = BatchPending
			b.ErrorMessage = nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) checkpointOf(jobName string) Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.checkpoints[jobName]; ok {
		return *cp
	}
	return Checkpoint{}
}

func (m *memStore) runEntries() []RunLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunLogEntry(nil), m.runs...)
}
