package poingest

import (
	"context"
)

// DefaultLoadChunkSize bounds transaction size and lock duration per commit.
const DefaultLoadChunkSize = 2000

// Loader performs batched, change-aware upserts. Each chunk commits
// independently, so a late failure keeps already-committed chunks: the
// checkpoint tracks progress at page granularity and the upsert is
// idempotent, making at-least-once delivery safe.
type Loader struct {
	store     RecordStore
	chunkSize int
}

// NewLoader create a Loader writing through store in chunks of chunkSize.
func NewLoader(store RecordStore, chunkSize int) *Loader {
	if chunkSize <= 0 {
		chunkSize = DefaultLoadChunkSize
	}
	return &Loader{store: store, chunkSize: chunkSize}
}

// Load upserts records in chunks and returns the number of rows written.
// Rows whose source_hash matches the stored one produce no write.
func (l *Loader) Load(ctx context.Context, records []Record) (int, error) {
	written := 0
	for start := 0; start < len(records); start += l.chunkSize {
		end := start + l.chunkSize
		if end > len(records) {
			end = len(records)
		}
		n, err := l.store.UpsertRecords(ctx, records[start:end])
		if err != nil {
			return written, NewIngestError(ErrCodeDbFail, "upsert chunk failed, start:%v, size:%v", start, end-start, err)
		}
		written += n
	}
	return written, nil
}
