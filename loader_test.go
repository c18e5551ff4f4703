package poingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkRecorder struct {
	chunks  [][]Record
	failOn  int
	written func([]Record) int
}

func (c *chunkRecorder) UpsertRecords(ctx context.Context, records []Record) (int, error) {
	if c.failOn > 0 && len(c.chunks)+1 == c.failOn {
		return 0, NewIngestError(ErrCodeDbFail, "lost connection")
	}
	c.chunks = append(c.chunks, records)
	if c.written != nil {
		return c.written(records), nil
	}
	return len(records), nil
}

func (c *chunkRecorder) TruncateRecords(ctx context.Context) error { return nil }

func someRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{PurchaseOrderId: "PO-1", LineItemNumber: string(rune('A' + i))}
	}
	return records
}

func TestLoadSplitsIntoChunks(t *testing.T) {
	rec := &chunkRecorder{}
	written, err := NewLoader(rec, 2).Load(context.Background(), someRecords(5))
	require.NoError(t, err)
	assert.Equal(t, 5, written)
	require.Len(t, rec.chunks, 3)
	assert.Len(t, rec.chunks[0], 2)
	assert.Len(t, rec.chunks[1], 2)
	assert.Len(t, rec.chunks[2], 1)
}

func TestLoadSumsActualWritesNotInputSize(t *testing.T) {
	rec := &chunkRecorder{written: func(r []Record) int { return 0 }}
	written, err := NewLoader(rec, 10).Load(context.Background(), someRecords(5))
	require.NoError(t, err)
	assert.Equal(t, 0, written)
}

func TestLoadStopsAtFailedChunk(t *testing.T) {
	rec := &chunkRecorder{failOn: 2}
	written, err := NewLoader(rec, 2).Load(context.Background(), someRecords(6))
	require.Error(t, err)
	assert.Equal(t, ErrCodeDbFail, ErrCode(err))
	// the first chunk's writes stand
	assert.Equal(t, 2, written)
	assert.Len(t, rec.chunks, 1)
}

func TestLoadEmptyInputIsNoop(t *testing.T) {
	rec := &chunkRecorder{}
	written, err := NewLoader(rec, 2).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Empty(t, rec.chunks)
}

func TestNewLoaderRejectsNonPositiveChunkSize(t *testing.T) {
	l := NewLoader(&chunkRecorder{}, 0)
	assert.Equal(t, DefaultLoadChunkSize, l.chunkSize)
}
