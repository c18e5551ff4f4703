package poingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthSlicesCoverWindowExactly(t *testing.T) {
	slices := MonthSlices(date(2024, 1, 1), date(2024, 4, 1))
	require.Len(t, slices, 3)
	assert.Equal(t, date(2024, 1, 1), slices[0].StartDate)
	assert.Equal(t, date(2024, 2, 1), slices[0].EndDate)
	assert.Equal(t, date(2024, 2, 1), slices[1].StartDate)
	assert.Equal(t, date(2024, 3, 1), slices[1].EndDate)
	assert.Equal(t, date(2024, 3, 1), slices[2].StartDate)
	assert.Equal(t, date(2024, 4, 1), slices[2].EndDate)
	for _, s := range slices {
		assert.Equal(t, BatchPending, s.Status)
	}
}

func TestMonthSlicesClampLastToWindowEnd(t *testing.T) {
	slices := MonthSlices(date(2024, 1, 15), date(2024, 3, 1))
	require.Len(t, slices, 2)
	assert.Equal(t, date(2024, 2, 15), slices[0].EndDate)
	assert.Equal(t, date(2024, 3, 1), slices[1].EndDate)
}

func TestInitializeIsIdempotent(t *testing.T) {
	st := newMemStore()
	m := NewBackfillManager(st)

	created, err := m.Initialize(context.Background(), date(2024, 1, 1), date(2024, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	created, err = m.Initialize(context.Background(), date(2023, 1, 1), date(2023, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	n, err := st.CountBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInitializeRejectsEmptyWindow(t *testing.T) {
	st := newMemStore()
	_, err := NewBackfillManager(st).Initialize(context.Background(), date(2024, 4, 1), date(2024, 4, 1))
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}

func TestClaimNextBatchIsExclusiveAndOrdered(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.CreateBatches(context.Background(), MonthSlices(date(2024, 1, 1), date(2024, 3, 1))))

	first, err := st.ClaimNextBatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, date(2024, 1, 1), first.StartDate)

	second, err := st.ClaimNextBatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, date(2024, 2, 1), second.StartDate)

	third, err := st.ClaimNextBatch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestDrainRunsEverySliceWithItsWindow(t *testing.T) {
	st := newMemStore()
	src := newFakeSource()
	src.addPage(0, 25, false)
	m := NewBackfillManager(st)
	_, err := m.Initialize(context.Background(), date(2024, 1, 1), date(2024, 3, 1))
	require.NoError(t, err)

	p := NewPipelineBuilder("po_backfill", st).
		Mode(ModeHistorical).
		Fetcher(NewFetcher(src, 100, 1, 10, 0)).
		PageLimit(100).
		Build()
	require.NoError(t, m.Drain(context.Background(), p))

	for _, b := range st.batches {
		assert.Equal(t, BatchCompleted, b.Status)
		assert.Equal(t, 25, b.RowsInserted)
	}
	// every slice carried both window bounds
	require.GreaterOrEqual(t, len(src.windows), 2)
	froms := map[string]bool{}
	for _, w := range src.windows {
		require.NotNil(t, w.From)
		require.NotNil(t, w.To)
		froms[w.From.Format("2006-01-02")] = true
	}
	assert.True(t, froms["2024-01-01"])
	assert.True(t, froms["2024-02-01"])
}

func TestDrainMarksFailedBatchAndKeepsGoing(t *testing.T) {
	st := newMemStore()
	st.upsertErr = NewIngestError(ErrCodeDbFail, "table gone")
	src := newFakeSource()
	src.addPage(0, 5, false)
	m := NewBackfillManager(st)
	_, err := m.Initialize(context.Background(), date(2024, 1, 1), date(2024, 3, 1))
	require.NoError(t, err)

	p := NewPipelineBuilder("po_backfill", st).
		Mode(ModeHistorical).
		Fetcher(NewFetcher(src, 100, 1, 10, 0)).
		PageLimit(100).
		Build()
	require.NoError(t, m.Drain(context.Background(), p))

	for _, b := range st.batches {
		assert.Equal(t, BatchFailed, b.Status)
		require.NotNil(t, b.ErrorMessage)
	}
}

func TestResetFailedFlipsBatchesBackToPending(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.CreateBatches(context.Background(), MonthSlices(date(2024, 1, 1), date(2024, 3, 1))))
	b, err := st.ClaimNextBatch(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.FailBatch(context.Background(), b.BatchId, "boom"))

	n, err := NewBackfillManager(st).ResetFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	claimed, err := st.ClaimNextBatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, b.BatchId, claimed.BatchId)
	assert.Nil(t, claimed.ErrorMessage)
}
