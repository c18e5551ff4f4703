package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge/poingest"
)

func TestDedupeByKeyKeepsLastOccurrence(t *testing.T) {
	records := []poingest.Record{
		{PurchaseOrderId: "PO-1", LineItemNumber: "10", SourceHash: "old"},
		{PurchaseOrderId: "PO-1", LineItemNumber: "20", SourceHash: "a"},
		{PurchaseOrderId: "PO-1", LineItemNumber: "10", SourceHash: "new"},
		{PurchaseOrderId: "PO-2", LineItemNumber: "10", SourceHash: "b"},
	}
	out := dedupeByKey(records)
	require.Len(t, out, 3)
	assert.Equal(t, "new", out[0].SourceHash)
	assert.Equal(t, "a", out[1].SourceHash)
	assert.Equal(t, "b", out[2].SourceHash)
}

func TestDedupeByKeyPassthrough(t *testing.T) {
	records := []poingest.Record{
		{PurchaseOrderId: "PO-1", LineItemNumber: "10"},
		{PurchaseOrderId: "PO-1", LineItemNumber: "20"},
	}
	assert.Len(t, dedupeByKey(records), 2)
}

func TestNullableArgs(t *testing.T) {
	assert.Nil(t, nullFloat(nil))
	v := 3.5
	assert.Equal(t, 3.5, nullFloat(&v))

	assert.Nil(t, nullTime(nil))
	ts := time.Date(2025, 3, 10, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	got := nullTime(&ts)
	require.IsType(t, time.Time{}, got)
	assert.Equal(t, time.UTC, got.(time.Time).Location())
}

func TestRecordArgsOrderMatchesColumnList(t *testing.T) {
	q := 2.0
	r := poingest.Record{
		Status:     "open",
		SupplierId: "SUP-1",
		ProductId:  "MAT-1",
		Quantity:   &q,
		SourceHash: "abc",
	}
	args := recordArgs(&r)
	require.Len(t, args, 13)
	assert.Equal(t, "open", args[1])
	assert.Equal(t, "SUP-1", args[2])
	assert.Equal(t, "MAT-1", args[5])
	assert.Equal(t, 2.0, args[7])
	assert.Equal(t, "abc", args[12])
}
