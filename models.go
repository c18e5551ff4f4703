package poingest

import (
	"time"

	"github.com/karlseguin/typed"
)

// Mode selects the ingestion window strategy.
type Mode string

const (
	ModeDaily      Mode = "daily"
	ModeHistorical Mode = "historical"
)

// run status values persisted to the run log
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// batch status values for historical backfill slices
const (
	BatchPending    = "PENDING"
	BatchInProgress = "IN_PROGRESS"
	BatchCompleted  = "COMPLETED"
	BatchFailed     = "FAILED"
)

// Checkpoint is the durable cursor of an ingestion job. Created on first run,
// updated after every successfully loaded page, never deleted.
type Checkpoint struct {
	JobName    string
	LastOffset int
	LastRun    time.Time
}

// RunLock marks a job as running. A lock older than the staleness threshold is
// treated as abandoned by a crashed holder.
type RunLock struct {
	JobName   string
	StartedAt time.Time
	Status    string
}

// RunLogEntry is the immutable record of one pipeline run.
type RunLogEntry struct {
	RunId         int64
	Mode          Mode
	StartTime     time.Time
	EndTime       time.Time
	RowsProcessed int
	Status        string
	ErrorMessage  *string
}

// RunStats is the slice of a RunLogEntry the health evaluator needs.
type RunStats struct {
	RowsProcessed int
	DurationSec   float64
}

// Batch is one calendar-month slice of a historical backfill window.
// EndDate is exclusive.
type Batch struct {
	BatchId      int64
	StartDate    time.Time
	EndDate      time.Time
	Status       string
	FilesCount   int
	RowsInserted int
	ErrorMessage *string
}

// Record is a flattened purchase-order line item, the unit being loaded.
// Nullable numeric and date fields stay nil when the source value was absent
// or unparsable.
type Record struct {
	PurchaseOrderId string
	LineItemNumber  string
	CreatedDate     *time.Time
	Status          string
	SupplierId      string
	PurchasingGroup string
	Plant           string
	ProductId       string
	Description     string
	Quantity        *float64
	Unit            string
	UnitPrice       *float64
	NetValue        *float64
	MaterialGroup   string
	SourceHash      string
}

// Page is one normalized page of upstream data. Downstream code depends only
// on this shape, never on the raw response layout.
type Page struct {
	Offset   int
	Items    []typed.Typed
	Returned int
	HasMore  bool
}

// PageResult is what the parallel fetcher yields: a page or the error that
// remained after the HTTP client exhausted its retries for that offset.
type PageResult struct {
	Offset int
	Page   *Page
	Err    error
}
