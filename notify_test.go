package poingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotificationSubjectForFailure(t *testing.T) {
	start := time.Date(2025, 3, 11, 2, 15, 0, 0, time.UTC)
	n := NewNotification(&RunReport{
		JobName:       "purchase_order_ingest",
		Mode:          ModeDaily,
		Status:        StatusFailed,
		StartTime:     start,
		EndTime:       start.Add(42 * time.Second),
		RowsProcessed: 120,
		Err:           errors.New("DbFail: upsert chunk failed"),
	})

	assert.Equal(t, "[ingest] FAILED - job=purchase_order_ingest, mode=daily, rows=120, dur=42.0s", n.Subject())
	body := n.Body()
	assert.Contains(t, body, "Status: failed")
	assert.Contains(t, body, "Error: DbFail: upsert chunk failed")
}

func TestNotificationSubjectForUnhealthySuccess(t *testing.T) {
	n := NewNotification(&RunReport{
		JobName: "purchase_order_ingest",
		Mode:    ModeDaily,
		Status:  StatusSuccess,
		Issues:  []string{"daily rows dropped to 0, recent average 500"},
	})

	assert.Contains(t, n.Subject(), "Attention")
	assert.Contains(t, n.Body(), "Heuristics:")
	assert.Contains(t, n.Body(), "dropped to 0")
}

func TestSMTPNotifierRejectsMissingConfig(t *testing.T) {
	err := (&SMTPNotifier{}).Notify(context.Background(), &Notification{Job: "x"})
	assert.Error(t, err)
	assert.Equal(t, ErrCodeConfig, ErrCode(err))
}
