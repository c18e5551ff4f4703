package poingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrCodeClassification(t *testing.T) {
	err := NewIngestError(ErrCodeRetryable, "source returned status:%v", 503)
	assert.Equal(t, ErrCodeRetryable, ErrCode(err))
	assert.True(t, IsRetryable(err))

	assert.Equal(t, ErrCodeGeneral, ErrCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestTrailingErrorArgBecomesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewIngestError(ErrCodeDbFail, "upsert chunk failed, start:%v", 200, cause)

	assert.Contains(t, err.Error(), "upsert chunk failed, start:200")
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, errors.Is(err, cause))
}

func TestCodeSurvivesWrapping(t *testing.T) {
	inner := NewIngestError(ErrCodeLockHeld, "job:%v is already running", "po_ingest")
	wrapped := fmt.Errorf("run aborted: %w", inner)
	assert.Equal(t, ErrCodeLockHeld, ErrCode(wrapped))
}
