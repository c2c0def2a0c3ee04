package tracer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLog() *schema.WorkflowRunLog {
	now := time.Now().UTC()
	return &schema.WorkflowRunLog{
		ID: "run-1", WorkflowID: "wf-1", RevisionID: "rev-1",
		Status: schema.RunStatusCompleted, StartedAt: now, FinishedAt: now,
		Steps: []*schema.WorkflowRunLogStep{{Sequence: 1, StepNo: 1, StepType: "end"}},
	}
}

type failingWriter struct{}

func (failingWriter) SaveRunLog(context.Context, *schema.WorkflowRunLog) error {
	return errors.New("disk full")
}

func TestStoreTracer_Persists(t *testing.T) {
	s := store.NewMemoryStore()
	id, err := NewStoreTracer(s).OnWorkflowFinish(context.Background(), sampleLog())
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)

	got, err := s.GetRunLog(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got.StepNos())
}

func TestStoreTracer_WrapsErrors(t *testing.T) {
	_, err := NewStoreTracer(failingWriter{}).OnWorkflowFinish(context.Background(), sampleLog())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeTracer))
	assert.Contains(t, err.Error(), "disk full")
}

func TestLogTracer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	l := sampleLog()
	l.Status = schema.RunStatusFailed
	l.Error = schema.NewError(schema.ErrCodeStepFailed, "boom").WithStep(1)

	id, err := NewLogTracer(logger).OnWorkflowFinish(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, "log:run-1", id)
	assert.Contains(t, buf.String(), `"status":"FAILED"`)
	assert.Contains(t, buf.String(), `[STEP_FAILED] step 1: boom`)
}

func TestMultiTracer(t *testing.T) {
	s := store.NewMemoryStore()
	m := MultiTracer{NewStoreTracer(failingWriter{}), NopTracer{}, NewStoreTracer(s)}

	id, err := m.OnWorkflowFinish(context.Background(), sampleLog())
	require.Error(t, err)
	assert.Equal(t, "run-1", id)

	_, getErr := s.GetRunLog(context.Background(), "run-1")
	assert.NoError(t, getErr, "later tracers still run")
}
