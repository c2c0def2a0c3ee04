package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", WorkflowID(ctx))
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, 0, StepNo(ctx))

	ctx = WithRun(ctx, "wf-123", "run-9")
	ctx = WithStepNo(ctx, 4)

	assert.Equal(t, "wf-123", WorkflowID(ctx))
	assert.Equal(t, "run-9", RunID(ctx))
	assert.Equal(t, 4, StepNo(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithStepNo(WithRun(context.Background(), "wf-abc", "run-x"), 7)
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "workflow_id=wf-abc")
	assert.Contains(t, output, "run_id=run-x")
	assert.Contains(t, output, "step_no=7")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(WithWorkflowID(context.Background(), "wf-only"), logger).Info("partial")

	output := buf.String()
	assert.Contains(t, output, "workflow_id=wf-only")
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "step_no")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))).With("component", "engine")

	ctx := WithRun(context.Background(), "wf-1", "run-1")
	logger.InfoContext(ctx, "step done")

	output := buf.String()
	assert.Contains(t, output, `"workflow_id":"wf-1"`)
	assert.Contains(t, output, `"run_id":"run-1"`)
	assert.Contains(t, output, `"component":"engine"`)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(slog.LevelWarn, "json", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = New(slog.LevelInfo, "xml", &buf)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
