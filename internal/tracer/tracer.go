// Package tracer receives the trace of every finished run. The engine owns no
// persistent state; whatever a run should leave behind is written here.
package tracer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// Tracer is notified once per run, after traversal ends, with the complete
// (or, on failure, partial) run log. It returns an identifier for the
// persisted trace. Errors are logged by the engine and never fail the run.
type Tracer interface {
	OnWorkflowFinish(ctx context.Context, log *schema.WorkflowRunLog) (string, error)
}

// RunLogWriter is the slice of the store a StoreTracer needs.
type RunLogWriter interface {
	SaveRunLog(ctx context.Context, log *schema.WorkflowRunLog) error
}

// StoreTracer persists run logs, returning the run id as trace id.
type StoreTracer struct {
	store RunLogWriter
}

// NewStoreTracer creates a tracer writing to store.
func NewStoreTracer(store RunLogWriter) *StoreTracer {
	return &StoreTracer{store: store}
}

func (t *StoreTracer) OnWorkflowFinish(ctx context.Context, l *schema.WorkflowRunLog) (string, error) {
	if err := t.store.SaveRunLog(ctx, l); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTracer, "save run log %s: %s", l.ID, err.Error()).WithCause(err)
	}
	return l.ID, nil
}

// LogTracer writes one structured log line per run.
type LogTracer struct {
	logger *slog.Logger
}

// NewLogTracer creates a tracer logging to logger (slog.Default when nil).
func NewLogTracer(logger *slog.Logger) *LogTracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracer{logger: logger}
}

func (t *LogTracer) OnWorkflowFinish(ctx context.Context, l *schema.WorkflowRunLog) (string, error) {
	attrs := []any{
		slog.String("run_id", l.ID),
		slog.String("workflow_id", l.WorkflowID),
		slog.String("revision_id", l.RevisionID),
		slog.String("status", string(l.Status)),
		slog.Any("steps", l.StepNos()),
		slog.Duration("elapsed", l.FinishedAt.Sub(l.StartedAt)),
	}
	if l.Error != nil {
		attrs = append(attrs, slog.String("error", l.Error.Error()))
	}
	t.logger.InfoContext(ctx, "workflow run finished", attrs...)
	return "log:" + l.ID, nil
}

// NopTracer discards run logs.
type NopTracer struct{}

func (NopTracer) OnWorkflowFinish(context.Context, *schema.WorkflowRunLog) (string, error) {
	return "", nil
}

// MultiTracer fans a run log out to several tracers in order. Every tracer
// is called even when an earlier one fails; the returned id joins the
// non-empty ids with commas and the errors are joined.
type MultiTracer []Tracer

func (m MultiTracer) OnWorkflowFinish(ctx context.Context, l *schema.WorkflowRunLog) (string, error) {
	var ids []string
	var errs []error
	for _, t := range m {
		id, err := t.OnWorkflowFinish(ctx, l)
		if err != nil {
			errs = append(errs, err)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return strings.Join(ids, ","), errors.Join(errs...)
}

var (
	_ Tracer = (*StoreTracer)(nil)
	_ Tracer = (*LogTracer)(nil)
	_ Tracer = NopTracer{}
	_ Tracer = MultiTracer(nil)
)
