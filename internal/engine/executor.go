// Package engine walks workflow revisions step by step, threading one
// mutable variable context through the workflow type's hooks and the step
// bodies, and hands the resulting trace to a tracer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/graph"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/tracer"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultMaxSteps bounds a single run. Graphs with branching cycles are
// legal, so a run that never reaches a terminal step is stopped here.
const DefaultMaxSteps = 10000

// DefaultPoolSize is the default number of runs ExecuteAll runs at once.
const DefaultPoolSize = 10

// Source resolves workflow definitions. Satisfied by store.Store.
type Source interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	GetRevision(ctx context.Context, id string) (*schema.WorkflowRevision, error)
}

// Types resolves step and workflow types. Satisfied by *registry.Registry.
type Types interface {
	StepType(name string) (*registry.StepType, error)
	WorkflowType(name string) (*registry.WorkflowType, error)
}

// ExecutorConfig holds executor limits.
type ExecutorConfig struct {
	MaxSteps int          // steps per run before STEP_LIMIT_EXCEEDED (0 = DefaultMaxSteps)
	PoolSize int          // concurrent runs in ExecuteAll (0 = DefaultPoolSize)
	Logger   *slog.Logger // nil = slog.Default()
}

// Input names the workflow to run and its initial context. RevisionID
// overrides the workflow's current revision when set. Vars is copied; the
// caller's map is never mutated.
type Input struct {
	WorkflowID string     `json:"workflow_id"`
	RevisionID string     `json:"revision_id,omitempty"`
	Vars       value.Vars `json:"vars,omitempty"`
}

// Output is the result of one run. A failed run still carries the context
// as the failing step left it and the trace up to that step.
type Output struct {
	RunID      string                       `json:"run_id"`
	WorkflowID string                       `json:"workflow_id"`
	RevisionID string                       `json:"revision_id"`
	Status     schema.RunStatus             `json:"status"`
	Vars       value.Vars                   `json:"vars"`
	Trace      []*schema.WorkflowRunLogStep `json:"trace"`
	Err        *schema.FlowError            `json:"error,omitempty"`
	TracerID   string                       `json:"tracer_id,omitempty"`
}

// Failed reports whether the run captured an error.
func (o *Output) Failed() bool { return o.Err != nil }

// StepNos returns the executed step numbers in order.
func (o *Output) StepNos() []int {
	nos := make([]int, len(o.Trace))
	for i, s := range o.Trace {
		nos[i] = s.StepNo
	}
	return nos
}

// Executor runs workflows. It is safe for concurrent use: each run owns its
// context and trace, and the registry and graphs are only read.
type Executor struct {
	source Source
	types  Types
	tracer tracer.Tracer
	config ExecutorConfig
	logger *slog.Logger
	pool   *WorkerPool
}

// NewExecutor creates an Executor. A nil tracer discards run logs.
func NewExecutor(source Source, types Types, tr tracer.Tracer, cfg ExecutorConfig) *Executor {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if tr == nil {
		tr = tracer.NopTracer{}
	}
	return &Executor{
		source: source,
		types:  types,
		tracer: tr,
		config: cfg,
		logger: cfg.Logger,
		pool:   NewWorkerPool(cfg.PoolSize),
	}
}

// Execute loads the workflow and its revision and runs it. Only a nil input
// and load failures are returned as errors; every failure once the run has
// started is captured in Output.Err.
func (e *Executor) Execute(ctx context.Context, in *Input) (*Output, error) {
	if in == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execute: input is nil")
	}
	wf, rev, err := e.load(ctx, in)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, wf, rev, in.Vars), nil
}

func (e *Executor) load(ctx context.Context, in *Input) (*schema.Workflow, *schema.WorkflowRevision, error) {
	if e.source == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "execute: executor has no workflow source")
	}
	wf, err := e.source.GetWorkflow(ctx, in.WorkflowID)
	if err != nil {
		return nil, nil, schema.AsFlowError(err, schema.ErrCodeStore)
	}

	revID := in.RevisionID
	if revID == "" {
		revID = wf.CurrentRevisionID
	}
	if revID == "" {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no current revision", wf.ID)
	}
	rev, err := e.source.GetRevision(ctx, revID)
	if err != nil {
		return nil, nil, schema.AsFlowError(err, schema.ErrCodeStore)
	}
	if rev.WorkflowID != wf.ID {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation,
			"revision %q belongs to workflow %q, not %q", rev.ID, rev.WorkflowID, wf.ID)
	}
	return wf, rev, nil
}

// Run executes an already loaded revision. It never returns nil.
func (e *Executor) Run(ctx context.Context, wf *schema.Workflow, rev *schema.WorkflowRevision, vars value.Vars) *Output {
	r := &run{
		exec:    e,
		wf:      wf,
		rev:     rev,
		vars:    vars.Clone(),
		started: time.Now().UTC(),
		out: &Output{
			RunID:      uuid.New().String(),
			WorkflowID: wf.ID,
			RevisionID: rev.ID,
			Trace:      []*schema.WorkflowRunLogStep{},
		},
	}
	ctx = logging.WithRun(ctx, wf.ID, r.out.RunID)

	e.logger.DebugContext(ctx, "run started", slog.String("revision_id", rev.ID))
	if err := r.traverse(ctx); err != nil {
		r.out.Err = schema.AsFlowError(err, schema.ErrCodeStepFailed)
	}
	r.finish(ctx)
	return r.out
}

// ExecuteAll runs independent inputs concurrently on the worker pool.
// Outputs are index-aligned with inputs. An input that fails to load, or
// never starts because ctx ended or the pool closed, has a nil output and
// its error joined into the returned error.
func (e *Executor) ExecuteAll(ctx context.Context, inputs []*Input) ([]*Output, error) {
	outputs := make([]*Output, len(inputs))
	errs := make([]error, len(inputs))
	pending := make([]<-chan error, len(inputs))

	for i, in := range inputs {
		done, err := e.pool.Go(ctx, func(ctx context.Context) error {
			out, err := e.Execute(ctx, in)
			outputs[i] = out
			return err
		})
		if err != nil {
			errs[i] = schema.NewErrorf(schema.ErrCodeCancelled, "input %d not started: %s", i, err.Error()).WithCause(err)
			continue
		}
		pending[i] = done
	}
	for i, done := range pending {
		if done == nil {
			continue
		}
		if err := <-done; err != nil {
			errs[i] = fmt.Errorf("input %d: %w", i, schema.AsFlowError(err, schema.ErrCodeStepFailed))
		}
	}
	return outputs, errors.Join(errs...)
}

// Shutdown stops the worker pool after in-flight ExecuteAll runs; later
// ExecuteAll inputs are not started.
func (e *Executor) Shutdown() {
	e.pool.Close()
}

// run is the state of one traversal.
type run struct {
	exec    *Executor
	wf      *schema.Workflow
	rev     *schema.WorkflowRevision
	vars    value.Vars
	started time.Time
	out     *Output
}

func (r *run) traverse(ctx context.Context) error {
	g, err := graph.Build(r.rev)
	if err != nil {
		return err
	}
	wt, err := r.exec.types.WorkflowType(r.wf.WorkflowType)
	if err != nil {
		return err
	}
	hooks := wt.Executor

	if err := guard(schema.ErrCodeHookFailed, 0, func() error {
		return hooks.PreRun(ctx, r.vars, r.wf, r.rev)
	}); err != nil {
		return err
	}

	current := g.Start
	for count := 0; ; count++ {
		if err := ctx.Err(); err != nil {
			return schema.NewErrorf(schema.ErrCodeCancelled, "run cancelled before step %d: %s", current, err.Error()).
				WithStep(current).WithCause(err)
		}
		if count >= r.exec.config.MaxSteps {
			return schema.NewErrorf(schema.ErrCodeStepLimit, "run exceeded %d steps", r.exec.config.MaxSteps).
				WithStep(current)
		}

		step, _ := g.Step(current)
		mode, final, err := r.runStep(logging.WithStepNo(ctx, current), hooks, step)
		if err != nil {
			return err
		}

		next, ok, err := g.Next(current, mode, final.String())
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		current = next
	}

	return guard(schema.ErrCodeHookFailed, 0, func() error {
		return hooks.PostRun(ctx, r.vars)
	})
}

// runStep runs preStep, the step body and postStep for one step, appends
// the trace entry and returns the step type's link mode with the final
// output.
func (r *run) runStep(ctx context.Context, hooks registry.WorkflowExecutor, step *schema.WorkflowStep) (schema.LinkMode, value.Value, error) {
	st, err := r.exec.types.StepType(step.StepType)
	if err != nil {
		return "", value.Null, withStep(schema.AsFlowError(err, schema.ErrCodeUnknownStepType), step.StepNo)
	}
	inputs, err := value.ParseVars(step.InputValues)
	if err != nil {
		return "", value.Null, schema.NewErrorf(schema.ErrCodeValidation, "decode input values: %s", err.Error()).
			WithStep(step.StepNo).WithCause(err)
	}

	start := time.Now()
	if err := guard(schema.ErrCodeHookFailed, step.StepNo, func() error {
		return hooks.PreStep(ctx, step, r.vars)
	}); err != nil {
		return "", value.Null, err
	}

	var output value.Value
	if err := guard(schema.ErrCodeStepFailed, step.StepNo, func() error {
		var execErr error
		output, execErr = st.Executor.Execute(ctx, step, inputs, r.vars)
		return execErr
	}); err != nil {
		return "", value.Null, err
	}

	var final value.Value
	if err := guard(schema.ErrCodeHookFailed, step.StepNo, func() error {
		var hookErr error
		final, hookErr = hooks.PostStep(ctx, step, r.vars, output)
		return hookErr
	}); err != nil {
		return "", value.Null, err
	}

	encoded, err := json.Marshal(final)
	if err != nil {
		return "", value.Null, schema.NewErrorf(schema.ErrCodeStepFailed, "encode output: %s", err.Error()).
			WithStep(step.StepNo).WithCause(err)
	}
	r.out.Trace = append(r.out.Trace, &schema.WorkflowRunLogStep{
		Sequence:   len(r.out.Trace) + 1,
		StepNo:     step.StepNo,
		StepType:   step.StepType,
		Output:     encoded,
		DurationMs: time.Since(start).Milliseconds(),
	})

	r.exec.logger.DebugContext(ctx, "step completed",
		slog.String("step_type", step.StepType),
		slog.String("output", final.String()),
	)
	return st.LinkMode, final, nil
}

// finish records the outcome and hands the run log to the tracer. Tracer
// errors are logged only.
func (r *run) finish(ctx context.Context) {
	out := r.out
	out.Vars = r.vars
	out.Status = schema.RunStatusCompleted
	if out.Err != nil {
		out.Status = schema.RunStatusFailed
		r.exec.logger.WarnContext(ctx, "run failed",
			slog.String("code", out.Err.Code),
			slog.String("error", out.Err.Message),
			slog.Int("steps", len(out.Trace)),
		)
	} else {
		r.exec.logger.DebugContext(ctx, "run completed", slog.Int("steps", len(out.Trace)))
	}

	log := &schema.WorkflowRunLog{
		ID:         out.RunID,
		WorkflowID: out.WorkflowID,
		RevisionID: out.RevisionID,
		Status:     out.Status,
		Error:      out.Err,
		StartedAt:  r.started,
		FinishedAt: time.Now().UTC(),
		Steps:      out.Trace,
	}

	// The trace is written even when the run was cancelled.
	id, err := r.exec.tracer.OnWorkflowFinish(context.WithoutCancel(ctx), log)
	if err != nil {
		r.exec.logger.ErrorContext(ctx, "tracer failed", slog.String("error", err.Error()))
		return
	}
	out.TracerID = id
}

// guard runs fn, turning a panic into an error and tagging non-FlowError
// failures with code and stepNo.
func guard(code string, stepNo int, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewError(code, panicMessage(rec)).WithStep(stepNo)
		}
	}()
	if err := fn(); err != nil {
		return withStep(schema.AsFlowError(err, code), stepNo)
	}
	return nil
}

// withStep returns a copy of fe tagged with stepNo unless fe already names
// a step.
func withStep(fe *schema.FlowError, stepNo int) *schema.FlowError {
	if stepNo == 0 || fe.StepNo != 0 {
		return fe
	}
	cp := *fe
	cp.StepNo = stepNo
	return &cp
}
