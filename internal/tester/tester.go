// Package tester replays workflows against stored scenarios and checks each
// scenario's assertions against the context the run left behind.
package tester

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/stepflow/internal/assertion"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/filter"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultConcurrency is how many scenarios run at once when Config leaves
// it unset.
const DefaultConcurrency = 4

// Variables the tester seeds for record-sourced scenarios.
const (
	RecordVariable      = assertion.DefaultRecordVariable
	RecordTableVariable = assertion.RecordTableVariable
)

// Runner executes one workflow input. Satisfied by *engine.Executor.
type Runner interface {
	Execute(ctx context.Context, in *engine.Input) (*engine.Output, error)
}

// ScenarioRunner may be implemented by a workflow type's executor to take
// over how its scenarios run, for example to stub external calls. It gets
// the default runner and the prepared input.
type ScenarioRunner interface {
	RunScenario(ctx context.Context, runner Runner, sc *schema.WorkflowTestScenario, in *engine.Input) (*engine.Output, error)
}

// WorkflowTypes resolves workflow types. Satisfied by *registry.Registry.
type WorkflowTypes interface {
	WorkflowType(name string) (*registry.WorkflowType, error)
}

// ResultSink persists finished test runs. Satisfied by store.Store.
type ResultSink interface {
	SaveTestRun(ctx context.Context, run *schema.WorkflowTestRun) error
}

// Definitions loads workflows and their scenarios. Satisfied by store.Store.
type Definitions interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListScenarios(ctx context.Context, workflowID string) ([]*schema.WorkflowTestScenario, error)
}

// Config holds tester options. Types and Sink are optional.
type Config struct {
	Concurrency int
	Types       WorkflowTypes
	Sink        ResultSink
	Logger      *slog.Logger
}

// Tester runs scenarios and aggregates their verdicts.
type Tester struct {
	runner    Runner
	provider  filter.Provider
	evaluator *assertion.Evaluator
	config    Config
	logger    *slog.Logger
}

// New creates a Tester. provider loads scenario source records and matches
// FILTER assertions; it may be nil when no scenario needs either.
func New(runner Runner, provider filter.Provider, cfg Config) *Tester {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tester{
		runner:    runner,
		provider:  provider,
		evaluator: assertion.NewEvaluator(provider),
		config:    cfg,
		logger:    cfg.Logger,
	}
}

// RunStored loads a workflow and all of its stored scenarios and runs them.
func (t *Tester) RunStored(ctx context.Context, defs Definitions, workflowID string) (*schema.WorkflowTestRun, error) {
	wf, err := defs.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	scenarios, err := defs.ListScenarios(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, wf, scenarios)
}

// Run executes every scenario against wf and aggregates the results.
// Scenario results keep the order of scenarios. The returned error is
// non-nil only when persisting the finished run fails; the run is returned
// either way.
func (t *Tester) Run(ctx context.Context, wf *schema.Workflow, scenarios []*schema.WorkflowTestScenario) (*schema.WorkflowTestRun, error) {
	run := &schema.WorkflowTestRun{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		StartedAt:  time.Now().UTC(),
	}
	ctx = logging.WithWorkflowID(ctx, wf.ID)

	results := make([]schema.ScenarioResult, len(scenarios))
	var g errgroup.Group
	g.SetLimit(t.config.Concurrency)
	for i, sc := range scenarios {
		g.Go(func() error {
			results[i] = t.RunScenario(ctx, wf, sc)
			return nil
		})
	}
	_ = g.Wait()

	run.Scenarios = results
	aggregate(run)
	run.FinishedAt = time.Now().UTC()

	t.logger.InfoContext(ctx, "test run finished",
		slog.String("test_run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("scenarios", run.ScenarioCount),
		slog.Int("scenarios_failed", run.ScenarioFailCount),
		slog.Int("assertions", run.AssertionCount),
		slog.Int("assertions_failed", run.AssertionFailCount),
	)

	if t.config.Sink != nil {
		if err := t.config.Sink.SaveTestRun(ctx, run); err != nil {
			return run, schema.AsFlowError(fmt.Errorf("save test run %s: %w", run.ID, err), schema.ErrCodeStore)
		}
	}
	return run, nil
}

// RunScenario runs one scenario and evaluates its assertions. A scenario
// passes when every assertion passed. An error the run captured is reported
// on the result but does not decide the verdict.
func (t *Tester) RunScenario(ctx context.Context, wf *schema.Workflow, sc *schema.WorkflowTestScenario) schema.ScenarioResult {
	result := schema.ScenarioResult{Scenario: sc.Name, Outputs: []schema.WorkflowTestOutput{}}

	out, err := t.execute(ctx, wf, sc)
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeValidation)
		result.Error = fe
		for _, a := range sc.Assertions {
			result.Outputs = append(result.Outputs, schema.WorkflowTestOutput{
				Scenario:  sc.Name,
				Assertion: a.Name,
				Status:    schema.TestStatusFail,
				Message:   fmt.Sprintf("%s: scenario did not run: %s", a.Name, fe.Message),
			})
		}
		result.Status = schema.TestStatusFail
		return result
	}

	result.RunID = out.RunID
	result.Error = out.Err
	passed := true
	for i := range sc.Assertions {
		a := &sc.Assertions[i]
		verdict := t.evaluator.Evaluate(ctx, a, out.Vars)
		if !verdict.Passed() {
			passed = false
		}
		result.Outputs = append(result.Outputs, schema.WorkflowTestOutput{
			Scenario:  sc.Name,
			Assertion: a.Name,
			Status:    verdict.Status,
			Message:   verdict.Message,
		})
	}

	result.Status = schema.TestStatusFail
	if passed {
		result.Status = schema.TestStatusPass
	}
	return result
}

func (t *Tester) execute(ctx context.Context, wf *schema.Workflow, sc *schema.WorkflowTestScenario) (*engine.Output, error) {
	vars, err := t.buildVars(ctx, wf, sc)
	if err != nil {
		return nil, err
	}
	in := &engine.Input{WorkflowID: wf.ID, Vars: vars}

	if custom := t.scenarioRunner(wf); custom != nil {
		return custom.RunScenario(ctx, t.runner, sc, in)
	}
	return t.runner.Execute(ctx, in)
}

func (t *Tester) scenarioRunner(wf *schema.Workflow) ScenarioRunner {
	if t.config.Types == nil {
		return nil
	}
	wt, err := t.config.Types.WorkflowType(wf.WorkflowType)
	if err != nil {
		// The executor reports the unknown type as the run's error.
		return nil
	}
	custom, _ := wt.Executor.(ScenarioRunner)
	return custom
}

// buildVars creates the initial context of a scenario: the source record
// under "record" (with its table under "record_table"), or the top-level
// keys of the request body.
func (t *Tester) buildVars(ctx context.Context, wf *schema.Workflow, sc *schema.WorkflowTestScenario) (value.Vars, error) {
	src := sc.Source
	if !src.FromRecord() {
		vars, err := value.ParseVars(src.RequestBody)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"scenario %q: request body must be a JSON object: %s", sc.Name, err.Error()).WithCause(err)
		}
		return vars, nil
	}

	table := src.Table
	if table == "" {
		table = wf.TableName
	}
	if table == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"scenario %q: record %q has no table and workflow %q names none", sc.Name, src.RecordID, wf.ID)
	}
	if t.provider == nil {
		return nil, schema.NewErrorf(schema.ErrCodeFilter, "scenario %q: no record provider configured", sc.Name)
	}
	rec, err := t.provider.GetRecord(ctx, table, src.RecordID)
	if err != nil {
		return nil, err
	}
	return value.Vars{
		RecordVariable:      value.Record(rec),
		RecordTableVariable: value.String(table),
	}, nil
}

func aggregate(run *schema.WorkflowTestRun) {
	run.ScenarioCount = len(run.Scenarios)
	run.ScenarioPassCount, run.ScenarioFailCount = 0, 0
	run.AssertionCount, run.AssertionPassCount, run.AssertionFailCount = 0, 0, 0

	for _, s := range run.Scenarios {
		if s.Status == schema.TestStatusPass {
			run.ScenarioPassCount++
		} else {
			run.ScenarioFailCount++
		}
		for _, o := range s.Outputs {
			run.AssertionCount++
			if o.Status == schema.TestStatusPass {
				run.AssertionPassCount++
			} else {
				run.AssertionFailCount++
			}
		}
	}

	run.Status = schema.TestStatusPass
	if run.ScenarioFailCount > 0 {
		run.Status = schema.TestStatusFail
	}
}
