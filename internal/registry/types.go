package registry

import (
	"context"
	"encoding/json"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// StepExecutor is the body of a step type. Inputs are the step's decoded
// input values; vars is the run context, which the executor may mutate.
type StepExecutor interface {
	Execute(ctx context.Context, step *schema.WorkflowStep, inputs value.Vars, vars value.Vars) (value.Value, error)
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, step *schema.WorkflowStep, inputs value.Vars, vars value.Vars) (value.Value, error)

func (f StepExecutorFunc) Execute(ctx context.Context, step *schema.WorkflowStep, inputs value.Vars, vars value.Vars) (value.Value, error) {
	return f(ctx, step, inputs, vars)
}

// WorkflowExecutor holds the lifecycle hooks of a workflow type. The engine
// calls them in the order PreRun, (PreStep, step body, PostStep)*, PostRun.
// PostStep returns the final step output: it is what gets traced and what
// branching decisions are made on.
type WorkflowExecutor interface {
	PreRun(ctx context.Context, vars value.Vars, wf *schema.Workflow, rev *schema.WorkflowRevision) error
	PostRun(ctx context.Context, vars value.Vars) error
	PreStep(ctx context.Context, step *schema.WorkflowStep, vars value.Vars) error
	PostStep(ctx context.Context, step *schema.WorkflowStep, vars value.Vars, output value.Value) (value.Value, error)
}

// BaseWorkflowExecutor implements every hook as a no-op and PostStep as the
// identity. Embed it and override only the hooks you need.
type BaseWorkflowExecutor struct{}

func (BaseWorkflowExecutor) PreRun(context.Context, value.Vars, *schema.Workflow, *schema.WorkflowRevision) error {
	return nil
}

func (BaseWorkflowExecutor) PostRun(context.Context, value.Vars) error { return nil }

func (BaseWorkflowExecutor) PreStep(context.Context, *schema.WorkflowStep, value.Vars) error {
	return nil
}

func (BaseWorkflowExecutor) PostStep(_ context.Context, _ *schema.WorkflowStep, _ value.Vars, output value.Value) (value.Value, error) {
	return output, nil
}

// StepType describes a kind of step: how many outbound links it takes and
// what runs when the engine lands on it.
type StepType struct {
	Name        string              `json:"name"`
	Label       string              `json:"label,omitempty"`
	Description string              `json:"description,omitempty"`
	LinkMode    schema.LinkMode     `json:"link_mode"`
	LinkOptions []schema.LinkOption `json:"link_options,omitempty"`
	InputSchema json.RawMessage     `json:"input_schema,omitempty"`
	Executor    StepExecutor        `json:"-"`
}

// HasOption reports whether v is one of the declared link option values.
func (t *StepType) HasOption(v string) bool {
	for _, o := range t.LinkOptions {
		if o.Value == v {
			return true
		}
	}
	return false
}

// WorkflowType describes a kind of workflow and supplies its hooks.
type WorkflowType struct {
	Name        string                `json:"name"`
	Label       string                `json:"label,omitempty"`
	Description string                `json:"description,omitempty"`
	Categories  []schema.StepCategory `json:"categories,omitempty"`
	Executor    WorkflowExecutor      `json:"-"`
}
