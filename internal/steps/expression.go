package steps

import (
	"context"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// --- condition ---

// conditionStepType branches on a CEL expression. CEL sees the run variables
// under "vars", the step inputs under "inputs" and the scenario record, when
// one is set, under "record".
func conditionStepType(engines *expressions.Engines) *registry.StepType {
	return &registry.StepType{
		Name:        TypeCondition,
		Label:       "Condition",
		Description: "Evaluates a CEL expression and follows the true or false link.",
		LinkMode:    schema.LinkModeTwo,
		LinkOptions: []schema.LinkOption{
			{Value: "true", Label: "Yes"},
			{Value: "false", Label: "No"},
		},
		InputSchema: inputSchema(map[string]string{"expression": "string"}, nil),
		Executor: registry.StepExecutorFunc(func(ctx context.Context, step *schema.WorkflowStep, inputs, vars value.Vars) (value.Value, error) {
			expr, err := stringInput(step, inputs, "expression")
			if err != nil {
				return value.Null, err
			}
			out, err := expressions.EvaluateValue(ctx, engines.CEL, expr, exprData(inputs, vars))
			if err != nil {
				return value.Null, err
			}
			if _, ok := out.Truth(); !ok {
				return value.Null, stepError(step, "condition %q must be a bool, got %s", expr, out.Kind())
			}
			return out, nil
		}),
	}
}

// --- switch ---

// switchStepType branches on the rendered result of an expr expression. Any
// result is accepted; links carry the rendered values they match.
func switchStepType(engines *expressions.Engines) *registry.StepType {
	return &registry.StepType{
		Name:        TypeSwitch,
		Label:       "Switch",
		Description: "Evaluates an expr expression and follows the link whose condition equals the result.",
		LinkMode:    schema.LinkModeTwo,
		InputSchema: inputSchema(map[string]string{"expression": "string"}, nil),
		Executor: registry.StepExecutorFunc(func(ctx context.Context, step *schema.WorkflowStep, inputs, vars value.Vars) (value.Value, error) {
			expr, err := stringInput(step, inputs, "expression")
			if err != nil {
				return value.Null, err
			}
			return expressions.EvaluateValue(ctx, engines.Expr, expr, exprData(inputs, vars))
		}),
	}
}

// --- compute ---

func computeStepType(engines *expressions.Engines) *registry.StepType {
	return &registry.StepType{
		Name:        TypeCompute,
		Label:       "Compute",
		Description: "Evaluates an expr expression and stores the result in the target variable.",
		LinkMode:    schema.LinkModeOne,
		InputSchema: inputSchema(map[string]string{"expression": "string", "target": "string"}, nil),
		Executor: registry.StepExecutorFunc(func(ctx context.Context, step *schema.WorkflowStep, inputs, vars value.Vars) (value.Value, error) {
			expr, err := stringInput(step, inputs, "expression")
			if err != nil {
				return value.Null, err
			}
			target, err := stringInput(step, inputs, "target")
			if err != nil {
				return value.Null, err
			}
			out, err := expressions.EvaluateValue(ctx, engines.Expr, expr, exprData(inputs, vars))
			if err != nil {
				return value.Null, err
			}
			vars.Set(target, out)
			return out, nil
		}),
	}
}

// --- transform ---

// transformStepType runs a jq query over the run variables. The query
// input is the variable object itself, so ".order.total" reads a variable.
func transformStepType(engines *expressions.Engines) *registry.StepType {
	return &registry.StepType{
		Name:        TypeTransform,
		Label:       "Transform",
		Description: "Runs a jq query over the variables and stores the result in the target variable.",
		LinkMode:    schema.LinkModeOne,
		InputSchema: inputSchema(map[string]string{"query": "string", "target": "string"}, nil),
		Executor: registry.StepExecutorFunc(func(ctx context.Context, step *schema.WorkflowStep, inputs, vars value.Vars) (value.Value, error) {
			query, err := stringInput(step, inputs, "query")
			if err != nil {
				return value.Null, err
			}
			target, err := stringInput(step, inputs, "target")
			if err != nil {
				return value.Null, err
			}
			out, err := expressions.EvaluateValue(ctx, engines.JQ, query, vars.Native())
			if err != nil {
				return value.Null, err
			}
			vars.Set(target, out)
			return out, nil
		}),
	}
}
