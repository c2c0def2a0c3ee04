package steps

import (
	"context"
	"log/slog"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// --- set ---

func setStepType() *registry.StepType {
	return &registry.StepType{
		Name:        TypeSet,
		Label:       "Set variables",
		Description: "Assigns every input value to the variable of the same name.",
		LinkMode:    schema.LinkModeOne,
		InputSchema: inputSchema(nil, nil),
		Executor: registry.StepExecutorFunc(func(_ context.Context, _ *schema.WorkflowStep, inputs, vars value.Vars) (value.Value, error) {
			for name, v := range inputs {
				vars.Set(name, v)
			}
			return value.Int(int64(len(inputs))), nil
		}),
	}
}

// --- add ---

func addStepType() *registry.StepType {
	return &registry.StepType{
		Name:        TypeAdd,
		Label:       "Add",
		Description: "Adds a decimal amount to a numeric variable. An unset variable counts as 0.",
		LinkMode:    schema.LinkModeOne,
		InputSchema: inputSchema(map[string]string{"variable": "string", "amount": "number"}, nil),
		Executor:    registry.StepExecutorFunc(executeAdd),
	}
}

func executeAdd(_ context.Context, step *schema.WorkflowStep, inputs, vars value.Vars) (value.Value, error) {
	name, err := stringInput(step, inputs, "variable")
	if err != nil {
		return value.Null, err
	}
	amount := inputs.Get("amount")
	current := vars.Get(name)
	if current.IsNull() {
		current = value.Int(0)
	}

	sum, err := value.Add(current, amount)
	if err != nil {
		return value.Null, stepError(step, "add %s to %q: %v", amount, name, err)
	}
	vars.Set(name, sum)
	return sum, nil
}

// --- group ---

func groupStepType() *registry.StepType {
	return &registry.StepType{
		Name:        TypeGroup,
		Label:       "Group",
		Description: "Labels a section of the graph. Passes straight through to its successor.",
		LinkMode:    schema.LinkModeContainer,
		Executor: registry.StepExecutorFunc(func(context.Context, *schema.WorkflowStep, value.Vars, value.Vars) (value.Value, error) {
			return value.Null, nil
		}),
	}
}

// --- log ---

func logStepType(logger *slog.Logger) *registry.StepType {
	return &registry.StepType{
		Name:        TypeLog,
		Label:       "Log",
		Description: "Writes a message and the listed variables to the process log.",
		LinkMode:    schema.LinkModeOne,
		InputSchema: inputSchema(map[string]string{"message": "string"}, map[string]string{"level": "string", "variables": "array"}),
		Executor: registry.StepExecutorFunc(func(ctx context.Context, step *schema.WorkflowStep, inputs, vars value.Vars) (value.Value, error) {
			message, err := stringInput(step, inputs, "message")
			if err != nil {
				return value.Null, err
			}
			level, err := logging.ParseLevel(optionalString(inputs, "level", "info"))
			if err != nil {
				return value.Null, schema.NewError(schema.ErrCodeValidation, err.Error()).WithStep(step.StepNo)
			}

			attrs := []any{slog.String("step_type", step.StepType)}
			for _, item := range inputs.Get("variables").Items() {
				if name, ok := item.Text(); ok {
					attrs = append(attrs, slog.String(name, vars.Get(name).String()))
				}
			}
			logger.Log(ctx, level, message, attrs...)
			return value.String(message), nil
		}),
	}
}

// --- end ---

func endStepType() *registry.StepType {
	return &registry.StepType{
		Name:        TypeEnd,
		Label:       "End",
		Description: "Ends the run. The optional result input becomes the step output.",
		LinkMode:    schema.LinkModeZero,
		InputSchema: inputSchema(nil, map[string]string{"result": ""}),
		Executor: registry.StepExecutorFunc(func(_ context.Context, _ *schema.WorkflowStep, inputs, _ value.Vars) (value.Value, error) {
			return inputs.Get("result"), nil
		}),
	}
}

// --- fail ---

func failStepType() *registry.StepType {
	return &registry.StepType{
		Name:        TypeFail,
		Label:       "Fail",
		Description: "Fails the run with the given message.",
		LinkMode:    schema.LinkModeZero,
		InputSchema: inputSchema(map[string]string{"message": "string"}, nil),
		Executor: registry.StepExecutorFunc(func(_ context.Context, step *schema.WorkflowStep, inputs, _ value.Vars) (value.Value, error) {
			message := optionalString(inputs, "message", "workflow failed")
			return value.Null, stepError(step, "%s", message)
		}),
	}
}
