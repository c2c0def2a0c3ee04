// Package steps provides the built-in step types and workflow types.
package steps

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// Step type names.
const (
	TypeSet       = "set"
	TypeAdd       = "add"
	TypeCondition = "condition"
	TypeSwitch    = "switch"
	TypeCompute   = "compute"
	TypeTransform = "transform"
	TypeGroup     = "group"
	TypeLog       = "log"
	TypeEnd       = "end"
	TypeFail      = "fail"
)

// Workflow type names.
const (
	WorkflowBasic    = "basic"
	WorkflowDefaults = "defaults"
)

// Config holds what built-in step bodies need from the host.
type Config struct {
	Engines *expressions.Engines
	Logger  *slog.Logger
}

// StepTypes returns every built-in step type.
func StepTypes(cfg Config) []*registry.StepType {
	return []*registry.StepType{
		setStepType(),
		addStepType(),
		conditionStepType(cfg.Engines),
		switchStepType(cfg.Engines),
		computeStepType(cfg.Engines),
		transformStepType(cfg.Engines),
		groupStepType(),
		logStepType(cfg.Logger),
		endStepType(),
		failStepType(),
	}
}

// RegisterBuiltins registers the built-in step and workflow types in reg.
func RegisterBuiltins(reg *registry.Registry, cfg Config) error {
	if cfg.Engines == nil {
		engines, err := expressions.NewEngines()
		if err != nil {
			return err
		}
		cfg.Engines = engines
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	for _, st := range StepTypes(cfg) {
		if err := reg.RegisterStepType(st); err != nil {
			return err
		}
	}
	for _, wt := range WorkflowTypes() {
		if err := reg.RegisterWorkflowType(wt); err != nil {
			return err
		}
	}
	return nil
}

// inputSchema builds a JSON Schema object with the given required
// properties. extra adds optional properties.
func inputSchema(required map[string]string, extra map[string]string) json.RawMessage {
	props := make(map[string]any, len(required)+len(extra))
	names := make([]string, 0, len(required))
	for name, typ := range required {
		props[name] = propSchema(typ)
		names = append(names, name)
	}
	for name, typ := range extra {
		props[name] = propSchema(typ)
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(names) > 0 {
		sort.Strings(names)
		doc["required"] = names
	}
	b, _ := json.Marshal(doc)
	return b
}

func propSchema(typ string) map[string]any {
	if typ == "" {
		return map[string]any{}
	}
	if typ == "string" {
		return map[string]any{"type": typ, "minLength": 1}
	}
	return map[string]any{"type": typ}
}

func stringInput(step *schema.WorkflowStep, inputs value.Vars, name string) (string, error) {
	s, ok := inputs.Get(name).Text()
	if !ok || s == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"%s step needs a non-empty %q input", step.StepType, name).WithStep(step.StepNo)
	}
	return s, nil
}

func optionalString(inputs value.Vars, name, fallback string) string {
	if s, ok := inputs.Get(name).Text(); ok && s != "" {
		return s
	}
	return fallback
}

// exprData is what expressions in step inputs see: the run variables at top
// level and under "vars", plus the step's own inputs under "inputs".
func exprData(inputs, vars value.Vars) map[string]any {
	data := expressions.VarsData(vars)
	data["inputs"] = inputs.Native()
	return data
}

func stepError(step *schema.WorkflowStep, format string, args ...any) *schema.FlowError {
	return schema.NewError(schema.ErrCodeStepFailed, fmt.Sprintf(format, args...)).WithStep(step.StepNo)
}
