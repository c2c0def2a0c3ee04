package steps

import (
	"context"
	"strings"

	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// ScratchPrefix marks variables the defaults workflow type removes once the
// run completes.
const ScratchPrefix = "_"

var builtinCategories = []schema.StepCategory{
	{Name: "data", Label: "Data", StepTypes: []string{TypeSet, TypeAdd, TypeCompute, TypeTransform}},
	{Name: "flow", Label: "Flow control", StepTypes: []string{TypeCondition, TypeSwitch, TypeGroup, TypeEnd, TypeFail}},
	{Name: "diagnostics", Label: "Diagnostics", StepTypes: []string{TypeLog}},
}

// WorkflowTypes returns the built-in workflow types.
func WorkflowTypes() []*registry.WorkflowType {
	return []*registry.WorkflowType{
		{
			Name:        WorkflowBasic,
			Label:       "Basic",
			Description: "Runs the graph with no lifecycle hooks.",
			Categories:  builtinCategories,
			Executor:    registry.BaseWorkflowExecutor{},
		},
		{
			Name:        WorkflowDefaults,
			Label:       "Defaults",
			Description: "Seeds variables from the revision defaults and drops scratch variables at the end.",
			Categories:  builtinCategories,
			Executor:    DefaultsExecutor{},
		},
	}
}

// DefaultsExecutor seeds the context from the revision's defaults document
// before the first step. Variables the caller already set win. After a
// completed run every variable whose name starts with ScratchPrefix is
// removed.
type DefaultsExecutor struct {
	registry.BaseWorkflowExecutor
}

func (DefaultsExecutor) PreRun(_ context.Context, vars value.Vars, _ *schema.Workflow, rev *schema.WorkflowRevision) error {
	if rev == nil || len(rev.Defaults) == 0 {
		return nil
	}
	defaults, err := value.ParseVars(rev.Defaults)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "revision %s defaults: %s", rev.ID, err.Error()).WithCause(err)
	}
	for name, v := range defaults {
		if !vars.Has(name) {
			vars.Set(name, v)
		}
	}
	return nil
}

func (DefaultsExecutor) PostRun(_ context.Context, vars value.Vars) error {
	for _, name := range vars.Names() {
		if strings.HasPrefix(name, ScratchPrefix) {
			vars.Delete(name)
		}
	}
	return nil
}
