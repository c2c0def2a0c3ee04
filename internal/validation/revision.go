// Package validation checks workflow revisions and bundle documents before
// they are stored or executed.
package validation

import (
	"fmt"

	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// StepTypeLookup resolves step types by name. *registry.Registry satisfies it.
type StepTypeLookup interface {
	StepType(name string) (*registry.StepType, error)
}

// RevisionValidator runs the structural, semantic and graph checks on a
// revision:
//  1. Structure: step numbers unique, start step and link endpoints exist.
//  2. Semantics: step types known, links fit each type's link mode, input
//     values decode and satisfy the type's input schema.
//  3. Graph: unconditional cycles are errors, unreachable steps warnings.
type RevisionValidator struct {
	jsonSchema *JSONSchemaValidator
	types      StepTypeLookup
}

// NewRevisionValidator creates a RevisionValidator. types may be nil to
// skip the semantic stage.
func NewRevisionValidator(types StepTypeLookup) (*RevisionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &RevisionValidator{jsonSchema: jsv, types: types}, nil
}

// JSONSchema exposes the underlying document validator.
func (v *RevisionValidator) JSONSchema() *JSONSchemaValidator {
	return v.jsonSchema
}

// Validate returns every issue found in rev. Structural errors short-circuit
// the later stages.
func (v *RevisionValidator) Validate(rev *schema.WorkflowRevision) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if rev == nil {
		result.AddError("/", schema.ErrCodeValidation, "revision is nil")
		return result
	}

	result.Merge(validateStructure(rev))
	if !result.Valid() {
		return result
	}

	modes := map[int]schema.LinkMode{}
	if v.types != nil {
		var sem *schema.ValidationResult
		sem, modes = v.validateSemantics(rev)
		result.Merge(sem)
	}

	if result.Valid() {
		result.Merge(validateGraph(rev, modes))
	}
	return result
}

// ValidateRevision is Validate folded into a single error, nil when valid.
func (v *RevisionValidator) ValidateRevision(rev *schema.WorkflowRevision) error {
	return v.Validate(rev).ToError()
}

func validateStructure(rev *schema.WorkflowRevision) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(rev.Steps) == 0 {
		result.AddError("steps", schema.ErrCodeMalformedGraph, "revision has no steps")
		return result
	}

	stepNos := make(map[int]bool, len(rev.Steps))
	for i, s := range rev.Steps {
		if s.StepNo < 1 {
			result.AddStepError(s.StepNo, fmt.Sprintf("steps[%d].step_no", i), schema.ErrCodeMalformedGraph,
				fmt.Sprintf("step number %d must be positive", s.StepNo))
			continue
		}
		if stepNos[s.StepNo] {
			result.AddStepError(s.StepNo, fmt.Sprintf("steps[%d].step_no", i), schema.ErrCodeMalformedGraph,
				fmt.Sprintf("duplicate step number %d", s.StepNo))
			continue
		}
		stepNos[s.StepNo] = true
	}

	if !stepNos[rev.StartStepNo] {
		result.AddError("start_step_no", schema.ErrCodeMalformedGraph,
			fmt.Sprintf("start step %d does not exist", rev.StartStepNo))
	}

	for i, l := range rev.Links {
		path := fmt.Sprintf("links[%d]", i)
		if !stepNos[l.FromStepNo] {
			result.AddError(path+".from_step_no", schema.ErrCodeMalformedGraph,
				fmt.Sprintf("link source step %d does not exist", l.FromStepNo))
		}
		if !stepNos[l.ToStepNo] {
			result.AddStepError(l.FromStepNo, path+".to_step_no", schema.ErrCodeMalformedGraph,
				fmt.Sprintf("link target step %d does not exist", l.ToStepNo))
		}
	}
	return result
}

// validateSemantics checks each step against its step type. It returns the
// link mode of every step whose type resolved.
func (v *RevisionValidator) validateSemantics(rev *schema.WorkflowRevision) (*schema.ValidationResult, map[int]schema.LinkMode) {
	result := &schema.ValidationResult{}
	modes := make(map[int]schema.LinkMode, len(rev.Steps))

	outbound := make(map[int][]schema.WorkflowLink, len(rev.Steps))
	for _, l := range rev.Links {
		outbound[l.FromStepNo] = append(outbound[l.FromStepNo], l)
	}

	for i := range rev.Steps {
		s := &rev.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		st, err := v.types.StepType(s.StepType)
		if err != nil {
			result.AddStepError(s.StepNo, path+".step_type", schema.ErrCodeUnknownStepType,
				fmt.Sprintf("step %d: step type %q is not registered", s.StepNo, s.StepType))
			continue
		}
		modes[s.StepNo] = st.LinkMode

		checkLinks(result, s.StepNo, path, st, outbound[s.StepNo])

		inputs, err := value.ParseVars(s.InputValues)
		if err != nil {
			result.AddStepError(s.StepNo, path+".input_values", schema.ErrCodeValidation,
				fmt.Sprintf("step %d: input values must be an object: %v", s.StepNo, err))
			continue
		}
		if err := v.jsonSchema.ValidateInput(inputs, st.InputSchema); err != nil {
			result.AddStepError(s.StepNo, path+".input_values", schema.ErrCodeValidation,
				fmt.Sprintf("step %d: %v", s.StepNo, schema.AsFlowError(err, schema.ErrCodeValidation).Message))
		}
	}
	return result, modes
}

func checkLinks(result *schema.ValidationResult, stepNo int, path string, st *registry.StepType, links []schema.WorkflowLink) {
	conditional := 0
	for _, l := range links {
		if _, ok := l.Condition(); ok {
			conditional++
		}
	}

	switch st.LinkMode {
	case schema.LinkModeZero:
		if len(links) > 0 {
			result.AddStepError(stepNo, path, schema.ErrCodeMalformedGraph,
				fmt.Sprintf("step %d (%s) is terminal but has %d outbound links", stepNo, st.Name, len(links)))
		}
	case schema.LinkModeOne:
		if len(links) != 1 {
			result.AddStepError(stepNo, path, schema.ErrCodeMalformedGraph,
				fmt.Sprintf("step %d (%s) needs exactly one outbound link, found %d", stepNo, st.Name, len(links)))
		}
	case schema.LinkModeContainer:
		if len(links) > 1 {
			result.AddStepError(stepNo, path, schema.ErrCodeMalformedGraph,
				fmt.Sprintf("step %d (%s) is a container and takes at most one outbound link, found %d", stepNo, st.Name, len(links)))
		}
	case schema.LinkModeTwo:
		if conditional != len(links) {
			result.AddStepError(stepNo, path, schema.ErrCodeMalformedGraph,
				fmt.Sprintf("step %d (%s) branches by condition; %d of %d links have no condition value",
					stepNo, st.Name, len(links)-conditional, len(links)))
		}
		seen := make(map[string]bool, len(links))
		for _, l := range links {
			cond, ok := l.Condition()
			if !ok {
				continue
			}
			if seen[cond] {
				result.AddStepError(stepNo, path, schema.ErrCodeMalformedGraph,
					fmt.Sprintf("step %d (%s) has more than one link for condition %q", stepNo, st.Name, cond))
			}
			seen[cond] = true
			if len(st.LinkOptions) > 0 && !st.HasOption(cond) {
				result.AddStepError(stepNo, path, schema.ErrCodeMalformedGraph,
					fmt.Sprintf("step %d (%s): condition %q is not one of the step type's options", stepNo, st.Name, cond))
			}
		}
		for _, o := range st.LinkOptions {
			if !seen[o.Value] {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("step %d (%s): no link for option %q; the run ends there when taken", stepNo, st.Name, o.Value))
			}
		}
		return
	}

	if conditional > 0 {
		result.AddStepError(stepNo, path, schema.ErrCodeMalformedGraph,
			fmt.Sprintf("step %d (%s) does not branch, but %d of its links carry a condition value", stepNo, st.Name, conditional))
	}
}
