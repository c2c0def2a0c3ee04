// Package registry holds the step types and workflow types known to the
// process. Registration happens at startup; lookups run concurrently from
// every executing workflow.
package registry

import (
	"sort"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// Registry is a thread-safe catalog of step and workflow types.
type Registry struct {
	mu            sync.RWMutex
	stepTypes     map[string]*StepType
	workflowTypes map[string]*WorkflowType
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		stepTypes:     make(map[string]*StepType),
		workflowTypes: make(map[string]*WorkflowType),
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
	})
	return defaultReg
}

// RegisterStepType adds a step type. Returns error on nil, unnamed,
// executor-less, or duplicate entries.
func (r *Registry) RegisterStepType(t *StepType) error {
	if t == nil {
		return schema.NewError(schema.ErrCodeValidation, "step type is nil")
	}
	if t.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "step type name is empty")
	}
	if !t.LinkMode.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "step type %q: unknown link mode %q", t.Name, t.LinkMode)
	}
	if t.Executor == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "step type %q has no executor", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepTypes[t.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step type %q already registered", t.Name)
	}
	r.stepTypes[t.Name] = t
	return nil
}

// RegisterWorkflowType adds a workflow type. A nil Executor is replaced by
// BaseWorkflowExecutor.
func (r *Registry) RegisterWorkflowType(t *WorkflowType) error {
	if t == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow type is nil")
	}
	if t.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow type name is empty")
	}
	if t.Executor == nil {
		t.Executor = BaseWorkflowExecutor{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflowTypes[t.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow type %q already registered", t.Name)
	}
	r.workflowTypes[t.Name] = t
	return nil
}

// StepType retrieves a step type by name.
func (r *Registry) StepType(name string) (*StepType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.stepTypes[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownStepType, "step type %q not registered", name)
	}
	return t, nil
}

// WorkflowType retrieves a workflow type by name.
func (r *Registry) WorkflowType(name string) (*WorkflowType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.workflowTypes[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownWorkflowType, "workflow type %q not registered", name)
	}
	return t, nil
}

// HasStepType checks if a step type is registered.
func (r *Registry) HasStepType(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stepTypes[name]
	return ok
}

// ListStepTypes returns all step types sorted by name.
func (r *Registry) ListStepTypes() []*StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*StepType, 0, len(r.stepTypes))
	for _, t := range r.stepTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListWorkflowTypes returns all workflow types sorted by name.
func (r *Registry) ListWorkflowTypes() []*WorkflowType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*WorkflowType, 0, len(r.workflowTypes))
	for _, t := range r.workflowTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered step and workflow types.
func (r *Registry) Count() (stepTypes, workflowTypes int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stepTypes), len(r.workflowTypes)
}
