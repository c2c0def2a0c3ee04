package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopStep() StepExecutor {
	return StepExecutorFunc(func(context.Context, *schema.WorkflowStep, value.Vars, value.Vars) (value.Value, error) {
		return value.Null, nil
	})
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, code, fe.Code)
}

func TestRegistry_RegisterStepType_Success(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterStepType(&StepType{Name: "set", LinkMode: schema.LinkModeOne, Executor: noopStep()}))

	st, err := reg.StepType("set")
	require.NoError(t, err)
	assert.Equal(t, schema.LinkModeOne, st.LinkMode)
	assert.True(t, reg.HasStepType("set"))
}

func TestRegistry_RegisterStepType_Rejects(t *testing.T) {
	reg := New()
	requireCode(t, reg.RegisterStepType(nil), schema.ErrCodeValidation)
	requireCode(t, reg.RegisterStepType(&StepType{LinkMode: schema.LinkModeOne, Executor: noopStep()}), schema.ErrCodeValidation)
	requireCode(t, reg.RegisterStepType(&StepType{Name: "x", LinkMode: "MANY", Executor: noopStep()}), schema.ErrCodeValidation)
	requireCode(t, reg.RegisterStepType(&StepType{Name: "x", LinkMode: schema.LinkModeOne}), schema.ErrCodeValidation)

	require.NoError(t, reg.RegisterStepType(&StepType{Name: "dup", LinkMode: schema.LinkModeZero, Executor: noopStep()}))
	requireCode(t, reg.RegisterStepType(&StepType{Name: "dup", LinkMode: schema.LinkModeZero, Executor: noopStep()}), schema.ErrCodeConflict)
}

func TestRegistry_Lookups_Miss(t *testing.T) {
	reg := New()
	_, err := reg.StepType("nope")
	requireCode(t, err, schema.ErrCodeUnknownStepType)

	_, err = reg.WorkflowType("nope")
	requireCode(t, err, schema.ErrCodeUnknownWorkflowType)
}

func TestRegistry_RegisterWorkflowType_DefaultsExecutor(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterWorkflowType(&WorkflowType{Name: "basic"}))

	wt, err := reg.WorkflowType("basic")
	require.NoError(t, err)
	require.NotNil(t, wt.Executor)

	out, err := wt.Executor.PostStep(context.Background(), &schema.WorkflowStep{StepNo: 1}, value.NewVars(), value.Int(7))
	require.NoError(t, err)
	assert.Equal(t, "7", out.String())

	requireCode(t, reg.RegisterWorkflowType(&WorkflowType{Name: "basic"}), schema.ErrCodeConflict)
	requireCode(t, reg.RegisterWorkflowType(&WorkflowType{}), schema.ErrCodeValidation)
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.RegisterStepType(&StepType{Name: name, LinkMode: schema.LinkModeZero, Executor: noopStep()}))
		require.NoError(t, reg.RegisterWorkflowType(&WorkflowType{Name: name}))
	}

	var names []string
	for _, st := range reg.ListStepTypes() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
	assert.Equal(t, "alpha", reg.ListWorkflowTypes()[0].Name)

	steps, wfs := reg.Count()
	assert.Equal(t, 3, steps)
	assert.Equal(t, 3, wfs)
}

func TestRegistry_HasOption(t *testing.T) {
	st := &StepType{LinkOptions: []schema.LinkOption{{Value: "true"}, {Value: "false"}}}
	assert.True(t, st.HasOption("false"))
	assert.False(t, st.HasOption("maybe"))
}

func TestRegistry_Default_IsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterStepType(&StepType{Name: "s", LinkMode: schema.LinkModeZero, Executor: noopStep()}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.StepType("s")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
