package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

func newRegistry(t *testing.T, logger *slog.Logger) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, RegisterBuiltins(reg, Config{Logger: logger}))
	return reg
}

func run(t *testing.T, reg *registry.Registry, stepType string, inputs string, vars value.Vars) (value.Value, error) {
	t.Helper()
	st, err := reg.StepType(stepType)
	require.NoError(t, err)
	in, err := value.ParseVars([]byte(inputs))
	require.NoError(t, err)
	step := &schema.WorkflowStep{StepNo: 7, StepType: stepType, InputValues: json.RawMessage(inputs)}
	return st.Executor.Execute(context.Background(), step, in, vars)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := newRegistry(t, nil)
	steps, wfs := reg.Count()
	assert.Equal(t, 10, steps)
	assert.Equal(t, 2, wfs)

	assert.Error(t, RegisterBuiltins(reg, Config{}), "second registration conflicts")
}

func TestInputSchemasCompile(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	for _, st := range newRegistry(t, nil).ListStepTypes() {
		if len(st.InputSchema) == 0 {
			continue
		}
		err := v.ValidateInput(value.Vars{"unrelated": value.Int(1)}, st.InputSchema)
		if st.Name == TypeSet || st.Name == TypeEnd {
			assert.NoError(t, err, st.Name)
		} else {
			assert.Error(t, err, st.Name)
		}
	}
}

func TestSet(t *testing.T) {
	reg := newRegistry(t, nil)
	vars := value.NewVars()
	out, err := run(t, reg, TypeSet, `{"a": 1.50, "b": "x"}`, vars)
	require.NoError(t, err)
	assert.Equal(t, "2", out.String())
	assert.Equal(t, "1.50", vars.Get("a").String())
	assert.Equal(t, "x", vars.Get("b").String())
}

func TestAdd(t *testing.T) {
	reg := newRegistry(t, nil)
	vars := value.NewVars()

	out, err := run(t, reg, TypeAdd, `{"variable": "sum", "amount": 1.50}`, vars)
	require.NoError(t, err)
	assert.Equal(t, "1.50", out.String())

	_, err = run(t, reg, TypeAdd, `{"variable": "sum", "amount": 2}`, vars)
	require.NoError(t, err)
	assert.Equal(t, "3.50", vars.Get("sum").String())

	vars.Set("name", value.String("x"))
	_, err = run(t, reg, TypeAdd, `{"variable": "name", "amount": 1}`, vars)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeStepFailed, fe.Code)
	assert.Equal(t, 7, fe.StepNo)

	_, err = run(t, reg, TypeAdd, `{"amount": 1}`, vars)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestCondition(t *testing.T) {
	reg := newRegistry(t, nil)
	vars := value.Vars{"total": value.Int(120), "tier": value.String("gold")}

	out, err := run(t, reg, TypeCondition, `{"expression": "vars.total > 100 && vars.tier == 'gold'"}`, vars)
	require.NoError(t, err)
	assert.Equal(t, "true", out.String())

	out, err = run(t, reg, TypeCondition, `{"expression": "inputs.limit < vars.total", "limit": 500}`, vars)
	require.NoError(t, err)
	assert.Equal(t, "false", out.String())

	_, err = run(t, reg, TypeCondition, `{"expression": "vars.tier"}`, vars)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStepFailed))
}

func TestSwitch(t *testing.T) {
	reg := newRegistry(t, nil)
	out, err := run(t, reg, TypeSwitch, `{"expression": "total > 100 ? \"big\" : \"small\""}`, value.Vars{"total": value.Int(5)})
	require.NoError(t, err)
	assert.Equal(t, "small", out.String())
}

func TestCompute(t *testing.T) {
	reg := newRegistry(t, nil)
	vars := value.Vars{"qty": value.Int(3), "price": value.Int(4)}
	out, err := run(t, reg, TypeCompute, `{"expression": "qty * price", "target": "total"}`, vars)
	require.NoError(t, err)
	assert.Equal(t, "12", out.String())
	assert.Equal(t, "12", vars.Get("total").String())
}

func TestTransform(t *testing.T) {
	reg := newRegistry(t, nil)
	vars := value.Vars{"items": value.List(
		value.Record(map[string]value.Value{"sku": value.String("a")}),
		value.Record(map[string]value.Value{"sku": value.String("b")}),
	)}
	out, err := run(t, reg, TypeTransform, `{"query": "[.items[].sku]", "target": "skus"}`, vars)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, out.String())
	assert.Equal(t, `["a","b"]`, vars.Get("skus").String())
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	reg := newRegistry(t, logger)

	out, err := run(t, reg, TypeLog, `{"message": "checkpoint", "variables": ["sum"]}`, value.Vars{"sum": value.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, "checkpoint", out.String())
	assert.Contains(t, buf.String(), "msg=checkpoint")
	assert.Contains(t, buf.String(), "sum=3")

	_, err = run(t, reg, TypeLog, `{"message": "x", "level": "loud"}`, value.NewVars())
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestEndAndFail(t *testing.T) {
	reg := newRegistry(t, nil)

	out, err := run(t, reg, TypeEnd, `{"result": "approved"}`, value.NewVars())
	require.NoError(t, err)
	assert.Equal(t, "approved", out.String())

	out, err = run(t, reg, TypeEnd, `{}`, value.NewVars())
	require.NoError(t, err)
	assert.True(t, out.IsNull())

	_, err = run(t, reg, TypeFail, `{"message": "limit reached"}`, value.NewVars())
	require.Error(t, err)
	assert.Equal(t, "[STEP_FAILED] step 7: limit reached", err.Error())
}

func TestGroupIsContainer(t *testing.T) {
	st, err := newRegistry(t, nil).StepType(TypeGroup)
	require.NoError(t, err)
	assert.Equal(t, schema.LinkModeContainer, st.LinkMode)
}

func TestDefaultsExecutor(t *testing.T) {
	ctx := context.Background()
	ex := DefaultsExecutor{}
	rev := &schema.WorkflowRevision{ID: "r1", Defaults: json.RawMessage(`{"currency": "EUR", "limit": 100.00, "_tmp": 1}`)}

	vars := value.Vars{"limit": value.Int(5)}
	require.NoError(t, ex.PreRun(ctx, vars, nil, rev))
	assert.Equal(t, "EUR", vars.Get("currency").String())
	assert.Equal(t, "5", vars.Get("limit").String(), "caller value wins")
	assert.True(t, vars.Has("_tmp"))

	require.NoError(t, ex.PostRun(ctx, vars))
	assert.False(t, vars.Has("_tmp"))
	assert.Equal(t, []string{"currency", "limit"}, vars.Names())

	out, err := ex.PostStep(ctx, nil, vars, value.Bool(true))
	require.NoError(t, err)
	assert.Equal(t, "true", out.String())

	err = ex.PreRun(ctx, vars, nil, &schema.WorkflowRevision{Defaults: json.RawMessage(`[1]`)})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.NoError(t, ex.PreRun(ctx, vars, nil, &schema.WorkflowRevision{}))
}
