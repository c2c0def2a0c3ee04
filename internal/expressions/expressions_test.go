package expressions

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

func newEngines(t *testing.T) *Engines {
	t.Helper()
	e, err := NewEngines()
	require.NoError(t, err)
	return e
}

func TestEngines_Get(t *testing.T) {
	e := newEngines(t)
	for lang, want := range map[string]string{"": "cel", "cel": "cel", "expr": "expr", "jq": "jq"} {
		eng, err := e.Get(lang)
		require.NoError(t, err)
		assert.Equal(t, want, eng.Name())
	}
	_, err := e.Get("lua")
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))
}

// --- CEL ---

func TestCEL_VarsAccess(t *testing.T) {
	e := newEngines(t)
	vars := value.Vars{"amount": value.Int(12), "status": value.String("open")}

	out, err := e.CEL.Evaluate(context.Background(), `vars.amount > 10 && vars.status == "open"`, VarsData(vars))
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_RecordAccess(t *testing.T) {
	e := newEngines(t)
	data := map[string]any{"record": map[string]any{"total": 99.5, "tags": []any{"vip"}}}

	out, err := e.CEL.Evaluate(context.Background(), `record.total > 50.0 && "vip" in record.tags`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingVariableIsEmptyMap(t *testing.T) {
	e := newEngines(t)
	out, err := e.CEL.Evaluate(context.Background(), `size(record) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_ListResultConverts(t *testing.T) {
	e := newEngines(t)
	v, err := EvaluateValue(context.Background(), e.CEL, `[1, 2, 3]`, nil)
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, v.String())

	v, err = EvaluateValue(context.Background(), e.CEL, `{"a": true}`, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true}`, v.String())

	v, err = EvaluateValue(context.Background(), e.CEL, `null`, nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestCEL_Errors(t *testing.T) {
	e := newEngines(t)

	_, err := e.CEL.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))

	_, err = e.CEL.Evaluate(context.Background(), "vars.(", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))

	_, err = e.CEL.Evaluate(context.Background(), "vars.missing > 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CEL evaluation failed")
}

func TestCEL_Caching(t *testing.T) {
	e := newEngines(t)
	for i := 0; i < 3; i++ {
		_, err := e.CEL.Evaluate(context.Background(), "1 + 1", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.CEL.cache.len())
}

// --- expr ---

func TestExpr_TopLevelVars(t *testing.T) {
	e := newEngines(t)
	vars := value.Vars{"tier": value.String("gold"), "total": value.Int(120)}

	out, err := e.Expr.Evaluate(context.Background(), `total > 100 ? tier + "-big" : tier`, VarsData(vars))
	require.NoError(t, err)
	assert.Equal(t, "gold-big", out)

	out, err = e.Expr.Evaluate(context.Background(), `vars.total * 2`, VarsData(vars))
	require.NoError(t, err)
	assert.EqualValues(t, 240, out)
}

func TestExpr_ProgramReusedAcrossShapes(t *testing.T) {
	e := newEngines(t)

	out, err := e.Expr.Evaluate(context.Background(), `x ?? "none"`, map[string]any{"x": int64(1)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, out)

	out, err = e.Expr.Evaluate(context.Background(), `x ?? "none"`, map[string]any{"x": "text"})
	require.NoError(t, err)
	assert.Equal(t, "text", out)

	out, err = e.Expr.Evaluate(context.Background(), `x ?? "none"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", out)
}

func TestExpr_CompileError(t *testing.T) {
	e := newEngines(t)
	_, err := e.Expr.Evaluate(context.Background(), "1 +", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))
}

// --- jq ---

func TestGoJQ_Query(t *testing.T) {
	e := newEngines(t)
	vars := value.Vars{"items": value.List(value.Int(1), value.Int(2), value.Int(3))}

	v, err := EvaluateValue(context.Background(), e.JQ, `[.items[] | select(. > 1)] | add`, vars.Native())
	require.NoError(t, err)
	assert.Equal(t, "5", v.String())
}

func TestGoJQ_MultipleAndNoOutputs(t *testing.T) {
	e := newEngines(t)
	data := map[string]any{"a": []any{"x", "y"}}

	out, err := e.JQ.Evaluate(context.Background(), `.a[]`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out)

	out, err = e.JQ.Evaluate(context.Background(), `empty`, data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_Sandbox_NoEnv(t *testing.T) {
	e := newEngines(t)
	out, err := e.JQ.Evaluate(context.Background(), `$ENV | length`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := newEngines(t)

	_, err := e.JQ.Evaluate(context.Background(), `.[`, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))

	_, err = e.JQ.Evaluate(context.Background(), `error("boom")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEngines_Concurrent(t *testing.T) {
	e := newEngines(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			data := map[string]any{"vars": map[string]any{"n": int64(n)}, "n": int64(n)}
			_, err := e.CEL.Evaluate(context.Background(), "vars.n >= 0", data)
			assert.NoError(t, err)
			_, err = e.Expr.Evaluate(context.Background(), "n + 1", data)
			assert.NoError(t, err)
			_, err = e.JQ.Evaluate(context.Background(), ".n + 1", data)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestProgramCache_FailuresNotCached(t *testing.T) {
	c := newProgramCache[int]()
	calls := 0
	compile := func(src string) (int, error) {
		calls++
		if src == "bad" {
			return 0, errors.New("boom")
		}
		return len(src), nil
	}

	for i := 0; i < 2; i++ {
		n, err := c.get("good", compile)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		_, err = c.get("bad", compile)
		require.Error(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, c.len())
}

func TestEvaluateValue_NonFiniteResult(t *testing.T) {
	e := newEngines(t)
	_, err := EvaluateValue(context.Background(), e.Expr, "total / count", map[string]any{"total": 1, "count": 0})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))
	assert.Contains(t, err.Error(), "not a finite number")
}
