package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/rendis/stepflow/pkg/schema"
)

// celVariables are the top-level names a CEL expression may reference.
var celVariables = []string{"vars", "record", "inputs"}

// CELEngine evaluates CEL expressions. Used for condition steps and as the
// default filter language. Compiled programs are cached and safe to share
// across goroutines.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares:
//   - vars:   map(string, dyn), the run context
//   - record: map(string, dyn), the record under test (filters)
//   - inputs: map(string, dyn), the step's input values
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celVariables))
	for _, name := range celVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: newProgramCache[cel.Program](),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return LangCEL
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it against data. Missing variables evaluate as empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty CEL expression")
	}

	prg, err := e.cache.get(expression, e.compile)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, exprError("CEL evaluation failed", expression, err)
	}

	return celToNative(out), nil
}

// celToNative unwraps CEL values into plain Go values, descending into
// lists and maps.
func celToNative(v ref.Val) any {
	if v == nil || v.Type() == types.NullType {
		return nil
	}
	switch t := v.(type) {
	case traits.Lister:
		size, _ := t.Size().(types.Int)
		out := make([]any, 0, int(size))
		for i := types.Int(0); i < size; i++ {
			out = append(out, celToNative(t.Get(i)))
		}
		return out
	case traits.Mapper:
		out := map[string]any{}
		it := t.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprint(k.Value())] = celToNative(t.Get(k))
		}
		return out
	}
	return v.Value()
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if err := issues.Err(); err != nil {
		return nil, exprError("CEL compile error", expression, err)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, exprError("CEL program error", expression, err)
	}
	return prg, nil
}

func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(celVariables))
	for _, key := range celVariables {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
