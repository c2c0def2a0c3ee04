// Package expressions wraps the three expression languages step types and
// filters are written in: CEL, expr and jq.
package expressions

import (
	"context"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// Engine evaluates one expression language.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Language names accepted by Engines.Get.
const (
	LangCEL  = "cel"
	LangExpr = "expr"
	LangJQ   = "jq"
)

// Engines bundles one instance of each engine. Each engine caches compiled
// programs, so share a single Engines per process.
type Engines struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewEngines builds all three engines.
func NewEngines() (*Engines, error) {
	cel, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{CEL: cel, Expr: NewExprEngine(), JQ: NewGoJQEngine()}, nil
}

// Get returns the engine for a language name. An empty name selects CEL.
func (e *Engines) Get(lang string) (Engine, error) {
	switch lang {
	case LangCEL, "":
		return e.CEL, nil
	case LangExpr:
		return e.Expr, nil
	case LangJQ:
		return e.JQ, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "unknown expression language %q", lang)
	}
}

// EvaluateValue runs expression on eng and converts the result into a Value.
func EvaluateValue(ctx context.Context, eng Engine, expression string, data map[string]any) (value.Value, error) {
	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return value.Null, err
	}
	v, err := value.FromAny(out)
	if err != nil {
		return value.Null, schema.NewErrorf(schema.ErrCodeExpression,
			"%s expression %q produced an unsupported result: %s", eng.Name(), expression, err.Error()).
			WithCause(err)
	}
	return v, nil
}

// VarsData is the evaluation data for expressions over a run context: the
// variables are available both at top level and under "vars".
func VarsData(vars value.Vars) map[string]any {
	data := vars.Native()
	data["vars"] = vars.Native()
	return data
}
