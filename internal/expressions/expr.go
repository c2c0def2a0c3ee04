package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/stepflow/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions, used by switch and compute
// steps. Every key of the data map is a top-level variable. Compiled
// programs are cached and safe to share across goroutines.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return LangExpr
}

// Evaluate compiles (or retrieves from cache) an expression and runs it
// against data.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expr expression")
	}

	prg, err := e.cache.get(expression, compileExpr)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := expr.Run(prg, env)
	if err != nil {
		return nil, exprError("expr evaluation failed", expression, err)
	}

	return out, nil
}

// compileExpr compiles without type information so one program serves
// contexts of any shape; variables resolve at run time.
func compileExpr(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, exprError("expr compile error", expression, err)
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
