// Package assertion evaluates scenario assertions against the context left
// behind by a workflow run.
package assertion

import (
	"context"
	"fmt"

	"github.com/rendis/stepflow/internal/filter"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultRecordVariable is the context variable FILTER assertions read the
// record from when they name no variable.
const DefaultRecordVariable = "record"

// RecordTableVariable carries the table of the scenario's source record. It
// is used when a FILTER assertion variable holds a record id and the
// assertion names no table.
const RecordTableVariable = "record_table"

// Result is the verdict of one assertion.
type Result struct {
	Status  schema.TestStatus
	Message string
}

// Passed reports whether the assertion passed.
func (r Result) Passed() bool { return r.Status == schema.TestStatusPass }

func pass(format string, args ...any) Result {
	return Result{Status: schema.TestStatusPass, Message: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{Status: schema.TestStatusFail, Message: fmt.Sprintf(format, args...)}
}

// render is the bracketed text of a value in messages: absent renders as
// null, the empty string as nothing.
func render(v value.Value) string {
	return v.String()
}

// Scalar compares actual to expected. Absent and "" are the same blank class.
func Scalar(name string, actual, expected value.Value, polarity schema.Polarity) Result {
	negative := polarity == schema.PolarityNegative

	if actual.IsBlank() && expected.IsBlank() {
		if negative {
			return fail("%s: was blank but was not expected to be.", name)
		}
		return pass("%s: was blank as expected.", name)
	}

	a, e := render(actual), render(expected)
	if a == e {
		if negative {
			return fail("%s: was [%s] but was not expected to be.", name, a)
		}
		return pass("%s: was [%s] as expected.", name, a)
	}
	if negative {
		return pass("%s: was [%s] not [%s] as expected.", name, a, e)
	}
	return fail("%s: was [%s] but expected [%s].", name, a, e)
}

// List checks whether expected is a member of actual. A blank expected
// matches any blank element. A null actual is an empty list and any other
// non-list actual is a list of one.
func List(name string, actual, expected value.Value, polarity schema.Polarity) Result {
	negative := polarity == schema.PolarityNegative
	e := render(expected)

	if contains(elements(actual), expected) {
		if negative {
			return fail("%s: found [%s] but was not expected to.", name, e)
		}
		return pass("%s: found [%s] as expected.", name, e)
	}
	if negative {
		return pass("%s: as expected, did not find [%s].", name, e)
	}
	return fail("%s: did not find expected value [%s].", name, e)
}

func elements(v value.Value) []value.Value {
	switch v.Kind() {
	case value.KindList:
		return v.Items()
	case value.KindNull:
		return nil
	default:
		return []value.Value{v}
	}
}

func contains(items []value.Value, want value.Value) bool {
	for _, item := range items {
		if want.IsBlank() {
			if item.IsBlank() {
				return true
			}
			continue
		}
		if !item.IsBlank() && item.String() == want.String() {
			return true
		}
	}
	return false
}

// FilterVerdict turns a filter match into a result.
func FilterVerdict(matched bool, polarity schema.Polarity) Result {
	negative := polarity == schema.PolarityNegative
	switch {
	case matched && negative:
		return fail("Filter matched, but was expected not to.")
	case matched:
		return pass("Filter matched.")
	case negative:
		return pass("As expected, filter did not match.")
	default:
		return fail("Filter did not match, but was expected to.")
	}
}

// Evaluator dispatches assertions by kind. FILTER assertions need a
// provider; the others are pure.
type Evaluator struct {
	provider filter.Provider
}

// NewEvaluator creates an Evaluator. provider may be nil when no scenario
// uses FILTER assertions.
func NewEvaluator(provider filter.Provider) *Evaluator {
	return &Evaluator{provider: provider}
}

// Evaluate checks one assertion against the run context. It never returns
// an error: malformed assertions and provider failures are FAIL results
// whose message is the error text.
func (e *Evaluator) Evaluate(ctx context.Context, a *schema.WorkflowTestAssertion, vars value.Vars) Result {
	switch a.Kind {
	case schema.AssertionVariable, schema.AssertionList:
		expected, err := value.Parse(a.Expected)
		if err != nil {
			return fail("%s: invalid expected value: %s", a.Name, err.Error())
		}
		actual := vars.Get(a.Variable)
		if a.Kind == schema.AssertionList {
			return List(a.Name, actual, expected, a.Polarity)
		}
		return Scalar(a.Name, actual, expected, a.Polarity)

	case schema.AssertionFilter:
		matched, err := e.matchFilter(ctx, a, vars)
		if err != nil {
			return fail("%s", err.Error())
		}
		return FilterVerdict(matched, a.Polarity)

	default:
		return fail("%s: unknown assertion kind %q", a.Name, a.Kind)
	}
}

func (e *Evaluator) matchFilter(ctx context.Context, a *schema.WorkflowTestAssertion, vars value.Vars) (bool, error) {
	if e.provider == nil {
		return false, schema.NewErrorf(schema.ErrCodeFilter, "%s: no filter provider configured", a.Name)
	}
	record, err := e.resolveRecord(ctx, a, vars)
	if err != nil {
		return false, err
	}
	return e.provider.Match(ctx, a.Filter, record)
}

// resolveRecord finds the record a FILTER assertion tests: a record-valued
// context variable, or a record id loaded through the provider.
func (e *Evaluator) resolveRecord(ctx context.Context, a *schema.WorkflowTestAssertion, vars value.Vars) (value.Vars, error) {
	name := a.Variable
	if name == "" {
		name = DefaultRecordVariable
	}
	v := vars.Get(name)

	switch v.Kind() {
	case value.KindRecord:
		return value.Vars(v.Fields()).Clone(), nil
	case value.KindString, value.KindNumber:
		table := a.Table
		if table == "" {
			table, _ = vars.Get(RecordTableVariable).Text()
		}
		if table == "" {
			return nil, schema.NewErrorf(schema.ErrCodeFilter,
				"%s: variable %q holds a record id but no table is known", a.Name, name)
		}
		return e.provider.GetRecord(ctx, table, v.String())
	case value.KindNull:
		return nil, schema.NewErrorf(schema.ErrCodeFilter, "%s: variable %q is not set", a.Name, name)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeFilter,
			"%s: variable %q is a %s, not a record", a.Name, name, v.Kind())
	}
}
