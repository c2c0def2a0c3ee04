package assertion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/filter"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

const (
	pos = schema.PolarityPositive
	neg = schema.PolarityNegative
)

func TestScalar(t *testing.T) {
	tests := []struct {
		name     string
		actual   value.Value
		expected value.Value
		polarity schema.Polarity
		status   schema.TestStatus
		message  string
	}{
		{"both null", value.Null, value.Null, pos, schema.TestStatusPass, "total: was blank as expected."},
		{"null vs empty", value.Null, value.String(""), pos, schema.TestStatusPass, "total: was blank as expected."},
		{"empty vs null", value.String(""), value.Null, pos, schema.TestStatusPass, "total: was blank as expected."},
		{"blank negative", value.String(""), value.Null, neg, schema.TestStatusFail, "total: was blank but was not expected to be."},
		{"equal", value.MustNumber("3.50"), value.MustNumber("3.50"), pos, schema.TestStatusPass, "total: was [3.50] as expected."},
		{"equal negative", value.String("x"), value.String("x"), neg, schema.TestStatusFail, "total: was [x] but was not expected to be."},
		{"unequal", value.MustNumber("3.5"), value.MustNumber("3.50"), pos, schema.TestStatusFail, "total: was [3.5] but expected [3.50]."},
		{"unequal negative", value.Int(4), value.Int(5), neg, schema.TestStatusPass, "total: was [4] not [5] as expected."},
		{"absent renders null", value.Null, value.Int(5), pos, schema.TestStatusFail, "total: was [null] but expected [5]."},
		{"empty renders nothing", value.String(""), value.Int(5), pos, schema.TestStatusFail, "total: was [] but expected [5]."},
		{"number equals string form", value.Int(7), value.String("7"), pos, schema.TestStatusPass, "total: was [7] as expected."},
		{"bool", value.Bool(true), value.Bool(false), neg, schema.TestStatusPass, "total: was [true] not [false] as expected."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scalar("total", tt.actual, tt.expected, tt.polarity)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestList(t *testing.T) {
	tags := value.List(value.String("a"), value.Int(2), value.MustNumber("3.50"))

	tests := []struct {
		name     string
		actual   value.Value
		expected value.Value
		polarity schema.Polarity
		status   schema.TestStatus
		message  string
	}{
		{"found", tags, value.String("a"), pos, schema.TestStatusPass, "tags: found [a] as expected."},
		{"found decimal", tags, value.MustNumber("3.50"), pos, schema.TestStatusPass, "tags: found [3.50] as expected."},
		{"found negative", tags, value.Int(2), neg, schema.TestStatusFail, "tags: found [2] but was not expected to."},
		{"missing", tags, value.String("z"), pos, schema.TestStatusFail, "tags: did not find expected value [z]."},
		{"missing negative", tags, value.String("z"), neg, schema.TestStatusPass, "tags: as expected, did not find [z]."},
		{"blank not in list", tags, value.Null, pos, schema.TestStatusFail, "tags: did not find expected value [null]."},
		{"empty not in list", tags, value.String(""), pos, schema.TestStatusFail, "tags: did not find expected value []."},
		{"null actual is empty", value.Null, value.String("a"), pos, schema.TestStatusFail, "tags: did not find expected value [a]."},
		{"scalar actual", value.String("a"), value.String("a"), pos, schema.TestStatusPass, "tags: found [a] as expected."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := List("tags", tt.actual, tt.expected, tt.polarity)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestList_BlankMembership(t *testing.T) {
	withNull := value.List(value.String("a"), value.Null)
	withEmpty := value.List(value.String("a"), value.String(""))

	for _, list := range []value.Value{withNull, withEmpty} {
		for _, expected := range []value.Value{value.Null, value.String("")} {
			got := List("tags", list, expected, pos)
			assert.True(t, got.Passed(), "%s in %s", expected, list)
		}
	}

	got := List("tags", withNull, value.Null, pos)
	assert.Equal(t, "tags: found [null] as expected.", got.Message)
	got = List("tags", withEmpty, value.String(""), neg)
	assert.Equal(t, "tags: found [] but was not expected to.", got.Message)
}

func TestFilterVerdict(t *testing.T) {
	assert.Equal(t, Result{schema.TestStatusPass, "Filter matched."}, FilterVerdict(true, pos))
	assert.Equal(t, Result{schema.TestStatusFail, "Filter matched, but was expected not to."}, FilterVerdict(true, neg))
	assert.Equal(t, Result{schema.TestStatusFail, "Filter did not match, but was expected to."}, FilterVerdict(false, pos))
	assert.Equal(t, Result{schema.TestStatusPass, "As expected, filter did not match."}, FilterVerdict(false, neg))
}

func newEvaluator(t *testing.T) (*Evaluator, *store.MemoryStore) {
	t.Helper()
	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	s := store.NewMemoryStore()
	return NewEvaluator(filter.NewStoreProvider(s, engines)), s
}

func TestEvaluator_Variable(t *testing.T) {
	ev, _ := newEvaluator(t)
	vars := value.Vars{"sum": value.Int(11)}

	got := ev.Evaluate(context.Background(), &schema.WorkflowTestAssertion{
		Name: "sum", Kind: schema.AssertionVariable, Variable: "sum",
		Expected: json.RawMessage(`11`), Polarity: pos,
	}, vars)
	assert.True(t, got.Passed())
	assert.Equal(t, "sum: was [11] as expected.", got.Message)

	got = ev.Evaluate(context.Background(), &schema.WorkflowTestAssertion{
		Name: "missing", Kind: schema.AssertionVariable, Variable: "nope", Polarity: pos,
	}, vars)
	assert.Equal(t, "missing: was blank as expected.", got.Message)
}

func TestEvaluator_List(t *testing.T) {
	ev, _ := newEvaluator(t)
	vars := value.Vars{"tags": value.List(value.String("vip"), value.Null)}

	got := ev.Evaluate(context.Background(), &schema.WorkflowTestAssertion{
		Name: "tags", Kind: schema.AssertionList, Variable: "tags",
		Expected: json.RawMessage(`""`), Polarity: pos,
	}, vars)
	assert.True(t, got.Passed())
}

func TestEvaluator_InvalidExpected(t *testing.T) {
	ev, _ := newEvaluator(t)
	got := ev.Evaluate(context.Background(), &schema.WorkflowTestAssertion{
		Name: "x", Kind: schema.AssertionVariable, Variable: "x",
		Expected: json.RawMessage(`{oops`), Polarity: pos,
	}, value.NewVars())
	assert.False(t, got.Passed())
	assert.Contains(t, got.Message, "x: invalid expected value")
}

func TestEvaluator_Filter(t *testing.T) {
	ev, s := newEvaluator(t)
	ctx := context.Background()
	require.NoError(t, s.PutRecord(ctx, "orders", "o-1", value.Vars{"status": value.String("open")}))

	inline := value.Vars{"record": value.Record(map[string]value.Value{"status": value.String("open")})}
	byID := value.Vars{"record": value.String("o-1"), "record_table": value.String("orders")}

	tests := []struct {
		name    string
		a       schema.WorkflowTestAssertion
		vars    value.Vars
		message string
	}{
		{
			"inline record",
			schema.WorkflowTestAssertion{Name: "f", Kind: schema.AssertionFilter, Filter: `record.status == "open"`, Polarity: pos},
			inline, "Filter matched.",
		},
		{
			"record id with table var",
			schema.WorkflowTestAssertion{Name: "f", Kind: schema.AssertionFilter, Filter: `record.status == "closed"`, Polarity: neg},
			byID, "As expected, filter did not match.",
		},
		{
			"explicit table",
			schema.WorkflowTestAssertion{Name: "f", Kind: schema.AssertionFilter, Variable: "order", Table: "orders",
				Filter: `{"language":"expr","expression":"status == \"open\""}`, Polarity: pos},
			value.Vars{"order": value.String("o-1")}, "Filter matched.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ev.Evaluate(ctx, &tt.a, tt.vars)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

type brokenProvider struct{}

func (brokenProvider) GetRecord(context.Context, string, string) (value.Vars, error) {
	return nil, errors.New("records offline")
}

func (brokenProvider) Match(context.Context, string, value.Vars) (bool, error) {
	return false, errors.New("filter engine offline")
}

func TestEvaluator_ProviderErrorsFail(t *testing.T) {
	ev := NewEvaluator(brokenProvider{})
	ctx := context.Background()
	a := &schema.WorkflowTestAssertion{Name: "f", Kind: schema.AssertionFilter, Filter: "true", Polarity: neg}

	got := ev.Evaluate(ctx, a, value.Vars{"record": value.Record(nil)})
	assert.Equal(t, schema.TestStatusFail, got.Status)
	assert.Equal(t, "filter engine offline", got.Message)

	got = ev.Evaluate(ctx, a, value.Vars{"record": value.String("o-1"), "record_table": value.String("orders")})
	assert.Equal(t, "records offline", got.Message)

	got = ev.Evaluate(ctx, a, value.NewVars())
	assert.Contains(t, got.Message, `variable "record" is not set`)

	got = NewEvaluator(nil).Evaluate(ctx, a, value.NewVars())
	assert.Contains(t, got.Message, "no filter provider configured")
}

func TestEvaluator_UnknownKind(t *testing.T) {
	got := NewEvaluator(nil).Evaluate(context.Background(), &schema.WorkflowTestAssertion{Name: "q", Kind: "RANGE"}, nil)
	assert.Equal(t, `q: unknown assertion kind "RANGE"`, got.Message)
}
