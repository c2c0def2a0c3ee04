// Package filter resolves records and matches them against serialized filter
// expressions for FILTER assertions.
package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// Provider loads records and evaluates filters against them.
type Provider interface {
	GetRecord(ctx context.Context, table, id string) (value.Vars, error)
	Match(ctx context.Context, serializedFilter string, record value.Vars) (bool, error)
}

// RecordSource is the read side of the store a provider needs.
type RecordSource interface {
	GetRecord(ctx context.Context, table, id string) (value.Vars, error)
}

// Filter is the decoded form of a serialized filter.
type Filter struct {
	Language   string `json:"language"`
	Expression string `json:"expression"`
}

// Parse decodes a serialized filter. A JSON object selects the language
// explicitly; anything else (including a JSON string) is a CEL expression.
func Parse(serialized string) (Filter, error) {
	text := strings.TrimSpace(serialized)
	if text == "" {
		return Filter{}, schema.NewError(schema.ErrCodeFilter, "filter is empty")
	}

	switch text[0] {
	case '{':
		var f Filter
		if err := json.Unmarshal([]byte(text), &f); err != nil {
			return Filter{}, schema.NewErrorf(schema.ErrCodeFilter, "decode filter: %s", err.Error()).WithCause(err)
		}
		if strings.TrimSpace(f.Expression) == "" {
			return Filter{}, schema.NewError(schema.ErrCodeFilter, "filter has no expression")
		}
		if f.Language == "" {
			f.Language = expressions.LangCEL
		}
		return f, nil
	case '"':
		var expr string
		if err := json.Unmarshal([]byte(text), &expr); err == nil {
			return Filter{Language: expressions.LangCEL, Expression: expr}, nil
		}
	}
	return Filter{Language: expressions.LangCEL, Expression: text}, nil
}

// String re-serializes f as a JSON object.
func (f Filter) String() string {
	b, _ := json.Marshal(f)
	return string(b)
}

// StoreProvider reads records from a RecordSource and evaluates filters with
// the shared expression engines.
type StoreProvider struct {
	records RecordSource
	engines *expressions.Engines
}

// NewStoreProvider creates a StoreProvider. records may be nil when only
// Match is needed.
func NewStoreProvider(records RecordSource, engines *expressions.Engines) *StoreProvider {
	return &StoreProvider{records: records, engines: engines}
}

func (p *StoreProvider) GetRecord(ctx context.Context, table, id string) (value.Vars, error) {
	if p.records == nil {
		return nil, schema.NewErrorf(schema.ErrCodeFilter, "no record source configured for %s/%s", table, id)
	}
	rec, err := p.records.GetRecord(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *StoreProvider) Match(ctx context.Context, serializedFilter string, record value.Vars) (bool, error) {
	f, err := Parse(serializedFilter)
	if err != nil {
		return false, err
	}
	eng, err := p.engines.Get(f.Language)
	if err != nil {
		return false, schema.AsFlowError(err, schema.ErrCodeFilter)
	}

	out, err := eng.Evaluate(ctx, f.Expression, recordData(f.Language, record))
	if err != nil {
		return false, err
	}

	matched, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeFilter,
			"%s filter %q must produce a bool, got %s", eng.Name(), f.Expression, describe(out))
	}
	return matched, nil
}

// recordData is what each language sees. expr has no variable declarations,
// so the record's fields are also available at top level.
func recordData(lang string, record value.Vars) map[string]any {
	rec := record.Native()
	if lang != expressions.LangExpr {
		return map[string]any{"record": rec}
	}
	data := record.Native()
	data["record"] = rec
	return data
}

func describe(out any) string {
	switch t := out.(type) {
	case nil:
		return "no output"
	case []any:
		return fmt.Sprintf("%d outputs", len(t))
	default:
		return fmt.Sprintf("%T", out)
	}
}

var _ Provider = (*StoreProvider)(nil)
