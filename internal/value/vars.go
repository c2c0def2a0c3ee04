package value

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Vars is the mutable variable context threaded through one run. It is a
// map so hooks and step bodies share mutations without extra plumbing;
// each run owns exactly one Vars instance.
type Vars map[string]Value

// NewVars returns an empty context.
func NewVars() Vars { return make(Vars) }

// Get returns the named variable, or Null when absent.
func (v Vars) Get(name string) Value {
	return v[name]
}

// Has reports whether the named variable is present.
func (v Vars) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// Set assigns a variable.
func (v Vars) Set(name string, val Value) {
	v[name] = val
}

// SetAny converts x with FromAny and assigns it.
func (v Vars) SetAny(name string, x any) error {
	val, err := FromAny(x)
	if err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}
	v[name] = val
	return nil
}

// Delete removes a variable.
func (v Vars) Delete(name string) {
	delete(v, name)
}

// Names returns the variable names in sorted order.
func (v Vars) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy. Values are immutable so this is enough to
// isolate two runs.
func (v Vars) Clone() Vars {
	cp := make(Vars, len(v))
	for k, val := range v {
		cp[k] = val
	}
	return cp
}

// Native converts the context into a plain map for expression engines.
func (v Vars) Native() map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = val.Native()
	}
	return out
}

// MarshalJSON encodes the context as a JSON object with sorted keys.
func (v Vars) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return Record(v).MarshalJSON()
}

// ParseVars decodes a JSON object into a context. Empty and null input
// yield an empty context.
func ParseVars(data []byte) (Vars, error) {
	parsed, err := Parse(data)
	if err != nil {
		return nil, err
	}
	switch parsed.Kind() {
	case KindNull:
		return NewVars(), nil
	case KindRecord:
		return Vars(parsed.rec), nil
	default:
		return nil, fmt.Errorf("value: expected a JSON object, got %s", parsed.Kind())
	}
}

// VarsFromMap converts a plain map, as decoded by encoding/json or built in
// tests, into a context.
func VarsFromMap(m map[string]any) (Vars, error) {
	out := make(Vars, len(m))
	for k, x := range m {
		val, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// UnmarshalJSON lets Vars fields decode directly from JSON documents.
func (v *Vars) UnmarshalJSON(data []byte) error {
	parsed, err := ParseVars(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

var _ json.Marshaler = Vars(nil)
