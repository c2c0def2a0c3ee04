// Package value implements the dynamically-typed values carried by run
// contexts and step inputs.
//
// A Value is one of null, string, number, bool, list or record. Numbers keep
// the literal they were written with, so a decimal 3.50 renders as "3.50"
// and assertion fixtures compare against the same text the author typed.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged union. The zero Value is null.
type Value struct {
	kind Kind
	str  string // string payload, or the number literal
	b    bool
	list []Value
	rec  map[string]Value
}

// Null is the absent value.
var Null = Value{}

var numberLiteral = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a bool value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integral number value.
func Int(n int64) Value { return Value{kind: KindNumber, str: strconv.FormatInt(n, 10)} }

// Float returns a number value using the shortest literal that round-trips.
// NaN and the infinities have no literal and yield Null; FromAny reports
// them as errors instead.
func Float(f float64) Value {
	v, err := finiteFloat(f)
	if err != nil {
		return Null
	}
	return v
}

func finiteFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null, fmt.Errorf("value: %v is not a finite number", f)
	}
	return Value{kind: KindNumber, str: strconv.FormatFloat(f, 'f', -1, 64)}, nil
}

// Number returns a number value carrying the given literal verbatim.
func Number(literal string) (Value, error) {
	if !numberLiteral.MatchString(literal) {
		return Null, fmt.Errorf("value: %q is not a number literal", literal)
	}
	return Value{kind: KindNumber, str: literal}, nil
}

// MustNumber is Number for literals known to be valid.
func MustNumber(literal string) Value {
	v, err := Number(literal)
	if err != nil {
		panic(err)
	}
	return v
}

// List returns a list value.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Record returns a record value. The map is copied.
func Record(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindRecord, rec: cp}
}

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsBlank reports whether v is absent or the empty string. Assertions treat
// both as the same "blank" class.
func (v Value) IsBlank() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// String renders v: null as "null", strings verbatim, numbers as their
// literal, bools as true/false, lists and records as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString, KindNumber:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("<%s: %v>", v.kind, err)
		}
		return string(b)
	}
}

// Text returns the string payload when v is a string.
func (v Value) Text() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Truth returns the bool payload when v is a bool.
func (v Value) Truth() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Literal returns the number literal when v is a number.
func (v Value) Literal() (string, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return v.str, true
}

// Int64 returns v as an int64 when v is an integral number.
func (v Value) Int64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.str, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float64 returns v as a float64 when v is a number.
func (v Value) Float64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.str, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Items returns the elements of a list, or nil.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Fields returns the fields of a record, or nil. The returned map must not
// be mutated.
func (v Value) Fields() map[string]Value {
	if v.kind != KindRecord {
		return nil
	}
	return v.rec
}

// Field returns one record field, or Null.
func (v Value) Field(name string) Value {
	if v.kind != KindRecord {
		return Null
	}
	return v.rec[name]
}

// Native converts v into plain Go values for expression engines: nil,
// string, bool, int64 (integral numbers), float64, []any, map[string]any.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindNumber:
		if n, ok := v.Int64(); ok {
			return n
		}
		f, _ := v.Float64()
		return f
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	case KindRecord:
		out := make(map[string]any, len(v.rec))
		for k, item := range v.rec {
			out[k] = item.Native()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality. Numbers compare by literal.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindString, KindNumber:
		return a.str == b.str
	case KindBool:
		return a.b == b.b
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(a.rec) != len(b.rec) {
			return false
		}
		for k, av := range a.rec {
			bv, ok := b.rec[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts a Go value into a Value. It accepts the shapes produced
// by encoding/json (with or without UseNumber), expression engines and
// hand-written test literals.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return t, nil
	case Vars:
		return Record(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Value{kind: KindNumber, str: strconv.FormatUint(uint64(t), 10)}, nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Value{kind: KindNumber, str: strconv.FormatUint(t, 10)}, nil
	case float32:
		return finiteFloat(float64(t))
	case float64:
		return finiteFloat(t)
	case json.Number:
		return Number(t.String())
	case []Value:
		return List(t...), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null, fmt.Errorf("value: list[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]Value:
		return Record(t), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null, fmt.Errorf("value: field %q: %w", k, err)
			}
			fields[k] = v
		}
		return Value{kind: KindRecord, rec: fields}, nil
	default:
		return Null, fmt.Errorf("value: unsupported type %T", x)
	}
}

// MustFromAny is FromAny for literals known to be convertible.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// MarshalJSON encodes v. Records are written with sorted keys and numbers
// with their original literal.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindNumber:
		buf.WriteString(v.str)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindString:
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v.str); err != nil {
			return err
		}
		// Encode appends a newline.
		buf.Truncate(buf.Len() - 1)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindRecord:
		keys := make([]string, 0, len(v.rec))
		for k := range v.rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := String(k).writeJSON(buf); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := v.rec[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: cannot encode kind %s", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes any JSON document into v, keeping number literals.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes a JSON document holding exactly one value. Empty input is
// Null.
func Parse(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Null, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Null, fmt.Errorf("value: decode json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Null, fmt.Errorf("value: decode json: unexpected data after offset %d", dec.InputOffset())
	}
	return FromAny(raw)
}

// ParseString decodes a JSON document held in a string.
func ParseString(s string) (Value, error) {
	return Parse([]byte(strings.TrimSpace(s)))
}
