package value

import (
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a YAML node into v. Number scalars keep the text the
// author wrote when it is a plain decimal literal.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := FromYAML(node)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalYAML lets Vars fields decode directly from YAML mappings.
func (v *Vars) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := FromYAML(node)
	if err != nil {
		return err
	}
	switch parsed.Kind() {
	case KindNull:
		*v = NewVars()
	case KindRecord:
		*v = Vars(parsed.rec)
	default:
		return fmt.Errorf("value: line %d: expected a mapping, got %s", node.Line, parsed.Kind())
	}
	return nil
}

// FromYAML converts a decoded YAML node tree into a Value.
func FromYAML(node *yaml.Node) (Value, error) {
	if node == nil {
		return Null, nil
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null, nil
		}
		return FromYAML(node.Content[0])
	case yaml.AliasNode:
		return FromYAML(node.Alias)
	case yaml.SequenceNode:
		items := make([]Value, len(node.Content))
		for i, child := range node.Content {
			item, err := FromYAML(child)
			if err != nil {
				return Null, err
			}
			items[i] = item
		}
		return Value{kind: KindList, list: items}, nil
	case yaml.MappingNode:
		fields := make(map[string]Value, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode {
				return Null, fmt.Errorf("value: line %d: mapping keys must be scalars", key.Line)
			}
			item, err := FromYAML(node.Content[i+1])
			if err != nil {
				return Null, err
			}
			fields[key.Value] = item
		}
		return Value{kind: KindRecord, rec: fields}, nil
	case yaml.ScalarNode:
		return scalarFromYAML(node)
	default:
		return Null, fmt.Errorf("value: line %d: unsupported yaml node kind %d", node.Line, node.Kind)
	}
}

func scalarFromYAML(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Null, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Null, err
		}
		return Bool(b), nil
	case "!!int":
		if numberLiteral.MatchString(node.Value) {
			return Value{kind: KindNumber, str: node.Value}, nil
		}
		// 0x1F, 0o17, 1_000 and friends.
		var n int64
		if err := node.Decode(&n); err != nil {
			return Null, err
		}
		return Int(n), nil
	case "!!float":
		if numberLiteral.MatchString(node.Value) {
			return Value{kind: KindNumber, str: node.Value}, nil
		}
		var f float64
		if err := node.Decode(&f); err != nil {
			return Null, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Null, fmt.Errorf("value: line %d: %s is not a finite number", node.Line, strconv.Quote(node.Value))
		}
		return Float(f), nil
	default:
		return String(node.Value), nil
	}
}
