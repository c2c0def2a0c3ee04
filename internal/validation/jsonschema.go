package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// bundleSchemaJSON is the JSON Schema for import bundle documents. Bundles
// are authored in YAML or JSON; both are checked against the same schema
// after decoding.
const bundleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "stepflow://schemas/bundle.json",
  "type": "object",
  "required": ["workflow", "revision"],
  "properties": {
    "workflow": {
      "type": "object",
      "required": ["id", "name", "workflow_type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string", "minLength": 1 },
        "workflow_type": { "type": "string", "minLength": 1 },
        "table_name": { "type": "string" },
        "description": { "type": "string" }
      },
      "additionalProperties": false
    },
    "revision": {
      "type": "object",
      "required": ["start_step_no", "steps"],
      "properties": {
        "start_step_no": { "type": "integer", "minimum": 1 },
        "defaults": { "type": "object" },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        },
        "links": {
          "type": "array",
          "items": { "$ref": "#/$defs/link" }
        }
      },
      "additionalProperties": false
    },
    "scenarios": {
      "type": "array",
      "items": { "$ref": "#/$defs/scenario" }
    },
    "records": {
      "type": "array",
      "items": { "$ref": "#/$defs/record" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["step_no", "step_type"],
      "properties": {
        "step_no": { "type": "integer", "minimum": 1 },
        "step_type": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "input_values": { "type": "object" }
      },
      "additionalProperties": false
    },
    "link": {
      "type": "object",
      "required": ["from_step_no", "to_step_no"],
      "properties": {
        "from_step_no": { "type": "integer", "minimum": 1 },
        "to_step_no": { "type": "integer", "minimum": 1 },
        "condition_value": { "type": "string" }
      },
      "additionalProperties": false
    },
    "scenario": {
      "type": "object",
      "required": ["name", "source"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "source": {
          "type": "object",
          "properties": {
            "table": { "type": "string" },
            "record_id": { "type": "string" },
            "request_body": { "type": "object" }
          },
          "additionalProperties": false
        },
        "assertions": {
          "type": "array",
          "items": { "$ref": "#/$defs/assertion" }
        }
      },
      "additionalProperties": false
    },
    "assertion": {
      "type": "object",
      "required": ["name", "kind"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "kind": { "type": "string", "enum": ["VARIABLE", "LIST", "FILTER"] },
        "variable": { "type": "string" },
        "expected": {},
        "filter": { "type": "string" },
        "table": { "type": "string" },
        "polarity": { "type": "string", "enum": ["POSITIVE", "NEGATIVE"] }
      },
      "additionalProperties": false
    },
    "record": {
      "type": "object",
      "required": ["table", "id", "data"],
      "properties": {
        "table": { "type": "string", "minLength": 1 },
        "id": { "type": "string", "minLength": 1 },
        "data": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

const bundleSchemaURL = "stepflow://schemas/bundle.json"

// JSONSchemaValidator checks bundle documents and step input values. It is
// safe for concurrent use.
type JSONSchemaValidator struct {
	bundleSchema *jsonschema.Schema

	// mu guards the cache of compiled step input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the bundle
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	compiled, err := compileSchema(bundleSchemaURL, bundleSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("bundle schema: %w", err)
	}
	return &JSONSchemaValidator{
		bundleSchema: compiled,
		cache:        make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateBundle checks a decoded bundle document, given as JSON text.
func (v *JSONSchemaValidator) ValidateBundle(doc []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "bundle is not valid JSON").WithCause(err)
	}
	if err := v.bundleSchema.Validate(inst); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateInput checks step input values against a step type's JSON Schema.
// An empty schema accepts anything. Compiled schemas are cached by text.
func (v *JSONSchemaValidator) ValidateInput(inputs value.Vars, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(inputs)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input values").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	cached, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}
	url := fmt.Sprintf("stepflow://input-schema/%016x.json", xxhash.Sum64String(key))
	compiled, err := compileSchema(url, key)
	if err != nil {
		return nil, err
	}
	v.cache[key] = compiled
	return compiled, nil
}

// compileSchema compiles one self-contained schema document with format
// assertions enabled.
func compileSchema(url, text string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// toJSONValue re-decodes v so numbers arrive as json.Number, which is what
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations flattens a ValidationError tree into leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
