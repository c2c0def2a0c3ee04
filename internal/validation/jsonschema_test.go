package validation

import (
	"testing"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalBundle = `{
  "workflow": {"id": "wf-1", "name": "Discounts", "workflow_type": "basic"},
  "revision": {
    "start_step_no": 1,
    "steps": [{"step_no": 1, "step_type": "end"}]
  }
}`

func TestValidateBundle_Minimal(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateBundle([]byte(minimalBundle)))
}

func TestValidateBundle_Violations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateBundle([]byte(`{"workflow": {"id": "wf-1"}, "revision": {"start_step_no": 0, "steps": []}, "extra": 1}`))
	require.Error(t, err)

	fe := schema.AsFlowError(err, "")
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	violations, ok := fe.Details["violations"].([]string)
	require.True(t, ok)
	assert.Greater(t, len(violations), 1)
}

func TestValidateBundle_NotJSON(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.Error(t, v.ValidateBundle([]byte(`{`)))
}

func TestValidateInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{"type":"object","required":["amount"],"properties":{"amount":{"type":"number"}}}`)

	assert.NoError(t, v.ValidateInput(value.Vars{"amount": value.MustNumber("1.50")}, inputSchema))
	assert.Error(t, v.ValidateInput(value.Vars{"amount": value.String("x")}, inputSchema))
	assert.Error(t, v.ValidateInput(value.NewVars(), inputSchema))
	assert.NoError(t, v.ValidateInput(value.NewVars(), nil))

	// Second call hits the cache.
	assert.NoError(t, v.ValidateInput(value.Vars{"amount": value.Int(3)}, inputSchema))
	assert.Len(t, v.cache, 1)

	assert.Error(t, v.ValidateInput(value.NewVars(), []byte(`{not json`)))
}
