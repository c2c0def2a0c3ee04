package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pricingBundle = `
workflow:
  id: pricing
  name: Pricing
  workflow_type: defaults
  table_name: orders
revision:
  start_step_no: 1
  defaults: { discount: 0 }
  steps:
    - step_no: 1
      step_type: transform
      input_values: { query: ".total // .record.total // 0", target: total }
    - step_no: 2
      step_type: condition
      label: Large order?
      input_values: { expression: "vars.total > 100" }
    - step_no: 3
      step_type: set
      input_values: { discount: 10 }
    - step_no: 4
      step_type: compute
      input_values: { expression: "total - discount", target: due }
    - step_no: 5
      step_type: end
  links:
    - { from_step_no: 1, to_step_no: 2 }
    - { from_step_no: 2, to_step_no: 3, condition_value: "true" }
    - { from_step_no: 2, to_step_no: 4, condition_value: "false" }
    - { from_step_no: 3, to_step_no: 4 }
    - { from_step_no: 4, to_step_no: 5 }
scenarios:
  - name: small order
    source:
      request_body: { total: 40 }
    assertions:
      - { name: due, kind: VARIABLE, variable: due, expected: 40 }
      - { name: discount, kind: VARIABLE, variable: discount, expected: 0 }
  - name: stored order
    source:
      record_id: ord-7
    assertions:
      - { name: record total, kind: FILTER, filter: "record.total == 250" }
      - { name: due, kind: VARIABLE, variable: due, expected: 240 }
records:
  - table: orders
    id: ord-7
    data: { total: 250 }
`

type harness struct {
	t      *testing.T
	dbPath string
	bundle string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	b := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(b, []byte(pricingBundle), 0o644))
	t.Setenv("STEPFLOW_LOG_LEVEL", "error")
	return &harness{t: t, dbPath: filepath.Join(dir, "db", "stepflow.db"), bundle: b}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--db", h.dbPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_ImportRunTest(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("import", filepath.Join(filepath.Dir(h.bundle), "*.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "workflow pricing revision 1 (new), 2 scenarios, 1 records")

	out, err = h.run("import", h.bundle)
	require.NoError(t, err)
	assert.Contains(t, out, "revision 1 (unchanged)")

	out, err = h.run("run", "pricing", "--vars", `{"total": 250}`)
	require.NoError(t, err)
	var result struct {
		RunID  string         `json:"run_id"`
		Status string         `json:"status"`
		Vars   map[string]any `json:"vars"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "COMPLETED", result.Status)
	assert.EqualValues(t, 240, result.Vars["due"])

	out, err = h.run("test", "pricing")
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS small order")
	assert.Contains(t, out, "due: was [40] as expected.")
	assert.Contains(t, out, "Filter matched.")
	assert.Contains(t, out, "PASS: 2/2 scenarios, 4/4 assertions passed")

	out, err = h.run("diagram", "pricing", "--run", result.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, `s2{"2. Large order?"}`)
	assert.Contains(t, out, "class s3 visited")
}

func TestCLI_RunBatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("import", h.bundle)
	require.NoError(t, err)

	varsFile := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(varsFile, []byte(`[{"total": 40}, {"total": 250}, {"total": 101}]`), 0o644))

	out, err := h.run("--pool-size", "2", "run", "pricing", "--vars-file", varsFile)
	require.NoError(t, err, out)
	var results []struct {
		Status string         `json:"status"`
		Vars   map[string]any `json:"vars"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	assert.EqualValues(t, 40, results[0].Vars["due"])
	assert.EqualValues(t, 240, results[1].Vars["due"])
	assert.EqualValues(t, 91, results[2].Vars["due"])

	_, err = h.run("run", "pricing", "--vars", `[]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vars batch is empty")
}

func TestCLI_RunFailure(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("import", h.bundle)
	require.NoError(t, err)

	_, err = h.run("run", "pricing", "--vars", `[1, 2]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")

	_, err = h.run("run", "nope")
	assert.Error(t, err)
}

func TestCLI_Validate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("validate", "--file", h.bundle)
	require.NoError(t, err)
	assert.Contains(t, out, "valid (0 warnings)")

	broken := filepath.Join(filepath.Dir(h.bundle), "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{
		"workflow": {"id": "b", "name": "b", "workflow_type": "basic"},
		"revision": {"start_step_no": 1, "steps": [{"step_no": 1, "step_type": "teleport"}]}
	}`), 0o644))
	out, err = h.run("validate", "--file", broken)
	require.Error(t, err)
	assert.Contains(t, out, "UNKNOWN_STEP_TYPE")

	_, err = h.run("validate")
	assert.Error(t, err)
}

func TestCLI_Types(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("types")
	require.NoError(t, err)
	assert.Contains(t, out, "STEP TYPE")
	assert.Contains(t, out, "condition")
	assert.Contains(t, out, "true,false")
	assert.Contains(t, out, "defaults")
}

func TestCLI_Version(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}
