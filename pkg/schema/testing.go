package schema

import (
	"encoding/json"
	"time"
)

// Polarity says whether an assertion expects its check to hold or not.
type Polarity string

const (
	PolarityPositive Polarity = "POSITIVE"
	PolarityNegative Polarity = "NEGATIVE"
)

// AssertionKind selects the comparison an assertion performs.
type AssertionKind string

const (
	AssertionVariable AssertionKind = "VARIABLE" // scalar equality
	AssertionList     AssertionKind = "LIST"     // list membership
	AssertionFilter   AssertionKind = "FILTER"   // filter match against a record
)

// TestStatus is the verdict of an assertion, scenario, or whole test run.
type TestStatus string

const (
	TestStatusPass TestStatus = "PASS"
	TestStatusFail TestStatus = "FAIL"
)

// ScenarioSource is the input a scenario re-runs the workflow against:
// either a stored record (Table + RecordID) or a literal request body.
type ScenarioSource struct {
	Table       string          `json:"table,omitempty"`
	RecordID    string          `json:"record_id,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
}

// FromRecord reports whether the source references a stored record.
func (s ScenarioSource) FromRecord() bool {
	return s.RecordID != ""
}

// WorkflowTestScenario is a named input plus the assertions to check after
// the run.
type WorkflowTestScenario struct {
	ID         string                  `json:"id,omitempty"`
	WorkflowID string                  `json:"workflow_id"`
	Name       string                  `json:"name"`
	Source     ScenarioSource          `json:"source"`
	Assertions []WorkflowTestAssertion `json:"assertions"`
}

// WorkflowTestAssertion is a scenario-scoped check. Expected is a JSON
// document; a missing or null Expected means "absent". Filter holds a
// serialized filter for FILTER assertions; Table optionally names the table
// used to load the record when the variable holds a record id.
type WorkflowTestAssertion struct {
	Name     string          `json:"name"`
	Kind     AssertionKind   `json:"kind"`
	Variable string          `json:"variable,omitempty"`
	Expected json.RawMessage `json:"expected,omitempty"`
	Filter   string          `json:"filter,omitempty"`
	Table    string          `json:"table,omitempty"`
	Polarity Polarity        `json:"polarity"`
}

// WorkflowTestOutput is the verdict of one assertion.
type WorkflowTestOutput struct {
	Scenario  string     `json:"scenario"`
	Assertion string     `json:"assertion"`
	Status    TestStatus `json:"status"`
	Message   string     `json:"message"`
}

// ScenarioResult is the verdict of one scenario.
type ScenarioResult struct {
	Scenario string               `json:"scenario"`
	RunID    string               `json:"run_id,omitempty"`
	Status   TestStatus           `json:"status"`
	Error    *FlowError           `json:"error,omitempty"`
	Outputs  []WorkflowTestOutput `json:"outputs"`
}

// WorkflowTestRun aggregates the results of one tester invocation.
type WorkflowTestRun struct {
	ID                 string           `json:"id"`
	WorkflowID         string           `json:"workflow_id"`
	Status             TestStatus       `json:"status"`
	ScenarioCount      int              `json:"scenario_count"`
	ScenarioPassCount  int              `json:"scenario_pass_count"`
	ScenarioFailCount  int              `json:"scenario_fail_count"`
	AssertionCount     int              `json:"assertion_count"`
	AssertionPassCount int              `json:"assertion_pass_count"`
	AssertionFailCount int              `json:"assertion_fail_count"`
	Scenarios          []ScenarioResult `json:"scenarios"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at"`
}

// Outputs flattens the per-assertion outputs of every scenario.
func (r *WorkflowTestRun) Outputs() []WorkflowTestOutput {
	var out []WorkflowTestOutput
	for _, s := range r.Scenarios {
		out = append(out, s.Outputs...)
	}
	return out
}
