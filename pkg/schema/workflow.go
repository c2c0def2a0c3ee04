package schema

import (
	"encoding/json"
	"time"
)

// LinkMode is the outbound-link policy of a step type.
type LinkMode string

const (
	LinkModeZero      LinkMode = "ZERO"      // terminal, no outbound links
	LinkModeOne       LinkMode = "ONE"       // exactly one unconditional link
	LinkModeTwo       LinkMode = "TWO"       // links selected by condition value
	LinkModeContainer LinkMode = "CONTAINER" // transparent pass-through to one successor
)

// Valid reports whether m is a known link mode.
func (m LinkMode) Valid() bool {
	switch m {
	case LinkModeZero, LinkModeOne, LinkModeTwo, LinkModeContainer:
		return true
	}
	return false
}

// LinkOption is one selectable outbound branch of a TWO-mode step type.
// DefaultSteps lists step-type names an editor seeds under the branch; the
// engine ignores it.
type LinkOption struct {
	Value        string   `json:"value" yaml:"value"`
	Label        string   `json:"label,omitempty" yaml:"label,omitempty"`
	DefaultSteps []string `json:"default_steps,omitempty" yaml:"default_steps,omitempty"`
}

// StepCategory groups step types for presentation. No execution semantics.
type StepCategory struct {
	Name      string   `json:"name"`
	Label     string   `json:"label,omitempty"`
	StepTypes []string `json:"step_types,omitempty"`
}

// Workflow is a named, persistent instance of a workflow type.
type Workflow struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	WorkflowType      string    `json:"workflow_type"`
	TableName         string    `json:"table_name,omitempty"`
	CurrentRevisionID string    `json:"current_revision_id,omitempty"`
	Description       string    `json:"description,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// WorkflowRevision is an immutable snapshot of a workflow graph.
type WorkflowRevision struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Number      int             `json:"number"`
	StartStepNo int             `json:"start_step_no"`
	Steps       []WorkflowStep  `json:"steps"`
	Links       []WorkflowLink  `json:"links,omitempty"`
	Defaults    json.RawMessage `json:"defaults,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WorkflowStep is one node of a revision. StepNo is the node identity.
type WorkflowStep struct {
	StepNo      int             `json:"step_no"`
	StepType    string          `json:"step_type"`
	Label       string          `json:"label,omitempty"`
	InputValues json.RawMessage `json:"input_values,omitempty"`
}

// WorkflowLink is a directed edge between two steps of a revision.
// ConditionValue is nil for unconditional links.
type WorkflowLink struct {
	FromStepNo     int     `json:"from_step_no"`
	ToStepNo       int     `json:"to_step_no"`
	ConditionValue *string `json:"condition_value,omitempty"`
}

// Condition returns the link's condition value and whether it has one.
func (l WorkflowLink) Condition() (string, bool) {
	if l.ConditionValue == nil {
		return "", false
	}
	return *l.ConditionValue, true
}

// Link builds an unconditional link.
func Link(from, to int) WorkflowLink {
	return WorkflowLink{FromStepNo: from, ToStepNo: to}
}

// ConditionalLink builds a link selected when the step output renders as value.
func ConditionalLink(from, to int, value string) WorkflowLink {
	return WorkflowLink{FromStepNo: from, ToStepNo: to, ConditionValue: &value}
}
