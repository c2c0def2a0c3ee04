package schema

import (
	"encoding/json"
	"time"
)

// RunStatus is the terminal state of one workflow run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// WorkflowRunLog is the trace of one execution. It is produced fresh per run
// and handed to the tracer once traversal ends.
type WorkflowRunLog struct {
	ID         string                `json:"id"`
	WorkflowID string                `json:"workflow_id"`
	RevisionID string                `json:"revision_id"`
	Status     RunStatus             `json:"status"`
	Error      *FlowError            `json:"error,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Steps      []*WorkflowRunLogStep `json:"steps"`
}

// WorkflowRunLogStep is one traced step. Output holds the final output after
// the workflow type's postStep hook, serialized as JSON.
type WorkflowRunLogStep struct {
	Sequence   int             `json:"sequence"`
	StepNo     int             `json:"step_no"`
	StepType   string          `json:"step_type"`
	Output     json.RawMessage `json:"output"`
	DurationMs int64           `json:"duration_ms"`
}

// StepNos returns the step numbers of the trace in execution order.
func (l *WorkflowRunLog) StepNos() []int {
	nos := make([]int, len(l.Steps))
	for i, s := range l.Steps {
		nos[i] = s.StepNo
	}
	return nos
}
