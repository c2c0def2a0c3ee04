package store

import "github.com/rendis/stepflow/pkg/schema"

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	WorkflowType string
	Limit        int
}

// RunFilter narrows ListRunLogs and ListTestRuns. Results are newest first.
// Status matches schema.RunStatus for run logs and schema.TestStatus for
// test runs.
type RunFilter struct {
	WorkflowID string
	Status     string
	Limit      int
}

func (f RunFilter) matchesRun(l *schema.WorkflowRunLog) bool {
	if f.WorkflowID != "" && l.WorkflowID != f.WorkflowID {
		return false
	}
	return f.Status == "" || string(l.Status) == f.Status
}

func (f RunFilter) matchesTest(r *schema.WorkflowTestRun) bool {
	if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
		return false
	}
	return f.Status == "" || string(r.Status) == f.Status
}
