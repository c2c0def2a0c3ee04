package store

import (
	"context"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	PutWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Revisions (append-only)
	AppendRevision(ctx context.Context, rev *schema.WorkflowRevision) error
	GetRevision(ctx context.Context, id string) (*schema.WorkflowRevision, error)
	ListRevisions(ctx context.Context, workflowID string) ([]*schema.WorkflowRevision, error)
	FindRevisionByFingerprint(ctx context.Context, workflowID, fingerprint string) (*schema.WorkflowRevision, error)
	SetCurrentRevision(ctx context.Context, workflowID, revisionID string) error

	// Run logs
	SaveRunLog(ctx context.Context, log *schema.WorkflowRunLog) error
	GetRunLog(ctx context.Context, id string) (*schema.WorkflowRunLog, error)
	ListRunLogs(ctx context.Context, filter RunFilter) ([]*schema.WorkflowRunLog, error)

	// Test scenarios and results
	PutScenario(ctx context.Context, sc *schema.WorkflowTestScenario) error
	ListScenarios(ctx context.Context, workflowID string) ([]*schema.WorkflowTestScenario, error)
	SaveTestRun(ctx context.Context, run *schema.WorkflowTestRun) error
	GetTestRun(ctx context.Context, id string) (*schema.WorkflowTestRun, error)
	ListTestRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowTestRun, error)

	// Records
	PutRecord(ctx context.Context, table, id string, data value.Vars) error
	GetRecord(ctx context.Context, table, id string) (value.Vars, error)

	// Lifecycle
	Close() error
}
