package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/stepflow/internal/bundle"
	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// handleRun executes a workflow. A run that captured an error is still a
// successful tool call; the error is part of the returned output.
func (s *StepflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	revisionID := req.GetString("revision_id", "")
	if batch, ok := req.GetArguments()["batch"]; ok {
		return s.runBatch(ctx, workflowID, revisionID, batch)
	}
	vars, err := value.VarsFromMap(mcp.ParseStringMap(req, "vars", nil))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid vars: %v", err)), nil
	}

	out, runErr := s.executor.Execute(ctx, &engine.Input{
		WorkflowID: workflowID,
		RevisionID: revisionID,
		Vars:       vars,
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}
	return marshalResult(out)
}

// runBatch executes one run per batch entry on the executor's pool. Runs
// keep the batch order; entries that never ran have a null output and are
// listed under not_run.
func (s *StepflowServer) runBatch(ctx context.Context, workflowID, revisionID string, batch any) (*mcp.CallToolResult, error) {
	entries, ok := batch.([]any)
	if !ok || len(entries) == 0 {
		return mcp.NewToolResultError("batch must be a non-empty array of objects"), nil
	}
	inputs := make([]*engine.Input, len(entries))
	for i, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("batch[%d] must be an object", i)), nil
		}
		vars, err := value.VarsFromMap(m)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid batch[%d]: %v", i, err)), nil
		}
		inputs[i] = &engine.Input{WorkflowID: workflowID, RevisionID: revisionID, Vars: vars}
	}

	outputs, err := s.executor.ExecuteAll(ctx, inputs)
	result := map[string]any{"runs": outputs}
	if err != nil {
		var notRun []int
		for i, out := range outputs {
			if out == nil {
				notRun = append(notRun, i)
			}
		}
		if len(notRun) == len(outputs) {
			return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", err)), nil
		}
		result["not_run"] = notRun
		result["error"] = err.Error()
	}
	return marshalResult(result)
}

// handleTest runs the stored scenarios of a workflow.
func (s *StepflowServer) handleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	run, testErr := s.tester.RunStored(ctx, s.store, workflowID)
	if run == nil {
		return mcp.NewToolResultError(fmt.Sprintf("test run failed: %v", testErr)), nil
	}
	if testErr != nil {
		s.logger.WarnContext(ctx, "test run not saved", "error", testErr)
	}
	return marshalResult(run)
}

// handleValidate checks either a bundle document or a stored revision.
func (s *StepflowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if doc := req.GetString("document", ""); doc != "" {
		format := bundle.Format(req.GetString("format", string(bundle.FormatYAML)))
		b, err := s.loader.Decode([]byte(doc), format)
		if err != nil {
			return validationResult(issueFromError(err))
		}
		return validationResult(s.validator.Validate(&b.Revision))
	}

	workflowID := req.GetString("workflow_id", "")
	if workflowID == "" {
		return mcp.NewToolResultError("either document or workflow_id is required"), nil
	}
	rev, err := s.resolveRevision(ctx, workflowID, req.GetString("revision_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("revision lookup failed: %v", err)), nil
	}
	return validationResult(s.validator.Validate(rev))
}

// handleQuery lists stored resources or registered types.
func (s *StepflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "revisions":
		return s.queryRevisions(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "test_runs":
		return s.queryTestRuns(ctx, filter)
	case "scenarios":
		return s.queryScenarios(ctx, filter)
	case "types":
		return marshalResult(map[string]any{
			"step_types":     s.registry.ListStepTypes(),
			"workflow_types": s.registry.ListWorkflowTypes(),
		})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleDiagram draws a revision, optionally overlaid with a run.
func (s *StepflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be mermaid or image"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", err)), nil
	}

	revisionID := req.GetString("revision_id", "")
	var runLog *schema.WorkflowRunLog
	if runID := req.GetString("run_id", ""); runID != "" {
		runLog, err = s.store.GetRunLog(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", err)), nil
		}
		if revisionID == "" {
			revisionID = runLog.RevisionID
		}
	}

	rev, err := s.resolveRevision(ctx, wf.ID, revisionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("revision lookup failed: %v", err)), nil
	}

	model, buildErr := diagram.Build(wf.Name, rev, s.registry, runLog)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	if format == "mermaid" {
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
	png, imgErr := diagram.RenderImage(ctx, model)
	if imgErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
	}
	return mcp.NewToolResultImage(wf.Name, base64.StdEncoding.EncodeToString(png), "image/png"), nil
}

// --- Query helpers ---

func (s *StepflowServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		WorkflowType: extractString(filter, "workflow_type"),
		Limit:        extractInt(filter, "limit", 50),
	}
	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *StepflowServer) queryRevisions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if id := extractString(filter, "id"); id != "" {
		rev, err := s.store.GetRevision(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"revisions": []*schema.WorkflowRevision{rev}})
	}
	workflowID := extractString(filter, "workflow_id")
	if workflowID == "" {
		return mcp.NewToolResultError("revision query requires 'id' or 'workflow_id' in filter"), nil
	}
	revs, err := s.store.ListRevisions(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"revisions": revs})
}

func (s *StepflowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if id := extractString(filter, "id"); id != "" {
		l, err := s.store.GetRunLog(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"runs": []*schema.WorkflowRunLog{l}})
	}
	runs, err := s.store.ListRunLogs(ctx, runFilter(filter))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *StepflowServer) queryTestRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if id := extractString(filter, "id"); id != "" {
		r, err := s.store.GetTestRun(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"test_runs": []*schema.WorkflowTestRun{r}})
	}
	runs, err := s.store.ListTestRuns(ctx, runFilter(filter))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"test_runs": runs})
}

func (s *StepflowServer) queryScenarios(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	workflowID := extractString(filter, "workflow_id")
	if workflowID == "" {
		return mcp.NewToolResultError("scenario query requires 'workflow_id' in filter"), nil
	}
	scenarios, err := s.store.ListScenarios(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"scenarios": scenarios})
}

// --- Internal helpers ---

// resolveRevision loads revisionID, or the workflow's current revision when
// it is empty.
func (s *StepflowServer) resolveRevision(ctx context.Context, workflowID, revisionID string) (*schema.WorkflowRevision, error) {
	if revisionID == "" {
		wf, err := s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if wf.CurrentRevisionID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no current revision", workflowID)
		}
		revisionID = wf.CurrentRevisionID
	}
	rev, err := s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if rev.WorkflowID != workflowID {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "revision %q belongs to workflow %q", revisionID, rev.WorkflowID)
	}
	return rev, nil
}

func runFilter(filter map[string]any) store.RunFilter {
	return store.RunFilter{
		WorkflowID: extractString(filter, "workflow_id"),
		Status:     extractString(filter, "status"),
		Limit:      extractInt(filter, "limit", 50),
	}
}

// issueFromError turns a document decoding failure into a one-issue result.
func issueFromError(err error) *schema.ValidationResult {
	fe := schema.AsFlowError(err, schema.ErrCodeValidation)
	result := &schema.ValidationResult{}
	result.AddError("/", fe.Code, fe.Message)
	return result
}

func validationResult(r *schema.ValidationResult) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{
		"valid":    r.Valid(),
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}

func extractString(filter map[string]any, key string) string {
	if filter == nil {
		return ""
	}
	s, _ := filter[key].(string)
	return s
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
