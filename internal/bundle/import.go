package bundle

import (
	"context"
	"log/slog"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// ImportResult describes what importing one bundle changed.
type ImportResult struct {
	Path       string                   `json:"path,omitempty"`
	WorkflowID string                   `json:"workflow_id"`
	RevisionID string                   `json:"revision_id"`
	Number     int                      `json:"revision_number"`
	Created    bool                     `json:"created"`
	Scenarios  int                      `json:"scenarios"`
	Records    int                      `json:"records"`
	Warnings   []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Importer writes bundles to a store. A revision whose fingerprint matches
// one already stored for the workflow is reused instead of appended, so
// re-importing an unchanged file is a no-op for the revision history.
type Importer struct {
	store     store.Store
	loader    *Loader
	validator *validation.RevisionValidator
	logger    *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(s store.Store, validator *validation.RevisionValidator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:     s,
		loader:    NewLoader(validator.JSONSchema()),
		validator: validator,
		logger:    logger,
	}
}

// Loader returns the loader used to read bundle files.
func (im *Importer) Loader() *Loader {
	return im.loader
}

// ImportFiles expands patterns and imports every matched file in order. It
// stops at the first failing file and returns the results so far.
func (im *Importer) ImportFiles(ctx context.Context, patterns []string) ([]*ImportResult, error) {
	files, err := Expand(patterns)
	if err != nil {
		return nil, err
	}
	results := make([]*ImportResult, 0, len(files))
	for _, path := range files {
		b, err := im.loader.LoadFile(path)
		if err != nil {
			return results, err
		}
		res, err := im.Import(ctx, b)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Import validates b and stores its workflow, revision, scenarios and
// records. The imported revision becomes the workflow's current revision.
func (im *Importer) Import(ctx context.Context, b *Bundle) (*ImportResult, error) {
	ctx = logging.WithWorkflowID(ctx, b.Workflow.ID)

	rev := b.Revision
	rev.WorkflowID = b.Workflow.ID
	check := im.validator.Validate(&rev)
	if err := check.ToError(); err != nil {
		return nil, err
	}

	fp, err := Fingerprint(&rev)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeValidation)
	}
	rev.Fingerprint = fp

	wf := b.Workflow
	if err := im.store.PutWorkflow(ctx, &wf); err != nil {
		return nil, err
	}

	res := &ImportResult{Path: b.Path, WorkflowID: wf.ID, Warnings: check.Warnings}
	existing, err := im.store.FindRevisionByFingerprint(ctx, wf.ID, fp)
	switch {
	case err == nil:
		res.RevisionID, res.Number = existing.ID, existing.Number
	case schema.HasCode(err, schema.ErrCodeNotFound):
		rev.ID = ""
		if err := im.store.AppendRevision(ctx, &rev); err != nil {
			return nil, err
		}
		res.RevisionID, res.Number, res.Created = rev.ID, rev.Number, true
	default:
		return nil, err
	}

	if err := im.store.SetCurrentRevision(ctx, wf.ID, res.RevisionID); err != nil {
		return nil, err
	}

	for _, sc := range b.Scenarios {
		cp := *sc
		cp.WorkflowID = wf.ID
		if err := im.store.PutScenario(ctx, &cp); err != nil {
			return nil, err
		}
		res.Scenarios++
	}
	for _, r := range b.Records {
		if err := im.store.PutRecord(ctx, r.Table, r.ID, r.Data); err != nil {
			return nil, err
		}
		res.Records++
	}

	im.logger.InfoContext(ctx, "bundle imported",
		slog.String("revision_id", res.RevisionID),
		slog.Int("revision_number", res.Number),
		slog.Bool("created", res.Created),
		slog.Int("scenarios", res.Scenarios),
		slog.Int("records", res.Records),
		slog.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}
