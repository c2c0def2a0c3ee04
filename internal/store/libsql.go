package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/stepflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

func (s *LibSQLStore) PutWorkflow(ctx context.Context, wf *schema.Workflow) error {
	now := time.Now().UTC()
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, workflow_type, table_name, description, current_revision_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, workflow_type=excluded.workflow_type, table_name=excluded.table_name,
		   description=excluded.description,
		   current_revision_id=COALESCE(excluded.current_revision_id, workflows.current_revision_id),
		   updated_at=excluded.updated_at`,
		wf.ID, wf.Name, wf.WorkflowType, nullStr(wf.TableName), nullStr(wf.Description),
		nullStr(wf.CurrentRevisionID), wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, workflow_type, table_name, description, current_revision_id, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := `SELECT id, name, workflow_type, table_name, description, current_revision_id, created_at, updated_at FROM workflows`
	var args []any
	if filter.WorkflowType != "" {
		query += " WHERE workflow_type = ?"
		args = append(args, filter.WorkflowType)
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var tableName, desc, current sql.NullString
	if err := row.Scan(&wf.ID, &wf.Name, &wf.WorkflowType, &tableName, &desc, &current, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.TableName = tableName.String
	wf.Description = desc.String
	wf.CurrentRevisionID = current.String
	return wf, nil
}

// --- Revisions ---

// AppendRevision stores rev as the next revision of its workflow. ID,
// Number and CreatedAt are assigned here.
func (s *LibSQLStore) AppendRevision(ctx context.Context, rev *schema.WorkflowRevision) error {
	steps, err := json.Marshal(rev.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	links := []byte("[]")
	if len(rev.Links) > 0 {
		if links, err = json.Marshal(rev.Links); err != nil {
			return fmt.Errorf("marshal links: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows WHERE id = ?`, rev.WorkflowID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return storeNotFound("workflow", rev.WorkflowID)
	}

	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM workflow_revisions WHERE workflow_id = ?`, rev.WorkflowID,
	).Scan(&last); err != nil {
		return err
	}

	if rev.ID == "" {
		rev.ID = uuid.New().String()
	}
	rev.Number = last + 1
	rev.CreatedAt = timeOrNow(rev.CreatedAt)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_revisions (id, workflow_id, number, start_step_no, steps, links, defaults, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rev.ID, rev.WorkflowID, rev.Number, rev.StartStepNo, string(steps), string(links),
		nullRaw(rev.Defaults), nullStr(rev.Fingerprint), rev.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return tx.Commit()
}

const revisionColumns = `id, workflow_id, number, start_step_no, steps, links, defaults, fingerprint, created_at`

func (s *LibSQLStore) GetRevision(ctx context.Context, id string) (*schema.WorkflowRevision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM workflow_revisions WHERE id = ?`, id)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("revision", id)
	}
	return rev, err
}

func (s *LibSQLStore) ListRevisions(ctx context.Context, workflowID string) ([]*schema.WorkflowRevision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+revisionColumns+` FROM workflow_revisions WHERE workflow_id = ? ORDER BY number`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) FindRevisionByFingerprint(ctx context.Context, workflowID, fingerprint string) (*schema.WorkflowRevision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM workflow_revisions
		 WHERE workflow_id = ? AND fingerprint = ? ORDER BY number DESC LIMIT 1`, workflowID, fingerprint)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("revision with fingerprint", fingerprint)
	}
	return rev, err
}

func (s *LibSQLStore) SetCurrentRevision(ctx context.Context, workflowID, revisionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET current_revision_id = ?, updated_at = ?
		 WHERE id = ? AND EXISTS (SELECT 1 FROM workflow_revisions WHERE id = ? AND workflow_id = ?)`,
		revisionID, time.Now().UTC(), workflowID, revisionID, workflowID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "revision", revisionID)
}

func scanRevision(row rowScanner) (*schema.WorkflowRevision, error) {
	rev := &schema.WorkflowRevision{}
	var steps, links string
	var defaults, fingerprint sql.NullString
	if err := row.Scan(&rev.ID, &rev.WorkflowID, &rev.Number, &rev.StartStepNo, &steps, &links, &defaults, &fingerprint, &rev.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &rev.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal revision steps: %w", err)
	}
	if err := json.Unmarshal([]byte(links), &rev.Links); err != nil {
		return nil, fmt.Errorf("unmarshal revision links: %w", err)
	}
	rev.Defaults = rawOrNil(defaults)
	rev.Fingerprint = fingerprint.String
	return rev, nil
}

// --- Run logs ---

// SaveRunLog writes the run header and its ordered step rows in one
// transaction.
func (s *LibSQLStore) SaveRunLog(ctx context.Context, l *schema.WorkflowRunLog) error {
	var errJSON any
	if l.Error != nil {
		b, err := json.Marshal(l.Error)
		if err != nil {
			return fmt.Errorf("marshal run error: %w", err)
		}
		errJSON = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_run_logs (id, workflow_id, revision_id, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.WorkflowID, l.RevisionID, string(l.Status), errJSON, timeOrNow(l.StartedAt), timeOrNow(l.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}

	for _, st := range l.Steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_run_log_steps (run_id, sequence, step_no, step_type, output, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			l.ID, st.Sequence, st.StepNo, st.StepType, nullRaw(st.Output), st.DurationMs,
		); err != nil {
			return fmt.Errorf("insert run log step %d: %w", st.Sequence, err)
		}
	}
	return tx.Commit()
}

const runLogColumns = `id, workflow_id, revision_id, status, error, started_at, finished_at`

// GetRunLog returns a run with its steps.
func (s *LibSQLStore) GetRunLog(ctx context.Context, id string) (*schema.WorkflowRunLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runLogColumns+` FROM workflow_run_logs WHERE id = ?`, id)
	l, err := scanRunLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, step_no, step_type, output, duration_ms FROM workflow_run_log_steps
		 WHERE run_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	l.Steps = []*schema.WorkflowRunLogStep{}
	for rows.Next() {
		st := &schema.WorkflowRunLogStep{}
		var output sql.NullString
		if err := rows.Scan(&st.Sequence, &st.StepNo, &st.StepType, &output, &st.DurationMs); err != nil {
			return nil, err
		}
		st.Output = rawOrNil(output)
		l.Steps = append(l.Steps, st)
	}
	return l, rows.Err()
}

// ListRunLogs returns run headers newest first; Steps is left nil.
func (s *LibSQLStore) ListRunLogs(ctx context.Context, filter RunFilter) ([]*schema.WorkflowRunLog, error) {
	query, args := filteredQuery(`SELECT `+runLogColumns+` FROM workflow_run_logs`, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowRunLog
	for rows.Next() {
		l, err := scanRunLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanRunLog(row rowScanner) (*schema.WorkflowRunLog, error) {
	l := &schema.WorkflowRunLog{}
	var status string
	var errJSON sql.NullString
	if err := row.Scan(&l.ID, &l.WorkflowID, &l.RevisionID, &status, &errJSON, &l.StartedAt, &l.FinishedAt); err != nil {
		return nil, err
	}
	l.Status = schema.RunStatus(status)
	if errJSON.Valid && errJSON.String != "" {
		l.Error = &schema.FlowError{}
		if err := json.Unmarshal([]byte(errJSON.String), l.Error); err != nil {
			return nil, fmt.Errorf("unmarshal run error: %w", err)
		}
	}
	return l, nil
}

// filteredQuery appends the RunFilter clauses shared by run logs and test
// runs, both of which carry workflow_id, status and started_at.
func filteredQuery(base string, filter RunFilter) (string, []any) {
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := base
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return query, args
}

// --- Scenarios ---

// PutScenario inserts or replaces a scenario, keyed by workflow and name.
func (s *LibSQLStore) PutScenario(ctx context.Context, sc *schema.WorkflowTestScenario) error {
	source, err := json.Marshal(sc.Source)
	if err != nil {
		return fmt.Errorf("marshal scenario source: %w", err)
	}
	assertions, err := json.Marshal(sc.Assertions)
	if err != nil {
		return fmt.Errorf("marshal scenario assertions: %w", err)
	}
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_test_scenarios (id, workflow_id, name, source, assertions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workflow_id, name) DO UPDATE SET source=excluded.source, assertions=excluded.assertions`,
		sc.ID, sc.WorkflowID, sc.Name, string(source), string(assertions), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put scenario %q: %w", sc.Name, err)
	}
	return nil
}

func (s *LibSQLStore) ListScenarios(ctx context.Context, workflowID string) ([]*schema.WorkflowTestScenario, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, source, assertions FROM workflow_test_scenarios
		 WHERE workflow_id = ? ORDER BY name`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowTestScenario
	for rows.Next() {
		sc := &schema.WorkflowTestScenario{}
		var source, assertions string
		if err := rows.Scan(&sc.ID, &sc.WorkflowID, &sc.Name, &source, &assertions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(source), &sc.Source); err != nil {
			return nil, fmt.Errorf("unmarshal scenario source: %w", err)
		}
		if err := json.Unmarshal([]byte(assertions), &sc.Assertions); err != nil {
			return nil, fmt.Errorf("unmarshal scenario assertions: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- Test runs ---

func (s *LibSQLStore) SaveTestRun(ctx context.Context, r *schema.WorkflowTestRun) error {
	scenarios, err := json.Marshal(r.Scenarios)
	if err != nil {
		return fmt.Errorf("marshal test run scenarios: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_test_runs (id, workflow_id, status,
		   scenario_count, scenario_pass_count, scenario_fail_count,
		   assertion_count, assertion_pass_count, assertion_fail_count,
		   scenarios, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkflowID, string(r.Status),
		r.ScenarioCount, r.ScenarioPassCount, r.ScenarioFailCount,
		r.AssertionCount, r.AssertionPassCount, r.AssertionFailCount,
		string(scenarios), timeOrNow(r.StartedAt), timeOrNow(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert test run: %w", err)
	}
	return nil
}

const testRunColumns = `id, workflow_id, status, scenario_count, scenario_pass_count, scenario_fail_count,
	assertion_count, assertion_pass_count, assertion_fail_count, scenarios, started_at, finished_at`

func (s *LibSQLStore) GetTestRun(ctx context.Context, id string) (*schema.WorkflowTestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testRunColumns+` FROM workflow_test_runs WHERE id = ?`, id)
	r, err := scanTestRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("test run", id)
	}
	return r, err
}

func (s *LibSQLStore) ListTestRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowTestRun, error) {
	query, args := filteredQuery(`SELECT `+testRunColumns+` FROM workflow_test_runs`, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowTestRun
	for rows.Next() {
		r, err := scanTestRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanTestRun(row rowScanner) (*schema.WorkflowTestRun, error) {
	r := &schema.WorkflowTestRun{}
	var status, scenarios string
	if err := row.Scan(&r.ID, &r.WorkflowID, &status,
		&r.ScenarioCount, &r.ScenarioPassCount, &r.ScenarioFailCount,
		&r.AssertionCount, &r.AssertionPassCount, &r.AssertionFailCount,
		&scenarios, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	r.Status = schema.TestStatus(status)
	if err := json.Unmarshal([]byte(scenarios), &r.Scenarios); err != nil {
		return nil, fmt.Errorf("unmarshal test run scenarios: %w", err)
	}
	return r, nil
}

// --- Records ---

func (s *LibSQLStore) PutRecord(ctx context.Context, table, id string, data value.Vars) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (table_name, id, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(table_name, id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		table, id, string(b), time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) GetRecord(ctx context.Context, table, id string) (value.Vars, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE table_name = ? AND id = ?`, table, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound(table+" record", id)
	}
	if err != nil {
		return nil, err
	}
	return value.ParseVars([]byte(data))
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
