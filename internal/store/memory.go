package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// MemoryStore is an in-process Store. Used by tests and by one-shot CLI
// invocations that do not need a database file. Returned values are copies;
// mutating them does not change what is stored.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*schema.Workflow
	revisions  map[string]*schema.WorkflowRevision
	runs       map[string]*schema.WorkflowRunLog
	scenarios  map[string]map[string]*schema.WorkflowTestScenario // workflow -> name -> scenario
	testRuns   map[string]*schema.WorkflowTestRun
	records    map[string]map[string]value.Vars // table -> id -> record
	runOrder   []string
	testsOrder []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*schema.Workflow),
		revisions: make(map[string]*schema.WorkflowRevision),
		runs:      make(map[string]*schema.WorkflowRunLog),
		scenarios: make(map[string]map[string]*schema.WorkflowTestScenario),
		testRuns:  make(map[string]*schema.WorkflowTestRun),
		records:   make(map[string]map[string]value.Vars),
	}
}

func (m *MemoryStore) Close() error { return nil }

// --- Workflows ---

func (m *MemoryStore) PutWorkflow(_ context.Context, wf *schema.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *wf
	cp.UpdatedAt = time.Now().UTC()
	if prev, ok := m.workflows[wf.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
		if cp.CurrentRevisionID == "" {
			cp.CurrentRevisionID = prev.CurrentRevisionID
		}
	} else {
		cp.CreatedAt = timeOrNow(cp.CreatedAt)
	}
	m.workflows[wf.ID] = &cp
	wf.CreatedAt, wf.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.Workflow
	for _, wf := range m.workflows {
		if filter.WorkflowType != "" && wf.WorkflowType != filter.WorkflowType {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[id]; !ok {
		return storeNotFound("workflow", id)
	}
	delete(m.workflows, id)
	delete(m.scenarios, id)
	for rid, rev := range m.revisions {
		if rev.WorkflowID == id {
			delete(m.revisions, rid)
		}
	}
	return nil
}

// --- Revisions ---

func (m *MemoryStore) AppendRevision(_ context.Context, rev *schema.WorkflowRevision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[rev.WorkflowID]; !ok {
		return storeNotFound("workflow", rev.WorkflowID)
	}
	last := 0
	for _, r := range m.revisions {
		if r.WorkflowID == rev.WorkflowID && r.Number > last {
			last = r.Number
		}
	}
	if rev.ID == "" {
		rev.ID = uuid.New().String()
	}
	if _, exists := m.revisions[rev.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "revision %q already exists", rev.ID)
	}
	rev.Number = last + 1
	rev.CreatedAt = timeOrNow(rev.CreatedAt)
	m.revisions[rev.ID] = copyRevision(rev)
	return nil
}

func (m *MemoryStore) GetRevision(_ context.Context, id string) (*schema.WorkflowRevision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rev, ok := m.revisions[id]
	if !ok {
		return nil, storeNotFound("revision", id)
	}
	return copyRevision(rev), nil
}

func (m *MemoryStore) ListRevisions(_ context.Context, workflowID string) ([]*schema.WorkflowRevision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.WorkflowRevision
	for _, rev := range m.revisions {
		if rev.WorkflowID == workflowID {
			out = append(out, copyRevision(rev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryStore) FindRevisionByFingerprint(_ context.Context, workflowID, fingerprint string) (*schema.WorkflowRevision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *schema.WorkflowRevision
	for _, rev := range m.revisions {
		if rev.WorkflowID == workflowID && rev.Fingerprint == fingerprint {
			if found == nil || rev.Number > found.Number {
				found = rev
			}
		}
	}
	if found == nil {
		return nil, storeNotFound("revision with fingerprint", fingerprint)
	}
	return copyRevision(found), nil
}

func (m *MemoryStore) SetCurrentRevision(_ context.Context, workflowID, revisionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[workflowID]
	rev, revOK := m.revisions[revisionID]
	if !ok || !revOK || rev.WorkflowID != workflowID {
		return storeNotFound("revision", revisionID)
	}
	wf.CurrentRevisionID = revisionID
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func copyRevision(rev *schema.WorkflowRevision) *schema.WorkflowRevision {
	cp := *rev
	cp.Steps = append([]schema.WorkflowStep(nil), rev.Steps...)
	cp.Links = append([]schema.WorkflowLink(nil), rev.Links...)
	return &cp
}

// --- Run logs ---

func (m *MemoryStore) SaveRunLog(_ context.Context, l *schema.WorkflowRunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[l.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already saved", l.ID)
	}
	cp := *l
	cp.Steps = append([]*schema.WorkflowRunLogStep(nil), l.Steps...)
	m.runs[l.ID] = &cp
	m.runOrder = append(m.runOrder, l.ID)
	return nil
}

func (m *MemoryStore) GetRunLog(_ context.Context, id string) (*schema.WorkflowRunLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *l
	cp.Steps = append([]*schema.WorkflowRunLogStep{}, l.Steps...)
	return &cp, nil
}

func (m *MemoryStore) ListRunLogs(_ context.Context, filter RunFilter) ([]*schema.WorkflowRunLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.WorkflowRunLog
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		l := m.runs[m.runOrder[i]]
		if !filter.matchesRun(l) {
			continue
		}
		cp := *l
		cp.Steps = nil
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Scenarios ---

func (m *MemoryStore) PutScenario(_ context.Context, sc *schema.WorkflowTestScenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName, ok := m.scenarios[sc.WorkflowID]
	if !ok {
		byName = make(map[string]*schema.WorkflowTestScenario)
		m.scenarios[sc.WorkflowID] = byName
	}
	if prev, ok := byName[sc.Name]; ok {
		sc.ID = prev.ID
	} else if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	cp := *sc
	cp.Assertions = append([]schema.WorkflowTestAssertion(nil), sc.Assertions...)
	byName[sc.Name] = &cp
	return nil
}

func (m *MemoryStore) ListScenarios(_ context.Context, workflowID string) ([]*schema.WorkflowTestScenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.WorkflowTestScenario
	for _, sc := range m.scenarios[workflowID] {
		cp := *sc
		cp.Assertions = append([]schema.WorkflowTestAssertion(nil), sc.Assertions...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Test runs ---

func (m *MemoryStore) SaveTestRun(_ context.Context, r *schema.WorkflowTestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.testRuns[r.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "test run %q already saved", r.ID)
	}
	cp := *r
	cp.Scenarios = append([]schema.ScenarioResult(nil), r.Scenarios...)
	m.testRuns[r.ID] = &cp
	m.testsOrder = append(m.testsOrder, r.ID)
	return nil
}

func (m *MemoryStore) GetTestRun(_ context.Context, id string) (*schema.WorkflowTestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.testRuns[id]
	if !ok {
		return nil, storeNotFound("test run", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListTestRuns(_ context.Context, filter RunFilter) ([]*schema.WorkflowTestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.WorkflowTestRun
	for i := len(m.testsOrder) - 1; i >= 0; i-- {
		r := m.testRuns[m.testsOrder[i]]
		if !filter.matchesTest(r) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Records ---

func (m *MemoryStore) PutRecord(_ context.Context, table, id string, data value.Vars) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.records[table]
	if !ok {
		byID = make(map[string]value.Vars)
		m.records[table] = byID
	}
	byID[id] = data.Clone()
	return nil
}

func (m *MemoryStore) GetRecord(_ context.Context, table, id string) (value.Vars, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[table][id]
	if !ok {
		return nil, storeNotFound(table+" record", id)
	}
	return rec.Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
