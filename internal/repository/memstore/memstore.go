// Package memstore is an in-memory implementation of store.Store.
//
// Transactions work on a copy of the state that replaces the live state only
// when the transaction function succeeds, so a failed operation leaves no
// trace. Writers are serialised by a single mutex.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"stageflow/internal/model"
	"stageflow/internal/store"
)

type state struct {
	projects  map[string]model.Project
	items     map[string]model.Item
	stages    map[string]model.Stage
	deps      map[string]model.Dependency
	templates map[string]model.ProcessTemplate
	history   []model.DeadlineHistoryEntry
}

func newState() *state {
	return &state{
		projects:  map[string]model.Project{},
		items:     map[string]model.Item{},
		stages:    map[string]model.Stage{},
		deps:      map[string]model.Dependency{},
		templates: map[string]model.ProcessTemplate{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.stages {
		c.stages[k] = cloneStage(v)
	}
	for k, v := range s.deps {
		c.deps[k] = v
	}
	for k, v := range s.templates {
		c.templates[k] = cloneTemplate(v)
	}
	c.history = append([]model.DeadlineHistoryEntry(nil), s.history...)
	return c
}

// Store keeps all records in maps guarded by mu.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time

	faultMu sync.Mutex
	faults  map[string]error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		state:  newState(),
		now:    func() time.Time { return time.Now().UTC() },
		faults: map[string]error{},
	}
}

// FailOn makes the next transactional call of op (e.g. "UpdateStage") fail
// with err. Used to exercise rollback paths.
func (s *Store) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{reader: reader{st: work}, store: s}); err != nil {
		return err
	}
	if err := s.fault("Commit"); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) view() reader {
	return reader{st: s.state}
}

func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetProject(ctx, id)
}

func (s *Store) GetItem(ctx context.Context, id string) (*model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetItem(ctx, id)
}

func (s *Store) ListProjectItems(ctx context.Context, projectID string) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListProjectItems(ctx, projectID)
}

func (s *Store) GetStage(ctx context.Context, id string) (*model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetStage(ctx, id)
}

func (s *Store) ListItemStages(ctx context.Context, itemID string) ([]model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListItemStages(ctx, itemID)
}

func (s *Store) ListProjectStages(ctx context.Context, projectID string) ([]model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListProjectStages(ctx, projectID)
}

func (s *Store) GetDependency(ctx context.Context, id string) (*model.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetDependency(ctx, id)
}

func (s *Store) ListItemDependencies(ctx context.Context, itemID string) ([]model.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListItemDependencies(ctx, itemID)
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*model.ProcessTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetTemplate(ctx, id)
}

func (s *Store) ListTemplates(ctx context.Context) ([]model.ProcessTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListTemplates(ctx)
}

func (s *Store) ListDeadlineHistory(ctx context.Context, stageID string) ([]model.DeadlineHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListDeadlineHistory(ctx, stageID)
}

// reader implements store.Reader over one state snapshot. Callers hold the lock.
type reader struct {
	st *state
}

func (r reader) GetProject(_ context.Context, id string) (*model.Project, error) {
	p, ok := r.st.projects[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "project", ID: id}
	}
	return &p, nil
}

func (r reader) GetItem(_ context.Context, id string) (*model.Item, error) {
	it, ok := r.st.items[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "item", ID: id}
	}
	return &it, nil
}

func (r reader) ListProjectItems(_ context.Context, projectID string) ([]model.Item, error) {
	out := make([]model.Item, 0)
	for _, it := range r.st.items {
		if it.ProjectID == projectID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) GetStage(_ context.Context, id string) (*model.Stage, error) {
	st, ok := r.st.stages[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "stage", ID: id}
	}
	c := cloneStage(st)
	return &c, nil
}

func (r reader) ListItemStages(_ context.Context, itemID string) ([]model.Stage, error) {
	return r.stagesWhere(func(s model.Stage) bool { return s.ItemID == itemID }), nil
}

func (r reader) ListProjectStages(_ context.Context, projectID string) ([]model.Stage, error) {
	return r.stagesWhere(func(s model.Stage) bool { return s.ProjectID == projectID }), nil
}

func (r reader) stagesWhere(keep func(model.Stage) bool) []model.Stage {
	out := make([]model.Stage, 0)
	for _, st := range r.st.stages {
		if keep(st) {
			out = append(out, cloneStage(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r reader) GetDependency(_ context.Context, id string) (*model.Dependency, error) {
	d, ok := r.st.deps[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "dependency", ID: id}
	}
	return &d, nil
}

func (r reader) ListItemDependencies(_ context.Context, itemID string) ([]model.Dependency, error) {
	out := make([]model.Dependency, 0)
	for _, d := range r.st.deps {
		if st, ok := r.st.stages[d.StageID]; ok && st.ItemID == itemID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) GetTemplate(_ context.Context, id string) (*model.ProcessTemplate, error) {
	t, ok := r.st.templates[id]
	if !ok {
		return nil, &model.TemplateNotFoundError{TemplateID: id}
	}
	c := cloneTemplate(t)
	return &c, nil
}

func (r reader) ListTemplates(_ context.Context) ([]model.ProcessTemplate, error) {
	out := make([]model.ProcessTemplate, 0, len(r.st.templates))
	for _, t := range r.st.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r reader) ListDeadlineHistory(_ context.Context, stageID string) ([]model.DeadlineHistoryEntry, error) {
	out := make([]model.DeadlineHistoryEntry, 0)
	for i := len(r.st.history) - 1; i >= 0; i-- {
		if r.st.history[i].StageID == stageID {
			out = append(out, r.st.history[i])
		}
	}
	return out, nil
}

type tx struct {
	reader
	store *Store
}

func (t *tx) LockItem(_ context.Context, _ string) error {
	// the store mutex is already held for the whole transaction
	return t.store.fault("LockItem")
}

func (t *tx) InsertProject(_ context.Context, p *model.Project) error {
	if err := t.store.fault("InsertProject"); err != nil {
		return err
	}
	now := t.store.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.projects[p.ID] = *p
	return nil
}

func (t *tx) InsertItem(_ context.Context, it *model.Item) error {
	if err := t.store.fault("InsertItem"); err != nil {
		return err
	}
	if _, ok := t.st.projects[it.ProjectID]; !ok {
		return &model.NotFoundError{Entity: "project", ID: it.ProjectID}
	}
	now := t.store.now()
	it.CreatedAt, it.UpdatedAt = now, now
	t.st.items[it.ID] = *it
	return nil
}

func (t *tx) InsertStage(_ context.Context, s *model.Stage) error {
	if err := t.store.fault("InsertStage"); err != nil {
		return err
	}
	now := t.store.now()
	s.CreatedAt, s.UpdatedAt = now, now
	t.st.stages[s.ID] = stored(*s)
	return nil
}

func (t *tx) InsertSystemStage(ctx context.Context, s *model.Stage) (bool, error) {
	for _, existing := range t.st.stages {
		if existing.ItemID == s.ItemID && existing.StageTypeID == s.StageTypeID && existing.IsSystem {
			return false, nil
		}
	}
	if err := t.InsertStage(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}

func (t *tx) UpdateStage(_ context.Context, s *model.Stage) error {
	if err := t.store.fault("UpdateStage"); err != nil {
		return err
	}
	if _, ok := t.st.stages[s.ID]; !ok {
		return &model.NotFoundError{Entity: "stage", ID: s.ID}
	}
	s.UpdatedAt = t.store.now()
	t.st.stages[s.ID] = stored(*s)
	return nil
}

func (t *tx) UpdateStageOrders(_ context.Context, itemID string, orderedIDs []string) error {
	if err := t.store.fault("UpdateStageOrders"); err != nil {
		return err
	}
	now := t.store.now()
	for i, id := range orderedIDs {
		st, ok := t.st.stages[id]
		if !ok || st.ItemID != itemID {
			return &model.NotFoundError{Entity: "stage", ID: id}
		}
		st.Order = i
		st.UpdatedAt = now
		t.st.stages[id] = st
	}
	return nil
}

func (t *tx) DeleteStage(_ context.Context, id string) error {
	if err := t.store.fault("DeleteStage"); err != nil {
		return err
	}
	if _, ok := t.st.stages[id]; !ok {
		return &model.NotFoundError{Entity: "stage", ID: id}
	}
	delete(t.st.stages, id)
	for depID, d := range t.st.deps {
		if d.StageID == id || d.DependsOnStageID == id {
			delete(t.st.deps, depID)
		}
	}
	return nil
}

func (t *tx) InsertDependency(_ context.Context, d *model.Dependency) error {
	if err := t.store.fault("InsertDependency"); err != nil {
		return err
	}
	for _, existing := range t.st.deps {
		if existing.StageID == d.StageID && existing.DependsOnStageID == d.DependsOnStageID {
			return &model.ValidationError{Field: "depends_on_stage_id", Message: "dependency already exists"}
		}
	}
	d.CreatedAt = t.store.now()
	t.st.deps[d.ID] = *d
	return nil
}

func (t *tx) DeleteDependency(_ context.Context, id string) error {
	if err := t.store.fault("DeleteDependency"); err != nil {
		return err
	}
	if _, ok := t.st.deps[id]; !ok {
		return &model.NotFoundError{Entity: "dependency", ID: id}
	}
	delete(t.st.deps, id)
	return nil
}

func (t *tx) InsertTemplate(_ context.Context, tpl *model.ProcessTemplate) error {
	if err := t.store.fault("InsertTemplate"); err != nil {
		return err
	}
	tpl.CreatedAt = t.store.now()
	t.st.templates[tpl.ID] = cloneTemplate(*tpl)
	return nil
}

func (t *tx) InsertDeadlineHistory(_ context.Context, e *model.DeadlineHistoryEntry) error {
	if err := t.store.fault("InsertDeadlineHistory"); err != nil {
		return err
	}
	e.CreatedAt = t.store.now()
	t.st.history = append(t.st.history, *e)
	return nil
}

// stored mirrors what a TIMESTAMPTZ column keeps: microsecond precision.
func stored(s model.Stage) model.Stage {
	c := cloneStage(s)
	if c.PlannedStartDate != nil {
		v := c.PlannedStartDate.Truncate(time.Microsecond)
		c.PlannedStartDate = &v
	}
	if c.PlannedEndDate != nil {
		v := c.PlannedEndDate.Truncate(time.Microsecond)
		c.PlannedEndDate = &v
	}
	return c
}

func cloneStage(s model.Stage) model.Stage {
	if s.PlannedStartDate != nil {
		v := *s.PlannedStartDate
		s.PlannedStartDate = &v
	}
	if s.PlannedEndDate != nil {
		v := *s.PlannedEndDate
		s.PlannedEndDate = &v
	}
	if s.AssigneeID != nil {
		v := *s.AssigneeID
		s.AssigneeID = &v
	}
	if s.Payload != nil {
		s.Payload = append(json.RawMessage(nil), s.Payload...)
	}
	return s
}

func cloneTemplate(t model.ProcessTemplate) model.ProcessTemplate {
	t.Stages = append([]model.TemplateStage(nil), t.Stages...)
	t.Dependencies = append([]model.TemplateDependency(nil), t.Dependencies...)
	return t
}
