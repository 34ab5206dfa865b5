package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/ecsched/internal/schema"
	"github.com/nextlevelbuilder/ecsched/internal/store"
)

type fakeStore struct {
	records map[string][]byte
	fail    error
	creates int
	updates int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string][]byte{}}
}

func (s *fakeStore) LoadAll(ctx context.Context) ([]store.Record, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	var out []store.Record
	for id, data := range s.records {
		out = append(out, store.Record{ID: id, Data: data})
	}
	return out, nil
}

func (s *fakeStore) Create(ctx context.Context, id string, data []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.creates++
	s.records[id] = data
	return nil
}

func (s *fakeStore) Update(ctx context.Context, id string, data []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.updates++
	s.records[id] = data
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	if s.fail != nil {
		return s.fail
	}
	s.deletes++
	delete(s.records, id)
	return nil
}

func mustRegistry(t *testing.T, st store.Store) *Registry {
	t.Helper()
	r, err := Load(context.Background(), st)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return r
}

func TestLoadValidatesRecords(t *testing.T) {
	st := newFakeStore()
	st.records["bad"] = []byte(`{"id": "bad"}`)
	if _, err := Load(context.Background(), st); err == nil {
		t.Fatal("expected load to fail on invalid record")
	} else {
		var inv *InvalidDataError
		if !errors.As(err, &inv) {
			t.Fatalf("error = %T, want InvalidDataError", err)
		}
	}
}

func TestCreateRegistersAndPersists(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)

	j, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.ID() != "alpha" {
		t.Errorf("id = %q, want alpha", j.ID())
	}
	if st.creates != 1 {
		t.Errorf("store creates = %d, want 1", st.creates)
	}
	if r.Total() != 1 {
		t.Errorf("total = %d, want 1", r.Total())
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	payload := []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`)

	if _, err := r.Create(context.Background(), payload); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := r.Create(context.Background(), payload)
	var dup *AlreadyExistsError
	if !errors.As(err, &dup) {
		t.Fatalf("error = %T, want AlreadyExistsError", err)
	}
	if st.creates != 1 {
		t.Errorf("store creates = %d, want 1", st.creates)
	}
}

func TestCreatePersistenceFailureLeavesRegistryClean(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	st.fail = errors.New("disk full")

	_, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`))
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want PersistenceError", err)
	}
	if r.Total() != 0 {
		t.Errorf("total = %d, want 0", r.Total())
	}
}

func TestGetMissing(t *testing.T) {
	r := mustRegistry(t, newFakeStore())
	_, err := r.Get("nope")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %T, want NotFoundError", err)
	}
}

func TestDeleteRemovesFromStoreAndTable(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	if _, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Delete(context.Background(), "alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if st.deletes != 1 {
		t.Errorf("store deletes = %d, want 1", st.deletes)
	}
	if r.Total() != 0 {
		t.Errorf("total = %d, want 0", r.Total())
	}
}

func TestAllSortedByID(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		payload := []byte(`{"id": "` + id + `", "taskDefinition": "task", "schedule": "0 0 12"}`)
		if _, err := r.Create(context.Background(), payload); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	all := r.All()
	want := []string{"alpha", "mid", "zeta"}
	for i, j := range all {
		if j.ID() != want[i] {
			t.Errorf("all[%d] = %q, want %q", i, j.ID(), want[i])
		}
	}
}

func TestPageWindows(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		payload := []byte(`{"id": "` + id + `", "taskDefinition": "task", "schedule": "0 0 12"}`)
		if _, err := r.Create(context.Background(), payload); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	page, total := r.Page(Pagination{Skip: 1, Count: 2})
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].ID() != "b" || page[1].ID() != "c" {
		t.Errorf("unexpected page: %v", ids(page))
	}

	page, _ = r.Page(Pagination{Skip: 4, Count: 10})
	if len(page) != 1 || page[0].ID() != "e" {
		t.Errorf("tail page = %v, want [e]", ids(page))
	}

	page, _ = r.Page(Pagination{Skip: 9, Count: 2})
	if len(page) != 0 {
		t.Errorf("out-of-range page = %v, want empty", ids(page))
	}

	page, _ = r.Page(Pagination{Skip: -3, Count: 2})
	if len(page) != 2 || page[0].ID() != "a" {
		t.Errorf("negative skip page = %v, want [a b]", ids(page))
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID()
	}
	return out
}

func TestUpdateMergesAndPersists(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	j, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := j.Update(context.Background(), []byte(`{"taskCount": 4}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if st.updates != 1 {
		t.Errorf("store updates = %d, want 1", st.updates)
	}
	data := j.Data()
	if data.TaskCount == nil || *data.TaskCount != 4 {
		t.Errorf("taskCount = %v, want 4", data.TaskCount)
	}
	if data.Schedule != "0 0 12" {
		t.Errorf("schedule = %q, want unchanged", data.Schedule)
	}
}

func TestUpdateInvalidPayloadNotPersisted(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	j, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = j.Update(context.Background(), []byte(`{"taskCount": 99}`))
	var inv *InvalidDataError
	if !errors.As(err, &inv) {
		t.Fatalf("error = %T, want InvalidDataError", err)
	}
	if st.updates != 0 {
		t.Errorf("store updates = %d, want 0", st.updates)
	}
}

func TestAnnotateRejectsPersistedFields(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	j, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = j.Annotate(Fields{"schedule": "1 2 3"})
	var fp *FieldsRequirePersistenceError
	if !errors.As(err, &fp) {
		t.Fatalf("error = %T, want FieldsRequirePersistenceError", err)
	}

	err = j.Annotate(Fields{"id": "other"})
	var im *ImmutableFieldsError
	if !errors.As(err, &im) {
		t.Fatalf("error = %T, want ImmutableFieldsError", err)
	}
}

func TestAnnotateSetsRuntimeFields(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	j, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ts, err := schema.ParseTimestamp("2017-06-01T12:00:00")
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}
	tasks := []schema.TaskInfo{{TaskID: "t-1", HostID: "h-1"}}
	if err := j.Annotate(Fields{FieldLastRun: ts, FieldLastRunTasks: tasks}); err != nil {
		t.Fatalf("annotate: %v", err)
	}

	data := j.Data()
	if data.LastRun == nil || !data.LastRun.Time.Equal(ts) {
		t.Errorf("lastRun = %v, want %v", data.LastRun, ts)
	}
	if len(data.LastRunTasks) != 1 || data.LastRunTasks[0].TaskID != "t-1" {
		t.Errorf("lastRunTasks = %v", data.LastRunTasks)
	}
	if st.updates != 0 {
		t.Errorf("annotations must not be persisted, updates = %d", st.updates)
	}
}

func TestSnapshotMarshalIncludesAnnotations(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	j, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ts, err := schema.ParseTimestamp("2017-06-01T12:00:00")
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}
	if err := j.Annotate(Fields{FieldEstimatedNextRun: ts}); err != nil {
		t.Fatalf("annotate: %v", err)
	}

	raw, err := json.Marshal(j.Data())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["id"] != "alpha" {
		t.Errorf("id = %v, want alpha", doc["id"])
	}
	if doc["estimatedNextRun"] != "2017-06-01T12:00:00+00:00" {
		t.Errorf("estimatedNextRun = %v", doc["estimatedNextRun"])
	}
}

func TestSnapshotIsolation(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	j, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12", "taskCount": 2}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := j.Data()
	*snap.TaskCount = 9
	if got := j.Data(); *got.TaskCount != 2 {
		t.Errorf("taskCount = %d, want 2 after mutating snapshot", *got.TaskCount)
	}
}

func TestLoadRebuildsRegistry(t *testing.T) {
	st := newFakeStore()
	r := mustRegistry(t, st)
	if _, err := r.Create(context.Background(), []byte(`{"taskDefinition": "alpha", "schedule": "0 0 12", "suspended": true}`)); err != nil {
		t.Fatalf("create: %v", err)
	}

	reloaded := mustRegistry(t, st)
	j, err := reloaded.Get("alpha")
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if !j.Suspended() {
		t.Error("suspended flag lost across reload")
	}
}
