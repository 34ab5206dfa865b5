package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/ecsched/internal/bus"
	"github.com/nextlevelbuilder/ecsched/internal/jobs"
	"github.com/nextlevelbuilder/ecsched/internal/store"
)

type memStore struct {
	records map[string][]byte
	fail    error
}

func newMemStore() *memStore { return &memStore{records: map[string][]byte{}} }

func (s *memStore) LoadAll(ctx context.Context) ([]store.Record, error) {
	var out []store.Record
	for id, data := range s.records {
		out = append(out, store.Record{ID: id, Data: data})
	}
	return out, nil
}
func (s *memStore) Create(ctx context.Context, id string, data []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.records[id] = data
	return nil
}
func (s *memStore) Update(ctx context.Context, id string, data []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.records[id] = data
	return nil
}
func (s *memStore) Delete(ctx context.Context, id string) error {
	if s.fail != nil {
		return s.fail
	}
	delete(s.records, id)
	return nil
}

type recordingBus struct {
	mu   sync.Mutex
	ops  []jobs.Operation
	fail error
}

func (b *recordingBus) Post(op jobs.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, op)
	return b.fail
}

func (b *recordingBus) posted() []jobs.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]jobs.Operation(nil), b.ops...)
}

func testServer(t *testing.T) (*httptest.Server, *recordingBus, *memStore) {
	t.Helper()
	st := newMemStore()
	registry, err := jobs.Load(context.Background(), st)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	b := &recordingBus{}
	srv := httptest.NewServer(NewServer(registry, b).Handler())
	t.Cleanup(srv.Close)
	return srv, b, st
}

var _ bus.Poster = (*recordingBus)(nil)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var doc map[string]any
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return doc
}

func TestCreateJob(t *testing.T) {
	srv, b, _ := testServer(t)

	res := postJSON(t, srv.URL+"/jobs", `{"taskDefinition": "alpha", "schedule": "0 0 12 * * *"}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", res.StatusCode)
	}
	doc := decodeBody(t, res)
	if doc["id"] != "alpha" {
		t.Errorf("id = %v, want alpha", doc["id"])
	}
	link, _ := doc["link"].(map[string]any)
	if link["href"] != "/jobs/alpha" {
		t.Errorf("link = %v", doc["link"])
	}

	ops := b.posted()
	if len(ops) != 1 || ops[0].Kind != jobs.OpAdd || ops[0].JobID != "alpha" {
		t.Errorf("bus ops = %v, want ADD(alpha)", ops)
	}

	listRes, err := http.Get(srv.URL + "/jobs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	listDoc := decodeBody(t, listRes)
	if list, _ := listDoc["jobs"].([]any); len(list) != 1 {
		t.Errorf("jobs = %v, want one entry", listDoc["jobs"])
	}
}

func TestCreateJobValidationErrors(t *testing.T) {
	srv, b, _ := testServer(t)
	res := postJSON(t, srv.URL+"/jobs", `{"schedule": "0 0 12 ?"}`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
	doc := decodeBody(t, res)
	fieldErrors, _ := doc["errors"].(map[string]any)
	if len(fieldErrors) == 0 {
		t.Errorf("body missing field errors: %v", doc)
	}
	if len(b.posted()) != 0 {
		t.Error("bus should not receive ops for rejected jobs")
	}
}

func TestCreateJobDuplicate(t *testing.T) {
	srv, _, _ := testServer(t)
	payload := `{"taskDefinition": "alpha", "schedule": "0 0 12"}`
	postJSON(t, srv.URL+"/jobs", payload).Body.Close()
	res := postJSON(t, srv.URL+"/jobs", payload)
	if res.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", res.StatusCode)
	}
	res.Body.Close()
}

func TestCreateJobPersistenceFailure(t *testing.T) {
	srv, _, st := testServer(t)
	st.fail = errors.New("disk full")
	res := postJSON(t, srv.URL+"/jobs", `{"taskDefinition": "alpha", "schedule": "0 0 12"}`)
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", res.StatusCode)
	}
	res.Body.Close()
}

func TestCreateJobBusFailureReportsSaved(t *testing.T) {
	srv, b, st := testServer(t)
	b.fail = errors.New("queue unreachable")
	res := postJSON(t, srv.URL+"/jobs", `{"taskDefinition": "alpha", "schedule": "0 0 12"}`)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
	doc := decodeBody(t, res)
	msg, _ := doc["message"].(string)
	if !strings.Contains(msg, "saved") {
		t.Errorf("message = %q, should explain the job was saved", msg)
	}
	if doc["item"] == nil {
		t.Error("body missing saved item")
	}
	if _, ok := st.records["alpha"]; !ok {
		t.Error("job should be persisted despite bus failure")
	}
}

func TestContentTypeRequired(t *testing.T) {
	srv, _, _ := testServer(t)
	res, err := http.Post(srv.URL+"/jobs", "text/plain", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", res.StatusCode)
	}
	res.Body.Close()
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	res, err := http.Get(srv.URL + "/jobs/ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
	res.Body.Close()
}

func TestUpdateJob(t *testing.T) {
	srv, b, _ := testServer(t)
	postJSON(t, srv.URL+"/jobs", `{"taskDefinition": "alpha", "schedule": "0 0 12"}`).Body.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/jobs/alpha", strings.NewReader(`{"taskCount": 5}`))
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	doc := decodeBody(t, res)
	if doc["taskCount"] != float64(5) {
		t.Errorf("taskCount = %v, want 5", doc["taskCount"])
	}

	ops := b.posted()
	if len(ops) != 2 || ops[1].Kind != jobs.OpModify {
		t.Errorf("bus ops = %v, want MODIFY second", ops)
	}
}

func TestDeleteJob(t *testing.T) {
	srv, b, _ := testServer(t)
	postJSON(t, srv.URL+"/jobs", `{"taskDefinition": "alpha", "schedule": "0 0 12"}`).Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/jobs/alpha", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	res.Body.Close()

	ops := b.posted()
	if len(ops) != 2 || ops[1].Kind != jobs.OpRemove || ops[1].JobID != "alpha" {
		t.Errorf("bus ops = %v, want REMOVE(alpha) second", ops)
	}

	getRes, _ := http.Get(srv.URL + "/jobs/alpha")
	if getRes.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d after delete, want 404", getRes.StatusCode)
	}
	getRes.Body.Close()
}

func TestListJobsPaginationLinks(t *testing.T) {
	srv, _, _ := testServer(t)
	for i := 0; i < 25; i++ {
		payload := fmt.Sprintf(`{"id": "job-%02d", "taskDefinition": "task", "schedule": "0 0 12"}`, i)
		postJSON(t, srv.URL+"/jobs", payload).Body.Close()
	}

	res, err := http.Get(srv.URL + "/jobs?skip=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	doc := decodeBody(t, res)
	list, _ := doc["jobs"].([]any)
	if len(list) != 10 {
		t.Errorf("jobs = %d, want 10", len(list))
	}
	prev, _ := doc["prev"].(map[string]any)
	if prev["href"] != "/jobs" {
		t.Errorf("prev href = %v, want /jobs with defaults omitted", prev["href"])
	}
	next, _ := doc["next"].(map[string]any)
	if next["href"] != "/jobs?skip=20" {
		t.Errorf("next href = %v", next["href"])
	}

	// Last page: no next.
	res, _ = http.Get(srv.URL + "/jobs?skip=20")
	doc = decodeBody(t, res)
	if doc["next"] != nil {
		t.Errorf("next = %v, want absent on last page", doc["next"])
	}
	if prev, _ := doc["prev"].(map[string]any); prev["href"] != "/jobs?skip=10" {
		t.Errorf("prev href = %v", prev["href"])
	}

	// First page: no prev.
	res, _ = http.Get(srv.URL + "/jobs")
	doc = decodeBody(t, res)
	if doc["prev"] != nil {
		t.Errorf("prev = %v, want absent on first page", doc["prev"])
	}
}

func TestListJobsEmptyRegistryNoLinks(t *testing.T) {
	srv, _, _ := testServer(t)
	res, err := http.Get(srv.URL + "/jobs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	doc := decodeBody(t, res)
	if doc["prev"] != nil || doc["next"] != nil {
		t.Errorf("links = %v/%v, want none for empty registry", doc["prev"], doc["next"])
	}
}

func TestListJobsRejectsNonInteger(t *testing.T) {
	srv, _, _ := testServer(t)
	res, err := http.Get(srv.URL + "/jobs?skip=many")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
	res.Body.Close()
}

func TestListJobsNegativeSkipClamps(t *testing.T) {
	srv, _, _ := testServer(t)
	postJSON(t, srv.URL+"/jobs", `{"taskDefinition": "alpha", "schedule": "0 0 12"}`).Body.Close()

	res, err := http.Get(srv.URL + "/jobs?skip=-5&count=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	doc := decodeBody(t, res)
	if list, _ := doc["jobs"].([]any); len(list) != 1 {
		t.Errorf("jobs = %v", doc["jobs"])
	}
}

func TestHomeListsResources(t *testing.T) {
	srv, _, _ := testServer(t)
	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("cors header = %q, want *", got)
	}
	doc := decodeBody(t, res)
	resources, _ := doc["resources"].([]any)
	if len(resources) != 2 {
		t.Errorf("resources = %v", doc["resources"])
	}
}

func TestSpecServed(t *testing.T) {
	srv, _, _ := testServer(t)
	res, err := http.Get(srv.URL + "/spec")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	doc := decodeBody(t, res)
	if doc["openapi"] == nil {
		t.Errorf("spec missing openapi field: %v", doc)
	}
}
