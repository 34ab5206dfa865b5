// Package api exposes job CRUD over HTTP and forwards committed
// mutations to the ops bus.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/ecsched/internal/bus"
	"github.com/nextlevelbuilder/ecsched/internal/jobs"
	"github.com/nextlevelbuilder/ecsched/internal/schema"
)

const (
	defaultSkip  = 0
	defaultCount = 10
)

// Link is a HAL-style reference to a resource.
type Link struct {
	Rel   string `json:"rel"`
	Title string `json:"title"`
	Href  string `json:"href"`
}

func jobLink(id string) Link {
	return Link{Rel: "item", Title: "Job for " + id, Href: "/jobs/" + id}
}

// Server handles the HTTP surface.
type Server struct {
	registry *jobs.Registry
	poster   bus.Poster
}

// NewServer builds the API over the registry and ops bus.
func NewServer(registry *jobs.Registry, poster bus.Poster) *Server {
	return &Server{registry: registry, poster: poster}
}

// Handler returns the routed HTTP handler with the common middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /spec", handleSpec)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("POST /jobs", s.handleCreateJob)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("PUT /jobs/{id}", s.handleUpdateJob)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
	return withMiddleware(mux)
}

// withMiddleware adds CORS headers to every response and rejects
// body-carrying requests that are not JSON with 415.
func withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				writeJSON(w, http.StatusUnsupportedMediaType,
					map[string]string{"message": "request body must be application/json"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

// jobBody is the wire shape of a single job: the snapshot plus its
// self link.
type jobBody struct {
	jobs.Snapshot
	Link Link `json:"link"`
}

func (b jobBody) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(b.Snapshot)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	doc["link"] = b.Link
	return json.Marshal(doc)
}

func bodyOf(j *jobs.Job) jobBody {
	return jobBody{Snapshot: j.Data(), Link: jobLink(j.ID())}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": []map[string]Link{
			{"link": {Rel: "jobs", Title: "Scheduled jobs", Href: "/jobs"}},
			{"link": {Rel: "spec", Title: "API specification", Href: "/spec"}},
		},
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	skip, ok := intParam(w, r, "skip", defaultSkip)
	if !ok {
		return
	}
	count, ok := intParam(w, r, "count", defaultCount)
	if !ok {
		return
	}

	page, total := s.registry.Page(jobs.Pagination{Skip: skip, Count: count})
	body := map[string]any{"jobs": jobBodies(page)}
	if link, ok := pageLink("prev", jobs.Pagination{Skip: skip - count, Count: count, Total: total}); ok {
		body["prev"] = link
	}
	if link, ok := pageLink("next", jobs.Pagination{Skip: skip + count, Count: count, Total: total}); ok {
		body["next"] = link
	}
	writeJSON(w, http.StatusOK, body)
}

func jobBodies(page []*jobs.Job) []jobBody {
	bodies := make([]jobBody, len(page))
	for i, j := range page {
		bodies[i] = bodyOf(j)
	}
	return bodies
}

// pageLink renders a pagination frame. Default values are omitted from
// the URL so the canonical first page is plain /jobs.
func pageLink(rel string, p jobs.Pagination) (Link, bool) {
	if p.Empty() {
		return Link{}, false
	}
	p = p.Clamped()
	href := "/jobs"
	sep := "?"
	if p.Skip != defaultSkip {
		href += sep + "skip=" + strconv.Itoa(p.Skip)
		sep = "&"
	}
	if p.Count != defaultCount {
		href += sep + "count=" + strconv.Itoa(p.Count)
	}
	return Link{Rel: rel, Title: rel + " jobs", Href: href}, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			map[string]string{"message": fmt.Sprintf("%s must be an integer", name)})
		return 0, false
	}
	return v, true
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unreadable request body"})
		return
	}
	j, err := s.registry.Create(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	s.postOp(w, jobs.AddOp(j.ID()), bodyOf(j), http.StatusCreated)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bodyOf(j))
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, err := s.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unreadable request body"})
		return
	}
	if err := j.Update(r.Context(), raw); err != nil {
		writeError(w, err)
		return
	}
	s.postOp(w, jobs.ModifyOp(id), bodyOf(j), http.StatusOK)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.postOp(w, jobs.RemoveOp(id), map[string]string{"id": id}, http.StatusOK)
}

// postOp publishes the operation after a successful mutation. The
// change is already persisted, so a bus failure reports 500 but keeps
// the item in the body.
func (s *Server) postOp(w http.ResponseWriter, op jobs.Operation, body any, status int) {
	if err := s.poster.Post(op); err != nil {
		slog.Error("ops bus post failed", "op", op.Kind, "job", op.JobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": fmt.Sprintf("job %s saved but failed to post %s to the scheduler", op.JobID, op.Kind),
			"item":    body,
		})
		return
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		invalid  *jobs.InvalidDataError
		missing  *jobs.NotFoundError
		dup      *jobs.AlreadyExistsError
		storeErr *jobs.PersistenceError
	)
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "invalid job data",
			"errors":  map[string][]string(invalid.Errors),
		})
	case errors.As(err, &missing):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, map[string]string{"message": err.Error()})
	case errors.As(err, &storeErr):
		slog.Error("job persistence failed", "job", storeErr.JobID, "error", storeErr.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
	}
}
