package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ecsched/internal/schema"
	"github.com/nextlevelbuilder/ecsched/internal/store"
)

// Annotation field names. These never pass through the persistence
// schema; they live only in memory.
const (
	FieldLastRun          = "lastRun"
	FieldLastRunTasks     = "lastRunTasks"
	FieldEstimatedNextRun = "estimatedNextRun"

	fieldID = "id"
)

// Fields is a named set of annotation values.
type Fields map[string]any

// Annotations are the transient runtime fields written by the schedule
// event handler. They are never persisted.
type Annotations struct {
	LastRun          *schema.Timestamp `json:"lastRun,omitempty"`
	LastRunTasks     []schema.TaskInfo `json:"lastRunTasks,omitempty"`
	EstimatedNextRun *schema.Timestamp `json:"estimatedNextRun,omitempty"`
}

// Snapshot is a point-in-time copy of a job's data: the persisted
// fields plus runtime annotations. Mutating a snapshot never affects
// the job.
type Snapshot struct {
	schema.JobFields
	Annotations
	extra map[string]any
}

// MarshalJSON flattens persisted fields, annotations and any extra
// runtime fields into one document.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	doc := map[string]any{}
	raw, err := json.Marshal(s.JobFields)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	raw, err = json.Marshal(s.Annotations)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// Job is a registered scheduled task definition. All mutations
// serialize on the owning registry's lock.
type Job struct {
	mu    *sync.Mutex
	store store.Store

	fields schema.JobFields
	ann    Annotations
	extra  map[string]any
}

// ID returns the job id. Ids never change after creation.
func (j *Job) ID() string {
	return j.fields.ID
}

// Suspended reports whether the job should be scheduled paused.
func (j *Job) Suspended() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fields.Suspended != nil && *j.fields.Suspended
}

// Data returns a read-only snapshot of the job's current data.
func (j *Job) Data() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	s := Snapshot{
		JobFields:   j.fields.Clone(),
		Annotations: j.ann,
	}
	if j.ann.LastRunTasks != nil {
		s.LastRunTasks = make([]schema.TaskInfo, len(j.ann.LastRunTasks))
		copy(s.LastRunTasks, j.ann.LastRunTasks)
	}
	if len(j.extra) > 0 {
		s.extra = make(map[string]any, len(j.extra))
		for k, v := range j.extra {
			s.extra[k] = v
		}
	}
	return s
}

// Update validates the raw update payload, persists the validated
// fields and merges them into the in-memory data. The id field, if
// present in the payload, is silently ignored.
func (j *Job) Update(ctx context.Context, raw []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	fields, errs := schema.ParseUpdate(raw)
	if !errs.Empty() {
		return &InvalidDataError{JobID: j.fields.ID, Errors: errs}
	}
	dump, err := fields.Dump()
	if err != nil {
		return &InvalidDataError{JobID: j.fields.ID, Errors: schema.FieldErrors{"_schema": {err.Error()}}}
	}
	if err := j.store.Update(ctx, j.fields.ID, dump); err != nil {
		return &PersistenceError{JobID: j.fields.ID, Err: err}
	}
	j.fields = j.fields.Merge(fields)
	return nil
}

// Annotate merges transient runtime fields into the in-memory data
// only. Fields belonging to the persistence schema are rejected with
// FieldsRequirePersistenceError; the reserved id field with
// ImmutableFieldsError.
func (j *Job) Annotate(fields Fields) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var persisted, reserved []string
	for name := range fields {
		if schema.IsPersistedField(name) {
			persisted = append(persisted, name)
		}
		if name == fieldID {
			reserved = append(reserved, name)
		}
	}
	if len(persisted) > 0 {
		return &FieldsRequirePersistenceError{JobID: j.fields.ID, Fields: persisted}
	}
	if len(reserved) > 0 {
		return &ImmutableFieldsError{JobID: j.fields.ID, Fields: reserved}
	}

	for name, value := range fields {
		switch name {
		case FieldLastRun:
			j.ann.LastRun = toTimestamp(value)
		case FieldEstimatedNextRun:
			j.ann.EstimatedNextRun = toTimestamp(value)
		case FieldLastRunTasks:
			if tasks, ok := value.([]schema.TaskInfo); ok {
				j.ann.LastRunTasks = tasks
			}
		default:
			if j.extra == nil {
				j.extra = map[string]any{}
			}
			j.extra[name] = value
		}
	}
	return nil
}

func toTimestamp(value any) *schema.Timestamp {
	switch v := value.(type) {
	case *schema.Timestamp:
		return v
	case schema.Timestamp:
		return &v
	case time.Time:
		return schema.NewTimestamp(v)
	default:
		return nil
	}
}
