package jobs

import (
	"fmt"

	"github.com/nextlevelbuilder/ecsched/internal/schema"
)

// NotFoundError reports a lookup miss in the registry.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.JobID)
}

// AlreadyExistsError reports a create with a duplicate id.
type AlreadyExistsError struct {
	JobID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("job %s already exists", e.JobID)
}

// InvalidDataError carries field-level validation errors.
type InvalidDataError struct {
	JobID  string
	Errors schema.FieldErrors
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid job data for %q: %v", e.JobID, map[string][]string(e.Errors))
}

// PersistenceError wraps a store failure; the registry never swallows
// these.
type PersistenceError struct {
	JobID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("job %s persistence failed: %v", e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// FieldsRequirePersistenceError reports an annotate call that named
// fields belonging to the persistence schema.
type FieldsRequirePersistenceError struct {
	JobID  string
	Fields []string
}

func (e *FieldsRequirePersistenceError) Error() string {
	return fmt.Sprintf("job %s fields require persistence: %v", e.JobID, e.Fields)
}

// ImmutableFieldsError reports an attempt to change a reserved field.
type ImmutableFieldsError struct {
	JobID  string
	Fields []string
}

func (e *ImmutableFieldsError) Error() string {
	return fmt.Sprintf("job %s fields are immutable: %v", e.JobID, e.Fields)
}
