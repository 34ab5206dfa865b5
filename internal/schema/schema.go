// Package schema validates and serializes job definitions.
//
// Two validation modes mirror the two API writes: the create schema
// requires taskDefinition and schedule and fills defaults, the update
// schema has no required fields. Both derive parsedSchedule from the
// schedule expression; clients cannot supply it directly.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/ecsched/internal/cron"
)

const (
	minTasks = 1
	maxTasks = 50

	// TriggerNoop and TriggerSqs are the built-in trigger type names.
	TriggerNoop = "noop"
	TriggerSqs  = "sqs"
)

// Task definition names cannot carry a revision suffix, path separator
// or extension-style dot.
var invalidNameChars = regexp.MustCompile(`[:/.]`)

// Trigger names a task-count strategy for a job.
type Trigger struct {
	Type            string `json:"type"`
	QueueName       string `json:"queueName,omitempty"`
	MessagesPerTask *int   `json:"messagesPerTask,omitempty"`
}

// Override is a per-container environment overlay applied at task launch.
type Override struct {
	ContainerName string            `json:"containerName"`
	Environment   map[string]string `json:"environment,omitempty"`
}

// TaskInfo identifies a task started by the scheduler.
type TaskInfo struct {
	TaskID string `json:"taskId"`
	HostID string `json:"hostId"`
}

// JobFields holds the persisted fields of a job. Optional scalars are
// pointers so a partial update can distinguish unset from zero.
type JobFields struct {
	ID             string       `json:"id,omitempty"`
	TaskDefinition string       `json:"taskDefinition,omitempty"`
	Schedule       string       `json:"schedule,omitempty"`
	ParsedSchedule *cron.Fields `json:"parsedSchedule,omitempty"`
	TaskCount      *int         `json:"taskCount,omitempty"`
	MaxCount       *int         `json:"maxCount,omitempty"`
	ScheduleStart  *Timestamp   `json:"scheduleStart,omitempty"`
	ScheduleEnd    *Timestamp   `json:"scheduleEnd,omitempty"`
	Timezone       string       `json:"timezone,omitempty"`
	Suspended      *bool        `json:"suspended,omitempty"`
	Trigger        *Trigger     `json:"trigger,omitempty"`
	Overrides      []Override   `json:"overrides,omitempty"`
}

// FieldErrors maps a field name to its validation errors.
type FieldErrors map[string][]string

func (e FieldErrors) add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Empty reports whether no field has errors.
func (e FieldErrors) Empty() bool {
	return len(e) == 0
}

func (e FieldErrors) Error() string {
	return fmt.Sprintf("validation failed: %v", map[string][]string(e))
}

// ParseCreate validates a job creation payload. On success the returned
// fields carry defaults (id from taskDefinition, taskCount 1) and the
// derived parsedSchedule.
func ParseCreate(raw []byte) (JobFields, FieldErrors) {
	return parse(raw, true)
}

// ParseUpdate validates a job update payload. No field is required and
// the id field, if present, is discarded.
func ParseUpdate(raw []byte) (JobFields, FieldErrors) {
	f, errs := parse(raw, false)
	f.ID = ""
	return f, errs
}

func parse(raw []byte, create bool) (JobFields, FieldErrors) {
	errs := FieldErrors{}
	var f JobFields
	if err := json.Unmarshal(raw, &f); err != nil {
		errs.add("_schema", err.Error())
		return f, errs
	}

	if f.Schedule != "" {
		rewritten, fields, err := cron.ParseSchedule(f.Schedule)
		if err != nil {
			errs.add("schedule", err.Error())
		} else {
			f.Schedule = rewritten
			f.ParsedSchedule = &fields
		}
	} else if !create {
		// Leave any stored parsedSchedule alone on schedule-less updates.
		f.ParsedSchedule = nil
	}

	if create {
		if f.TaskDefinition == "" {
			errs.add("taskDefinition", "missing required field")
		}
		if f.ID == "" {
			f.ID = f.TaskDefinition
		}
		if f.Schedule == "" {
			errs.add("schedule", "missing required field")
		}
		if f.TaskCount == nil {
			n := minTasks
			f.TaskCount = &n
		}
	}

	validate(f, errs)
	return f, errs
}

func validate(f JobFields, errs FieldErrors) {
	if f.ID != "" && invalidNameChars.MatchString(f.ID) {
		errs.add("id", "task definition names cannot contain revision numbers, slashes or dots")
	}
	if f.TaskDefinition != "" && invalidNameChars.MatchString(f.TaskDefinition) {
		errs.add("taskDefinition", "task definition names cannot contain revision numbers, slashes or dots")
	}
	if f.ParsedSchedule != nil {
		if _, err := cron.New(*f.ParsedSchedule); err != nil {
			errs.add("parsedSchedule", fmt.Sprintf("invalid schedule syntax: %v", err))
		}
	}
	if f.TaskCount != nil && (*f.TaskCount < minTasks || *f.TaskCount > maxTasks) {
		errs.add("taskCount", fmt.Sprintf("must be between %d and %d", minTasks, maxTasks))
	}
	if f.MaxCount != nil && (*f.MaxCount < minTasks || *f.MaxCount > maxTasks) {
		errs.add("maxCount", fmt.Sprintf("must be between %d and %d", minTasks, maxTasks))
	}
	if f.Timezone != "" {
		if _, err := time.LoadLocation(f.Timezone); err != nil {
			errs.add("timezone", fmt.Sprintf("unknown timezone %q", f.Timezone))
		}
	}
	if f.Trigger != nil {
		if f.Trigger.Type == "" {
			errs.add("trigger", "missing required field type")
		}
		if f.Trigger.Type == TriggerSqs && f.Trigger.QueueName == "" {
			errs.add("trigger", `sqs trigger type requires "queueName" field`)
		}
		if f.Trigger.MessagesPerTask != nil && *f.Trigger.MessagesPerTask < 1 {
			errs.add("trigger", "messagesPerTask must be at least 1")
		}
	}
	for _, o := range f.Overrides {
		if o.ContainerName == "" {
			errs.add("overrides", "missing required field containerName")
		}
	}
}

// Merge applies the set fields of update onto f and returns the result.
// The id is never changed.
func (f JobFields) Merge(update JobFields) JobFields {
	if update.TaskDefinition != "" {
		f.TaskDefinition = update.TaskDefinition
	}
	if update.Schedule != "" {
		f.Schedule = update.Schedule
	}
	if update.ParsedSchedule != nil {
		f.ParsedSchedule = update.ParsedSchedule
	}
	if update.TaskCount != nil {
		f.TaskCount = update.TaskCount
	}
	if update.MaxCount != nil {
		f.MaxCount = update.MaxCount
	}
	if update.ScheduleStart != nil {
		f.ScheduleStart = update.ScheduleStart
	}
	if update.ScheduleEnd != nil {
		f.ScheduleEnd = update.ScheduleEnd
	}
	if update.Timezone != "" {
		f.Timezone = update.Timezone
	}
	if update.Suspended != nil {
		f.Suspended = update.Suspended
	}
	if update.Trigger != nil {
		f.Trigger = update.Trigger
	}
	if update.Overrides != nil {
		f.Overrides = update.Overrides
	}
	return f
}

// Clone deep-copies the fields so callers cannot mutate shared state.
func (f JobFields) Clone() JobFields {
	c := f
	if f.TaskCount != nil {
		n := *f.TaskCount
		c.TaskCount = &n
	}
	if f.MaxCount != nil {
		n := *f.MaxCount
		c.MaxCount = &n
	}
	if f.Suspended != nil {
		b := *f.Suspended
		c.Suspended = &b
	}
	if f.ParsedSchedule != nil {
		ps := *f.ParsedSchedule
		c.ParsedSchedule = &ps
	}
	if f.ScheduleStart != nil {
		t := *f.ScheduleStart
		c.ScheduleStart = &t
	}
	if f.ScheduleEnd != nil {
		t := *f.ScheduleEnd
		c.ScheduleEnd = &t
	}
	if f.Trigger != nil {
		t := *f.Trigger
		if f.Trigger.MessagesPerTask != nil {
			n := *f.Trigger.MessagesPerTask
			t.MessagesPerTask = &n
		}
		c.Trigger = &t
	}
	if f.Overrides != nil {
		c.Overrides = make([]Override, len(f.Overrides))
		for i, o := range f.Overrides {
			env := make(map[string]string, len(o.Environment))
			for k, v := range o.Environment {
				env[k] = v
			}
			c.Overrides[i] = Override{ContainerName: o.ContainerName, Environment: env}
		}
	}
	return c
}

// Dump serializes the set fields as the persisted JSON record.
func (f JobFields) Dump() ([]byte, error) {
	return json.Marshal(f)
}

// IsPersistedField reports whether the named field belongs to the
// persistence schema. Annotations must not use these names.
func IsPersistedField(name string) bool {
	return persistedFields[name]
}

var persistedFields = map[string]bool{
	"taskDefinition": true,
	"schedule":       true,
	"parsedSchedule": true,
	"taskCount":      true,
	"maxCount":       true,
	"scheduleStart":  true,
	"scheduleEnd":    true,
	"timezone":       true,
	"suspended":      true,
	"trigger":        true,
	"overrides":      true,
}
