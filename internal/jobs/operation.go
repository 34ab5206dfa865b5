package jobs

import "fmt"

// OpKind labels a job operation flowing from the API to the scheduler.
type OpKind int

const (
	OpAdd OpKind = iota + 1
	OpModify
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "ADD"
	case OpModify:
		return "MODIFY"
	case OpRemove:
		return "REMOVE"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Operation tells the scheduler what changed for a job id.
type Operation struct {
	Kind  OpKind `json:"operation"`
	JobID string `json:"job_id"`
}

// AddOp builds an add operation.
func AddOp(jobID string) Operation {
	return Operation{Kind: OpAdd, JobID: jobID}
}

// ModifyOp builds a modify operation.
func ModifyOp(jobID string) Operation {
	return Operation{Kind: OpModify, JobID: jobID}
}

// RemoveOp builds a remove operation.
func RemoveOp(jobID string) Operation {
	return Operation{Kind: OpRemove, JobID: jobID}
}

// Pagination frames a window over the job collection. Negative inputs
// clamp to zero when rendered.
type Pagination struct {
	Skip  int
	Count int
	Total int
}

// Empty reports whether the frame yields no page link.
func (p Pagination) Empty() bool {
	return p.Total <= 0 || p.Skip+p.Count <= 0 || p.Skip >= p.Total
}

// Clamped returns the frame with negative values raised to zero.
func (p Pagination) Clamped() Pagination {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Count < 0 {
		p.Count = 0
	}
	return p
}
