// Package exec launches cluster tasks for a firing job.
package exec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/nextlevelbuilder/ecsched/internal/jobs"
	"github.com/nextlevelbuilder/ecsched/internal/schema"
	"github.com/nextlevelbuilder/ecsched/internal/trigger"
)

// OverrideTag is the env var stamped onto every container override so
// running tasks can be matched back to the job that launched them.
const OverrideTag = "ECS_SCHEDULER_OVERRIDE_TAG"

// maxBatch is the largest task count a single RunTask call accepts.
const maxBatch = 10

// ResultCode labels the outcome of one firing.
type ResultCode int

const (
	// CheckedTasks means enough tasks were already running.
	CheckedTasks ResultCode = iota
	// StartedTasks means new tasks were launched this firing.
	StartedTasks
)

func (c ResultCode) String() string {
	switch c {
	case CheckedTasks:
		return "CHECKED_TASKS"
	case StartedTasks:
		return "STARTED_TASKS"
	}
	return fmt.Sprintf("ResultCode(%d)", int(c))
}

// Result is the outcome of one firing plus the tasks it started.
type Result struct {
	Code  ResultCode
	Tasks []schema.TaskInfo
}

// ECSClient is the slice of the cluster runner API the executor needs.
type ECSClient interface {
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// Executor reconciles a job's desired task count with the tasks
// already running on the cluster and launches the difference.
type Executor struct {
	Client    ECSClient
	Cluster   string
	StartedBy string
	Triggers  *trigger.Registry
}

// Run performs one firing for the job data.
func (e *Executor) Run(ctx context.Context, data jobs.Snapshot) (Result, error) {
	taskName := data.TaskDefinition
	if taskName == "" {
		taskName = data.ID
	}

	running, err := e.countRunning(ctx, data, taskName)
	if err != nil {
		return Result{}, fmt.Errorf("job %s: count running tasks: %w", data.ID, err)
	}
	expected, err := e.Triggers.Get(data).TaskCount(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("job %s: determine task count: %w", data.ID, err)
	}
	needed := expected - running
	if needed <= 0 {
		slog.Info("tasks already satisfied", "job", data.ID, "running", running, "expected", expected)
		return Result{Code: CheckedTasks}, nil
	}

	started, err := e.launch(ctx, data, taskName, needed)
	if err != nil {
		return Result{}, err
	}
	slog.Info("started tasks", "job", data.ID, "count", len(started), "needed", needed)
	return Result{Code: StartedTasks, Tasks: started}, nil
}

// countRunning returns how many running tasks of the job's family
// belong to this job. Without overrides every family task counts; with
// overrides only tasks stamped with this job's tag count, because
// sibling jobs may share the task definition.
func (e *Executor) countRunning(ctx context.Context, data jobs.Snapshot, taskName string) (int, error) {
	out, err := e.Client.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:       aws.String(e.Cluster),
		Family:        aws.String(taskName),
		DesiredStatus: types.DesiredStatusRunning,
	})
	if err != nil {
		return 0, err
	}
	if len(data.Overrides) == 0 || len(out.TaskArns) == 0 {
		return len(out.TaskArns), nil
	}

	desc, err := e.Client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(e.Cluster),
		Tasks:   out.TaskArns,
	})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, task := range desc.Tasks {
		if taskBelongsToJob(task, data.ID) {
			count++
		}
	}
	return count, nil
}

func taskBelongsToJob(task types.Task, jobID string) bool {
	if task.Overrides == nil {
		return false
	}
	for _, co := range task.Overrides.ContainerOverrides {
		for _, env := range co.Environment {
			if aws.ToString(env.Name) == OverrideTag && aws.ToString(env.Value) == jobID {
				return true
			}
		}
	}
	return false
}

// launch starts needed tasks in batches of at most maxBatch. Per-batch
// failures reported by the runner are logged and skipped; they do not
// abort the remaining batches.
func (e *Executor) launch(ctx context.Context, data jobs.Snapshot, taskName string, needed int) ([]schema.TaskInfo, error) {
	overrides := taggedOverrides(data)
	var started []schema.TaskInfo
	for remaining := needed; remaining > 0; remaining -= maxBatch {
		batch := remaining
		if batch > maxBatch {
			batch = maxBatch
		}
		out, err := e.Client.RunTask(ctx, &ecs.RunTaskInput{
			Cluster:        aws.String(e.Cluster),
			TaskDefinition: aws.String(taskName),
			Count:          aws.Int32(int32(batch)),
			StartedBy:      aws.String(e.StartedBy),
			Overrides:      overrides,
		})
		if err != nil {
			return started, fmt.Errorf("job %s: run task batch of %d: %w", data.ID, batch, err)
		}
		for _, task := range out.Tasks {
			started = append(started, schema.TaskInfo{
				TaskID: aws.ToString(task.TaskArn),
				HostID: aws.ToString(task.ContainerInstanceArn),
			})
		}
		for _, failure := range out.Failures {
			slog.Warn("task launch failure", "job", data.ID,
				"arn", aws.ToString(failure.Arn), "reason", aws.ToString(failure.Reason))
		}
	}
	return started, nil
}

// taggedOverrides translates the job's overrides into the runner shape
// with the job tag appended to each container's environment. The job
// data itself is never mutated.
func taggedOverrides(data jobs.Snapshot) *types.TaskOverride {
	if len(data.Overrides) == 0 {
		return nil
	}
	containers := make([]types.ContainerOverride, 0, len(data.Overrides))
	for _, ov := range data.Overrides {
		env := make([]types.KeyValuePair, 0, len(ov.Environment)+1)
		for name, value := range ov.Environment {
			env = append(env, types.KeyValuePair{Name: aws.String(name), Value: aws.String(value)})
		}
		env = append(env, types.KeyValuePair{
			Name:  aws.String(OverrideTag),
			Value: aws.String(data.ID),
		})
		containers = append(containers, types.ContainerOverride{
			Name:        aws.String(ov.ContainerName),
			Environment: env,
		})
	}
	return &types.TaskOverride{ContainerOverrides: containers}
}
