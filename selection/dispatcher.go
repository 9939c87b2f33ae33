package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sortitionfoundation/opendlp/async"
	"github.com/sortitionfoundation/opendlp/errors"
)

// HandlerName is the async handler every selection run is routed to
const HandlerName = "selection.run"

// JobDescriptor is the self-contained payload handed to the substrate.
// The executor runs entirely from the descriptor; it never re-reads the
// assembly's live configuration, so edits after dispatch cannot leak into
// an in-flight run.
type JobDescriptor struct {
	TaskID      string   `json:"task_id"`
	AssemblyID  string   `json:"assembly_id"`
	TaskType    TaskType `json:"task_type"`
	Settings    Settings `json:"settings"`
	TargetCount int      `json:"target_count,omitempty"`
	TestMode    bool     `json:"test_mode,omitempty"`
}

// Dispatcher validates selection requests and submits them to the async
// substrate, keeping the durable run record's submission phase in step:
// the record is persisted before submission (created), then marked
// submitted, then updated with the substrate's job id (acknowledged).
type Dispatcher struct {
	runs       *Store
	queue      *async.Queue
	assemblies AssemblyDirectory
	auth       Authorizer
	logger     *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(runs *Store, queue *async.Queue, assemblies AssemblyDirectory, auth Authorizer, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		runs:       runs,
		queue:      queue,
		assemblies: assemblies,
		auth:       auth,
		logger:     logger,
	}
}

// SubmitLoad starts a load workflow: read criteria and roster, validate,
// report the selectable range
func (d *Dispatcher) SubmitLoad(ctx context.Context, actorID, assemblyID string) (string, error) {
	return d.submit(ctx, actorID, assemblyID, TaskTypeLoad, 0, false)
}

// SubmitSelect starts a real selection of targetCount people
func (d *Dispatcher) SubmitSelect(ctx context.Context, actorID, assemblyID string, targetCount int) (string, error) {
	return d.submit(ctx, actorID, assemblyID, TaskTypeSelect, targetCount, false)
}

// SubmitTestSelect starts a trial selection: the algorithm runs in test
// mode and nothing is written back to the source
func (d *Dispatcher) SubmitTestSelect(ctx context.Context, actorID, assemblyID string, targetCount int) (string, error) {
	return d.submit(ctx, actorID, assemblyID, TaskTypeTestSelect, targetCount, true)
}

// SubmitLoadReplacement starts a load of the replacement pool, with
// previously selected people treated as exclusions
func (d *Dispatcher) SubmitLoadReplacement(ctx context.Context, actorID, assemblyID string) (string, error) {
	return d.submit(ctx, actorID, assemblyID, TaskTypeLoadReplacement, 0, false)
}

// SubmitSelectReplacement starts a selection from the replacement pool
func (d *Dispatcher) SubmitSelectReplacement(ctx context.Context, actorID, assemblyID string, targetCount int) (string, error) {
	return d.submit(ctx, actorID, assemblyID, TaskTypeSelectReplacement, targetCount, false)
}

// SubmitListOldTabs starts a dry-run enumeration of prior output tabs
func (d *Dispatcher) SubmitListOldTabs(ctx context.Context, actorID, assemblyID string) (string, error) {
	return d.submit(ctx, actorID, assemblyID, TaskTypeListOldTabs, 0, false)
}

// SubmitDeleteOldTabs starts removal of prior output tabs
func (d *Dispatcher) SubmitDeleteOldTabs(ctx context.Context, actorID, assemblyID string) (string, error) {
	return d.submit(ctx, actorID, assemblyID, TaskTypeDeleteOldTabs, 0, false)
}

// Submit dispatches a workflow by task type. Target count is only
// meaningful for select workflows and must be positive there.
func (d *Dispatcher) Submit(ctx context.Context, actorID, assemblyID string, taskType TaskType, targetCount int) (string, error) {
	switch taskType {
	case TaskTypeLoad:
		return d.SubmitLoad(ctx, actorID, assemblyID)
	case TaskTypeSelect:
		return d.SubmitSelect(ctx, actorID, assemblyID, targetCount)
	case TaskTypeTestSelect:
		return d.SubmitTestSelect(ctx, actorID, assemblyID, targetCount)
	case TaskTypeLoadReplacement:
		return d.SubmitLoadReplacement(ctx, actorID, assemblyID)
	case TaskTypeSelectReplacement:
		return d.SubmitSelectReplacement(ctx, actorID, assemblyID, targetCount)
	case TaskTypeListOldTabs:
		return d.SubmitListOldTabs(ctx, actorID, assemblyID)
	case TaskTypeDeleteOldTabs:
		return d.SubmitDeleteOldTabs(ctx, actorID, assemblyID)
	default:
		return "", errors.Wrapf(errors.ErrInvalidSelection, "unknown task type %q", taskType)
	}
}

func (d *Dispatcher) submit(ctx context.Context, actorID, assemblyID string, taskType TaskType, targetCount int, testMode bool) (string, error) {
	assembly, err := d.assemblies.GetAssembly(ctx, assemblyID)
	if err != nil {
		return "", err
	}
	if assembly == nil {
		return "", errors.Wrapf(errors.ErrNotFound, "assembly %s", assemblyID)
	}

	allowed, err := d.auth.CanManage(ctx, actorID, assemblyID)
	if err != nil {
		return "", errors.Wrap(err, "failed to check permissions")
	}
	if !allowed {
		return "", errors.Wrapf(errors.ErrPermissionDenied, "user %s cannot manage assembly %s", actorID, assemblyID)
	}

	if assembly.Settings == nil {
		return "", errors.Wrapf(errors.ErrMissingSettings, "assembly %s has no selection settings", assemblyID)
	}

	if taskType.IsSelectWorkflow() && targetCount <= 0 {
		return "", errors.Wrapf(errors.ErrInvalidSelection, "target count must be positive, got %d", targetCount)
	}

	// Snapshot the settings now; the descriptor and the record carry the
	// copy, not a reference to live configuration
	settings := *assembly.Settings

	record := &RunRecord{
		TaskID:       "run_" + uuid.NewString(),
		AssemblyID:   assemblyID,
		UserID:       actorID,
		TaskType:     taskType,
		Status:       StatusPending,
		Submission:   SubmissionCreated,
		SettingsUsed: settings,
		CreatedAt:    time.Now(),
	}

	if err := d.runs.CreateRun(record); err != nil {
		return "", err
	}

	descriptor := JobDescriptor{
		TaskID:      record.TaskID,
		AssemblyID:  assemblyID,
		TaskType:    taskType,
		Settings:    settings,
		TargetCount: targetCount,
		TestMode:    testMode,
	}
	payload, err := json.Marshal(descriptor)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal job descriptor")
	}

	if err := d.runs.MarkSubmitted(record.TaskID); err != nil {
		return "", err
	}

	job, err := async.NewJob(HandlerName, record.TaskID, payload)
	if err != nil {
		return "", err
	}

	if err := d.queue.Enqueue(job); err != nil {
		// The record stays in the submitted phase with no external id; the
		// health monitor force-fails it once the grace window passes
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", record.TaskID))
		return "", err
	}

	if err := d.runs.AcknowledgeSubmission(record.TaskID, job.ID); err != nil {
		return "", err
	}

	d.logger.Infow("Dispatched selection run",
		"task_id", record.TaskID,
		"external_job_id", job.ID,
		"assembly_id", assemblyID,
		"task_type", taskType,
		"user_id", actorID)

	return record.TaskID, nil
}
