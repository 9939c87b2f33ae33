package selection

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/sortitionfoundation/opendlp/async"
	"github.com/sortitionfoundation/opendlp/errors"
)

// Executor runs selection workflows as async jobs. It implements
// async.JobHandler and is registered under HandlerName.
//
// Every run drives the same LOAD -> SELECT -> WRITE pipeline; the task
// type decides where the pipeline finalizes. Tab-management workflows
// bypass the pipeline entirely. On any outcome, success or failure, the
// executor finalizes the durable run record itself; the substrate job
// status is kept consistent by returning the result or error upward.
type Executor struct {
	runs       *Store
	sources    SourceFactory
	stratifier Stratifier
	logger     *zap.SugaredLogger
}

// NewExecutor creates the selection job executor
func NewExecutor(runs *Store, sources SourceFactory, stratifier Stratifier, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		runs:       runs,
		sources:    sources,
		stratifier: stratifier,
		logger:     logger,
	}
}

// Name implements async.JobHandler
func (e *Executor) Name() string {
	return HandlerName
}

// Execute implements async.JobHandler. It decodes the job descriptor and
// runs the workflow, converting every failure mode, including panics in
// the selection algorithm, into a FAILED run record with a diagnostic
// report. The record is the source of truth for clients; the returned
// error only keeps the substrate job in step.
func (e *Executor) Execute(ctx context.Context, job *async.Job) (result json.RawMessage, err error) {
	var descriptor JobDescriptor
	if decodeErr := json.Unmarshal(job.Payload, &descriptor); decodeErr != nil {
		return nil, errors.Wrapf(decodeErr, "failed to decode job descriptor for job %s", job.ID)
	}

	report := &RunReport{}

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			report.Critical("selection crashed: %v (%T)", r, r)
			report.Critical("stack trace:\n%s", stack)
			e.logger.Errorw("Selection run panicked",
				"task_id", descriptor.TaskID,
				"panic", r,
				"stack", stack)
			e.failRun(descriptor.TaskID, "the selection process crashed unexpectedly", *report)
			result = nil
			err = errors.Newf("selection run %s panicked: %v", descriptor.TaskID, r)
		}
	}()

	sink := NewRecordSink(e.runs, descriptor.TaskID, e.logger)
	sink.Log("Starting %s for assembly %s", descriptor.TaskType, descriptor.AssemblyID)

	source, openErr := e.sources.Open(descriptor.Settings)
	if openErr != nil {
		return nil, e.fail(descriptor, report, openErr)
	}

	if descriptor.TaskType.IsTabManagement() {
		return e.runTabs(ctx, descriptor, source, sink, report)
	}
	return e.runPipeline(ctx, descriptor, source, sink, report)
}

// runPipeline executes LOAD, then SELECT and WRITE as the task type
// requires, finalizing the run at the stage the task type names.
func (e *Executor) runPipeline(ctx context.Context, descriptor JobDescriptor, source DataSource, sink ProgressSink, report *RunReport) (json.RawMessage, error) {
	loaded, err := e.runLoad(ctx, descriptor, source, sink, report)
	if err != nil {
		return nil, e.fail(descriptor, report, err)
	}

	if !descriptor.TaskType.IsSelectWorkflow() {
		// load and load_replacement finalize here
		return e.complete(descriptor, nil, *report, NewLoadResult(LoadResult{
			Criteria:             loaded.criteria,
			Roster:               loaded.roster,
			AlreadySelectedCount: len(loaded.alreadySelected),
			MinSelectable:        loaded.minSelectable,
			MaxSelectable:        loaded.maxSelectable,
		}))
	}

	e.saveReport(descriptor.TaskID, *report)

	panels, err := e.runSelect(ctx, descriptor, loaded, sink, report)
	if err != nil {
		return nil, e.fail(descriptor, report, err)
	}

	if descriptor.TaskType == TaskTypeTestSelect {
		// Trial run: nothing is written back
		sink.Log("Test selection finished, no results written")
		return e.complete(descriptor, panels, *report, NewSelectResult(SelectResult{Panels: panels}))
	}

	e.saveReport(descriptor.TaskID, *report)

	if err := e.runWrite(ctx, descriptor, source, loaded, panels[0], sink, report); err != nil {
		return nil, e.fail(descriptor, report, err)
	}

	return e.complete(descriptor, panels, *report, NewSelectResult(SelectResult{Panels: panels}))
}

// loadedData is the LOAD stage's output, consumed by SELECT and WRITE
type loadedData struct {
	criteria        Criteria
	roster          []Person
	alreadySelected []Person
	minSelectable   int
	maxSelectable   int
}

// runLoad reads and validates criteria and roster from the source. For
// replacement workflows it also loads the already-selected set, which the
// algorithm treats as exclusions.
func (e *Executor) runLoad(ctx context.Context, descriptor JobDescriptor, source DataSource, sink ProgressSink, report *RunReport) (*loadedData, error) {
	sink.Log("Loading selection criteria")
	criteria, err := source.LoadCriteria(ctx)
	if err != nil {
		return nil, err
	}
	if err := criteria.Validate(); err != nil {
		report.Critical("criteria validation failed: %v", err)
		return nil, errors.Wrap(errors.ErrInvalidSelection, err.Error())
	}
	sink.Log("Loaded %d categories", len(criteria))

	sink.Log("Loading roster")
	roster, err := source.LoadRoster(ctx, criteria)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		report.Critical("the roster contains no people")
		return nil, errors.Wrap(errors.ErrInvalidSelection, "empty roster")
	}
	sink.Log("Loaded %d people", len(roster))

	if err := CheckCoverage(criteria, roster); err != nil {
		report.Critical("roster does not match criteria: %v", err)
		return nil, errors.Wrap(errors.ErrInvalidSelection, err.Error())
	}

	var alreadySelected []Person
	if descriptor.TaskType.IsReplacement() {
		sink.Log("Loading previously selected people")
		alreadySelected, err = source.LoadAlreadySelected(ctx, criteria)
		if err != nil {
			return nil, err
		}
		sink.Log("Loaded %d previously selected people", len(alreadySelected))
	}

	minSel, maxSel := criteria.SelectableRange()
	report.Info("criteria allow selecting between %d and %d people", minSel, maxSel)
	sink.Log("Selectable range: %d to %d", minSel, maxSel)

	return &loadedData{
		criteria:        criteria,
		roster:          roster,
		alreadySelected: alreadySelected,
		minSelectable:   minSel,
		maxSelectable:   maxSel,
	}, nil
}

// runSelect invokes the stratification algorithm. An infeasible outcome
// is a run failure carrying the algorithm's report; an error is an
// infrastructure failure.
func (e *Executor) runSelect(ctx context.Context, descriptor JobDescriptor, loaded *loadedData, sink ProgressSink, report *RunReport) ([]Panel, error) {
	sink.Log("Selecting %d people from %d candidates", descriptor.TargetCount, len(loaded.roster))

	outcome, err := e.stratifier.Stratify(ctx,
		loaded.criteria, loaded.roster,
		descriptor.TargetCount, descriptor.TestMode,
		loaded.alreadySelected)
	if err != nil {
		report.Critical("selection algorithm failed: %v", err)
		return nil, err
	}

	report.Extend(outcome.Report)

	if !outcome.OK {
		return nil, errors.Wrap(errors.ErrInvalidSelection, "no selection satisfying the criteria was found")
	}
	if len(outcome.Panels) == 0 {
		return nil, errors.AssertionFailedf("algorithm reported success with no panels")
	}

	sink.Log("Selection succeeded with %d people", len(outcome.Panels[0]))
	return outcome.Panels, nil
}

// runWrite writes the first panel's results back to the source
func (e *Executor) runWrite(ctx context.Context, descriptor JobDescriptor, source DataSource, loaded *loadedData, panel Panel, sink ProgressSink, report *RunReport) error {
	selected, remaining := Partition(loaded.roster, panel)

	if descriptor.Settings.CheckSameAddress {
		flagged := FlagSameAddress(selected, remaining, descriptor.Settings.AddressColumns)
		if flagged > 0 {
			report.Info("%d remaining people share an address with a selected person", flagged)
			sink.Log("Flagged %d people at the same address as selected people", flagged)
		}
	}

	sink.Log("Writing results: %d selected, %d remaining", len(selected), len(remaining))
	if err := source.WriteResults(ctx, selected, remaining, loaded.alreadySelected); err != nil {
		return err
	}
	sink.Log("Results written")

	return nil
}

// runTabs executes the tab-management workflows, which touch only the
// source's output tabs
func (e *Executor) runTabs(ctx context.Context, descriptor JobDescriptor, source DataSource, sink ProgressSink, report *RunReport) (json.RawMessage, error) {
	dryRun := descriptor.TaskType == TaskTypeListOldTabs
	if dryRun {
		sink.Log("Listing old output tabs")
	} else {
		sink.Log("Deleting old output tabs")
	}

	tabs, err := source.ListOldOutputTabs(ctx, dryRun)
	if err != nil {
		return nil, e.fail(descriptor, report, err)
	}

	switch {
	case len(tabs) == 0:
		report.Info("no old output tabs found")
		sink.Log("No old output tabs found")
	case dryRun:
		report.Info("found %d old output tabs", len(tabs))
		sink.Log("Found %d old output tabs", len(tabs))
	default:
		report.Info("deleted %d old output tabs", len(tabs))
		sink.Log("Deleted %d old output tabs", len(tabs))
	}

	return e.complete(descriptor, nil, *report, NewTabsResult(TabManagementResult{
		Tabs:    tabs,
		Deleted: !dryRun,
	}))
}

// complete finalizes the run as COMPLETED and returns the encoded result
// for the substrate job. For select workflows only the first panel is
// persisted on the record; the result keeps the full candidate set.
func (e *Executor) complete(descriptor JobDescriptor, panels []Panel, report RunReport, result *Result) (json.RawMessage, error) {
	var persisted []Panel
	if len(panels) > 0 {
		persisted = []Panel{panels[0]}
	}

	if err := e.runs.CompleteRun(descriptor.TaskID, persisted, report); err != nil {
		return nil, err
	}

	e.logger.Infow("Selection run completed",
		"task_id", descriptor.TaskID,
		"task_type", descriptor.TaskType)

	return result.Marshal()
}

// fail finalizes the run as FAILED with a user-facing message derived
// from the error, and returns the error for the substrate job
func (e *Executor) fail(descriptor JobDescriptor, report *RunReport, cause error) error {
	message := userFacingMessage(descriptor.Settings, cause)
	e.failRun(descriptor.TaskID, message, *report)

	e.logger.Warnw("Selection run failed",
		"task_id", descriptor.TaskID,
		"task_type", descriptor.TaskType,
		"error", cause)

	return cause
}

func (e *Executor) saveReport(taskID string, report RunReport) {
	if err := e.runs.SaveReport(taskID, report); err != nil {
		e.logger.Errorw("Failed to save run report",
			"task_id", taskID,
			"error", err)
	}
}

func (e *Executor) failRun(taskID, message string, report RunReport) {
	if _, err := e.runs.FailRun(taskID, message, report); err != nil {
		e.logger.Errorw("Failed to finalize run as failed",
			"task_id", taskID,
			"error", err)
	}
}

// userFacingMessage rewrites low-level source errors into actionable
// text. Permission failures in particular arrive with no usable message,
// so the rewrite names the service account that needs access.
func userFacingMessage(settings Settings, err error) string {
	switch {
	case errors.Is(err, ErrSourcePermissionDenied):
		return "Permission denied reading the data source. Share it with " + settings.ServiceAccount + " and try again."
	case errors.Is(err, ErrSourceUnavailable):
		return "The data source could not be reached. Check that it still exists and try again."
	default:
		return err.Error()
	}
}
