package selection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sortitionfoundation/opendlp/async"
)

// DefaultSubmitGrace is how long a run may sit without an acknowledged
// external job id before the health monitor treats it as a dispatch-time
// crash. Within the window the gap is a normal in-flight submission.
const DefaultSubmitGrace = 2 * time.Minute

// DefaultSweepInterval is how often the background sweeper reconciles
// non-terminal runs
const DefaultSweepInterval = 1 * time.Minute

// crashMessage is the generic user-facing text for runs whose worker died.
// The substrate has no diagnostics in this case, so the message stays
// non-specific rather than guessing.
const crashMessage = "the selection process stopped unexpectedly before finishing"

// SubstrateProbe is the substrate lookup the health monitor needs: the
// live state of a job identified by its external id. *async.Queue
// satisfies it.
type SubstrateProbe interface {
	GetState(id string) (async.State, error)
}

// HealthMonitor reconciles durable run records against the substrate's
// live view. Records the substrate no longer knows how to finish are
// force-failed; everything else is left alone. All its operations are
// idempotent, so the on-demand check and the periodic sweep can overlap
// freely.
type HealthMonitor struct {
	runs        *Store
	probe       SubstrateProbe
	submitGrace time.Duration
	logger      *zap.SugaredLogger
}

// NewHealthMonitor creates a health monitor. A non-positive submitGrace
// falls back to DefaultSubmitGrace.
func NewHealthMonitor(runs *Store, probe SubstrateProbe, submitGrace time.Duration, logger *zap.SugaredLogger) *HealthMonitor {
	if submitGrace <= 0 {
		submitGrace = DefaultSubmitGrace
	}
	return &HealthMonitor{
		runs:        runs,
		probe:       probe,
		submitGrace: submitGrace,
		logger:      logger,
	}
}

// Check reconciles a single run against the substrate. Returns true if
// the run was force-failed by this call. Terminal runs are never touched.
func (m *HealthMonitor) Check(taskID string) (bool, error) {
	record, err := m.runs.GetRun(taskID)
	if err != nil {
		return false, err
	}
	return m.checkRecord(record)
}

func (m *HealthMonitor) checkRecord(record *RunRecord) (bool, error) {
	if record.IsTerminal() {
		return false, nil
	}

	if record.ExternalJobID == nil {
		// Created-but-never-acknowledged: a crash between persisting the
		// record and learning the substrate's job id. Within the grace
		// window this is an in-flight dispatch, not an orphan.
		if time.Since(record.CreatedAt) < m.submitGrace {
			return false, nil
		}
		return m.forceFail(record, "the selection run was never handed to the background processor")
	}

	state, err := m.probe.GetState(*record.ExternalJobID)
	if err != nil {
		return false, err
	}

	switch state {
	case async.StatePending, async.StateRunning:
		// The substrate is still on it
		return false, nil
	case async.StateSucceeded, async.StateFailed, async.StateUnknown:
		// The substrate finished or lost the job, yet the record never
		// reached a terminal status: the finalizing write never landed
		return m.forceFail(record, crashMessage)
	default:
		return false, nil
	}
}

func (m *HealthMonitor) forceFail(record *RunRecord, message string) (bool, error) {
	report := record.Report
	report.Critical("%s", message)

	updated, err := m.runs.FailRun(record.TaskID, message, report)
	if err != nil {
		return false, err
	}
	if updated {
		m.logger.Warnw("Force-failed orphaned selection run",
			"task_id", record.TaskID,
			"task_type", record.TaskType,
			"submission", record.Submission)
	}
	return updated, nil
}

// SweepStats summarizes one reconciliation pass
type SweepStats struct {
	Checked     int
	ForceFailed int
	Errored     int
}

// Sweep reconciles every non-terminal run. Errors on individual runs are
// counted and logged, never fatal to the pass.
func (m *HealthMonitor) Sweep() SweepStats {
	stats := SweepStats{}

	records, err := m.runs.ListNonTerminal()
	if err != nil {
		m.logger.Errorw("Health sweep could not list runs", "error", err)
		stats.Errored++
		return stats
	}

	for _, record := range records {
		stats.Checked++
		forceFailed, err := m.checkRecord(record)
		if err != nil {
			stats.Errored++
			m.logger.Warnw("Health check failed for run",
				"task_id", record.TaskID,
				"error", err)
			continue
		}
		if forceFailed {
			stats.ForceFailed++
		}
	}

	if stats.ForceFailed > 0 || stats.Errored > 0 {
		m.logger.Infow("Health sweep finished",
			"checked", stats.Checked,
			"force_failed", stats.ForceFailed,
			"errored", stats.Errored)
	}

	return stats
}

// Sweeper runs Sweep on an interval until stopped
type Sweeper struct {
	monitor  *HealthMonitor
	interval time.Duration
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper creates a periodic sweeper. A non-positive interval falls
// back to DefaultSweepInterval.
func NewSweeper(monitor *HealthMonitor, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		monitor:  monitor,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.logger.Infow("Starting health sweeper", "interval", s.interval)

	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One pass up front so orphans from a previous process die at startup
	// instead of one interval later
	s.monitor.Sweep()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.monitor.Sweep()
		}
	}
}

// Stop halts the sweep loop and waits for the in-flight pass to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	<-s.done
	s.running = false

	s.logger.Infow("Health sweeper stopped")
}
