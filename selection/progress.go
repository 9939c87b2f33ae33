package selection

import (
	"fmt"

	"go.uber.org/zap"
)

// ProgressSink receives human-readable progress lines while a run
// executes. It is passed explicitly through every stage call, scoped to
// exactly one run, so concurrent jobs in one process cannot
// cross-contaminate logs.
type ProgressSink interface {
	Log(format string, args ...interface{})
}

// recordSink appends every line to the run record immediately (forcing
// the record to RUNNING) and mirrors it to the process logger. This is
// the only channel for intermediate progress visible to polling clients.
type recordSink struct {
	store  *Store
	taskID string
	logger *zap.SugaredLogger
}

// NewRecordSink creates a sink that writes progress onto the given run
func NewRecordSink(store *Store, taskID string, logger *zap.SugaredLogger) ProgressSink {
	return &recordSink{
		store:  store,
		taskID: taskID,
		logger: logger,
	}
}

func (s *recordSink) Log(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	if err := s.store.AppendLog(s.taskID, message); err != nil {
		// Progress lines are best-effort; losing one must not fail the run
		s.logger.Warnw("Failed to append progress line",
			"task_id", s.taskID,
			"message", message,
			"error", err)
	}

	s.logger.Infow(message, "task_id", s.taskID)
}

// discardSink swallows progress lines; used by tests
type discardSink struct{}

// DiscardSink returns a sink that drops all progress lines
func DiscardSink() ProgressSink {
	return discardSink{}
}

func (discardSink) Log(string, ...interface{}) {}
