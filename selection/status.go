package selection

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sortitionfoundation/opendlp/errors"
)

// ResultProbe is the substrate lookup the status aggregator needs: the
// stored result payload of a finished job. *async.Queue satisfies it.
type ResultProbe interface {
	GetResult(id string) (json.RawMessage, error)
}

// StatusView is the client-facing snapshot of a run: the durable record's
// fields plus, once the run completed, the decoded workflow result.
type StatusView struct {
	Known        bool       `json:"known"`
	TaskID       string     `json:"task_id,omitempty"`
	AssemblyID   string     `json:"assembly_id,omitempty"`
	TaskType     TaskType   `json:"task_type,omitempty"`
	Status       Status     `json:"status,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	SelectedIDs  []Panel    `json:"selected_ids,omitempty"`
	Report       RunReport  `json:"run_report"`
	LogMessages  []string   `json:"log_messages,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StatusService assembles run status for polling clients
type StatusService struct {
	runs   *Store
	probe  ResultProbe
	logger *zap.SugaredLogger
}

// NewStatusService creates a status service
func NewStatusService(runs *Store, probe ResultProbe, logger *zap.SugaredLogger) *StatusService {
	return &StatusService{
		runs:   runs,
		probe:  probe,
		logger: logger,
	}
}

// GetStatus returns the current view of a run. An unknown task id yields
// a zero view with Known false, not an error: clients poll with ids they
// may have received before a crash. For a completed run the substrate's
// result payload is decoded against the task type; for every other status
// the view carries the partial log and report instead.
func (s *StatusService) GetStatus(taskID string) (*StatusView, error) {
	record, err := s.runs.GetRun(taskID)
	if errors.IsNotFoundError(err) {
		return &StatusView{Known: false}, nil
	}
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		Known:        true,
		TaskID:       record.TaskID,
		AssemblyID:   record.AssemblyID,
		TaskType:     record.TaskType,
		Status:       record.Status,
		ErrorMessage: record.ErrorMessage,
		SelectedIDs:  record.SelectedIDs,
		Report:       record.Report,
		LogMessages:  record.LogMessages,
		CreatedAt:    record.CreatedAt,
		CompletedAt:  record.CompletedAt,
	}

	if record.Status == StatusCompleted && record.ExternalJobID != nil {
		raw, err := s.probe.GetResult(*record.ExternalJobID)
		if err != nil {
			return nil, err
		}
		result, err := DecodeResult(record.TaskType, raw)
		if err != nil {
			// A malformed result is an executor defect; surface it rather
			// than handing clients a result of the wrong shape
			return nil, err
		}
		view.Result = result
	}

	return view, nil
}
