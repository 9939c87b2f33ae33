package selection

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sortitionfoundation/opendlp/errors"
)

// Store handles persistence of selection run records.
//
// Terminal transitions are guarded in SQL (WHERE status NOT IN terminal)
// so a terminal record can never be resurrected, regardless of caller.
type Store struct {
	db *sql.DB
}

// NewStore creates a new run store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts a new PENDING run record
func (s *Store) CreateRun(record *RunRecord) error {
	settingsJSON, err := json.Marshal(record.SettingsUsed)
	if err != nil {
		return errors.Wrap(err, "failed to marshal settings")
	}
	reportJSON, err := json.Marshal(record.Report.Lines)
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}

	query := `
		INSERT INTO selection_runs (
			task_id, external_job_id, assembly_id, user_id,
			task_type, status, submission,
			settings_used, error_message, selected_panels, run_report,
			created_at, completed_at
		) VALUES (?, NULL, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, NULL)
	`

	_, err = s.db.Exec(query,
		record.TaskID,
		record.AssemblyID,
		record.UserID,
		record.TaskType,
		record.Status,
		record.Submission,
		string(settingsJSON),
		string(reportJSON),
		record.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create run %s", record.TaskID)
	}

	return nil
}

// GetRun retrieves a run with its log messages by task id
func (s *Store) GetRun(taskID string) (*RunRecord, error) {
	query := `SELECT ` + runSelectColumns() + ` FROM selection_runs WHERE task_id = ?`

	var record RunRecord
	args := &runScanArgs{}
	targets := runScanTargets(&record, args)

	err := s.db.QueryRow(query, taskID).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", taskID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get run %s", taskID)
	}

	if err := processRunScanArgs(&record, args); err != nil {
		return nil, err
	}

	logs, err := s.GetLogMessages(taskID)
	if err != nil {
		return nil, err
	}
	record.LogMessages = logs

	return &record, nil
}

// MarkSubmitted records that the run's job descriptor was handed to the
// substrate. Only meaningful on a freshly created record.
func (s *Store) MarkSubmitted(taskID string) error {
	query := `UPDATE selection_runs SET submission = ? WHERE task_id = ? AND submission = ?`

	_, err := s.db.Exec(query, SubmissionSubmitted, taskID, SubmissionCreated)
	if err != nil {
		return errors.Wrapf(err, "failed to mark run %s submitted", taskID)
	}
	return nil
}

// AcknowledgeSubmission persists the substrate-assigned external job id.
// The id is set exactly once: acknowledging a run that already carries an
// external id is an error.
func (s *Store) AcknowledgeSubmission(taskID, externalJobID string) error {
	query := `
		UPDATE selection_runs
		SET external_job_id = ?, submission = ?
		WHERE task_id = ? AND external_job_id IS NULL
	`

	result, err := s.db.Exec(query, externalJobID, SubmissionAcknowledged, taskID)
	if err != nil {
		return errors.Wrapf(err, "failed to acknowledge submission for run %s", taskID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("run %s not found or external job id already set", taskID)
	}

	return nil
}

// AppendLog appends one progress line to the run's log and forces a
// PENDING record to RUNNING, so polling clients see live progress as soon
// as the first line is emitted.
func (s *Store) AppendLog(taskID, message string) error {
	if _, err := s.db.Exec(
		`INSERT INTO selection_run_logs (task_id, message, created_at) VALUES (?, ?, ?)`,
		taskID, message, time.Now(),
	); err != nil {
		return errors.Wrapf(err, "failed to append log for run %s", taskID)
	}

	if _, err := s.db.Exec(
		`UPDATE selection_runs SET status = ? WHERE task_id = ? AND status = ?`,
		StatusRunning, taskID, StatusPending,
	); err != nil {
		return errors.Wrapf(err, "failed to mark run %s running", taskID)
	}

	return nil
}

// GetLogMessages returns the run's log lines in emission order
func (s *Store) GetLogMessages(taskID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT message FROM selection_run_logs WHERE task_id = ? ORDER BY seq ASC`,
		taskID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query logs for run %s", taskID)
	}
	defer rows.Close()

	var messages []string
	for rows.Next() {
		var message string
		if err := rows.Scan(&message); err != nil {
			return nil, errors.Wrapf(err, "failed to scan log row for run %s", taskID)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating logs for run %s", taskID)
	}

	return messages, nil
}

// SaveReport persists the run report on a non-terminal record, so polling
// clients can see per-stage report lines before the run finishes.
func (s *Store) SaveReport(taskID string, report RunReport) error {
	reportJSON, err := json.Marshal(report.Lines)
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}

	query := `
		UPDATE selection_runs
		SET run_report = ?
		WHERE task_id = ? AND status NOT IN (?, ?)
	`
	if _, err := s.db.Exec(query, string(reportJSON), taskID, StatusCompleted, StatusFailed); err != nil {
		return errors.Wrapf(err, "failed to save report for run %s", taskID)
	}
	return nil
}

// CompleteRun finalizes a run as COMPLETED with its panels and report.
// Fails if the run is already terminal.
func (s *Store) CompleteRun(taskID string, panels []Panel, report RunReport) error {
	reportJSON, err := json.Marshal(report.Lines)
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}

	var panelsJSON sql.NullString
	if panels != nil {
		data, err := json.Marshal(panels)
		if err != nil {
			return errors.Wrap(err, "failed to marshal panels")
		}
		panelsJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		UPDATE selection_runs
		SET status = ?, selected_panels = ?, run_report = ?, completed_at = ?
		WHERE task_id = ? AND status NOT IN (?, ?)
	`

	result, err := s.db.Exec(query,
		StatusCompleted, panelsJSON, string(reportJSON), time.Now(),
		taskID, StatusCompleted, StatusFailed,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to complete run %s", taskID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("run %s not found or already terminal", taskID)
	}

	return nil
}

// FailRun finalizes a run as FAILED with a user-facing message and the
// diagnostic report. Returns true if the record transitioned, false if it
// was already terminal (or missing), which makes force-failing idempotent.
func (s *Store) FailRun(taskID, message string, report RunReport) (bool, error) {
	reportJSON, err := json.Marshal(report.Lines)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal report")
	}

	query := `
		UPDATE selection_runs
		SET status = ?, error_message = ?, run_report = ?, completed_at = ?
		WHERE task_id = ? AND status NOT IN (?, ?)
	`

	result, err := s.db.Exec(query,
		StatusFailed, message, string(reportJSON), time.Now(),
		taskID, StatusCompleted, StatusFailed,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to fail run %s", taskID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows > 0, nil
}

// ListNonTerminal returns all runs whose status is PENDING or RUNNING,
// oldest first. Log messages are not loaded; the health sweep only needs
// identity and correlation state.
func (s *Store) ListNonTerminal() ([]*RunRecord, error) {
	query := `SELECT ` + runSelectColumns() + `
		FROM selection_runs
		WHERE status IN (?, ?)
		ORDER BY created_at ASC`

	rows, err := s.db.Query(query, StatusPending, StatusRunning)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list non-terminal runs")
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var record RunRecord
		args := &runScanArgs{}
		if err := rows.Scan(runScanTargets(&record, args)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		if err := processRunScanArgs(&record, args); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating non-terminal runs")
	}

	return records, nil
}

// ListRunsForAssembly returns an assembly's runs, newest first
func (s *Store) ListRunsForAssembly(assemblyID string, limit int) ([]*RunRecord, error) {
	query := `SELECT ` + runSelectColumns() + `
		FROM selection_runs
		WHERE assembly_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, assemblyID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list runs for assembly %s", assemblyID)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var record RunRecord
		args := &runScanArgs{}
		if err := rows.Scan(runScanTargets(&record, args)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		if err := processRunScanArgs(&record, args); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating assembly runs")
	}

	return records, nil
}
