package selection

import (
	"database/sql"
	"encoding/json"

	"github.com/sortitionfoundation/opendlp/errors"
)

// runScanArgs holds the nullable and JSON columns scanned from a
// selection_runs row
type runScanArgs struct {
	ExternalJobID  sql.NullString
	ErrorMessage   sql.NullString
	SelectedPanels sql.NullString
	SettingsJSON   string
	ReportJSON     string
	CompletedAt    sql.NullTime
}

func runScanTargets(record *RunRecord, args *runScanArgs) []interface{} {
	return []interface{}{
		&record.TaskID,
		&args.ExternalJobID,
		&record.AssemblyID,
		&record.UserID,
		&record.TaskType,
		&record.Status,
		&record.Submission,
		&args.SettingsJSON,
		&args.ErrorMessage,
		&args.SelectedPanels,
		&args.ReportJSON,
		&record.CreatedAt,
		&args.CompletedAt,
	}
}

// processRunScanArgs decodes the scanned values onto the record
func processRunScanArgs(record *RunRecord, args *runScanArgs) error {
	if args.ExternalJobID.Valid {
		record.ExternalJobID = &args.ExternalJobID.String
	}
	if args.ErrorMessage.Valid {
		record.ErrorMessage = &args.ErrorMessage.String
	}
	if args.CompletedAt.Valid {
		record.CompletedAt = &args.CompletedAt.Time
	}

	if err := json.Unmarshal([]byte(args.SettingsJSON), &record.SettingsUsed); err != nil {
		return errors.Wrapf(err, "failed to unmarshal settings for run %s", record.TaskID)
	}
	if err := json.Unmarshal([]byte(args.ReportJSON), &record.Report.Lines); err != nil {
		return errors.Wrapf(err, "failed to unmarshal report for run %s", record.TaskID)
	}
	if args.SelectedPanels.Valid {
		if err := json.Unmarshal([]byte(args.SelectedPanels.String), &record.SelectedIDs); err != nil {
			return errors.Wrapf(err, "failed to unmarshal selected panels for run %s", record.TaskID)
		}
	}

	return nil
}

// runSelectColumns is the standard column list for selection_runs queries
func runSelectColumns() string {
	return `task_id, external_job_id, assembly_id, user_id,
		task_type, status, submission,
		settings_used, error_message, selected_panels, run_report,
		created_at, completed_at`
}
