package selection

import (
	"fmt"
	"strings"
)

// Severity tags a report line
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ReportLine is one severity-tagged line of a run report
type ReportLine struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// RunReport is the structured diagnostic report of a run. It is never nil
// on a persisted record; stages append their lines in execution order.
type RunReport struct {
	Lines []ReportLine `json:"lines"`
}

// Add appends a line with the given severity
func (r *RunReport) Add(severity Severity, format string, args ...interface{}) {
	r.Lines = append(r.Lines, ReportLine{
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Info appends an informational line
func (r *RunReport) Info(format string, args ...interface{}) {
	r.Add(SeverityInfo, format, args...)
}

// Warning appends a warning line
func (r *RunReport) Warning(format string, args ...interface{}) {
	r.Add(SeverityWarning, format, args...)
}

// Critical appends a critical line
func (r *RunReport) Critical(format string, args ...interface{}) {
	r.Add(SeverityCritical, format, args...)
}

// Extend appends all lines of another report, preserving order
func (r *RunReport) Extend(other RunReport) {
	r.Lines = append(r.Lines, other.Lines...)
}

// HasCritical reports whether any line is critical
func (r *RunReport) HasCritical() bool {
	for _, line := range r.Lines {
		if line.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// String renders the report as plain text, one line per entry
func (r *RunReport) String() string {
	var b strings.Builder
	for _, line := range r.Lines {
		fmt.Fprintf(&b, "[%s] %s\n", line.Severity, line.Message)
	}
	return b.String()
}
