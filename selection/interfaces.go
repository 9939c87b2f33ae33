package selection

import (
	"context"

	"github.com/sortitionfoundation/opendlp/errors"
)

// ErrSourcePermissionDenied indicates the data source rejected our
// credentials. Transports often return this without any usable message
// text; the pipeline rewrites it into an actionable one (see pipeline.go).
var ErrSourcePermissionDenied = errors.New("data source permission denied")

// ErrSourceUnavailable indicates the data source could not be reached
var ErrSourceUnavailable = errors.New("data source unavailable")

// DataSource is the adapter reading and writing the spreadsheet-backed
// roster and criteria. Implementations may return connectivity or
// permission failures (wrap ErrSourceUnavailable / ErrSourcePermissionDenied)
// as well as domain-validation failures.
type DataSource interface {
	// LoadCriteria reads the category/value structure with per-value
	// min/max selectable counts
	LoadCriteria(ctx context.Context) (Criteria, error)

	// LoadRoster reads the eligible people, keyed by the configured id column
	LoadRoster(ctx context.Context, criteria Criteria) ([]Person, error)

	// LoadAlreadySelected reads people selected in a previous run, used as
	// exclusions for replacement workflows
	LoadAlreadySelected(ctx context.Context, criteria Criteria) ([]Person, error)

	// WriteResults writes the selected / remaining / already-selected
	// result tables back to the source
	WriteResults(ctx context.Context, selected, remaining, alreadySelected []Person) error

	// ListOldOutputTabs enumerates prior output tabs; with dryRun false it
	// also removes them. Returns the affected tab names either way.
	ListOldOutputTabs(ctx context.Context, dryRun bool) ([]string, error)
}

// SourceFactory opens a DataSource for a run's settings snapshot.
// The executor opens the source once per run from the snapshot, so live
// configuration edits cannot leak into an in-flight run.
type SourceFactory interface {
	Open(settings Settings) (DataSource, error)
}

// StratifyOutcome is the selection algorithm's answer. OK false means the
// selection is infeasible; Report then carries the algorithm's explanation.
// The algorithm may return multiple candidate panels; only the first is
// ever persisted downstream.
type StratifyOutcome struct {
	OK     bool
	Panels []Panel
	Report RunReport
}

// Stratifier is the external stratified-selection algorithm.
// It is pure with respect to this package: all inputs arrive as arguments,
// and infrastructure failures are returned as errors distinct from an
// infeasible (OK=false) outcome.
type Stratifier interface {
	Stratify(ctx context.Context, criteria Criteria, roster []Person, targetCount int, testMode bool, alreadySelected []Person) (StratifyOutcome, error)
}

// Authorizer answers the single capability check this package needs
type Authorizer interface {
	CanManage(ctx context.Context, actorID, assemblyID string) (bool, error)
}

// Assembly is the minimal view of an assembly this package depends on.
// How assemblies are stored is out of scope; the directory hands us the
// current settings to snapshot at dispatch time.
type Assembly struct {
	ID       string
	Name     string
	Settings *Settings // nil when selection is not configured
}

// AssemblyDirectory resolves assemblies by id
type AssemblyDirectory interface {
	GetAssembly(ctx context.Context, id string) (*Assembly, error)
}
