package selection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sortitionfoundation/opendlp/async"
)

// fakeDirectory serves assemblies from a map
type fakeDirectory struct {
	assemblies map[string]*Assembly
}

func (d *fakeDirectory) GetAssembly(ctx context.Context, id string) (*Assembly, error) {
	return d.assemblies[id], nil
}

// fakeAuthorizer allows the users in its set
type fakeAuthorizer struct {
	allowed map[string]bool
}

func (a *fakeAuthorizer) CanManage(ctx context.Context, actorID, assemblyID string) (bool, error) {
	return a.allowed[actorID], nil
}

// fakeSource is a scriptable DataSource
type fakeSource struct {
	criteria        Criteria
	roster          []Person
	alreadySelected []Person
	tabs            []string

	criteriaErr error
	rosterErr   error
	writeErr    error
	tabsErr     error

	wroteSelected  []Person
	wroteRemaining []Person
	deletedTabs    bool
}

func (s *fakeSource) LoadCriteria(ctx context.Context) (Criteria, error) {
	return s.criteria, s.criteriaErr
}

func (s *fakeSource) LoadRoster(ctx context.Context, criteria Criteria) ([]Person, error) {
	return s.roster, s.rosterErr
}

func (s *fakeSource) LoadAlreadySelected(ctx context.Context, criteria Criteria) ([]Person, error) {
	return s.alreadySelected, nil
}

func (s *fakeSource) WriteResults(ctx context.Context, selected, remaining, alreadySelected []Person) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.wroteSelected = selected
	s.wroteRemaining = remaining
	return nil
}

func (s *fakeSource) ListOldOutputTabs(ctx context.Context, dryRun bool) ([]string, error) {
	if s.tabsErr != nil {
		return nil, s.tabsErr
	}
	if !dryRun {
		s.deletedTabs = true
	}
	return s.tabs, nil
}

// fakeFactory hands out a fixed source
type fakeFactory struct {
	source DataSource
	err    error
}

func (f *fakeFactory) Open(settings Settings) (DataSource, error) {
	return f.source, f.err
}

// fakeStratifier returns a scripted outcome, or panics when told to
type fakeStratifier struct {
	outcome   StratifyOutcome
	err       error
	panicWith interface{}
}

func (s *fakeStratifier) Stratify(ctx context.Context, criteria Criteria, roster []Person, targetCount int, testMode bool, alreadySelected []Person) (StratifyOutcome, error) {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	return s.outcome, s.err
}

// fakeProbe reports scripted substrate states
type fakeProbe struct {
	states map[string]async.State
}

func (p *fakeProbe) GetState(id string) (async.State, error) {
	if state, ok := p.states[id]; ok {
		return state, nil
	}
	return async.StateUnknown, nil
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testSettings() Settings {
	return Settings{
		SourceID:       "north-assembly",
		ServiceAccount: "selector@example.org",
		IDColumn:       "nationbuilder_id",
	}
}

// testCriteria builds a two-category criteria set whose quotas sum to 10
func testCriteria() Criteria {
	return Criteria{
		{
			Name: "gender",
			Values: []CategoryValue{
				{Name: "female", Min: 5, Max: 5},
				{Name: "male", Min: 5, Max: 5},
			},
		},
		{
			Name: "region",
			Values: []CategoryValue{
				{Name: "north", Min: 4, Max: 6},
				{Name: "south", Min: 4, Max: 6},
			},
		},
	}
}

// testRoster builds n people cycling through the criteria values
func testRoster(n int) []Person {
	genders := []string{"female", "male"}
	regions := []string{"north", "south"}

	people := make([]Person, 0, n)
	for i := 0; i < n; i++ {
		people = append(people, Person{
			ID: fmt.Sprintf("p%03d", i),
			Fields: map[string]string{
				"gender": genders[i%2],
				"region": regions[(i/2)%2],
			},
		})
	}
	return people
}

// createTestRun persists a pending run record and returns it
func createTestRun(t *testing.T, store *Store, taskType TaskType) *RunRecord {
	t.Helper()

	record := &RunRecord{
		TaskID:       "run_" + uuid.NewString(),
		AssemblyID:   "asm_1",
		UserID:       "user_1",
		TaskType:     taskType,
		Status:       StatusPending,
		Submission:   SubmissionCreated,
		SettingsUsed: testSettings(),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.CreateRun(record))
	return record
}
