package stratify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortitionfoundation/opendlp/selection"
)

func twoCategoryCriteria() selection.Criteria {
	return selection.Criteria{
		{
			Name: "gender",
			Values: []selection.CategoryValue{
				{Name: "female", Min: 5, Max: 5},
				{Name: "male", Min: 5, Max: 5},
			},
		},
		{
			Name: "region",
			Values: []selection.CategoryValue{
				{Name: "north", Min: 4, Max: 6},
				{Name: "south", Min: 4, Max: 6},
			},
		},
	}
}

func rosterOf(n int) []selection.Person {
	genders := []string{"female", "male"}
	regions := []string{"north", "south"}

	people := make([]selection.Person, 0, n)
	for i := 0; i < n; i++ {
		people = append(people, selection.Person{
			ID: fmt.Sprintf("p%03d", i),
			Fields: map[string]string{
				"gender": genders[i%2],
				"region": regions[(i/2)%2],
			},
		})
	}
	return people
}

func countByValue(panel selection.Panel, roster []selection.Person, category string) map[string]int {
	byID := make(map[string]selection.Person, len(roster))
	for _, person := range roster {
		byID[person.ID] = person
	}

	counts := make(map[string]int)
	for _, id := range panel {
		counts[byID[id].Fields[category]]++
	}
	return counts
}

func TestGreedySatisfiesQuotas(t *testing.T) {
	criteria := twoCategoryCriteria()
	roster := rosterOf(50)

	outcome, err := NewGreedyWithSeed(42).Stratify(context.Background(), criteria, roster, 10, false, nil)
	require.NoError(t, err)
	require.True(t, outcome.OK, "a feasible selection must succeed: %s", outcome.Report.String())
	require.Len(t, outcome.Panels, 1)

	panel := outcome.Panels[0]
	assert.Len(t, panel, 10)

	// Panel members are distinct
	seen := make(map[string]bool)
	for _, id := range panel {
		assert.False(t, seen[id], "duplicate panel member %s", id)
		seen[id] = true
	}

	genders := countByValue(panel, roster, "gender")
	assert.Equal(t, 5, genders["female"])
	assert.Equal(t, 5, genders["male"])

	regions := countByValue(panel, roster, "region")
	assert.GreaterOrEqual(t, regions["north"], 4)
	assert.LessOrEqual(t, regions["north"], 6)
	assert.GreaterOrEqual(t, regions["south"], 4)
	assert.LessOrEqual(t, regions["south"], 6)
}

func TestGreedyInfeasibleTarget(t *testing.T) {
	criteria := twoCategoryCriteria()
	roster := rosterOf(50)

	// The quotas pin the panel size to exactly 10
	outcome, err := NewGreedyWithSeed(42).Stratify(context.Background(), criteria, roster, 30, false, nil)
	require.NoError(t, err, "infeasibility is an outcome, not an error")
	assert.False(t, outcome.OK)
	assert.True(t, outcome.Report.HasCritical())
	assert.Empty(t, outcome.Panels)
}

func TestGreedyRespectsExclusions(t *testing.T) {
	criteria := twoCategoryCriteria()
	roster := rosterOf(50)

	alreadySelected := roster[:8]
	outcome, err := NewGreedyWithSeed(42).Stratify(context.Background(), criteria, roster, 10, false, alreadySelected)
	require.NoError(t, err)
	require.True(t, outcome.OK)

	excluded := make(map[string]bool)
	for _, person := range alreadySelected {
		excluded[person.ID] = true
	}
	for _, id := range outcome.Panels[0] {
		assert.False(t, excluded[id], "previously selected person %s chosen again", id)
	}
}

func TestGreedyNotEnoughCandidates(t *testing.T) {
	criteria := twoCategoryCriteria()
	roster := rosterOf(12)

	// Excluding most of the roster leaves fewer people than the target
	outcome, err := NewGreedyWithSeed(42).Stratify(context.Background(), criteria, roster, 10, false, roster[:6])
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.True(t, outcome.Report.HasCritical())
}

func TestGreedyTestModeIsDeterministic(t *testing.T) {
	criteria := twoCategoryCriteria()
	roster := rosterOf(50)

	first, err := NewGreedy().Stratify(context.Background(), criteria, roster, 10, true, nil)
	require.NoError(t, err)
	require.True(t, first.OK)

	second, err := NewGreedy().Stratify(context.Background(), criteria, roster, 10, true, nil)
	require.NoError(t, err)
	require.True(t, second.OK)

	assert.Equal(t, first.Panels, second.Panels, "test mode pins the seed")
}

func TestGreedyRejectsNonPositiveTarget(t *testing.T) {
	_, err := NewGreedy().Stratify(context.Background(), twoCategoryCriteria(), rosterOf(10), 0, false, nil)
	require.Error(t, err)
}

func TestGreedyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGreedy().Stratify(ctx, twoCategoryCriteria(), rosterOf(50), 10, false, nil)
	require.Error(t, err)
}
