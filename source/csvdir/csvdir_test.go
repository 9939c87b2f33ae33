package csvdir

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortitionfoundation/opendlp/errors"
	"github.com/sortitionfoundation/opendlp/selection"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func testSourceDir(t *testing.T) (string, selection.Settings) {
	t.Helper()

	baseDir := t.TempDir()
	sourceDir := filepath.Join(baseDir, "north-assembly")
	require.NoError(t, os.Mkdir(sourceDir, 0o755))

	writeFile(t, sourceDir, "criteria.csv",
		"category,value,min,max\n"+
			"gender,female,1,2\n"+
			"gender,male,1,2\n")

	writeFile(t, sourceDir, "people.csv",
		"nationbuilder_id,gender,postcode\n"+
			"p001,female,AB1\n"+
			"p002,male,AB1\n"+
			"p003,female,CD2\n"+
			"p004,male,EF3\n")

	return baseDir, selection.Settings{
		SourceID: "north-assembly",
		IDColumn: "nationbuilder_id",
	}
}

func openSource(t *testing.T) (selection.DataSource, string) {
	t.Helper()

	baseDir, settings := testSourceDir(t)
	source, err := NewFactory(baseDir).Open(settings)
	require.NoError(t, err)
	return source, filepath.Join(baseDir, settings.SourceID)
}

func TestFactoryOpenMissingDirectory(t *testing.T) {
	factory := NewFactory(t.TempDir())

	_, err := factory.Open(selection.Settings{SourceID: "nowhere"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, selection.ErrSourceUnavailable))
}

func TestFactoryOpenMissingSourceID(t *testing.T) {
	factory := NewFactory(t.TempDir())

	_, err := factory.Open(selection.Settings{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingSettings))
}

func TestLoadCriteria(t *testing.T) {
	source, _ := openSource(t)

	criteria, err := source.LoadCriteria(context.Background())
	require.NoError(t, err)
	require.Len(t, criteria, 1)
	assert.Equal(t, "gender", criteria[0].Name)
	require.Len(t, criteria[0].Values, 2)
	assert.Equal(t, selection.CategoryValue{Name: "female", Min: 1, Max: 2}, criteria[0].Values[0])
}

func TestLoadRoster(t *testing.T) {
	source, _ := openSource(t)

	criteria, err := source.LoadCriteria(context.Background())
	require.NoError(t, err)

	roster, err := source.LoadRoster(context.Background(), criteria)
	require.NoError(t, err)
	require.Len(t, roster, 4)
	assert.Equal(t, "p001", roster[0].ID)
	assert.Equal(t, "female", roster[0].Fields["gender"])
	assert.Equal(t, "AB1", roster[0].Fields["postcode"])
}

func TestLoadAlreadySelectedMissingFileMeansEmpty(t *testing.T) {
	source, _ := openSource(t)

	people, err := source.LoadAlreadySelected(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, people)
}

func TestLoadAlreadySelectedReadsFile(t *testing.T) {
	source, dir := openSource(t)

	writeFile(t, dir, "already_selected.csv",
		"nationbuilder_id,gender,postcode\n"+
			"p900,female,ZZ9\n")

	people, err := source.LoadAlreadySelected(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "p900", people[0].ID)
}

func TestWriteResultsAndTabManagement(t *testing.T) {
	source, dir := openSource(t)
	ctx := context.Background()

	selected := []selection.Person{
		{ID: "p001", Fields: map[string]string{"gender": "female", "postcode": "AB1"}},
	}
	remaining := []selection.Person{
		{ID: "p002", Fields: map[string]string{"gender": "male", "postcode": "AB1", selection.SameAddressColumn: "yes"}},
	}

	require.NoError(t, source.WriteResults(ctx, selected, remaining, nil))

	tabs, err := source.ListOldOutputTabs(ctx, true)
	require.NoError(t, err)
	require.Len(t, tabs, 2, "one selected and one remaining output file")

	// The selected output carries the id and data columns
	f, err := os.Open(filepath.Join(dir, tabs[0]))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "nationbuilder_id", rows[0][0])
	assert.Contains(t, rows[0], selection.SameAddressColumn,
		"the same-address flag column appears when any remaining person carries it")

	// Deleting removes the files and reports what went
	deleted, err := source.ListOldOutputTabs(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, tabs, deleted)

	left, err := source.ListOldOutputTabs(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestWriteResultsHonorsColumnsToKeep(t *testing.T) {
	baseDir, settings := testSourceDir(t)
	settings.ColumnsToKeep = []string{"gender"}

	source, err := NewFactory(baseDir).Open(settings)
	require.NoError(t, err)

	selected := []selection.Person{
		{ID: "p001", Fields: map[string]string{"gender": "female", "postcode": "AB1"}},
	}
	require.NoError(t, source.WriteResults(context.Background(), selected, nil, nil))

	tabs, err := source.ListOldOutputTabs(context.Background(), true)
	require.NoError(t, err)
	require.NotEmpty(t, tabs)

	f, err := os.Open(filepath.Join(baseDir, settings.SourceID, tabs[0]))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"nationbuilder_id", "gender"}, rows[0])
	assert.NotContains(t, rows[0], "postcode")
}

func TestLoadRosterRejectsMissingIDColumn(t *testing.T) {
	baseDir, settings := testSourceDir(t)
	settings.IDColumn = "voter_ref"

	source, err := NewFactory(baseDir).Open(settings)
	require.NoError(t, err)

	_, err = source.LoadRoster(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voter_ref")
}

func TestLoadCriteriaRejectsMalformedRows(t *testing.T) {
	source, dir := openSource(t)

	writeFile(t, dir, "criteria.csv",
		"category,value,min,max\n"+
			"gender,female,lots,2\n")

	_, err := source.LoadCriteria(context.Background())
	require.Error(t, err)
}
