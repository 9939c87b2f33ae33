// Package csvdir implements a selection data source backed by a directory
// of CSV files. Each source is one directory holding criteria.csv,
// people.csv and optionally already_selected.csv; selection results are
// written back as timestamped output files in the same directory, which
// double as the "output tabs" that tab management lists and deletes.
package csvdir

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/sortitionfoundation/opendlp/errors"
	"github.com/sortitionfoundation/opendlp/selection"
)

const (
	criteriaFile        = "criteria.csv"
	peopleFile          = "people.csv"
	alreadySelectedFile = "already_selected.csv"

	// outputPrefix marks generated result files so tab management can tell
	// them apart from the input files
	outputPrefix = "output-"
)

// Factory opens CSV-directory sources beneath a base directory. The
// settings' source id is the directory name.
type Factory struct {
	baseDir string
}

// NewFactory creates a factory rooted at baseDir
func NewFactory(baseDir string) *Factory {
	return &Factory{baseDir: baseDir}
}

// Open implements selection.SourceFactory
func (f *Factory) Open(settings selection.Settings) (selection.DataSource, error) {
	if settings.SourceID == "" {
		return nil, errors.Wrap(errors.ErrMissingSettings, "settings have no source id")
	}

	dir := filepath.Join(f.baseDir, settings.SourceID)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, wrapFSError(err, "source directory "+settings.SourceID)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(selection.ErrSourceUnavailable, "source %s is not a directory", settings.SourceID)
	}

	return &Source{dir: dir, settings: settings}, nil
}

// Source is one CSV-directory data source
type Source struct {
	dir      string
	settings selection.Settings
}

// LoadCriteria implements selection.DataSource. criteria.csv has a header
// row of category,value,min,max.
func (s *Source) LoadCriteria(ctx context.Context) (selection.Criteria, error) {
	rows, err := s.readCSV(criteriaFile)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.Newf("%s has no data rows", criteriaFile)
	}

	var criteria selection.Criteria
	index := make(map[string]int)

	for lineNo, row := range rows[1:] {
		if len(row) < 4 {
			return nil, errors.Newf("%s row %d has %d columns, want 4", criteriaFile, lineNo+2, len(row))
		}
		category, value := row[0], row[1]
		min, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d has a non-numeric minimum", criteriaFile, lineNo+2)
		}
		max, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d has a non-numeric maximum", criteriaFile, lineNo+2)
		}

		i, seen := index[category]
		if !seen {
			criteria = append(criteria, selection.Category{Name: category})
			i = len(criteria) - 1
			index[category] = i
		}
		criteria[i].Values = append(criteria[i].Values, selection.CategoryValue{
			Name: value,
			Min:  min,
			Max:  max,
		})
	}

	return criteria, nil
}

// LoadRoster implements selection.DataSource
func (s *Source) LoadRoster(ctx context.Context, criteria selection.Criteria) ([]selection.Person, error) {
	return s.readPeople(peopleFile, true)
}

// LoadAlreadySelected implements selection.DataSource. A missing file
// means no one was selected before, not an error.
func (s *Source) LoadAlreadySelected(ctx context.Context, criteria selection.Criteria) ([]selection.Person, error) {
	people, err := s.readPeople(alreadySelectedFile, true)
	if errors.Is(err, selection.ErrSourceUnavailable) {
		return nil, nil
	}
	return people, err
}

// readPeople parses a people-shaped CSV into Person records keyed by the
// configured id column
func (s *Source) readPeople(name string, requireID bool) ([]selection.Person, error) {
	rows, err := s.readCSV(name)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Newf("%s has no header row", name)
	}

	header := rows[0]
	idIdx := -1
	for i, col := range header {
		if col == s.settings.IDColumn {
			idIdx = i
			break
		}
	}
	if requireID && idIdx < 0 {
		return nil, errors.Newf("%s has no %q column", name, s.settings.IDColumn)
	}

	people := make([]selection.Person, 0, len(rows)-1)
	for lineNo, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, errors.Newf("%s row %d has %d columns, want %d", name, lineNo+2, len(row), len(header))
		}

		fields := make(map[string]string, len(header))
		for i, col := range header {
			fields[col] = row[i]
		}

		person := selection.Person{Fields: fields}
		if idIdx >= 0 {
			person.ID = row[idIdx]
		}
		if person.ID == "" {
			return nil, errors.Newf("%s row %d has an empty id", name, lineNo+2)
		}
		people = append(people, person)
	}

	return people, nil
}

// WriteResults implements selection.DataSource. Each call writes one
// timestamped set of output files; earlier outputs are left in place for
// tab management to clean up.
func (s *Source) WriteResults(ctx context.Context, selected, remaining, alreadySelected []selection.Person) error {
	stamp := time.Now().UTC().Format("20060102-150405")

	columns := s.outputColumns(selected, remaining)

	tables := []struct {
		suffix string
		people []selection.Person
	}{
		{"selected", selected},
		{"remaining", remaining},
	}
	if len(alreadySelected) > 0 {
		tables = append(tables, struct {
			suffix string
			people []selection.Person
		}{"already-selected", alreadySelected})
	}

	for _, table := range tables {
		name := fmt.Sprintf("%s%s-%s.csv", outputPrefix, stamp, table.suffix)
		if err := s.writeCSV(name, columns, table.people); err != nil {
			return err
		}
	}

	return nil
}

// outputColumns decides the column order for output files: the id column,
// then the configured columns to keep (or every seen column, sorted), then
// the same-address flag when present
func (s *Source) outputColumns(selected, remaining []selection.Person) []string {
	columns := []string{s.settings.IDColumn}

	if len(s.settings.ColumnsToKeep) > 0 {
		for _, col := range s.settings.ColumnsToKeep {
			if col != s.settings.IDColumn {
				columns = append(columns, col)
			}
		}
	} else {
		seen := make(map[string]bool)
		for _, person := range selected {
			for col := range person.Fields {
				seen[col] = true
			}
		}
		var rest []string
		for col := range seen {
			if col != s.settings.IDColumn && col != selection.SameAddressColumn {
				rest = append(rest, col)
			}
		}
		sort.Strings(rest)
		columns = append(columns, rest...)
	}

	for _, person := range remaining {
		if person.Fields[selection.SameAddressColumn] != "" {
			columns = append(columns, selection.SameAddressColumn)
			break
		}
	}

	return columns
}

// ListOldOutputTabs implements selection.DataSource
func (s *Source) ListOldOutputTabs(ctx context.Context, dryRun bool) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, outputPrefix+"*.csv"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list output files")
	}
	sort.Strings(matches)

	tabs := make([]string, 0, len(matches))
	for _, match := range matches {
		tabs = append(tabs, filepath.Base(match))
	}

	if dryRun {
		return tabs, nil
	}

	for _, match := range matches {
		if err := os.Remove(match); err != nil {
			return nil, wrapFSError(err, "output file "+filepath.Base(match))
		}
	}
	return tabs, nil
}

func (s *Source) readCSV(name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, wrapFSError(err, name)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", name)
	}
	return rows, nil
}

func (s *Source) writeCSV(name string, columns []string, people []selection.Person) error {
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return wrapFSError(err, name)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return errors.Wrapf(err, "failed to write %s header", name)
	}

	row := make([]string, len(columns))
	for _, person := range people {
		for i, col := range columns {
			if col == s.settings.IDColumn {
				row[i] = person.ID
			} else {
				row[i] = person.Fields[col]
			}
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "failed to write %s row", name)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "failed to flush %s", name)
	}
	return nil
}

// wrapFSError maps filesystem errors onto the source sentinels the
// pipeline rewrites for users
func wrapFSError(err error, what string) error {
	switch {
	case os.IsPermission(err):
		return errors.Wrapf(selection.ErrSourcePermissionDenied, "%s: %v", what, err)
	case os.IsNotExist(err):
		return errors.Wrapf(selection.ErrSourceUnavailable, "%s: %v", what, err)
	default:
		return errors.Wrapf(err, "failed to access %s", what)
	}
}
