package selection

import (
	"strings"

	"github.com/sortitionfoundation/opendlp/errors"
)

// CategoryValue is one value of a stratification category with its
// selectable bounds, e.g. gender=female min 5 max 5
type CategoryValue struct {
	Name string `json:"name"`
	Min  int    `json:"min"`
	Max  int    `json:"max"`
}

// Category is one stratification axis, e.g. gender, age bracket, region
type Category struct {
	Name   string          `json:"name"`
	Values []CategoryValue `json:"values"`
}

// Criteria is the full category/value structure the algorithm stratifies
// against
type Criteria []Category

// Validate checks structural correctness of the criteria: every category
// has at least one value, and every value has sane bounds.
func (c Criteria) Validate() error {
	if len(c) == 0 {
		return errors.New("criteria contain no categories")
	}
	for _, cat := range c {
		if cat.Name == "" {
			return errors.New("criteria contain a category with no name")
		}
		if len(cat.Values) == 0 {
			return errors.Newf("category %q has no values", cat.Name)
		}
		for _, v := range cat.Values {
			if v.Min < 0 {
				return errors.Newf("category %q value %q has negative minimum %d", cat.Name, v.Name, v.Min)
			}
			if v.Max < v.Min {
				return errors.Newf("category %q value %q has maximum %d below minimum %d", cat.Name, v.Name, v.Max, v.Min)
			}
		}
	}
	return nil
}

// SelectableRange computes the feasible panel-size range implied by the
// criteria: the target must be at least every category's summed minimums
// and at most every category's summed maximums.
func (c Criteria) SelectableRange() (minSelectable, maxSelectable int) {
	first := true
	for _, cat := range c {
		sumMin, sumMax := 0, 0
		for _, v := range cat.Values {
			sumMin += v.Min
			sumMax += v.Max
		}
		if first {
			minSelectable, maxSelectable = sumMin, sumMax
			first = false
			continue
		}
		if sumMin > minSelectable {
			minSelectable = sumMin
		}
		if sumMax < maxSelectable {
			maxSelectable = sumMax
		}
	}
	return minSelectable, maxSelectable
}

// Person is one roster entry. Fields holds the source columns verbatim,
// keyed by column name; ID is the value of the configured id column.
type Person struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields,omitempty"`
}

// CheckCoverage verifies every person carries a known value for every
// category. A person with a value the criteria do not list makes the
// dataset unusable for stratification.
func CheckCoverage(criteria Criteria, roster []Person) error {
	valuesByCategory := make(map[string]map[string]bool, len(criteria))
	for _, cat := range criteria {
		vals := make(map[string]bool, len(cat.Values))
		for _, v := range cat.Values {
			vals[v.Name] = true
		}
		valuesByCategory[cat.Name] = vals
	}

	for _, person := range roster {
		for catName, vals := range valuesByCategory {
			got, ok := person.Fields[catName]
			if !ok || got == "" {
				return errors.Newf("person %s has no value for category %q", person.ID, catName)
			}
			if !vals[got] {
				return errors.Newf("person %s has unknown value %q for category %q", person.ID, got, catName)
			}
		}
	}
	return nil
}

// Partition splits the roster into the selected panel and the remainder.
// Panel members missing from the roster are ignored (they were selected
// from a stale roster and cannot be written back).
func Partition(roster []Person, panel Panel) (selected, remaining []Person) {
	inPanel := make(map[string]bool, len(panel))
	for _, id := range panel {
		inPanel[id] = true
	}

	for _, person := range roster {
		if inPanel[person.ID] {
			selected = append(selected, person)
		} else {
			remaining = append(remaining, person)
		}
	}
	return selected, remaining
}

// SameAddressColumn is the computed column added to remaining people who
// share an address with a selected person.
const SameAddressColumn = "same_address_as_selected"

// FlagSameAddress marks every remaining person who shares an address with
// a selected person, using the configured address columns. Returns the
// number of people flagged.
func FlagSameAddress(selected, remaining []Person, addressColumns []string) int {
	if len(addressColumns) == 0 {
		return 0
	}

	selectedAddrs := make(map[string]bool, len(selected))
	for _, person := range selected {
		selectedAddrs[addressKey(person, addressColumns)] = true
	}

	flagged := 0
	for i := range remaining {
		if selectedAddrs[addressKey(remaining[i], addressColumns)] {
			if remaining[i].Fields == nil {
				remaining[i].Fields = make(map[string]string)
			}
			remaining[i].Fields[SameAddressColumn] = "yes"
			flagged++
		}
	}
	return flagged
}

// addressKey builds a normalized address key from the configured columns
func addressKey(person Person, addressColumns []string) string {
	parts := make([]string, 0, len(addressColumns))
	for _, col := range addressColumns {
		parts = append(parts, strings.ToLower(strings.TrimSpace(person.Fields[col])))
	}
	return strings.Join(parts, "|")
}
