package selection

import (
	"encoding/json"

	"github.com/sortitionfoundation/opendlp/errors"
)

// ResultKind tags the shape of a run result
type ResultKind string

const (
	ResultKindLoad   ResultKind = "load"
	ResultKindSelect ResultKind = "select"
	ResultKindTabs   ResultKind = "tabs"
)

// LoadResult is the payload of a completed load workflow
type LoadResult struct {
	Criteria             Criteria `json:"criteria"`
	Roster               []Person `json:"roster"`
	AlreadySelectedCount int      `json:"already_selected_count"`
	MinSelectable        int      `json:"min_selectable"`
	MaxSelectable        int      `json:"max_selectable"`
}

// SelectResult is the payload of a completed select workflow: the candidate
// panels returned by the algorithm. Only the first panel is persisted onto
// the run record, but the full set is kept in the result for inspection.
type SelectResult struct {
	Panels []Panel `json:"panels"`
}

// TabManagementResult is the payload of a tab-management workflow
type TabManagementResult struct {
	Tabs    []string `json:"tabs"`
	Deleted bool     `json:"deleted"`
}

// Result is the tagged union of workflow results. Exactly one of the
// payload pointers is set, matching Kind, so the status aggregator's decode
// is exhaustively checked instead of shape-assumed.
type Result struct {
	Kind   ResultKind           `json:"kind"`
	Load   *LoadResult          `json:"load,omitempty"`
	Select *SelectResult        `json:"select,omitempty"`
	Tabs   *TabManagementResult `json:"tabs,omitempty"`
}

// NewLoadResult wraps a LoadResult in the union
func NewLoadResult(load LoadResult) *Result {
	return &Result{Kind: ResultKindLoad, Load: &load}
}

// NewSelectResult wraps a SelectResult in the union
func NewSelectResult(sel SelectResult) *Result {
	return &Result{Kind: ResultKindSelect, Select: &sel}
}

// NewTabsResult wraps a TabManagementResult in the union
func NewTabsResult(tabs TabManagementResult) *Result {
	return &Result{Kind: ResultKindTabs, Tabs: &tabs}
}

// Marshal encodes the result for storage as the substrate job result
func (r *Result) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal result")
	}
	return data, nil
}

// ExpectedResultKind returns the result kind a task type produces
func ExpectedResultKind(taskType TaskType) ResultKind {
	switch {
	case taskType.IsTabManagement():
		return ResultKindTabs
	case taskType.IsSelectWorkflow():
		return ResultKindSelect
	default:
		return ResultKindLoad
	}
}

// DecodeResult decodes a substrate result payload for the given task type.
// A payload whose shape does not match the task type is a programming
// defect (the executor wrote it), reported as an assertion failure rather
// than a user-facing error.
func DecodeResult(taskType TaskType, raw json.RawMessage) (*Result, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.AssertionFailedf("undecodable result payload for task type %s: %v", taskType, err)
	}

	expected := ExpectedResultKind(taskType)
	if result.Kind != expected {
		return nil, errors.AssertionFailedf("result kind %s does not match task type %s (expected %s)", result.Kind, taskType, expected)
	}

	switch result.Kind {
	case ResultKindLoad:
		if result.Load == nil {
			return nil, errors.AssertionFailedf("load result payload missing for task type %s", taskType)
		}
	case ResultKindSelect:
		if result.Select == nil {
			return nil, errors.AssertionFailedf("select result payload missing for task type %s", taskType)
		}
	case ResultKindTabs:
		if result.Tabs == nil {
			return nil, errors.AssertionFailedf("tabs result payload missing for task type %s", taskType)
		}
	}

	return &result, nil
}
