// Package stratify provides the reference stratified-selection algorithm:
// a greedy quota-filling selector over category/value criteria.
package stratify

import (
	"context"
	"math/rand"
	"time"

	"github.com/sortitionfoundation/opendlp/errors"
	"github.com/sortitionfoundation/opendlp/selection"
)

// testSeed makes test-mode selections reproducible
const testSeed = 1

// Greedy selects people by repeatedly picking the candidate that covers
// the most unmet category minimums, with random tie-breaking. It is not
// optimal, but it satisfies feasible quotas in practice and reports
// precisely which quota blocked an infeasible one.
type Greedy struct {
	seed int64
}

// NewGreedy creates a greedy selector with a time-based seed
func NewGreedy() *Greedy {
	return &Greedy{seed: time.Now().UnixNano()}
}

// NewGreedyWithSeed creates a greedy selector with a fixed seed
func NewGreedyWithSeed(seed int64) *Greedy {
	return &Greedy{seed: seed}
}

// quota tracks one category value's bounds and current count
type quota struct {
	category string
	value    string
	min      int
	max      int
	count    int
}

// Stratify implements selection.Stratifier
func (g *Greedy) Stratify(ctx context.Context, criteria selection.Criteria, roster []selection.Person, targetCount int, testMode bool, alreadySelected []selection.Person) (selection.StratifyOutcome, error) {
	outcome := selection.StratifyOutcome{}

	if targetCount <= 0 {
		return outcome, errors.Newf("target count must be positive, got %d", targetCount)
	}

	minSel, maxSel := criteria.SelectableRange()
	if targetCount < minSel || targetCount > maxSel {
		outcome.Report.Critical("target of %d is outside the selectable range %d to %d implied by the criteria", targetCount, minSel, maxSel)
		return outcome, nil
	}

	excluded := make(map[string]bool, len(alreadySelected))
	for _, person := range alreadySelected {
		excluded[person.ID] = true
	}

	candidates := make([]selection.Person, 0, len(roster))
	for _, person := range roster {
		if !excluded[person.ID] {
			candidates = append(candidates, person)
		}
	}

	if len(candidates) < targetCount {
		outcome.Report.Critical("only %d eligible people for a target of %d", len(candidates), targetCount)
		return outcome, nil
	}

	quotas := buildQuotas(criteria)

	seed := g.seed
	if testMode {
		seed = testSeed
	}
	rng := rand.New(rand.NewSource(seed))

	picked := make([]bool, len(candidates))
	panel := make(selection.Panel, 0, targetCount)

	for len(panel) < targetCount {
		if err := ctx.Err(); err != nil {
			return outcome, errors.Wrap(err, "selection cancelled")
		}

		idx := pickBest(candidates, picked, quotas, rng)
		if idx < 0 {
			outcome.Report.Critical("no remaining candidate fits the criteria after selecting %d of %d", len(panel), targetCount)
			reportShortfalls(&outcome.Report, quotas)
			return outcome, nil
		}

		picked[idx] = true
		panel = append(panel, candidates[idx].ID)
		for _, q := range quotas {
			if candidates[idx].Fields[q.category] == q.value {
				q.count++
			}
		}
	}

	if unmet := unmetQuotas(quotas); len(unmet) > 0 {
		outcome.Report.Critical("selection of %d people left %d quota minimums unmet", targetCount, len(unmet))
		reportShortfalls(&outcome.Report, quotas)
		return outcome, nil
	}

	for _, q := range quotas {
		outcome.Report.Info("%s=%s: selected %d (wanted %d to %d)", q.category, q.value, q.count, q.min, q.max)
	}

	outcome.OK = true
	outcome.Panels = []selection.Panel{panel}
	return outcome, nil
}

func buildQuotas(criteria selection.Criteria) []*quota {
	var quotas []*quota
	for _, cat := range criteria {
		for _, v := range cat.Values {
			quotas = append(quotas, &quota{
				category: cat.Name,
				value:    v.Name,
				min:      v.Min,
				max:      v.Max,
			})
		}
	}
	return quotas
}

// pickBest returns the index of the unpicked candidate covering the most
// unmet minimums, random among ties, or -1 if every remaining candidate
// would push some quota past its maximum.
func pickBest(candidates []selection.Person, picked []bool, quotas []*quota, rng *rand.Rand) int {
	bestScore := -1
	var best []int

	for i, person := range candidates {
		if picked[i] {
			continue
		}

		score, ok := scoreCandidate(person, quotas)
		if !ok {
			continue
		}

		if score > bestScore {
			bestScore = score
			best = best[:0]
			best = append(best, i)
		} else if score == bestScore {
			best = append(best, i)
		}
	}

	if len(best) == 0 {
		return -1
	}
	return best[rng.Intn(len(best))]
}

// scoreCandidate counts how many unmet minimums the person helps with.
// ok is false when picking them would exceed a maximum.
func scoreCandidate(person selection.Person, quotas []*quota) (score int, ok bool) {
	for _, q := range quotas {
		if person.Fields[q.category] != q.value {
			continue
		}
		if q.count >= q.max {
			return 0, false
		}
		if q.count < q.min {
			score++
		}
	}
	return score, true
}

func unmetQuotas(quotas []*quota) []*quota {
	var unmet []*quota
	for _, q := range quotas {
		if q.count < q.min {
			unmet = append(unmet, q)
		}
	}
	return unmet
}

func reportShortfalls(report *selection.RunReport, quotas []*quota) {
	for _, q := range unmetQuotas(quotas) {
		report.Warning("%s=%s: selected %d of minimum %d", q.category, q.value, q.count, q.min)
	}
}
