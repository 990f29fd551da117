// Package ordering computes position changes for dense, zero-based sibling
// lists. It holds no state: callers pass the current counts or lists and get
// back the final placement plus the relative shifts a store must apply.
package ordering

import (
	"fmt"
	"sort"
)

// Delta shifts every sibling in Scope whose position is >= From by By,
// skipping the item named by Except.
type Delta struct {
	Scope  string
	From   int
	By     int
	Except string
}

// Plan is the outcome of an insert, remove or move.
type Plan struct {
	Scope    string
	Position int
	Deltas   []Delta
	// Noop is set when the item already sits at the requested place.
	Noop bool
	// Clamped is set when the requested position fell outside the valid range.
	Clamped bool
	// Appended is set when the item lands after every other sibling.
	Appended bool
}

// Clamp bounds position to [0, max] and reports whether it had to.
func Clamp(position, max int) (int, bool) {
	if max < 0 {
		max = 0
	}
	switch {
	case position < 0:
		return 0, true
	case position > max:
		return max, true
	default:
		return position, false
	}
}

// PlanInsert places a new item into a scope holding count siblings.
// A nil requested position appends.
func PlanInsert(scope string, count int, requested *int) Plan {
	plan := Plan{Scope: scope, Position: count, Appended: true}
	if requested == nil {
		return plan
	}
	pos, clamped := Clamp(*requested, count)
	plan.Position = pos
	plan.Clamped = clamped
	if pos < count {
		plan.Appended = false
		plan.Deltas = []Delta{{Scope: scope, From: pos, By: 1}}
	}
	return plan
}

// PlanRemove closes the gap left by an item at position.
func PlanRemove(scope string, position int, item string) Plan {
	return Plan{
		Scope:    scope,
		Position: position,
		Deltas:   []Delta{{Scope: scope, From: position + 1, By: -1, Except: item}},
	}
}

// PlanMove relocates item from (fromScope, fromPos) into toScope, which
// currently holds toCount siblings (the item included when the scope is
// unchanged). A nil requested position appends on a scope change and is a
// no-op otherwise.
func PlanMove(item, fromScope string, fromPos int, toScope string, toCount int, requested *int) Plan {
	sameScope := fromScope == toScope
	others := toCount
	if sameScope {
		others = toCount - 1
	}
	if others < 0 {
		others = 0
	}

	if requested == nil {
		if sameScope {
			return Plan{Scope: fromScope, Position: fromPos, Noop: true}
		}
		requested = &others
	}

	pos, clamped := Clamp(*requested, others)
	if sameScope && pos == fromPos {
		return Plan{Scope: fromScope, Position: fromPos, Noop: true, Clamped: clamped}
	}

	plan := Plan{
		Scope:    toScope,
		Position: pos,
		Clamped:  clamped,
		Appended: pos == others,
		Deltas:   []Delta{{Scope: fromScope, From: fromPos + 1, By: -1, Except: item}},
	}
	if !plan.Appended {
		plan.Deltas = append(plan.Deltas, Delta{Scope: toScope, From: pos, By: 1, Except: item})
	}
	return plan
}

// GapError reports a scope whose positions are not exactly 0..n-1.
type GapError struct {
	Scope     string
	Positions []int
}

func (e *GapError) Error() string {
	return fmt.Sprintf("positions in %s are not dense: %v", e.Scope, e.Positions)
}

// CheckDense verifies that positions, in any order, are a permutation of 0..n-1.
func CheckDense(scope string, positions []int) error {
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	for i, pos := range sorted {
		if pos != i {
			return &GapError{Scope: scope, Positions: sorted}
		}
	}
	return nil
}
