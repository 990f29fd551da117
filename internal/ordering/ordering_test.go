package ordering

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

type placement struct {
	scope    string
	position int
}

// applyDeltas mimics the relative UPDATE statements a store runs.
func applyDeltas(items map[string]placement, deltas []Delta) {
	for _, d := range deltas {
		for id, p := range items {
			if id == d.Except || p.scope != d.Scope || p.position < d.From {
				continue
			}
			p.position += d.By
			items[id] = p
		}
	}
}

func placementsOf(lists Lists) map[string]placement {
	items := map[string]placement{}
	for scope, ids := range lists {
		for i, id := range ids {
			items[id] = placement{scope: scope, position: i}
		}
	}
	return items
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in, max, want int
		clamped       bool
	}{
		{in: 0, max: 3, want: 0},
		{in: 3, max: 3, want: 3},
		{in: 4, max: 3, want: 3, clamped: true},
		{in: -1, max: 3, want: 0, clamped: true},
		{in: 2, max: -1, want: 0, clamped: true},
	}
	for _, tc := range cases {
		got, clamped := Clamp(tc.in, tc.max)
		assert.Equal(t, tc.want, got, "Clamp(%d, %d)", tc.in, tc.max)
		assert.Equal(t, tc.clamped, clamped, "Clamp(%d, %d) clamped", tc.in, tc.max)
	}
}

func TestPlanInsertAppendsWithoutPosition(t *testing.T) {
	plan := PlanInsert("col", 3, nil)
	assert.Equal(t, 3, plan.Position)
	assert.True(t, plan.Appended)
	assert.Empty(t, plan.Deltas)
}

func TestPlanInsertAtCountIsAppend(t *testing.T) {
	plan := PlanInsert("col", 3, intPtr(3))
	assert.Equal(t, 3, plan.Position)
	assert.False(t, plan.Clamped)
	assert.Empty(t, plan.Deltas)
}

func TestPlanInsertShiftsTail(t *testing.T) {
	plan := PlanInsert("col", 3, intPtr(1))
	assert.Equal(t, 1, plan.Position)
	assert.Equal(t, []Delta{{Scope: "col", From: 1, By: 1}}, plan.Deltas)
}

func TestPlanInsertClampsBothDirections(t *testing.T) {
	high := PlanInsert("col", 2, intPtr(9))
	assert.Equal(t, 2, high.Position)
	assert.True(t, high.Clamped)
	assert.Empty(t, high.Deltas)

	low := PlanInsert("col", 2, intPtr(-4))
	assert.Equal(t, 0, low.Position)
	assert.True(t, low.Clamped)
	assert.Equal(t, []Delta{{Scope: "col", From: 0, By: 1}}, low.Deltas)
}

func TestPlanMoveSamePositionIsNoop(t *testing.T) {
	plan := PlanMove("t", "a", 1, "a", 3, intPtr(1))
	assert.True(t, plan.Noop)
	assert.Empty(t, plan.Deltas)
}

func TestPlanMoveWithoutPositionInSameScopeIsNoop(t *testing.T) {
	plan := PlanMove("t", "a", 1, "a", 3, nil)
	assert.True(t, plan.Noop)
}

func TestPlanMoveWithoutPositionAcrossScopesAppends(t *testing.T) {
	plan := PlanMove("t", "a", 0, "b", 2, nil)
	assert.Equal(t, "b", plan.Scope)
	assert.Equal(t, 2, plan.Position)
	assert.True(t, plan.Appended)
	assert.Equal(t, []Delta{{Scope: "a", From: 1, By: -1, Except: "t"}}, plan.Deltas)
}

func TestPlanMoveSameScopeClampsToLastIndex(t *testing.T) {
	plan := PlanMove("t", "a", 0, "a", 3, intPtr(10))
	assert.Equal(t, 2, plan.Position)
	assert.True(t, plan.Clamped)
	assert.True(t, plan.Appended)
}

func TestPlanMoveSameScopeClampToCurrentIsNoop(t *testing.T) {
	plan := PlanMove("t", "a", 2, "a", 3, intPtr(7))
	assert.True(t, plan.Noop)
	assert.True(t, plan.Clamped)
}

func TestListsMoveMatchesExample(t *testing.T) {
	lists := Lists{"A": {"t0", "t1", "t2"}, "B": {"u0"}}

	moved, plan, err := lists.Move("t1", "B", intPtr(0))
	require.NoError(t, err)
	assert.False(t, plan.Noop)
	assert.Equal(t, []string{"t0", "t2"}, moved["A"])
	assert.Equal(t, []string{"t1", "u0"}, moved["B"])
	assert.Equal(t, []string{"t0", "t1", "t2"}, lists["A"], "original lists must not change")
}

func TestListsMoveUnknownItem(t *testing.T) {
	_, _, err := Lists{"A": {"x"}}.Move("y", "A", nil)
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestListsRemoveClosesGap(t *testing.T) {
	lists := Lists{"A": {"a", "b", "c"}}
	out, plan, err := lists.Remove("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, out["A"])

	items := placementsOf(lists)
	delete(items, "a")
	applyDeltas(items, plan.Deltas)
	assert.Equal(t, placementsOf(out), items)
}

func TestArrayMove(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	assert.Equal(t, []string{"b", "c", "a", "d"}, ArrayMove(ids, 0, 2))
	assert.Equal(t, []string{"d", "a", "b", "c"}, ArrayMove(ids, 3, 0))
	assert.Equal(t, []string{"b", "c", "d", "a"}, ArrayMove(ids, 0, 99))
	assert.Equal(t, ids, ArrayMove(ids, 7, 0))
}

func TestCheckDense(t *testing.T) {
	assert.NoError(t, CheckDense("s", nil))
	assert.NoError(t, CheckDense("s", []int{2, 0, 1}))

	var gapErr *GapError
	err := CheckDense("s", []int{0, 2})
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, []int{0, 2}, gapErr.Positions)

	assert.Error(t, CheckDense("s", []int{0, 1, 1}))
}

// Random operation sequences: deltas applied to stored positions must agree
// with the list result, and every scope must stay dense.
func TestDeltasAgreeWithLists(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	scopes := []string{"A", "B", "C"}
	lists := Lists{"A": {}, "B": {}, "C": {}}
	items := map[string]placement{}
	next := 0

	for step := 0; step < 2000; step++ {
		var requested *int
		if rng.Intn(4) > 0 {
			requested = intPtr(rng.Intn(12) - 2)
		}

		switch op := rng.Intn(10); {
		case op < 4 || len(items) == 0:
			id := fmt.Sprintf("i%d", next)
			next++
			out, plan := lists.Insert(scopes[rng.Intn(len(scopes))], id, requested)
			applyDeltas(items, plan.Deltas)
			items[id] = placement{scope: plan.Scope, position: plan.Position}
			lists = out
		case op < 6:
			id := randomItem(rng, lists)
			out, plan, err := lists.Remove(id)
			require.NoError(t, err)
			delete(items, id)
			applyDeltas(items, plan.Deltas)
			lists = out
		default:
			id := randomItem(rng, lists)
			out, plan, err := lists.Move(id, scopes[rng.Intn(len(scopes))], requested)
			require.NoError(t, err)
			if !plan.Noop {
				applyDeltas(items, plan.Deltas)
				items[id] = placement{scope: plan.Scope, position: plan.Position}
			}
			lists = out
		}

		require.Equal(t, placementsOf(lists), items, "step %d", step)
		for _, scope := range scopes {
			positions := []int{}
			for _, p := range items {
				if p.scope == scope {
					positions = append(positions, p.position)
				}
			}
			require.NoError(t, CheckDense(scope, positions), "step %d", step)
		}
	}
}

func TestMoveThenMoveBackRestoresOrder(t *testing.T) {
	lists := Lists{"A": {"a", "b", "c"}, "B": {"x", "y"}}
	out, _, err := lists.Move("b", "B", intPtr(1))
	require.NoError(t, err)
	back, _, err := out.Move("b", "A", intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, lists, back)
}

func randomItem(rng *rand.Rand, lists Lists) string {
	var all []string
	for _, scope := range []string{"A", "B", "C"} {
		all = append(all, lists[scope]...)
	}
	return all[rng.Intn(len(all))]
}
