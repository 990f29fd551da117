package ordering

import "errors"

var ErrUnknownItem = errors.New("item not found in any scope")

// Lists maps a scope id to the ids it contains, in position order.
type Lists map[string][]string

// Clone returns a deep copy.
func (l Lists) Clone() Lists {
	out := make(Lists, len(l))
	for scope, ids := range l {
		out[scope] = append([]string(nil), ids...)
	}
	return out
}

// Locate returns the scope and index holding id.
func (l Lists) Locate(id string) (string, int, bool) {
	for scope, ids := range l {
		for i, candidate := range ids {
			if candidate == id {
				return scope, i, true
			}
		}
	}
	return "", 0, false
}

// Insert returns a copy with id placed in scope and the plan that produced it.
func (l Lists) Insert(scope, id string, requested *int) (Lists, Plan) {
	plan := PlanInsert(scope, len(l[scope]), requested)
	out := l.Clone()
	out[scope] = insertAt(out[scope], plan.Position, id)
	return out, plan
}

// Remove returns a copy without id.
func (l Lists) Remove(id string) (Lists, Plan, error) {
	scope, index, ok := l.Locate(id)
	if !ok {
		return l, Plan{}, ErrUnknownItem
	}
	plan := PlanRemove(scope, index, id)
	out := l.Clone()
	out[scope] = removeAt(out[scope], index)
	return out, plan, nil
}

// Move returns a copy with id relocated to toScope.
func (l Lists) Move(id, toScope string, requested *int) (Lists, Plan, error) {
	fromScope, fromIndex, ok := l.Locate(id)
	if !ok {
		return l, Plan{}, ErrUnknownItem
	}
	plan := PlanMove(id, fromScope, fromIndex, toScope, len(l[toScope]), requested)
	if plan.Noop {
		return l, plan, nil
	}
	out := l.Clone()
	out[fromScope] = removeAt(out[fromScope], fromIndex)
	out[toScope] = insertAt(out[toScope], plan.Position, id)
	return out, plan, nil
}

// ArrayMove returns a copy of ids with the element at from relocated to to.
func ArrayMove(ids []string, from, to int) []string {
	out := append([]string(nil), ids...)
	if from < 0 || from >= len(out) {
		return out
	}
	to, _ = Clamp(to, len(out)-1)
	item := out[from]
	out = removeAt(out, from)
	return insertAt(out, to, item)
}

func insertAt(ids []string, index int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}

func removeAt(ids []string, index int) []string {
	out := make([]string, 0, len(ids))
	out = append(out, ids[:index]...)
	return append(out, ids[index+1:]...)
}
