// Package client mirrors a board's ordering in memory while the user drags
// cards and columns, and reconciles that mirror with the server.
package client

import (
	"errors"
	"sync"

	"taskboard/api/internal/ordering"
	"taskboard/api/internal/store"
)

var (
	ErrNoDrag       = errors.New("no drag in progress")
	ErrDragActive   = errors.New("a drag is already in progress")
	ErrUnknownItem  = ordering.ErrUnknownItem
	ErrWrongBoard   = errors.New("board does not match the reducer")
	errUnknownScope = errors.New("unknown scope")
)

type Status int

const (
	Confirmed Status = iota
	Pending
)

func (s Status) String() string {
	if s == Pending {
		return "pending"
	}
	return "confirmed"
}

// ItemState is where the client believes an item sits. Pending items show a
// tentative place the server has not committed yet.
type ItemState struct {
	Status   Status
	Scope    string
	Position int
}

type IntentKind int

const (
	// IntentNone: the drop was cancelled and the pre-drag order restored.
	IntentNone IntentKind = iota
	// IntentRefresh: the item landed where it started; only refetch.
	IntentRefresh
	// IntentMove: persist the move described by the intent.
	IntentMove
)

// Intent is what a finished drag asks the caller to do.
type Intent struct {
	Kind     IntentKind
	Seq      uint64
	Item     string
	Column   bool
	Scope    string
	Position int
}

// Outcome reports what Fail did with a failed move.
type Outcome int

const (
	// Ignored: the response belonged to a superseded move.
	Ignored Outcome = iota
	// RolledBack: the pre-drag order was restored.
	RolledBack
	// NeedsRefetch: newer optimistic state exists; fetch the board instead.
	NeedsRefetch
)

type drag struct {
	item      string
	column    bool
	fromScope string
	fromIndex int
	snapshot  ordering.Lists
	// crossedOn is the over id that carried the item into another scope.
	crossedOn string
}

type pendingMove struct {
	item     string
	snapshot ordering.Lists
	// loads is the load generation the snapshot was taken under.
	loads uint64
}

// Reducer holds the tentative order of one board. Columns live in the scope
// keyed by the board uuid, tasks in scopes keyed by their column uuid.
// It is safe for concurrent use.
type Reducer struct {
	mu        sync.Mutex
	boardUUID string
	version   int64
	lists     ordering.Lists
	names     map[string]string
	items     map[string]ItemState
	drag      *drag
	seq       uint64
	loads     uint64
	inflight  map[string]uint64
	pending   map[uint64]pendingMove
}

func NewReducer(boardUUID string) *Reducer {
	return &Reducer{
		boardUUID: boardUUID,
		version:   -1,
		lists:     ordering.Lists{boardUUID: {}},
		names:     map[string]string{},
		items:     map[string]ItemState{},
		inflight:  map[string]uint64{},
		pending:   map[uint64]pendingMove{},
	}
}

// Load replaces the mirror with the server's board. A board older than the
// last one applied is ignored and Load reports false. The loaded order wins
// over moves still in flight; those keep their Pending mark at the loaded
// place until confirmed.
func (r *Reducer) Load(board store.BoardDetail) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if board.UUID != r.boardUUID {
		return false, ErrWrongBoard
	}
	if board.Version < r.version {
		return false, nil
	}

	lists := ordering.Lists{r.boardUUID: make([]string, 0, len(board.Columns))}
	names := map[string]string{}
	for _, column := range board.Columns {
		lists[r.boardUUID] = append(lists[r.boardUUID], column.UUID)
		names[column.UUID] = column.Name
		ids := make([]string, 0, len(column.Tasks))
		for _, task := range column.Tasks {
			ids = append(ids, task.UUID)
			names[task.UUID] = task.Name
		}
		lists[column.UUID] = ids
	}

	r.version = board.Version
	r.loads++
	r.lists = lists
	r.names = names
	r.items = map[string]ItemState{}
	for id := range r.inflight {
		if scope, index, ok := lists.Locate(id); ok {
			r.items[id] = ItemState{Status: Pending, Scope: scope, Position: index}
		}
	}
	return true, nil
}

// Version is the board version of the last applied load or confirmation.
func (r *Reducer) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Lists returns a copy of the current, possibly tentative, order.
func (r *Reducer) Lists() ordering.Lists {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists.Clone()
}

func (r *Reducer) Name(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names[id]
}

// State reports the item's place and whether the server has confirmed it.
func (r *Reducer) State(id string) (ItemState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.items[id]; ok {
		return state, true
	}
	scope, index, ok := r.lists.Locate(id)
	if !ok {
		return ItemState{}, false
	}
	return ItemState{Status: Confirmed, Scope: scope, Position: index}, true
}

// DragStart snapshots the order for rollback and records the origin.
func (r *Reducer) DragStart(item string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drag != nil {
		return ErrDragActive
	}
	scope, index, ok := r.lists.Locate(item)
	if !ok {
		return ErrUnknownItem
	}
	r.drag = &drag{
		item:      item,
		column:    scope == r.boardUUID,
		fromScope: scope,
		fromIndex: index,
		snapshot:  r.lists.Clone(),
	}
	return nil
}

// DragOver splices a dragged task into the scope under the pointer when that
// scope differs from the one holding it. Over a column it appends; over a
// task it takes that task's index. Column drags reorder only on drop.
func (r *Reducer) DragOver(over string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drag == nil {
		return ErrNoDrag
	}
	if r.drag.column || over == "" || over == r.drag.item {
		return nil
	}
	dest, err := r.resolve(over, false)
	if err != nil {
		return nil
	}
	scope, _, _ := r.lists.Locate(r.drag.item)
	if dest.scope == scope {
		return nil
	}
	lists, _, err := r.lists.Move(r.drag.item, dest.scope, &dest.index)
	if err != nil {
		return err
	}
	r.lists = lists
	r.drag.crossedOn = over
	return nil
}

// DragEnd finishes the drag over the given id. An empty id cancels it.
func (r *Reducer) DragEnd(over string) (Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.drag
	if d == nil {
		return Intent{}, ErrNoDrag
	}
	r.drag = nil

	if over == "" {
		r.lists = d.snapshot
		return Intent{Kind: IntentNone, Item: d.item}, nil
	}
	if over != d.item {
		dest, err := r.resolve(over, d.column)
		if err != nil {
			r.lists = d.snapshot
			return Intent{Kind: IntentNone, Item: d.item}, nil
		}
		scope, index, _ := r.lists.Locate(d.item)
		switch {
		case dest.scope != scope:
			lists, _, err := r.lists.Move(d.item, dest.scope, &dest.index)
			if err != nil {
				r.lists = d.snapshot
				return Intent{}, err
			}
			r.lists = lists
		case dest.isColumn && !d.column:
			// Dropped on its own column: keep the spliced place.
		case over == d.crossedOn:
			// DragOver already placed it relative to this task.
		default:
			r.lists[scope] = ordering.ArrayMove(r.lists[scope], index, dest.index)
		}
	}
	return r.finish(d.item, d.column, d.fromScope, d.fromIndex, d.snapshot), nil
}

// Move applies a move without a gesture, as a drag that ends at
// (scope, position). Positions are clamped like the server does.
func (r *Reducer) Move(item, scope string, position int) (Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drag != nil {
		return Intent{}, ErrDragActive
	}
	fromScope, fromIndex, ok := r.lists.Locate(item)
	if !ok {
		return Intent{}, ErrUnknownItem
	}
	column := fromScope == r.boardUUID
	if _, ok := r.lists[scope]; !ok || (column && scope != r.boardUUID) || (!column && scope == r.boardUUID) {
		return Intent{}, errUnknownScope
	}
	snapshot := r.lists.Clone()
	lists, _, err := r.lists.Move(item, scope, &position)
	if err != nil {
		return Intent{}, err
	}
	r.lists = lists
	return r.finish(item, column, fromScope, fromIndex, snapshot), nil
}

// finish compares the live order with the origin and records a pending move.
func (r *Reducer) finish(item string, column bool, fromScope string, fromIndex int, snapshot ordering.Lists) Intent {
	scope, index, _ := r.lists.Locate(item)
	if scope == fromScope && index == fromIndex {
		return Intent{Kind: IntentRefresh, Item: item, Column: column, Scope: scope, Position: index}
	}
	r.seq++
	r.inflight[item] = r.seq
	r.pending[r.seq] = pendingMove{item: item, snapshot: snapshot, loads: r.loads}
	r.items[item] = ItemState{Status: Pending, Scope: scope, Position: index}
	return Intent{Kind: IntentMove, Seq: r.seq, Item: item, Column: column, Scope: scope, Position: index}
}

// Confirm records the server's acceptance of move seq. Responses for moves
// superseded by a newer move of the same item are ignored.
func (r *Reducer) Confirm(seq uint64, version int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	move, ok := r.pending[seq]
	if !ok {
		return false
	}
	delete(r.pending, seq)
	if r.inflight[move.item] != seq {
		return false
	}
	delete(r.inflight, move.item)
	if version > r.version {
		r.version = version
	}
	if scope, index, ok := r.lists.Locate(move.item); ok {
		r.items[move.item] = ItemState{Status: Confirmed, Scope: scope, Position: index}
	}
	return true
}

// Fail handles a rejected or undelivered move. The pre-drag order comes back
// only when nothing newer was applied on top of it, neither a later move nor
// a load.
func (r *Reducer) Fail(seq uint64) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	move, ok := r.pending[seq]
	if !ok {
		return Ignored
	}
	delete(r.pending, seq)
	if r.inflight[move.item] != seq {
		return Ignored
	}
	delete(r.inflight, move.item)
	delete(r.items, move.item)

	if seq != r.seq || r.drag != nil || move.loads != r.loads {
		return NeedsRefetch
	}
	r.lists = move.snapshot
	return RolledBack
}

type place struct {
	scope    string
	index    int
	isColumn bool
}

// resolve maps an over id to a place. For column drags a task resolves to
// its column's slot on the board.
func (r *Reducer) resolve(over string, column bool) (place, error) {
	if column {
		if _, ok := r.lists[over]; !ok {
			scope, _, found := r.lists.Locate(over)
			if !found || scope == r.boardUUID {
				return place{}, errUnknownScope
			}
			over = scope
		}
		for i, id := range r.lists[r.boardUUID] {
			if id == over {
				return place{scope: r.boardUUID, index: i, isColumn: true}, nil
			}
		}
		return place{}, errUnknownScope
	}

	if ids, ok := r.lists[over]; ok && over != r.boardUUID {
		return place{scope: over, index: len(ids), isColumn: true}, nil
	}
	scope, index, ok := r.lists.Locate(over)
	if !ok || scope == r.boardUUID {
		return place{}, errUnknownScope
	}
	return place{scope: scope, index: index}, nil
}
