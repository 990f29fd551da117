package app

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskboard/api/internal/config"
	"taskboard/api/internal/events"
	"taskboard/api/internal/store"
	"taskboard/api/internal/store/storetest"
)

const (
	owner    = "user_owner"
	intruder = "user_intruder"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st := storetest.New(t)
	return New(config.Config{JWTSecret: "test-secret"}, st, Deps{}), st
}

func position(n int) *json.Number {
	value := json.Number(strconv.Itoa(n))
	return &value
}

func stringPtr(value string) *string {
	return &value
}

func requireDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%s)", status, code, domainErr.Status, domainErr.Code, domainErr.Message)
	}
}

func createBoard(t *testing.T, svc *Service, columns ...string) store.BoardDetail {
	t.Helper()
	board, err := svc.CreateBoard(context.Background(), owner, CreateBoardRequest{Name: "Roadmap", Columns: columns})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	return board
}

func createTasks(t *testing.T, svc *Service, columnUUID string, names ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(names))
	for _, name := range names {
		task, err := svc.CreateTask(context.Background(), owner, CreateTaskRequest{ColumnUUID: columnUUID, Name: name})
		if err != nil {
			t.Fatalf("CreateTask(%s) error = %v", name, err)
		}
		ids = append(ids, task.UUID)
	}
	return ids
}

// columnNames returns the board's column names in order and fails when
// positions are not 0..n-1.
func columnNames(t *testing.T, svc *Service, boardUUID string) []string {
	t.Helper()
	board, err := svc.GetBoard(context.Background(), owner, boardUUID)
	if err != nil {
		t.Fatalf("GetBoard() error = %v", err)
	}
	names := make([]string, 0, len(board.Columns))
	for i, column := range board.Columns {
		if column.Position != i {
			t.Fatalf("column %s at index %d has position %d", column.Name, i, column.Position)
		}
		names = append(names, column.Name)
	}
	return names
}

func taskNames(t *testing.T, svc *Service, boardUUID, columnUUID string) []string {
	t.Helper()
	board, err := svc.GetBoard(context.Background(), owner, boardUUID)
	if err != nil {
		t.Fatalf("GetBoard() error = %v", err)
	}
	for _, column := range board.Columns {
		if column.UUID != columnUUID {
			continue
		}
		names := make([]string, 0, len(column.Tasks))
		for i, task := range column.Tasks {
			if task.Position != i {
				t.Fatalf("task %s at index %d has position %d", task.Name, i, task.Position)
			}
			names = append(names, task.Name)
		}
		return names
	}
	t.Fatalf("column %s not on board %s", columnUUID, boardUUID)
	return nil
}

func equalNames(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func boardVersion(t *testing.T, svc *Service, boardUUID string) int64 {
	t.Helper()
	board, err := svc.GetBoard(context.Background(), owner, boardUUID)
	if err != nil {
		t.Fatalf("GetBoard() error = %v", err)
	}
	return board.Version
}

func TestDeleteColumnClosesGap(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "A", "B", "C")

	if _, err := svc.DeleteColumn(context.Background(), owner, board.Columns[1].UUID); err != nil {
		t.Fatalf("DeleteColumn() error = %v", err)
	}

	equalNames(t, columnNames(t, svc, board.UUID), "A", "C")
}

func TestMoveTaskDownWithinColumn(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")
	column := board.Columns[0].UUID
	ids := createTasks(t, svc, column, "t1", "t2", "t3")

	moved, err := svc.UpdateTask(context.Background(), owner, ids[0], UpdateTaskRequest{Position: position(2)})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if moved.Position != 2 {
		t.Fatalf("expected moved task at 2, got %d", moved.Position)
	}

	equalNames(t, taskNames(t, svc, board.UUID, column), "t2", "t3", "t1")
}

func TestMoveTaskAcrossColumns(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "X", "Y")
	x, y := board.Columns[0].UUID, board.Columns[1].UUID
	xs := createTasks(t, svc, x, "x0", "x1", "x2")
	createTasks(t, svc, y, "y0", "y1")

	moved, err := svc.UpdateTask(context.Background(), owner, xs[1], UpdateTaskRequest{ColumnUUID: &y, Position: position(0)})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if moved.ColumnUUID != y || moved.Position != 0 {
		t.Fatalf("unexpected moved task: %+v", moved.Task)
	}

	equalNames(t, taskNames(t, svc, board.UUID, x), "x0", "x2")
	equalNames(t, taskNames(t, svc, board.UUID, y), "x1", "y0", "y1")
}

func TestCreateColumnAtPositionShiftsTail(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "A", "B", "C")

	column, err := svc.CreateColumn(context.Background(), owner, CreateColumnRequest{
		BoardUUID: board.UUID,
		Name:      "N",
		Color:     "#ff0000",
		Position:  position(1),
	})
	if err != nil {
		t.Fatalf("CreateColumn() error = %v", err)
	}
	if column.Position != 1 || column.Color != "#ff0000" {
		t.Fatalf("unexpected column: %+v", column.Column)
	}

	equalNames(t, columnNames(t, svc, board.UUID), "A", "N", "B", "C")
}

func TestMoveToSiblingCountAppends(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "X", "Y")
	x, y := board.Columns[0].UUID, board.Columns[1].UUID
	xs := createTasks(t, svc, x, "x0")
	createTasks(t, svc, y, "y0", "y1")

	moved, err := svc.UpdateTask(context.Background(), owner, xs[0], UpdateTaskRequest{ColumnUUID: &y, Position: position(2)})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if moved.Position != 2 {
		t.Fatalf("expected append at 2, got %d", moved.Position)
	}
	equalNames(t, taskNames(t, svc, board.UUID, y), "y0", "y1", "x0")
	equalNames(t, taskNames(t, svc, board.UUID, x))
}

func TestPositionsAreClampedBothWays(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")
	column := board.Columns[0].UUID
	ids := createTasks(t, svc, column, "a", "b", "c")

	if _, err := svc.UpdateTask(context.Background(), owner, ids[0], UpdateTaskRequest{Position: position(99)}); err != nil {
		t.Fatalf("UpdateTask(99) error = %v", err)
	}
	equalNames(t, taskNames(t, svc, board.UUID, column), "b", "c", "a")

	if _, err := svc.UpdateTask(context.Background(), owner, ids[0], UpdateTaskRequest{Position: position(-4)}); err != nil {
		t.Fatalf("UpdateTask(-4) error = %v", err)
	}
	equalNames(t, taskNames(t, svc, board.UUID, column), "a", "b", "c")

	created, err := svc.CreateTask(context.Background(), owner, CreateTaskRequest{ColumnUUID: column, Name: "d", Position: position(-1)})
	if err != nil {
		t.Fatalf("CreateTask(-1) error = %v", err)
	}
	if created.Position != 0 {
		t.Fatalf("expected negative position to clamp to 0, got %d", created.Position)
	}
	equalNames(t, taskNames(t, svc, board.UUID, column), "d", "a", "b", "c")
}

func TestCreateThenDeleteRestoresPositions(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")
	column := board.Columns[0].UUID
	createTasks(t, svc, column, "a", "b", "c", "d")

	for k := 0; k <= 4; k++ {
		created, err := svc.CreateTask(context.Background(), owner, CreateTaskRequest{ColumnUUID: column, Name: "tmp", Position: position(k)})
		if err != nil {
			t.Fatalf("CreateTask(%d) error = %v", k, err)
		}
		if _, err := svc.DeleteTask(context.Background(), owner, created.UUID); err != nil {
			t.Fatalf("DeleteTask() error = %v", err)
		}
		equalNames(t, taskNames(t, svc, board.UUID, column), "a", "b", "c", "d")
	}
}

func TestMoveToSamePositionIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "A", "B", "C")
	ids := createTasks(t, svc, board.Columns[0].UUID, "a", "b")

	column, err := svc.UpdateColumn(context.Background(), owner, board.Columns[1].UUID, UpdateColumnRequest{Position: position(1)})
	if err != nil {
		t.Fatalf("UpdateColumn() error = %v", err)
	}
	if column.Position != 1 {
		t.Fatalf("expected column to stay at 1, got %d", column.Position)
	}
	equalNames(t, columnNames(t, svc, board.UUID), "A", "B", "C")

	task, err := svc.UpdateTask(context.Background(), owner, ids[1], UpdateTaskRequest{Position: position(1)})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if task.Position != 1 {
		t.Fatalf("expected task to stay at 1, got %d", task.Position)
	}
	equalNames(t, taskNames(t, svc, board.UUID, board.Columns[0].UUID), "a", "b")
}

func TestDuplicateColumnNameIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo", "Done")
	before := boardVersion(t, svc, board.UUID)

	_, err := svc.CreateColumn(context.Background(), owner, CreateColumnRequest{BoardUUID: board.UUID, Name: "TODO", Position: position(0)})
	requireDomainError(t, err, http.StatusBadRequest, CodeConflict)

	_, err = svc.UpdateColumn(context.Background(), owner, board.Columns[1].UUID, UpdateColumnRequest{Name: stringPtr("todo")})
	requireDomainError(t, err, http.StatusBadRequest, CodeConflict)

	equalNames(t, columnNames(t, svc, board.UUID), "Todo", "Done")
	if after := boardVersion(t, svc, board.UUID); after != before {
		t.Fatalf("expected version %d after rejected writes, got %d", before, after)
	}
}

func TestDuplicateNonASCIIColumnNameIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Äpfel", "Done")

	_, err := svc.CreateColumn(context.Background(), owner, CreateColumnRequest{BoardUUID: board.UUID, Name: "äpfel"})
	requireDomainError(t, err, http.StatusBadRequest, CodeConflict)

	_, err = svc.UpdateColumn(context.Background(), owner, board.Columns[1].UUID, UpdateColumnRequest{Name: stringPtr("ÄPFEL")})
	requireDomainError(t, err, http.StatusBadRequest, CodeConflict)

	_, err = svc.CreateBoard(context.Background(), owner, CreateBoardRequest{Name: "Market", Columns: []string{"Straße", "STRASSE", "straße"}})
	requireDomainError(t, err, http.StatusBadRequest, CodeConflict)

	equalNames(t, columnNames(t, svc, board.UUID), "Äpfel", "Done")
}

func TestRenameColumnToOwnNameWithDifferentCase(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "todo")

	column, err := svc.UpdateColumn(context.Background(), owner, board.Columns[0].UUID, UpdateColumnRequest{Name: stringPtr("Todo")})
	if err != nil {
		t.Fatalf("UpdateColumn() error = %v", err)
	}
	if column.Name != "Todo" {
		t.Fatalf("expected renamed column, got %q", column.Name)
	}
}

func TestForeignOwnerSeesNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo", "Done")
	ids := createTasks(t, svc, board.Columns[0].UUID, "a", "b")
	ctx := context.Background()

	_, err := svc.GetBoard(ctx, intruder, board.UUID)
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	_, err = svc.GetTask(ctx, intruder, ids[0])
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	_, err = svc.UpdateTask(ctx, intruder, ids[0], UpdateTaskRequest{Position: position(1)})
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	_, err = svc.DeleteTask(ctx, intruder, ids[1])
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	_, err = svc.CreateColumn(ctx, intruder, CreateColumnRequest{BoardUUID: board.UUID, Name: "Mine"})
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	_, err = svc.CreateTask(ctx, intruder, CreateTaskRequest{ColumnUUID: board.Columns[0].UUID, Name: "mine"})
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	_, err = svc.DeleteColumn(ctx, intruder, board.Columns[1].UUID)
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	err = svc.DeleteBoard(ctx, intruder, board.UUID)
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)

	equalNames(t, columnNames(t, svc, board.UUID), "Todo", "Done")
	equalNames(t, taskNames(t, svc, board.UUID, board.Columns[0].UUID), "a", "b")
}

func TestMoveIntoForeignColumnIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	mine := createBoard(t, svc, "Todo")
	ids := createTasks(t, svc, mine.Columns[0].UUID, "a")

	theirs, err := svc.CreateBoard(context.Background(), intruder, CreateBoardRequest{Name: "Theirs", Columns: []string{"Inbox"}})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}

	_, err = svc.UpdateTask(context.Background(), owner, ids[0], UpdateTaskRequest{ColumnUUID: &theirs.Columns[0].UUID})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)
	equalNames(t, taskNames(t, svc, mine.UUID, mine.Columns[0].UUID), "a")
}

func TestMoveAcrossBoardsBumpsBothVersions(t *testing.T) {
	svc, _ := newTestService(t)
	first := createBoard(t, svc, "Todo")
	second := createBoard(t, svc, "Inbox")
	ids := createTasks(t, svc, first.Columns[0].UUID, "a", "b")
	firstBefore := boardVersion(t, svc, first.UUID)
	secondBefore := boardVersion(t, svc, second.UUID)

	moved, err := svc.UpdateTask(context.Background(), owner, ids[0], UpdateTaskRequest{ColumnUUID: &second.Columns[0].UUID})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if moved.BoardUUID != second.UUID || moved.Position != 0 {
		t.Fatalf("unexpected moved task: %+v", moved.Task)
	}
	if moved.Version != secondBefore+1 {
		t.Fatalf("expected version %d, got %d", secondBefore+1, moved.Version)
	}
	if got := boardVersion(t, svc, first.UUID); got != firstBefore+1 {
		t.Fatalf("expected source board version %d, got %d", firstBefore+1, got)
	}
	equalNames(t, taskNames(t, svc, first.UUID, first.Columns[0].UUID), "b")
	equalNames(t, taskNames(t, svc, second.UUID, second.Columns[0].UUID), "a")
}

func TestCorruptedPositionsRaiseConsistencyError(t *testing.T) {
	svc, st := newTestService(t)
	board := createBoard(t, svc, "Todo")
	column := board.Columns[0].UUID
	ids := createTasks(t, svc, column, "a", "b", "c")

	if _, err := st.DB().Exec(`UPDATE tasks SET position = 5 WHERE uuid = ?`, ids[2]); err != nil {
		t.Fatalf("corrupt positions: %v", err)
	}
	before := boardVersion(t, svc, board.UUID)

	_, err := svc.UpdateTask(context.Background(), owner, ids[0], UpdateTaskRequest{Position: position(1)})
	requireDomainError(t, err, http.StatusInternalServerError, CodeConsistency)

	if after := boardVersion(t, svc, board.UUID); after != before {
		t.Fatalf("expected rollback to keep version %d, got %d", before, after)
	}
	task, err := svc.GetTask(context.Background(), owner, ids[0])
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Position != 0 {
		t.Fatalf("expected rolled back task at 0, got %d", task.Position)
	}
}

func TestValidationErrors(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")
	ids := createTasks(t, svc, board.Columns[0].UUID, "a")
	fraction := json.Number("1.5")
	ctx := context.Background()

	_, err := svc.UpdateTask(ctx, owner, ids[0], UpdateTaskRequest{Position: &fraction})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	_, err = svc.UpdateTask(ctx, owner, ids[0], UpdateTaskRequest{})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	_, err = svc.UpdateTask(ctx, owner, "not-a-uuid", UpdateTaskRequest{Name: stringPtr("x")})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	_, err = svc.CreateColumn(ctx, owner, CreateColumnRequest{BoardUUID: board.UUID, Name: "a name far too long for a column"})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	_, err = svc.CreateColumn(ctx, owner, CreateColumnRequest{BoardUUID: board.UUID, Name: "   "})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	_, err = svc.GetBoard(ctx, owner, "nope")
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)
}

func TestSubtasksAreReplaced(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")

	task, err := svc.CreateTask(context.Background(), owner, CreateTaskRequest{
		ColumnUUID: board.Columns[0].UUID,
		Name:       "Ship",
		Subtasks:   []SubtaskInput{{Name: "write"}, {Name: "review"}},
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if len(task.Subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(task.Subtasks))
	}

	kept := task.Subtasks[1]
	updated, err := svc.UpdateTask(context.Background(), owner, task.UUID, UpdateTaskRequest{
		Subtasks: &[]SubtaskInput{
			{UUID: kept.UUID, Name: "review", Completed: true},
			{Name: "deploy"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if len(updated.Subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %+v", updated.Subtasks)
	}
	if updated.Subtasks[0].UUID != kept.UUID || !updated.Subtasks[0].Completed {
		t.Fatalf("expected kept subtask to be completed, got %+v", updated.Subtasks[0])
	}
	if updated.Subtasks[1].Name != "deploy" {
		t.Fatalf("expected new subtask, got %+v", updated.Subtasks[1])
	}
}

func TestSubtaskOfAnotherTaskIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")
	ctx := context.Background()

	first, err := svc.CreateTask(ctx, owner, CreateTaskRequest{
		ColumnUUID: board.Columns[0].UUID,
		Name:       "first",
		Subtasks:   []SubtaskInput{{Name: "owned"}},
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	second := createTasks(t, svc, board.Columns[0].UUID, "second")[0]
	before := boardVersion(t, svc, board.UUID)

	_, err = svc.UpdateTask(ctx, owner, second, UpdateTaskRequest{
		Subtasks: &[]SubtaskInput{{UUID: first.Subtasks[0].UUID, Name: "stolen"}},
	})
	requireDomainError(t, err, http.StatusBadRequest, CodeValidation)

	task, err := svc.GetTask(ctx, owner, first.UUID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if len(task.Subtasks) != 1 || task.Subtasks[0].Name != "owned" {
		t.Fatalf("expected the original subtask untouched, got %+v", task.Subtasks)
	}
	if after := boardVersion(t, svc, board.UUID); after != before {
		t.Fatalf("expected version %d after rejected write, got %d", before, after)
	}
}

func TestUpdateBoardReplacesColumns(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "A", "B", "C")
	createTasks(t, svc, board.Columns[2].UUID, "dropped")
	a, b := board.Columns[0], board.Columns[1]

	updated, err := svc.UpdateBoard(context.Background(), owner, board.UUID, UpdateBoardRequest{
		Name: stringPtr("Renamed"),
		Columns: &[]BoardColumnInput{
			{UUID: b.UUID, Name: "A"},
			{Name: "New"},
			{UUID: a.UUID, Name: "B"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateBoard() error = %v", err)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("expected renamed board, got %q", updated.Name)
	}
	equalNames(t, columnNames(t, svc, board.UUID), "A", "New", "B")
	if updated.Columns[0].UUID != b.UUID || updated.Columns[2].UUID != a.UUID {
		t.Fatalf("expected swapped columns to keep their uuids")
	}
	if updated.Columns[1].Color == "" {
		t.Fatalf("expected generated color for new column")
	}
}

func TestDeleteBoardRemovesEverything(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")
	ids := createTasks(t, svc, board.Columns[0].UUID, "a")

	if err := svc.DeleteBoard(context.Background(), owner, board.UUID); err != nil {
		t.Fatalf("DeleteBoard() error = %v", err)
	}
	_, err := svc.GetBoard(context.Background(), owner, board.UUID)
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)
	_, err = svc.GetTask(context.Background(), owner, ids[0])
	requireDomainError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestExportWithoutStorageIsUnavailable(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")

	_, err := svc.ExportBoard(context.Background(), owner, board.UUID)
	requireDomainError(t, err, http.StatusServiceUnavailable, CodeUnavailable)
}

func TestMutationsPublishVersionedEvents(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := svc.Bus().Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	task, err := svc.CreateTask(ctx, owner, CreateTaskRequest{ColumnUUID: board.Columns[0].UUID, Name: "a"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	select {
	case event := <-sub:
		if event.Kind != events.TaskCreated || event.ItemUUID != task.UUID || event.Version != task.Version || event.OwnerID != owner {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSearchFallsBackToSQL(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo")
	createTasks(t, svc, board.Columns[0].UUID, "Write release notes", "Fix login")

	response := svc.Search(owner, "release", 10)
	if response.Total != 1 || len(response.Results) != 1 || response.Results[0].Name != "Write release notes" {
		t.Fatalf("unexpected search response: %+v", response)
	}
	if other := svc.Search(intruder, "release", 10); len(other.Results) != 0 {
		t.Fatalf("expected no results for another owner, got %+v", other.Results)
	}
}

func TestReindexWithoutSearchIndexIsUnavailable(t *testing.T) {
	svc, _ := newTestService(t)
	board := createBoard(t, svc, "Todo", "Done")
	createTasks(t, svc, board.Columns[0].UUID, "a", "b")
	createTasks(t, svc, board.Columns[1].UUID, "c")

	count, err := svc.Reindex(context.Background())
	requireDomainError(t, err, http.StatusServiceUnavailable, CodeUnavailable)
	if count != 0 {
		t.Fatalf("Reindex() = %d, want 0 when nothing was indexed", count)
	}
}

// Random create/move/delete sequences must leave every scope dense.
func TestRandomOperationsKeepPositionsDense(t *testing.T) {
	svc, st := newTestService(t)
	board := createBoard(t, svc, "A", "B", "C")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	columns := []string{board.Columns[0].UUID, board.Columns[1].UUID, board.Columns[2].UUID}
	var tasks []string

	for step := 0; step < 150; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(tasks) == 0:
			req := CreateTaskRequest{ColumnUUID: columns[rng.Intn(len(columns))], Name: "task " + strconv.Itoa(step)}
			if rng.Intn(2) == 0 {
				req.Position = position(rng.Intn(6) - 1)
			}
			created, err := svc.CreateTask(ctx, owner, req)
			if err != nil {
				t.Fatalf("step %d: CreateTask() error = %v", step, err)
			}
			tasks = append(tasks, created.UUID)
		case op == 1:
			i := rng.Intn(len(tasks))
			if _, err := svc.DeleteTask(ctx, owner, tasks[i]); err != nil {
				t.Fatalf("step %d: DeleteTask() error = %v", step, err)
			}
			tasks = append(tasks[:i], tasks[i+1:]...)
		case op == 2:
			target := columns[rng.Intn(len(columns))]
			if _, err := svc.UpdateTask(ctx, owner, tasks[rng.Intn(len(tasks))], UpdateTaskRequest{ColumnUUID: &target, Position: position(rng.Intn(8) - 1)}); err != nil {
				t.Fatalf("step %d: UpdateTask() error = %v", step, err)
			}
		default:
			if _, err := svc.UpdateColumn(ctx, owner, columns[rng.Intn(len(columns))], UpdateColumnRequest{Position: position(rng.Intn(4))}); err != nil {
				t.Fatalf("step %d: UpdateColumn() error = %v", step, err)
			}
		}

		reports, err := st.Audit(ctx)
		if err != nil {
			t.Fatalf("Audit() error = %v", err)
		}
		for _, report := range reports {
			if !report.Dense {
				t.Fatalf("step %d: %s %s not dense: %v", step, report.Kind, report.Scope, report.Positions)
			}
		}
	}
}

// Moves racing across two boards, with deletes in between, must leave every
// scope dense and lose no task.
func TestConcurrentMovesStayDense(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	first := createBoard(t, svc, "Todo", "Doing")
	second, err := svc.CreateBoard(ctx, owner, CreateBoardRequest{Name: "Backlog", Columns: []string{"Later", "Someday"}})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}

	columns := []string{first.Columns[0].UUID, first.Columns[1].UUID, second.Columns[0].UUID, second.Columns[1].UUID}
	var tasks []string
	for i, column := range columns {
		tasks = append(tasks, createTasks(t, svc, column, "t"+strconv.Itoa(i)+"a", "t"+strconv.Itoa(i)+"b", "t"+strconv.Itoa(i)+"c")...)
	}

	const workers, steps = 8, 25
	var (
		wg      sync.WaitGroup
		deleted atomic.Int64
	)
	errs := make(chan error, workers*steps)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for step := 0; step < steps; step++ {
				task := tasks[rng.Intn(len(tasks))]
				var err error
				if step == steps-1 && w%2 == 0 {
					if _, err = svc.DeleteTask(ctx, owner, task); err == nil {
						deleted.Add(1)
					}
				} else {
					target := columns[rng.Intn(len(columns))]
					_, err = svc.UpdateTask(ctx, owner, task, UpdateTaskRequest{ColumnUUID: &target, Position: position(rng.Intn(6))})
				}
				var domainErr *DomainError
				if errors.As(err, &domainErr) && domainErr.Code == CodeNotFound {
					continue
				}
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation error = %v", err)
	}

	reports, err := st.Audit(ctx)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	for _, report := range reports {
		if !report.Dense {
			t.Errorf("%s %s not dense: %v", report.Kind, report.Scope, report.Positions)
		}
	}

	remaining := 0
	for _, board := range []store.BoardDetail{first, second} {
		detail, err := svc.GetBoard(ctx, owner, board.UUID)
		if err != nil {
			t.Fatalf("GetBoard() error = %v", err)
		}
		for _, column := range detail.Columns {
			remaining += len(column.Tasks)
		}
	}
	if want := len(tasks) - int(deleted.Load()); remaining != want {
		t.Fatalf("tasks after concurrent moves = %d, want %d", remaining, want)
	}
}

// A task read on one board and found on another once that board is locked
// is followed to its current board.
func TestLockTaskFollowsTaskToItsBoard(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	first := createBoard(t, svc, "Todo")
	second, err := svc.CreateBoard(ctx, owner, CreateBoardRequest{Name: "Backlog", Columns: []string{"Later"}})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	task := createTasks(t, svc, second.Columns[0].UUID, "moved")[0]
	before := boardVersion(t, svc, second.UUID)

	versions := map[string]int64{}
	err = st.WithTx(ctx, func(tx *store.Tx) error {
		locked, err := lockTask(ctx, tx, owner, task, versions, first.UUID)
		if err != nil {
			return err
		}
		if locked.BoardUUID != second.UUID {
			t.Errorf("lockTask() board = %s, want %s", locked.BoardUUID, second.UUID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lockTask() error = %v", err)
	}
	if _, ok := versions[first.UUID]; !ok {
		t.Fatalf("stale board was not locked: %v", versions)
	}
	if versions[second.UUID] != before+1 {
		t.Fatalf("current board version = %d, want %d", versions[second.UUID], before+1)
	}
}
