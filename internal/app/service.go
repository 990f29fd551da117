package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/google/uuid"

	"taskboard/api/internal/archive"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/events"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

const duplicateColumnMessage = "Column with this name already exists on this board"

// maxRelock bounds how often lockTask follows a task that concurrent
// moves carry to another board before it holds that board's lock.
const maxRelock = 2

type dataStore interface {
	Ping(context.Context) error
	WithTx(context.Context, func(*store.Tx) error) error
	ListBoards(context.Context, string) ([]store.Board, error)
	GetBoardDetail(context.Context, string, string) (store.BoardDetail, error)
	GetTaskDetail(context.Context, string, string) (store.TaskDetail, error)
	UpsertUser(context.Context, store.User) error
	AllTasks(context.Context) ([]store.Task, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexTask(search.TaskRecord)
	DeleteTasks(...string)
	Reindex([]search.TaskRecord) error
}

type boardExporter interface {
	ExportBoard(context.Context, store.BoardDetail) (string, error)
}

// Deps are the optional collaborators of a Service. Nil fields fall back to
// in-process or disabled implementations.
type Deps struct {
	Bus      events.Bus
	Search   *search.Service
	Exporter *archive.Exporter
	Log      *slog.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	bus      events.Bus
	search   searchIndex
	exporter boardExporter
	log      *slog.Logger
}

func New(cfg config.Config, dataStore *store.Store, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg:   cfg,
		store: dataStore,
		bus:   deps.Bus,
		log:   log,
	}
	if s.bus == nil {
		s.bus = events.NewLocal(log)
	}
	if deps.Search != nil {
		s.search = deps.Search
	} else {
		s.search = search.NewService(nil, search.NewSQL(dataStore.DB()), log)
	}
	if deps.Exporter != nil {
		s.exporter = deps.Exporter
	}
	return s
}

func (s *Service) Bus() events.Bus {
	return s.bus
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authenticate resolves a bearer token to the owner id it was issued for.
func (s *Service) Authenticate(token string) (string, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

type ColumnResult struct {
	store.Column
	Version int64 `json:"version"`
}

type TaskResult struct {
	store.TaskDetail
	Version int64 `json:"version"`
}

// Boards

func (s *Service) ListBoards(ctx context.Context, ownerID string) ([]store.Board, error) {
	return s.store.ListBoards(ctx, ownerID)
}

func (s *Service) GetBoard(ctx context.Context, ownerID, boardUUID string) (store.BoardDetail, error) {
	if _, err := uuid.Parse(boardUUID); err != nil {
		return store.BoardDetail{}, validationError("Invalid board UUID", nil)
	}
	board, err := s.store.GetBoardDetail(ctx, ownerID, boardUUID)
	if err != nil {
		return store.BoardDetail{}, translate(err, "Board not found")
	}
	return board, nil
}

func (s *Service) CreateBoard(ctx context.Context, ownerID string, req CreateBoardRequest) (store.BoardDetail, error) {
	if err := req.Validate(); err != nil {
		return store.BoardDetail{}, err
	}
	var board store.BoardDetail
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		boardUUID := uuid.NewString()
		if err := tx.InsertBoard(ctx, store.Board{UUID: boardUUID, Name: req.Name, UserID: ownerID, Version: 1}); err != nil {
			return err
		}
		for i, name := range req.Columns {
			column := store.Column{
				UUID:      uuid.NewString(),
				BoardUUID: boardUUID,
				Name:      name,
				Color:     randomColor(),
				Position:  i,
				UserID:    ownerID,
			}
			if err := tx.InsertColumn(ctx, column); err != nil {
				return err
			}
		}
		if err := checkColumns(ctx, tx, boardUUID); err != nil {
			return err
		}
		var err error
		board, err = tx.Board(ctx, ownerID, boardUUID)
		return err
	})
	if err != nil {
		return store.BoardDetail{}, translate(err, "Board not found")
	}
	s.publish(ctx, events.BoardEvent{BoardUUID: board.UUID, OwnerID: ownerID, Version: board.Version, Kind: events.BoardCreated, ItemUUID: board.UUID})
	return board, nil
}

// UpdateBoard renames the board and optionally replaces its column set.
func (s *Service) UpdateBoard(ctx context.Context, ownerID, boardUUID string, req UpdateBoardRequest) (store.BoardDetail, error) {
	if _, err := uuid.Parse(boardUUID); err != nil {
		return store.BoardDetail{}, validationError("Invalid board UUID", nil)
	}
	if err := req.Validate(); err != nil {
		return store.BoardDetail{}, err
	}

	var (
		board   store.BoardDetail
		removed []string
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.LockBoard(ctx, ownerID, boardUUID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("Board not found")
			}
			return err
		}
		if req.Name != nil {
			if err := tx.RenameBoard(ctx, boardUUID, *req.Name); err != nil {
				return err
			}
		}
		if req.Columns != nil {
			var err error
			removed, err = replaceColumns(ctx, tx, ownerID, boardUUID, *req.Columns)
			if err != nil {
				return err
			}
		}
		var err error
		board, err = tx.Board(ctx, ownerID, boardUUID)
		return err
	})
	if err != nil {
		return store.BoardDetail{}, translate(err, "Board not found")
	}
	s.search.DeleteTasks(removed...)
	s.publish(ctx, events.BoardEvent{BoardUUID: boardUUID, OwnerID: ownerID, Version: board.Version, Kind: events.BoardUpdated, ItemUUID: boardUUID})
	return board, nil
}

// replaceColumns rewrites the board's columns to exactly inputs, in order.
// It returns the uuids of tasks removed along with dropped columns.
func replaceColumns(ctx context.Context, tx *store.Tx, ownerID, boardUUID string, inputs []BoardColumnInput) ([]string, error) {
	existing, err := tx.Columns(ctx, boardUUID)
	if err != nil {
		return nil, err
	}
	byUUID := make(map[string]store.Column, len(existing))
	for _, column := range existing {
		byUUID[column.UUID] = column
	}
	keep := map[string]bool{}
	for _, input := range inputs {
		if input.UUID == "" {
			continue
		}
		if _, ok := byUUID[input.UUID]; !ok {
			return nil, validationError("Column does not belong to this board", map[string]string{"columns": input.UUID})
		}
		keep[input.UUID] = true
	}

	var removedTasks []string
	for _, column := range existing {
		if keep[column.UUID] {
			continue
		}
		taskUUIDs, err := tx.TaskUUIDs(ctx, boardUUID, column.UUID)
		if err != nil {
			return nil, err
		}
		removedTasks = append(removedTasks, taskUUIDs...)
		if err := tx.DeleteColumn(ctx, column.UUID); err != nil {
			return nil, err
		}
	}

	// Park kept columns under their uuid so swapped names do not collide.
	for id := range keep {
		parked := byUUID[id]
		parked.Name = parked.UUID
		if err := tx.UpdateColumn(ctx, parked); err != nil {
			return nil, err
		}
	}

	for i, input := range inputs {
		if input.UUID == "" {
			column := store.Column{
				UUID:      uuid.NewString(),
				BoardUUID: boardUUID,
				Name:      input.Name,
				Color:     colorOr(input.Color),
				Position:  i,
				UserID:    ownerID,
			}
			if err := tx.InsertColumn(ctx, column); err != nil {
				return nil, err
			}
			continue
		}
		column := byUUID[input.UUID]
		column.Name = input.Name
		if input.Color != "" {
			column.Color = input.Color
		}
		column.Position = i
		if err := tx.UpdateColumn(ctx, column); err != nil {
			return nil, err
		}
	}
	return removedTasks, checkColumns(ctx, tx, boardUUID)
}

func (s *Service) DeleteBoard(ctx context.Context, ownerID, boardUUID string) error {
	if _, err := uuid.Parse(boardUUID); err != nil {
		return validationError("Invalid board UUID", nil)
	}
	var (
		version int64
		removed []string
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		version, err = tx.LockBoard(ctx, ownerID, boardUUID)
		if err != nil {
			return err
		}
		removed, err = tx.TaskUUIDs(ctx, boardUUID, "")
		if err != nil {
			return err
		}
		return tx.DeleteBoard(ctx, boardUUID)
	})
	if err != nil {
		return translate(err, "Board not found")
	}
	s.search.DeleteTasks(removed...)
	s.publish(ctx, events.BoardEvent{BoardUUID: boardUUID, OwnerID: ownerID, Version: version, Kind: events.BoardDeleted, ItemUUID: boardUUID})
	return nil
}

// ExportBoard stores a JSON snapshot of the board and returns its object key.
func (s *Service) ExportBoard(ctx context.Context, ownerID, boardUUID string) (string, error) {
	if s.exporter == nil {
		return "", unavailable("Board export is not configured")
	}
	board, err := s.GetBoard(ctx, ownerID, boardUUID)
	if err != nil {
		return "", err
	}
	key, err := s.exporter.ExportBoard(ctx, board)
	if err != nil {
		return "", fmt.Errorf("export board %s: %w", boardUUID, err)
	}
	s.log.Info("board exported", "board", boardUUID, "key", key)
	return key, nil
}

// Columns

func (s *Service) CreateColumn(ctx context.Context, ownerID string, req CreateColumnRequest) (ColumnResult, error) {
	if err := req.Validate(); err != nil {
		return ColumnResult{}, err
	}
	var result ColumnResult
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		version, err := tx.LockBoard(ctx, ownerID, req.BoardUUID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("Board not found")
			}
			return err
		}
		count, err := tx.CountColumns(ctx, req.BoardUUID)
		if err != nil {
			return err
		}
		plan := ordering.PlanInsert(req.BoardUUID, count, req.position)
		for _, delta := range plan.Deltas {
			if err := tx.ShiftColumns(ctx, delta); err != nil {
				return err
			}
		}
		column := store.Column{
			UUID:      uuid.NewString(),
			BoardUUID: req.BoardUUID,
			Name:      req.Name,
			Color:     colorOr(req.Color),
			Position:  plan.Position,
			UserID:    ownerID,
		}
		if err := tx.InsertColumn(ctx, column); err != nil {
			return err
		}
		if err := checkColumns(ctx, tx, req.BoardUUID); err != nil {
			return err
		}
		result = ColumnResult{Column: column, Version: version}
		return nil
	})
	if err != nil {
		return ColumnResult{}, translate(err, "Board not found")
	}
	s.publish(ctx, events.BoardEvent{BoardUUID: result.BoardUUID, OwnerID: ownerID, Version: result.Version, Kind: events.ColumnCreated, ItemUUID: result.UUID})
	return result, nil
}

// UpdateColumn renames, recolours and/or moves a column within its board.
func (s *Service) UpdateColumn(ctx context.Context, ownerID, columnUUID string, req UpdateColumnRequest) (ColumnResult, error) {
	if _, err := uuid.Parse(columnUUID); err != nil {
		return ColumnResult{}, validationError("Invalid column UUID", nil)
	}
	if err := req.Validate(); err != nil {
		return ColumnResult{}, err
	}
	var result ColumnResult
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		column, version, err := lockColumn(ctx, tx, ownerID, columnUUID)
		if err != nil {
			return err
		}
		if req.Name != nil {
			column.Name = *req.Name
		}
		if req.Color != nil {
			column.Color = *req.Color
		}
		if req.position != nil {
			count, err := tx.CountColumns(ctx, column.BoardUUID)
			if err != nil {
				return err
			}
			plan := ordering.PlanMove(column.UUID, column.BoardUUID, column.Position, column.BoardUUID, count, req.position)
			for _, delta := range plan.Deltas {
				if err := tx.ShiftColumns(ctx, delta); err != nil {
					return err
				}
			}
			column.Position = plan.Position
		}
		if err := tx.UpdateColumn(ctx, column); err != nil {
			return err
		}
		if err := checkColumns(ctx, tx, column.BoardUUID); err != nil {
			return err
		}
		result = ColumnResult{Column: column, Version: version}
		return nil
	})
	if err != nil {
		return ColumnResult{}, translate(err, "Column not found")
	}
	s.publish(ctx, events.BoardEvent{BoardUUID: result.BoardUUID, OwnerID: ownerID, Version: result.Version, Kind: events.ColumnUpdated, ItemUUID: result.UUID})
	return result, nil
}

// DeleteColumn removes a column with its tasks and closes the gap it leaves.
func (s *Service) DeleteColumn(ctx context.Context, ownerID, columnUUID string) (int64, error) {
	if _, err := uuid.Parse(columnUUID); err != nil {
		return 0, validationError("Invalid column UUID", nil)
	}
	var (
		column  store.Column
		version int64
		removed []string
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		column, version, err = lockColumn(ctx, tx, ownerID, columnUUID)
		if err != nil {
			return err
		}
		removed, err = tx.TaskUUIDs(ctx, column.BoardUUID, column.UUID)
		if err != nil {
			return err
		}
		if err := tx.DeleteColumn(ctx, column.UUID); err != nil {
			return err
		}
		plan := ordering.PlanRemove(column.BoardUUID, column.Position, column.UUID)
		for _, delta := range plan.Deltas {
			if err := tx.ShiftColumns(ctx, delta); err != nil {
				return err
			}
		}
		return checkColumns(ctx, tx, column.BoardUUID)
	})
	if err != nil {
		return 0, translate(err, "Column not found")
	}
	s.search.DeleteTasks(removed...)
	s.publish(ctx, events.BoardEvent{BoardUUID: column.BoardUUID, OwnerID: ownerID, Version: version, Kind: events.ColumnDeleted, ItemUUID: column.UUID})
	return version, nil
}

// lockColumn resolves the column's board, locks it and re-reads the column
// under the lock.
func lockColumn(ctx context.Context, tx *store.Tx, ownerID, columnUUID string) (store.Column, int64, error) {
	column, err := tx.Column(ctx, ownerID, columnUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Column{}, 0, notFound("Column not found")
		}
		return store.Column{}, 0, err
	}
	version, err := tx.LockBoard(ctx, ownerID, column.BoardUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Column{}, 0, notFound("Column not found")
		}
		return store.Column{}, 0, err
	}
	column, err = tx.Column(ctx, ownerID, columnUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Column{}, 0, notFound("Column not found")
		}
		return store.Column{}, 0, err
	}
	return column, version, nil
}

// Tasks

func (s *Service) GetTask(ctx context.Context, ownerID, taskUUID string) (store.TaskDetail, error) {
	if _, err := uuid.Parse(taskUUID); err != nil {
		return store.TaskDetail{}, validationError("Invalid task UUID", nil)
	}
	task, err := s.store.GetTaskDetail(ctx, ownerID, taskUUID)
	if err != nil {
		return store.TaskDetail{}, translate(err, "Task not found")
	}
	return task, nil
}

func (s *Service) CreateTask(ctx context.Context, ownerID string, req CreateTaskRequest) (TaskResult, error) {
	if err := req.Validate(); err != nil {
		return TaskResult{}, err
	}
	var result TaskResult
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		column, version, err := lockColumn(ctx, tx, ownerID, req.ColumnUUID)
		if err != nil {
			return err
		}
		count, err := tx.CountTasks(ctx, column.UUID)
		if err != nil {
			return err
		}
		plan := ordering.PlanInsert(column.UUID, count, req.position)
		for _, delta := range plan.Deltas {
			if err := tx.ShiftTasks(ctx, delta); err != nil {
				return err
			}
		}
		task := store.Task{
			UUID:        uuid.NewString(),
			ColumnUUID:  column.UUID,
			BoardUUID:   column.BoardUUID,
			Name:        req.Name,
			Description: req.Description,
			Position:    plan.Position,
			UserID:      ownerID,
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		if err := tx.ReplaceSubtasks(ctx, ownerID, task.UUID, subtaskRows(req.Subtasks)); err != nil {
			return err
		}
		if err := checkTasks(ctx, tx, column.UUID); err != nil {
			return err
		}
		subtasks, err := tx.Subtasks(ctx, task.UUID)
		if err != nil {
			return err
		}
		result = TaskResult{TaskDetail: store.TaskDetail{Task: task, Subtasks: subtasks}, Version: version}
		return nil
	})
	if err != nil {
		return TaskResult{}, translate(err, "Column not found")
	}
	s.search.IndexTask(taskRecord(result.Task))
	s.publish(ctx, events.BoardEvent{BoardUUID: result.BoardUUID, OwnerID: ownerID, Version: result.Version, Kind: events.TaskCreated, ItemUUID: result.UUID})
	return result, nil
}

// UpdateTask edits a task and moves it when column_uuid or position is set.
// A move may cross boards of the same owner; both boards are locked in uuid
// order.
func (s *Service) UpdateTask(ctx context.Context, ownerID, taskUUID string, req UpdateTaskRequest) (TaskResult, error) {
	if _, err := uuid.Parse(taskUUID); err != nil {
		return TaskResult{}, validationError("Invalid task UUID", nil)
	}
	if err := req.Validate(); err != nil {
		return TaskResult{}, err
	}

	var (
		result    TaskResult
		fromBoard string
		versions  map[string]int64
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		task, err := tx.Task(ctx, ownerID, taskUUID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("Task not found")
			}
			return err
		}
		toColumn := store.Column{UUID: task.ColumnUUID, BoardUUID: task.BoardUUID}
		if req.ColumnUUID != nil && *req.ColumnUUID != task.ColumnUUID {
			toColumn, err = targetColumn(ctx, tx, ownerID, *req.ColumnUUID)
			if err != nil {
				return err
			}
		}

		versions = map[string]int64{}
		if task, err = lockTask(ctx, tx, ownerID, taskUUID, versions, task.BoardUUID, toColumn.BoardUUID); err != nil {
			return err
		}
		fromBoard = task.BoardUUID

		if req.ColumnUUID != nil && *req.ColumnUUID != task.ColumnUUID {
			if toColumn, err = targetColumn(ctx, tx, ownerID, *req.ColumnUUID); err != nil {
				return err
			}
			if err := lockBoards(ctx, tx, ownerID, versions, toColumn.BoardUUID); err != nil {
				return err
			}
		} else {
			toColumn = store.Column{UUID: task.ColumnUUID, BoardUUID: task.BoardUUID}
		}

		if req.Name != nil {
			task.Name = *req.Name
		}
		if req.Description != nil {
			task.Description = *req.Description
		}

		fromColumn := task.ColumnUUID
		if toColumn.UUID != fromColumn || req.position != nil {
			count, err := tx.CountTasks(ctx, toColumn.UUID)
			if err != nil {
				return err
			}
			plan := ordering.PlanMove(task.UUID, fromColumn, task.Position, toColumn.UUID, count, req.position)
			if !plan.Noop {
				for _, delta := range plan.Deltas {
					if err := tx.ShiftTasks(ctx, delta); err != nil {
						return err
					}
				}
				task.ColumnUUID = plan.Scope
				task.BoardUUID = toColumn.BoardUUID
				task.Position = plan.Position
			}
		}

		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		if req.Subtasks != nil {
			if err := tx.ReplaceSubtasks(ctx, ownerID, task.UUID, subtaskRows(*req.Subtasks)); err != nil {
				return err
			}
		}
		if err := checkTasks(ctx, tx, fromColumn); err != nil {
			return err
		}
		if task.ColumnUUID != fromColumn {
			if err := checkTasks(ctx, tx, task.ColumnUUID); err != nil {
				return err
			}
		}

		subtasks, err := tx.Subtasks(ctx, task.UUID)
		if err != nil {
			return err
		}
		result = TaskResult{TaskDetail: store.TaskDetail{Task: task, Subtasks: subtasks}, Version: versions[task.BoardUUID]}
		return nil
	})
	if err != nil {
		return TaskResult{}, translate(err, "Task not found")
	}

	s.search.IndexTask(taskRecord(result.Task))
	if fromBoard != result.BoardUUID {
		s.publish(ctx, events.BoardEvent{BoardUUID: fromBoard, OwnerID: ownerID, Version: versions[fromBoard], Kind: events.TaskDeleted, ItemUUID: result.UUID})
		s.publish(ctx, events.BoardEvent{BoardUUID: result.BoardUUID, OwnerID: ownerID, Version: result.Version, Kind: events.TaskCreated, ItemUUID: result.UUID})
	} else {
		s.publish(ctx, events.BoardEvent{BoardUUID: result.BoardUUID, OwnerID: ownerID, Version: result.Version, Kind: events.TaskUpdated, ItemUUID: result.UUID})
	}
	return result, nil
}

func (s *Service) DeleteTask(ctx context.Context, ownerID, taskUUID string) (int64, error) {
	if _, err := uuid.Parse(taskUUID); err != nil {
		return 0, validationError("Invalid task UUID", nil)
	}
	var (
		task    store.Task
		version int64
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		task, err = tx.Task(ctx, ownerID, taskUUID)
		if err != nil {
			return err
		}
		versions := map[string]int64{}
		if task, err = lockTask(ctx, tx, ownerID, taskUUID, versions, task.BoardUUID); err != nil {
			return err
		}
		version = versions[task.BoardUUID]
		if err := tx.DeleteTask(ctx, task.UUID); err != nil {
			return err
		}
		plan := ordering.PlanRemove(task.ColumnUUID, task.Position, task.UUID)
		for _, delta := range plan.Deltas {
			if err := tx.ShiftTasks(ctx, delta); err != nil {
				return err
			}
		}
		return checkTasks(ctx, tx, task.ColumnUUID)
	})
	if err != nil {
		return 0, translate(err, "Task not found")
	}
	s.search.DeleteTasks(task.UUID)
	s.publish(ctx, events.BoardEvent{BoardUUID: task.BoardUUID, OwnerID: ownerID, Version: version, Kind: events.TaskDeleted, ItemUUID: task.UUID})
	return version, nil
}

// targetColumn resolves the column a task is moved into. An unknown or
// foreign column is a bad reference in the request body, not a missing
// resource.
func targetColumn(ctx context.Context, tx *store.Tx, ownerID, columnUUID string) (store.Column, error) {
	column, err := tx.Column(ctx, ownerID, columnUUID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Column{}, validationError("Column not found", map[string]string{"column_uuid": "does not exist"})
	}
	return column, err
}

// lockTask locks boardUUIDs and re-reads the task under the lock. A task
// that a concurrent move carried to another board is followed until its
// current board is locked as well.
func lockTask(ctx context.Context, tx *store.Tx, ownerID, taskUUID string, versions map[string]int64, boardUUIDs ...string) (store.Task, error) {
	for attempt := 0; ; attempt++ {
		if err := lockBoards(ctx, tx, ownerID, versions, boardUUIDs...); err != nil {
			return store.Task{}, err
		}
		task, err := tx.Task(ctx, ownerID, taskUUID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.Task{}, notFound("Task not found")
			}
			return store.Task{}, err
		}
		if _, locked := versions[task.BoardUUID]; locked {
			return task, nil
		}
		if attempt == maxRelock {
			return store.Task{}, consistencyError("Task keeps changing boards", map[string]string{"task_uuid": taskUUID})
		}
		boardUUIDs = []string{task.BoardUUID}
	}
}

// lockBoards locks the boards not yet in versions, in uuid order, and
// records their new versions.
func lockBoards(ctx context.Context, tx *store.Tx, ownerID string, versions map[string]int64, boardUUIDs ...string) error {
	sorted := append([]string(nil), boardUUIDs...)
	sort.Strings(sorted)
	for _, boardUUID := range sorted {
		if _, done := versions[boardUUID]; done {
			continue
		}
		version, err := tx.LockBoard(ctx, ownerID, boardUUID)
		if err != nil {
			return err
		}
		versions[boardUUID] = version
	}
	return nil
}

// Search and users

func (s *Service) Search(ownerID, text string, limit int) search.Response {
	return s.search.Search(search.Query{Text: strings.TrimSpace(text), OwnerID: ownerID, Limit: limit})
}

// Reindex pushes every stored task to the search index and reports how many
// were indexed. Without a healthy index nothing is sent and the count is 0.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	tasks, err := s.store.AllTasks(ctx)
	if err != nil {
		return 0, err
	}
	records := make([]search.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, taskRecord(task))
	}
	if err := s.search.Reindex(records); err != nil {
		if errors.Is(err, search.ErrUnavailable) {
			return 0, unavailable("Search index is not available")
		}
		return 0, fmt.Errorf("reindex: %w", err)
	}
	return len(records), nil
}

func (s *Service) SyncUser(ctx context.Context, payload UserWebhook) (store.User, error) {
	if err := payload.Validate(); err != nil {
		return store.User{}, err
	}
	user := store.User{
		ID:    strings.TrimSpace(payload.Data.ID),
		Email: strings.TrimSpace(payload.Data.EmailAddresses[0].EmailAddress),
		Name:  strings.TrimSpace(payload.Data.FirstName),
		Image: strings.TrimSpace(payload.Data.ImageURL),
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) publish(ctx context.Context, event events.BoardEvent) {
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn("publish board event", "board", event.BoardUUID, "kind", event.Kind, "error", err)
	}
}

// Helpers

func checkColumns(ctx context.Context, tx *store.Tx, boardUUID string) error {
	positions, err := tx.ColumnPositions(ctx, boardUUID)
	if err != nil {
		return err
	}
	return denseOrFail(boardUUID, positions)
}

func checkTasks(ctx context.Context, tx *store.Tx, columnUUID string) error {
	positions, err := tx.TaskPositions(ctx, columnUUID)
	if err != nil {
		return err
	}
	return denseOrFail(columnUUID, positions)
}

func denseOrFail(scope string, positions []int) error {
	err := ordering.CheckDense(scope, positions)
	var gap *ordering.GapError
	if errors.As(err, &gap) {
		return consistencyError("Positions are not contiguous", map[string]any{
			"scope":     gap.Scope,
			"positions": gap.Positions,
		})
	}
	return err
}

func translate(err error, missing string) error {
	var domainErr *DomainError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, store.ErrNotFound):
		return notFound(missing)
	case errors.Is(err, store.ErrDuplicate):
		return conflict(duplicateColumnMessage)
	case errors.Is(err, store.ErrSubtaskTaken):
		return validationError("Invalid task", map[string]string{"subtasks": "subtask uuid belongs to another task"})
	}
	return err
}

func subtaskRows(inputs []SubtaskInput) []store.Subtask {
	rows := make([]store.Subtask, 0, len(inputs))
	for _, input := range inputs {
		id := input.UUID
		if id == "" {
			id = uuid.NewString()
		}
		rows = append(rows, store.Subtask{UUID: id, Name: input.Name, Completed: input.Completed})
	}
	return rows
}

func taskRecord(task store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:          task.UUID,
		Name:        task.Name,
		Description: task.Description,
		ColumnUUID:  task.ColumnUUID,
		BoardUUID:   task.BoardUUID,
		OwnerID:     task.UserID,
	}
}

func colorOr(color string) string {
	if color == "" {
		return randomColor()
	}
	return color
}

func randomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0x1000000))
}
