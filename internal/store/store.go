package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"taskboard/api/internal/ordering"
)

type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

func New(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a write transaction and commits when it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// withReadTx gives multi-statement reads one snapshot.
func (s *Store) withReadTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListBoards(ctx context.Context, userID string) ([]Board, error) {
	boards := []Board{}
	err := s.db.SelectContext(ctx, &boards, s.db.Rebind(`
		SELECT uuid, name, user_id, version
		FROM boards
		WHERE user_id = ?
		ORDER BY name, uuid
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

// GetBoardDetail loads a board with its columns, tasks and subtasks.
func (s *Store) GetBoardDetail(ctx context.Context, userID, boardUUID string) (BoardDetail, error) {
	var detail BoardDetail
	err := s.withReadTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		detail, err = loadBoardDetail(ctx, tx, userID, boardUUID)
		return err
	})
	return detail, err
}

func loadBoardDetail(ctx context.Context, tx *sqlx.Tx, userID, boardUUID string) (BoardDetail, error) {
	var board Board
	err := tx.GetContext(ctx, &board, tx.Rebind(`
		SELECT uuid, name, user_id, version FROM boards WHERE uuid = ? AND user_id = ?
	`), boardUUID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return BoardDetail{}, ErrNotFound
	}
	if err != nil {
		return BoardDetail{}, fmt.Errorf("get board: %w", err)
	}

	columns := []Column{}
	if err := tx.SelectContext(ctx, &columns, tx.Rebind(`
		SELECT uuid, board_uuid, name, color, position, user_id
		FROM board_columns
		WHERE board_uuid = ?
		ORDER BY position, uuid
	`), boardUUID); err != nil {
		return BoardDetail{}, fmt.Errorf("list columns: %w", err)
	}

	tasks := []Task{}
	if err := tx.SelectContext(ctx, &tasks, tx.Rebind(`
		SELECT t.uuid, t.column_uuid, c.board_uuid, t.name, t.description, t.position, t.user_id
		FROM tasks t
		JOIN board_columns c ON c.uuid = t.column_uuid
		WHERE c.board_uuid = ?
		ORDER BY t.position, t.uuid
	`), boardUUID); err != nil {
		return BoardDetail{}, fmt.Errorf("list tasks: %w", err)
	}

	subtasks := []Subtask{}
	if err := tx.SelectContext(ctx, &subtasks, tx.Rebind(`
		SELECT s.id, s.uuid, s.task_uuid, s.name, s.completed, s.user_id
		FROM subtasks s
		JOIN tasks t ON t.uuid = s.task_uuid
		JOIN board_columns c ON c.uuid = t.column_uuid
		WHERE c.board_uuid = ?
		ORDER BY s.id
	`), boardUUID); err != nil {
		return BoardDetail{}, fmt.Errorf("list subtasks: %w", err)
	}

	subtasksByTask := map[string][]Subtask{}
	for _, sub := range subtasks {
		subtasksByTask[sub.TaskUUID] = append(subtasksByTask[sub.TaskUUID], sub)
	}
	tasksByColumn := map[string][]TaskDetail{}
	for _, task := range tasks {
		subs := subtasksByTask[task.UUID]
		if subs == nil {
			subs = []Subtask{}
		}
		tasksByColumn[task.ColumnUUID] = append(tasksByColumn[task.ColumnUUID], TaskDetail{Task: task, Subtasks: subs})
	}

	detail := BoardDetail{Board: board, Columns: make([]ColumnDetail, 0, len(columns))}
	for _, column := range columns {
		columnTasks := tasksByColumn[column.UUID]
		if columnTasks == nil {
			columnTasks = []TaskDetail{}
		}
		detail.Columns = append(detail.Columns, ColumnDetail{Column: column, Tasks: columnTasks})
	}
	return detail, nil
}

func (s *Store) GetTaskDetail(ctx context.Context, userID, taskUUID string) (TaskDetail, error) {
	var detail TaskDetail
	err := s.withReadTx(ctx, func(tx *sqlx.Tx) error {
		task, err := getTask(ctx, tx, userID, taskUUID)
		if err != nil {
			return err
		}
		subtasks, err := listSubtasks(ctx, tx, taskUUID)
		if err != nil {
			return err
		}
		detail = TaskDetail{Task: task, Subtasks: subtasks}
		return nil
	})
	return detail, err
}

// AllTasks lists every task of every owner, for rebuilding the search index.
func (s *Store) AllTasks(ctx context.Context) ([]Task, error) {
	tasks := []Task{}
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT t.uuid, t.column_uuid, c.board_uuid, t.name, t.description, t.position, t.user_id
		FROM tasks t
		JOIN board_columns c ON c.uuid = t.column_uuid
		ORDER BY c.board_uuid, t.column_uuid, t.position
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// UpsertUser stores the profile pushed by the identity provider.
func (s *Store) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, email, name, image)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			image = excluded.image,
			updated_at = CURRENT_TIMESTAMP
	`), user.ID, user.Email, user.Name, user.Image)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(`SELECT id, email, name, image FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// Audit reports every non-empty sibling list and whether it is dense.
func (s *Store) Audit(ctx context.Context) ([]ScopeReport, error) {
	var reports []ScopeReport
	err := s.withReadTx(ctx, func(tx *sqlx.Tx) error {
		columns, err := scopePositions(ctx, tx, `SELECT board_uuid AS scope, position FROM board_columns ORDER BY board_uuid, position`)
		if err != nil {
			return fmt.Errorf("audit columns: %w", err)
		}
		tasks, err := scopePositions(ctx, tx, `SELECT column_uuid AS scope, position FROM tasks ORDER BY column_uuid, position`)
		if err != nil {
			return fmt.Errorf("audit tasks: %w", err)
		}
		reports = append(reports, buildReports("columns", columns)...)
		reports = append(reports, buildReports("tasks", tasks)...)
		return nil
	})
	return reports, err
}

type scopedPosition struct {
	Scope    string `db:"scope"`
	Position int    `db:"position"`
}

func scopePositions(ctx context.Context, tx *sqlx.Tx, query string) ([]scopedPosition, error) {
	rows := []scopedPosition{}
	if err := tx.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}

func buildReports(kind string, rows []scopedPosition) []ScopeReport {
	var reports []ScopeReport
	for _, row := range rows {
		if len(reports) == 0 || reports[len(reports)-1].Scope != row.Scope {
			reports = append(reports, ScopeReport{Kind: kind, Scope: row.Scope})
		}
		last := &reports[len(reports)-1]
		last.Positions = append(last.Positions, row.Position)
	}
	for i := range reports {
		reports[i].Dense = ordering.CheckDense(reports[i].Scope, reports[i].Positions) == nil
	}
	return reports
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
