package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"taskboard/api/internal/ordering"
)

// Tx is a write transaction. Every mutation of a board starts with LockBoard
// so concurrent writers to the same board serialise on the board row.
type Tx struct {
	tx *sqlx.Tx
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
}

// LockBoard bumps the board version and returns the new value. It fails
// with ErrNotFound when the board does not exist or belongs to someone else.
func (t *Tx) LockBoard(ctx context.Context, userID, boardUUID string) (int64, error) {
	var version int64
	err := t.tx.GetContext(ctx, &version, t.tx.Rebind(`
		UPDATE boards SET version = version + 1
		WHERE uuid = ? AND user_id = ?
		RETURNING version
	`), boardUUID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock board: %w", err)
	}
	return version, nil
}

func (t *Tx) InsertBoard(ctx context.Context, board Board) error {
	_, err := t.exec(ctx, `INSERT INTO boards (uuid, name, user_id, version) VALUES (?, ?, ?, ?)`,
		board.UUID, board.Name, board.UserID, board.Version)
	return classify("insert board", err)
}

func (t *Tx) RenameBoard(ctx context.Context, boardUUID, name string) error {
	_, err := t.exec(ctx, `UPDATE boards SET name = ? WHERE uuid = ?`, name, boardUUID)
	return classify("rename board", err)
}

func (t *Tx) DeleteBoard(ctx context.Context, boardUUID string) error {
	_, err := t.exec(ctx, `DELETE FROM boards WHERE uuid = ?`, boardUUID)
	return classify("delete board", err)
}

func (t *Tx) Board(ctx context.Context, userID, boardUUID string) (BoardDetail, error) {
	return loadBoardDetail(ctx, t.tx, userID, boardUUID)
}

// Columns

func (t *Tx) Column(ctx context.Context, userID, columnUUID string) (Column, error) {
	var column Column
	err := t.tx.GetContext(ctx, &column, t.tx.Rebind(`
		SELECT uuid, board_uuid, name, color, position, user_id
		FROM board_columns
		WHERE uuid = ? AND user_id = ?
	`), columnUUID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Column{}, ErrNotFound
	}
	if err != nil {
		return Column{}, fmt.Errorf("get column: %w", err)
	}
	return column, nil
}

func (t *Tx) Columns(ctx context.Context, boardUUID string) ([]Column, error) {
	columns := []Column{}
	err := t.tx.SelectContext(ctx, &columns, t.tx.Rebind(`
		SELECT uuid, board_uuid, name, color, position, user_id
		FROM board_columns
		WHERE board_uuid = ?
		ORDER BY position, uuid
	`), boardUUID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return columns, nil
}

func (t *Tx) CountColumns(ctx context.Context, boardUUID string) (int, error) {
	var count int
	if err := t.tx.GetContext(ctx, &count, t.tx.Rebind(`SELECT COUNT(*) FROM board_columns WHERE board_uuid = ?`), boardUUID); err != nil {
		return 0, fmt.Errorf("count columns: %w", err)
	}
	return count, nil
}

func (t *Tx) InsertColumn(ctx context.Context, column Column) error {
	_, err := t.exec(ctx, `
		INSERT INTO board_columns (uuid, board_uuid, name, name_key, color, position, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, column.UUID, column.BoardUUID, column.Name, NameKey(column.Name), column.Color, column.Position, column.UserID)
	return classify("insert column", err)
}

func (t *Tx) UpdateColumn(ctx context.Context, column Column) error {
	_, err := t.exec(ctx, `
		UPDATE board_columns SET name = ?, name_key = ?, color = ?, position = ?
		WHERE uuid = ?
	`, column.Name, NameKey(column.Name), column.Color, column.Position, column.UUID)
	return classify("update column", err)
}

func (t *Tx) DeleteColumn(ctx context.Context, columnUUID string) error {
	_, err := t.exec(ctx, `DELETE FROM board_columns WHERE uuid = ?`, columnUUID)
	return classify("delete column", err)
}

// ShiftColumns applies a relative position change to columns of one board.
func (t *Tx) ShiftColumns(ctx context.Context, d ordering.Delta) error {
	_, err := t.exec(ctx, `
		UPDATE board_columns SET position = position + ?
		WHERE board_uuid = ? AND position >= ? AND uuid <> ?
	`, d.By, d.Scope, d.From, d.Except)
	return classify("shift columns", err)
}

func (t *Tx) ColumnPositions(ctx context.Context, boardUUID string) ([]int, error) {
	positions := []int{}
	if err := t.tx.SelectContext(ctx, &positions, t.tx.Rebind(`
		SELECT position FROM board_columns WHERE board_uuid = ? ORDER BY position
	`), boardUUID); err != nil {
		return nil, fmt.Errorf("column positions: %w", err)
	}
	return positions, nil
}

// Tasks

type queryer interface {
	sqlx.QueryerContext
	Rebind(string) string
}

func getTask(ctx context.Context, q queryer, userID, taskUUID string) (Task, error) {
	var task Task
	err := sqlx.GetContext(ctx, q, &task, q.Rebind(`
		SELECT t.uuid, t.column_uuid, c.board_uuid, t.name, t.description, t.position, t.user_id
		FROM tasks t
		JOIN board_columns c ON c.uuid = t.column_uuid
		WHERE t.uuid = ? AND t.user_id = ?
	`), taskUUID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (t *Tx) Task(ctx context.Context, userID, taskUUID string) (Task, error) {
	return getTask(ctx, t.tx, userID, taskUUID)
}

func (t *Tx) CountTasks(ctx context.Context, columnUUID string) (int, error) {
	var count int
	if err := t.tx.GetContext(ctx, &count, t.tx.Rebind(`SELECT COUNT(*) FROM tasks WHERE column_uuid = ?`), columnUUID); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

func (t *Tx) InsertTask(ctx context.Context, task Task) error {
	_, err := t.exec(ctx, `
		INSERT INTO tasks (uuid, column_uuid, name, description, position, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.UUID, task.ColumnUUID, task.Name, task.Description, task.Position, task.UserID)
	return classify("insert task", err)
}

func (t *Tx) UpdateTask(ctx context.Context, task Task) error {
	_, err := t.exec(ctx, `
		UPDATE tasks SET name = ?, description = ?, column_uuid = ?, position = ?
		WHERE uuid = ?
	`, task.Name, task.Description, task.ColumnUUID, task.Position, task.UUID)
	return classify("update task", err)
}

func (t *Tx) DeleteTask(ctx context.Context, taskUUID string) error {
	_, err := t.exec(ctx, `DELETE FROM tasks WHERE uuid = ?`, taskUUID)
	return classify("delete task", err)
}

// ShiftTasks applies a relative position change to tasks of one column.
func (t *Tx) ShiftTasks(ctx context.Context, d ordering.Delta) error {
	_, err := t.exec(ctx, `
		UPDATE tasks SET position = position + ?
		WHERE column_uuid = ? AND position >= ? AND uuid <> ?
	`, d.By, d.Scope, d.From, d.Except)
	return classify("shift tasks", err)
}

func (t *Tx) TaskPositions(ctx context.Context, columnUUID string) ([]int, error) {
	positions := []int{}
	if err := t.tx.SelectContext(ctx, &positions, t.tx.Rebind(`
		SELECT position FROM tasks WHERE column_uuid = ? ORDER BY position
	`), columnUUID); err != nil {
		return nil, fmt.Errorf("task positions: %w", err)
	}
	return positions, nil
}

// TaskUUIDs lists the tasks under a board, or under one column of it when
// columnUUID is set.
func (t *Tx) TaskUUIDs(ctx context.Context, boardUUID, columnUUID string) ([]string, error) {
	query := `
		SELECT t.uuid FROM tasks t
		JOIN board_columns c ON c.uuid = t.column_uuid
		WHERE c.board_uuid = ?`
	args := []any{boardUUID}
	if columnUUID != "" {
		query += ` AND t.column_uuid = ?`
		args = append(args, columnUUID)
	}
	ids := []string{}
	if err := t.tx.SelectContext(ctx, &ids, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list task uuids: %w", err)
	}
	return ids, nil
}

// Subtasks

func listSubtasks(ctx context.Context, q queryer, taskUUID string) ([]Subtask, error) {
	subtasks := []Subtask{}
	if err := sqlx.SelectContext(ctx, q, &subtasks, q.Rebind(`
		SELECT id, uuid, task_uuid, name, completed, user_id
		FROM subtasks WHERE task_uuid = ? ORDER BY id
	`), taskUUID); err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	return subtasks, nil
}

func (t *Tx) Subtasks(ctx context.Context, taskUUID string) ([]Subtask, error) {
	return listSubtasks(ctx, t.tx, taskUUID)
}

// ReplaceSubtasks makes the task's subtasks exactly the given set: missing
// ones are deleted, the rest inserted or updated in place.
func (t *Tx) ReplaceSubtasks(ctx context.Context, userID, taskUUID string, subtasks []Subtask) error {
	keep := make([]string, 0, len(subtasks))
	for _, sub := range subtasks {
		keep = append(keep, sub.UUID)
	}

	if len(keep) == 0 {
		if _, err := t.exec(ctx, `DELETE FROM subtasks WHERE task_uuid = ?`, taskUUID); err != nil {
			return classify("delete subtasks", err)
		}
	} else {
		query, args, err := sqlx.In(`DELETE FROM subtasks WHERE task_uuid = ? AND uuid NOT IN (?)`, taskUUID, keep)
		if err != nil {
			return fmt.Errorf("build subtask delete: %w", err)
		}
		if _, err := t.exec(ctx, query, args...); err != nil {
			return classify("delete subtasks", err)
		}
	}

	for _, sub := range subtasks {
		result, err := t.exec(ctx, `
			INSERT INTO subtasks (uuid, task_uuid, name, completed, user_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (uuid) DO UPDATE SET
				name = excluded.name,
				completed = excluded.completed
			WHERE subtasks.task_uuid = excluded.task_uuid
		`, sub.UUID, taskUUID, sub.Name, sub.Completed, userID)
		if err != nil {
			return classify("upsert subtask", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert subtask: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("upsert subtask %s: %w", sub.UUID, ErrSubtaskTaken)
		}
	}
	return nil
}
