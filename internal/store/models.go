package store

import (
	"errors"
	"strings"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")

	// ErrSubtaskTaken is returned when a subtask uuid already belongs to
	// another task.
	ErrSubtaskTaken = errors.New("subtask belongs to another task")
)

type User struct {
	ID    string `db:"id" json:"id"`
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
	Image string `db:"image" json:"image"`
}

type Board struct {
	UUID    string `db:"uuid" json:"uuid"`
	Name    string `db:"name" json:"name"`
	UserID  string `db:"user_id" json:"user_id"`
	Version int64  `db:"version" json:"version"`
}

type Column struct {
	UUID      string `db:"uuid" json:"uuid"`
	BoardUUID string `db:"board_uuid" json:"board_uuid"`
	Name      string `db:"name" json:"name"`
	Color     string `db:"color" json:"color"`
	Position  int    `db:"position" json:"position"`
	UserID    string `db:"user_id" json:"user_id"`
}

type Task struct {
	UUID        string `db:"uuid" json:"uuid"`
	ColumnUUID  string `db:"column_uuid" json:"column_uuid"`
	BoardUUID   string `db:"board_uuid" json:"board_uuid"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	Position    int    `db:"position" json:"position"`
	UserID      string `db:"user_id" json:"user_id"`
}

type Subtask struct {
	ID        int64  `db:"id" json:"id"`
	UUID      string `db:"uuid" json:"uuid"`
	TaskUUID  string `db:"task_uuid" json:"task_uuid"`
	Name      string `db:"name" json:"name"`
	Completed bool   `db:"completed" json:"completed"`
	UserID    string `db:"user_id" json:"user_id"`
}

// TaskDetail is a task with its subtasks in insertion order.
type TaskDetail struct {
	Task
	Subtasks []Subtask `json:"subtasks"`
}

type ColumnDetail struct {
	Column
	Tasks []TaskDetail `json:"tasks"`
}

// BoardDetail is the nested board: columns by position, tasks by position.
type BoardDetail struct {
	Board
	Columns []ColumnDetail `json:"columns"`
}

// ScopeReport describes one sibling list found by Audit.
type ScopeReport struct {
	Kind      string `json:"kind"`
	Scope     string `json:"scope"`
	Positions []int  `json:"positions"`
	Dense     bool   `json:"dense"`
}

// NameKey is the form column names are compared in for uniqueness within a
// board. SQL LOWER folds ASCII only on SQLite, so the key is computed here.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
