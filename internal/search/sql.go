package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQL implements Searcher with a case-insensitive LIKE over task names and
// descriptions. It works on both PostgreSQL and SQLite.
type SQL struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

// Healthy always returns true: without the database nothing works anyway.
func (s *SQL) Healthy() bool {
	return true
}

type taskRow struct {
	UUID        string `db:"uuid"`
	Name        string `db:"name"`
	Description string `db:"description"`
	ColumnUUID  string `db:"column_uuid"`
	BoardUUID   string `db:"board_uuid"`
}

func (s *SQL) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" || q.OwnerID == "" {
		return nil, 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	where := `
		FROM tasks t
		JOIN board_columns c ON c.uuid = t.column_uuid
		WHERE t.user_id = ?
		  AND (LOWER(t.name) LIKE ? ESCAPE '\' OR LOWER(t.description) LIKE ? ESCAPE '\')`

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*)`+where), q.OwnerID, pattern, pattern); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	rows := []taskRow{}
	query := `SELECT t.uuid, t.name, t.description, t.column_uuid, c.board_uuid` + where + `
		ORDER BY t.name, t.uuid
		LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), q.OwnerID, pattern, pattern, limitOf(q)); err != nil {
		return nil, 0, fmt.Errorf("search tasks: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			TaskUUID:   row.UUID,
			Name:       row.Name,
			Snippet:    snippet(row.Description, 120),
			ColumnUUID: row.ColumnUUID,
			BoardUUID:  row.BoardUUID,
		})
	}
	return results, total, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func snippet(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
