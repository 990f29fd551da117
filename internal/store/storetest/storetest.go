// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"taskboard/api/internal/store"
)

// New returns a migrated store backed by a file in t.TempDir.
func New(t testing.TB) *store.Store {
	t.Helper()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "taskboard.db")
	db, err := store.Open(ctx, store.DialectSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.ApplyMigrations(ctx, db, store.DialectSQLite); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store.New(db, store.DialectSQLite)
}

// Seed creates a board owned by userID with one column per name and
// returns the column uuids in position order.
func Seed(t testing.TB, s *store.Store, userID, boardUUID string, names ...string) []string {
	t.Helper()

	ctx := context.Background()
	columnUUIDs := make([]string, 0, len(names))
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertBoard(ctx, store.Board{UUID: boardUUID, Name: "Board", UserID: userID}); err != nil {
			return err
		}
		for i, name := range names {
			column := store.Column{
				UUID:      uuid.NewString(),
				BoardUUID: boardUUID,
				Name:      name,
				Color:     "#336699",
				Position:  i,
				UserID:    userID,
			}
			if err := tx.InsertColumn(ctx, column); err != nil {
				return err
			}
			columnUUIDs = append(columnUUIDs, column.UUID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed board: %v", err)
	}
	return columnUUIDs
}
