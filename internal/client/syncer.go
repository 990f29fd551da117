package client

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"taskboard/api/internal/store"
)

type boardAPI interface {
	GetBoard(context.Context, string) (store.BoardDetail, error)
	MoveTask(context.Context, string, string, int) (MoveResult, error)
	MoveColumn(context.Context, string, int) (MoveResult, error)
}

// Syncer sends the intents a Reducer produces and reconciles the answers.
// Concurrent refetches of the board share one request.
type Syncer struct {
	api       boardAPI
	reducer   *Reducer
	boardUUID string
	refetch   singleflight.Group
	log       *slog.Logger
}

func NewSyncer(api boardAPI, reducer *Reducer, boardUUID string, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{api: api, reducer: reducer, boardUUID: boardUUID, log: log}
}

func (s *Syncer) Reducer() *Reducer {
	return s.reducer
}

// Refresh fetches the board and loads it unless a newer version is already
// applied.
func (s *Syncer) Refresh(ctx context.Context) error {
	_, err, _ := s.refetch.Do(s.boardUUID, func() (any, error) {
		board, err := s.api.GetBoard(ctx, s.boardUUID)
		if err != nil {
			return nil, err
		}
		applied, err := s.reducer.Load(board)
		if err != nil {
			return nil, err
		}
		if !applied {
			s.log.Debug("client: ignored stale board", "board", s.boardUUID, "version", board.Version)
		}
		return nil, nil
	})
	return err
}

// Apply carries out an intent. A failed move is rolled back, or refetched
// when newer optimistic state sits on top of it, and the error is returned.
func (s *Syncer) Apply(ctx context.Context, intent Intent) error {
	switch intent.Kind {
	case IntentNone:
		return nil
	case IntentRefresh:
		return s.Refresh(ctx)
	}

	var (
		result MoveResult
		err    error
	)
	if intent.Column {
		result, err = s.api.MoveColumn(ctx, intent.Item, intent.Position)
	} else {
		result, err = s.api.MoveTask(ctx, intent.Item, intent.Scope, intent.Position)
	}
	if err != nil {
		switch s.reducer.Fail(intent.Seq) {
		case RolledBack:
			s.log.Warn("client: move rolled back", "item", intent.Item, "error", err)
		case NeedsRefetch:
			if refreshErr := s.Refresh(ctx); refreshErr != nil {
				s.log.Warn("client: refetch after failed move", "error", refreshErr)
			}
		}
		return fmt.Errorf("move %s: %w", intent.Item, err)
	}

	if !s.reducer.Confirm(intent.Seq, result.Version) {
		return nil
	}
	return s.Refresh(ctx)
}

// MoveTask moves a task to (columnUUID, position) optimistically and
// persists it.
func (s *Syncer) MoveTask(ctx context.Context, taskUUID, columnUUID string, position int) (Intent, error) {
	intent, err := s.reducer.Move(taskUUID, columnUUID, position)
	if err != nil {
		return Intent{}, err
	}
	return intent, s.Apply(ctx, intent)
}

func (s *Syncer) MoveColumn(ctx context.Context, columnUUID string, position int) (Intent, error) {
	intent, err := s.reducer.Move(columnUUID, s.boardUUID, position)
	if err != nil {
		return Intent{}, err
	}
	return intent, s.Apply(ctx, intent)
}
