package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ubix08/orix/internal/durablelog"
	"github.com/ubix08/orix/internal/task"
)

// BoardStorage persists a session's TaskBoard, per spec.md §4.7.
type BoardStorage interface {
	Load(ctx context.Context, sessionID string) (*task.Board, error)
	Save(ctx context.Context, board *task.Board) error
	Delete(ctx context.Context, sessionID string) error
}

// DurableBoardStorage stores one JSON-encoded board per session as a
// Durable Log KV entry, keyed by session id so load-on-first-access finds
// the most recent board for that session.
type DurableBoardStorage struct {
	log durablelog.Log
}

// NewDurableBoardStorage wraps a Durable Log as board storage.
func NewDurableBoardStorage(log durablelog.Log) *DurableBoardStorage {
	return &DurableBoardStorage{log: log}
}

func boardKey(sessionID string) string { return "taskBoard:" + sessionID }

// Load returns the session's persisted board, or (nil, nil) if none exists.
func (s *DurableBoardStorage) Load(ctx context.Context, sessionID string) (*task.Board, error) {
	raw, ok, err := s.log.Get(ctx, boardKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load board: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var b task.Board
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("orchestrator: decode board: %w", err)
	}
	return &b, nil
}

// Save persists board under its session's key, overwriting any prior board.
func (s *DurableBoardStorage) Save(ctx context.Context, board *task.Board) error {
	raw, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("orchestrator: encode board: %w", err)
	}
	if err := s.log.Set(ctx, boardKey(board.SessionID), string(raw)); err != nil {
		return fmt.Errorf("orchestrator: save board: %w", err)
	}
	return nil
}

// Delete removes a session's board entirely, e.g. on abandon. Boards are
// stored one-per-session, so the lookup key is the owning session id.
func (s *DurableBoardStorage) Delete(ctx context.Context, sessionID string) error {
	if err := s.log.Delete(ctx, boardKey(sessionID)); err != nil {
		return fmt.Errorf("orchestrator: delete board: %w", err)
	}
	return nil
}
