// Package session keeps the short server-side memory of each visitor's chat.
package session

import (
	"context"
	"errors"

	"github.com/digitalforce/flexi/backend/internal/model/chat"
)

var (
	ErrSessionIDRequired = errors.New("session id is required")
	ErrSessionNotFound   = errors.New("session not found")
)

// Store persists SessionRecords keyed by session id. Implementations must
// keep at most chat.MaxTurns turns per record and be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, sessionID string) (chat.SessionRecord, error)
	Append(ctx context.Context, sessionID string, turn chat.Turn) (chat.SessionRecord, error)
}

// Turns returns the stored turns for sessionID, treating a missing record as empty.
func Turns(ctx context.Context, store Store, sessionID string) ([]chat.Turn, error) {
	record, err := store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record.Turns, nil
}
