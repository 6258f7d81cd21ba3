// Package draft defines storage for unsent message bodies, keyed by
// counterpart, so a draft survives a failed send or a restart.
package draft

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("draft not found")

type Draft struct {
	CounterpartID string    `json:"counterpart_id"`
	Body          string    `json:"body"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists drafts. Setting an empty body deletes the draft.
type Store interface {
	Get(ctx context.Context, counterpartID string) (Draft, error)
	Set(ctx context.Context, counterpartID, body string) error
	List(ctx context.Context) ([]Draft, error)
}
