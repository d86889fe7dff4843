package storage

import (
	"errors"

	"github.com/cuemby/squares/pkg/types"
)

var (
	// ErrUnsupportedVersion is returned when the database was written by a
	// newer schema than this binary understands
	ErrUnsupportedVersion = errors.New("unsupported schema version")

	// ErrPersistence marks a failed write of an aggregate. Callers wrap it
	// so the failure can be told apart from platform errors.
	ErrPersistence = errors.New("persistence failure")
)

// Store defines the interface for persisting the three aggregates.
// Each aggregate is versioned independently.
type Store interface {
	// Reactions
	LoadReactions() ([]types.Change, error)
	ApplyTransaction(tx *types.Transaction) error
	SaveReactions(records []types.Change) error

	// Message cache
	LoadMessages() (map[string]*types.CachedMessage, error)
	PutMessage(msg *types.CachedMessage) error
	DeleteMessage(id string) error
	SaveMessages(msgs map[string]*types.CachedMessage) error

	// Squareboard
	LoadSquareboard() (map[string]*types.SquareboardEntry, error)
	PutSquareboardEntry(messageID string, entry *types.SquareboardEntry) error
	DeleteSquareboardEntry(messageID string) error
	SaveSquareboard(entries map[string]*types.SquareboardEntry) error

	// Utility
	Ping() error
	Close() error
}
