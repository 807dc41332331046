// Package storage defines the key-value gateway the game service persists
// through and its in-process implementation.
package storage

import (
	"context"

	"github.com/pismenka-api/internal/domain"
)

// Logical keys shared by every backend
const (
	KeyCurrentGame = "current_game"
	KeyResults     = "results"
	KeyArchive     = "archive"
)

// Store is the storage gateway. Reads return an empty default instead of an
// error and writes report through their boolean whether the configured
// backend accepted them; failures are never escalated to the caller.
type Store interface {
	CurrentGame(ctx context.Context) *domain.DailyGame
	SetCurrentGame(ctx context.Context, game domain.DailyGame) bool

	Results(ctx context.Context) []domain.Result
	// AppendResult keeps only the most recent keep results (keep <= 0 keeps all).
	AppendResult(ctx context.Context, result domain.Result, keep int) bool

	Archive(ctx context.Context) []domain.ArchiveEntry
	// AppendArchive keeps only the most recent keep entries (keep <= 0 keeps all).
	AppendArchive(ctx context.Context, entry domain.ArchiveEntry, keep int) bool

	Health(ctx context.Context) domain.StoreHealth
	Kind() string
}

// TrimOldest drops entries from the front so at most keep remain
func TrimOldest[T any](items []T, keep int) []T {
	if keep <= 0 || len(items) <= keep {
		return items
	}
	return items[len(items)-keep:]
}
