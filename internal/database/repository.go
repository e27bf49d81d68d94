package database

import (
	"context"

	"github.com/npezzotti/go-consult/internal/types"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Repository persists the append-only chat and note logs of a consultation.
// Records outlive any single call.
type Repository interface {
	CreateChatMessage(ctx context.Context, msg types.ChatMessage) (types.ChatMessage, error)
	// GetChatHistory returns up to limit messages older than the before cursor
	// (0 means newest), oldest first.
	GetChatHistory(ctx context.Context, consultationId string, before int64, limit int) ([]types.ChatMessage, error)
	CreateNote(ctx context.Context, note types.Note) (types.Note, error)
	GetNotes(ctx context.Context, consultationId string, before int64, limit int) ([]types.Note, error)
}

// NormalizeLimit clamps a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
