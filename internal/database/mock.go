package database

import (
	"context"

	"github.com/npezzotti/go-consult/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateChatMessage(ctx context.Context, msg types.ChatMessage) (types.ChatMessage, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.ChatMessage), args.Error(1)
}
func (m *MockRepository) GetChatHistory(ctx context.Context, consultationId string, before int64, limit int) ([]types.ChatMessage, error) {
	args := m.Called(ctx, consultationId, before, limit)
	if msgs, ok := args.Get(0).([]types.ChatMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) CreateNote(ctx context.Context, note types.Note) (types.Note, error) {
	args := m.Called(ctx, note)
	return args.Get(0).(types.Note), args.Error(1)
}
func (m *MockRepository) GetNotes(ctx context.Context, consultationId string, before int64, limit int) ([]types.Note, error) {
	args := m.Called(ctx, consultationId, before, limit)
	if notes, ok := args.Get(0).([]types.Note); ok {
		return notes, args.Error(1)
	}
	return nil, args.Error(1)
}
