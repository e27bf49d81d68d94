package consultation

import (
	"context"

	"github.com/npezzotti/go-consult/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRecords struct {
	mock.Mock
}

func (m *MockRecords) Participants(ctx context.Context, consultationId string) (types.Participants, error) {
	args := m.Called(ctx, consultationId)
	return args.Get(0).(types.Participants), args.Error(1)
}
func (m *MockRecords) ChatEnabled(ctx context.Context, consultationId string) (bool, error) {
	args := m.Called(ctx, consultationId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRecords) MarkEnded(ctx context.Context, consultationId string, summary types.CallSummary) error {
	args := m.Called(ctx, consultationId, summary)
	return args.Error(0)
}
