package stats

import "github.com/stretchr/testify/mock"

type MockStatsUpdater struct {
	mock.Mock
}

// NewMockStatsUpdater returns a mock that accepts any metric update. Tests
// that care about specific updates add their own expectations first.
func NewMockStatsUpdater() *MockStatsUpdater {
	m := &MockStatsUpdater{}
	m.On("RegisterMetric", mock.Anything).Maybe()
	m.On("Incr", mock.Anything).Maybe()
	m.On("Decr", mock.Anything).Maybe()
	m.On("Run").Maybe()
	return m
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Run() {
	m.Called()
}

