package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/upstwin/upstwin/pkg/storage"
	"github.com/upstwin/upstwin/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetScenario(ctx context.Context, name string) (types.Scenario, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(types.Scenario), args.Error(1)
}

func (m *MockDatabase) ListScenarios(ctx context.Context) ([]types.Scenario, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Scenario), args.Error(1)
}

func (m *MockDatabase) PutScenario(ctx context.Context, sc types.Scenario) error {
	args := m.Called(ctx, sc)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
