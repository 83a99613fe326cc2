package database

import (
	"context"

	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageStore) Append(ctx context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockMessageStore) List(ctx context.Context, room string) ([]types.Message, error) {
	args := m.Called(ctx, room)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) DeleteByID(ctx context.Context, id int64, room string) ([]string, error) {
	args := m.Called(ctx, id, room)
	if rooms, ok := args.Get(0).([]string); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) ClearRoom(ctx context.Context, room string) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
func (m *MockMessageStore) ClearAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageStore) ListRooms(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if rooms, ok := args.Get(0).([]string); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
