package librt

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockChannel struct {
	mock.Mock

	tapConnect func()
}

func (m *mockChannel) Connect(ctx context.Context) error {
	if m.tapConnect != nil {
		m.tapConnect()
	}
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockChannel) Send(data any) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *mockChannel) SetHandler(h Handler) {
	m.Called(h)
}

func (m *mockChannel) State() ChannelState {
	args := m.Called()
	return args.Get(0).(ChannelState)
}

func (m *mockChannel) Close() {
	m.Called()
}

func (m *mockChannel) CloseChan() CloseChan {
	args := m.Called()
	return args.Get(0).(CloseChan)
}
