package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/iothub-agent/pkg/iothub"
)

// DeviceClient is a mock implementation of iothub.DeviceClient.
type DeviceClient struct {
	mock.Mock
}

func (m *DeviceClient) CreateToken(ttl time.Duration) (*iothub.AccessToken, error) {
	args := m.Called(ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*iothub.AccessToken), args.Error(1)
}

func (m *DeviceClient) Send(message []byte) (int, error) {
	args := m.Called(message)
	return args.Int(0), args.Error(1)
}

func (m *DeviceClient) ReadMessage() (*iothub.InboundMessage, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*iothub.InboundMessage), args.Error(1)
}

func (m *DeviceClient) CompleteMessage(etag string) (int, error) {
	args := m.Called(etag)
	return args.Int(0), args.Error(1)
}

func (m *DeviceClient) RejectMessage(etag string) (int, error) {
	args := m.Called(etag)
	return args.Int(0), args.Error(1)
}

func (m *DeviceClient) AbandonMessage(etag string) (int, error) {
	args := m.Called(etag)
	return args.Int(0), args.Error(1)
}
