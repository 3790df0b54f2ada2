package identity_test

import (
	"os"
	"testing"

	"github.com/benmeehan/iothub-agent/internal/mocks"
	"github.com/benmeehan/iothub-agent/pkg/identity"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionString(t *testing.T) {
	id, err := identity.ParseConnectionString("HostName=myhub.azure-devices.net;DeviceId=dev1;SharedAccessKey=c2VjcmV0PT0=")
	require.NoError(t, err)

	assert.Equal(t, "myhub", id.HubName)
	assert.Equal(t, "dev1", id.DeviceName)
	assert.Equal(t, "c2VjcmV0PT0=", id.Key)
}

func TestParseConnectionString_Invalid(t *testing.T) {
	for _, cs := range []string{
		"",
		"HostName=myhub.example.com;DeviceId=dev1;SharedAccessKey=abc",
		"HostName=myhub.azure-devices.net;DeviceId=dev1",
		"HostName=myhub.azure-devices.net;DeviceId",
	} {
		_, err := identity.ParseConnectionString(cs)
		assert.Error(t, err, cs)
	}
}

func TestLoadDeviceInfo_Fields(t *testing.T) {
	fileOps := new(mocks.FileOperations)
	fileOps.On("ReadJsonFile", "identity.json", mock.Anything).Run(func(args mock.Arguments) {
		id := args.Get(1).(*identity.Identity)
		id.HubName = "myhub"
		id.DeviceName = "dev1"
		id.KeyFile = "device.key"
	}).Return(nil)
	fileOps.On("ReadTrimmed", "device.key").Return("c2VjcmV0", nil)

	info := identity.NewDeviceInfo("identity.json", fileOps)
	require.NoError(t, info.LoadDeviceInfo())

	assert.Equal(t, "dev1", info.GetDeviceName())
	assert.Equal(t, iothub.Identity{HubName: "myhub", DeviceName: "dev1", Key: "c2VjcmV0"}, info.ClientIdentity())
	fileOps.AssertExpectations(t)
}

func TestLoadDeviceInfo_ConnectionString(t *testing.T) {
	fileOps := new(mocks.FileOperations)
	fileOps.On("ReadJsonFile", "identity.json", mock.Anything).Run(func(args mock.Arguments) {
		id := args.Get(1).(*identity.Identity)
		id.HubName = "ignored"
		id.ConnectionString = "HostName=myhub.azure-devices.net;DeviceId=dev1;SharedAccessKey=c2VjcmV0"
	}).Return(nil)

	info := identity.NewDeviceInfo("identity.json", fileOps)
	require.NoError(t, info.LoadDeviceInfo())

	assert.Equal(t, "myhub", info.GetDeviceIdentity().HubName)
	assert.Equal(t, "c2VjcmV0", info.GetDeviceIdentity().Key)
	fileOps.AssertNotCalled(t, "ReadTrimmed", mock.Anything)
}

func TestLoadDeviceInfo_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		fileOps := new(mocks.FileOperations)
		fileOps.On("ReadJsonFile", "identity.json", mock.Anything).Return(os.ErrNotExist)

		err := identity.NewDeviceInfo("identity.json", fileOps).LoadDeviceInfo()
		assert.EqualError(t, err, "identity file identity.json not found")
	})

	t.Run("incomplete", func(t *testing.T) {
		fileOps := new(mocks.FileOperations)
		fileOps.On("ReadJsonFile", "identity.json", mock.Anything).Run(func(args mock.Arguments) {
			args.Get(1).(*identity.Identity).HubName = "myhub"
		}).Return(nil)

		err := identity.NewDeviceInfo("identity.json", fileOps).LoadDeviceInfo()
		assert.EqualError(t, err, "incomplete device identity, missing device_name, key")
	})
}
