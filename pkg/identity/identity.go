package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/benmeehan/iothub-agent/pkg/file"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
)

const hubHostSuffix = ".azure-devices.net"

// Identity holds the hub and device names and the device's shared access key.
type Identity struct {
	HubName          string `json:"hub_name,omitempty"`
	DeviceName       string `json:"device_name,omitempty"`
	Key              string `json:"key,omitempty"`
	KeyFile          string `json:"key_file,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
}

// DeviceInfoInterface defines methods for loading and reading the device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	GetDeviceName() string
	GetDeviceIdentity() *Identity
	ClientIdentity() iothub.Identity
}

// DeviceInfo loads the device identity from a JSON file.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) DeviceInfoInterface {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
	}
}

// LoadDeviceInfo reads the identity file. A connection string, when present,
// takes precedence over the individual fields; a key file is read when no
// inline key is given.
func (d *DeviceInfo) LoadDeviceInfo() error {
	var id Identity
	if err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &id); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("identity file %s not found", d.DeviceInfoFile)
		}
		return fmt.Errorf("failed to read identity file: %w", err)
	}

	if id.ConnectionString != "" {
		parsed, err := ParseConnectionString(id.ConnectionString)
		if err != nil {
			return err
		}
		parsed.ConnectionString = id.ConnectionString
		id = *parsed
	}

	if id.Key == "" && id.KeyFile != "" {
		key, err := d.fileOps.ReadTrimmed(id.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to read device key: %w", err)
		}
		id.Key = key
	}

	if err := id.Validate(); err != nil {
		return err
	}

	d.Identity = id
	return nil
}

// GetDeviceIdentity returns the loaded identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	return &d.Identity
}

// GetDeviceName returns the device name.
func (d *DeviceInfo) GetDeviceName() string {
	return d.Identity.DeviceName
}

// ClientIdentity converts the identity into the form the hub client takes.
func (d *DeviceInfo) ClientIdentity() iothub.Identity {
	return iothub.Identity{
		HubName:    d.Identity.HubName,
		DeviceName: d.Identity.DeviceName,
		Key:        d.Identity.Key,
	}
}

// Validate checks that every field needed to sign requests is present.
// The key's encoding is checked later, when the first token is signed.
func (i *Identity) Validate() error {
	var missing []string
	if i.HubName == "" {
		missing = append(missing, "hub_name")
	}
	if i.DeviceName == "" {
		missing = append(missing, "device_name")
	}
	if i.Key == "" {
		missing = append(missing, "key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete device identity, missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ParseConnectionString parses a device connection string of the form
// HostName=<hub>.azure-devices.net;DeviceId=<device>;SharedAccessKey=<key>.
func ParseConnectionString(cs string) (*Identity, error) {
	id := &Identity{}
	for _, part := range strings.Split(cs, ";") {
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed connection string segment %q", part)
		}
		switch name {
		case "HostName":
			hub, found := strings.CutSuffix(value, hubHostSuffix)
			if !found || hub == "" {
				return nil, fmt.Errorf("unsupported host name %q", value)
			}
			id.HubName = hub
		case "DeviceId":
			id.DeviceName = value
		case "SharedAccessKey":
			id.Key = value
		}
	}

	if err := id.Validate(); err != nil {
		return nil, errors.Join(errors.New("invalid connection string"), err)
	}
	return id, nil
}
