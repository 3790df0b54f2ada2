package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/iothub-agent/internal/constants"
	"github.com/benmeehan/iothub-agent/internal/models"
	"github.com/benmeehan/iothub-agent/pkg/file"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
)

// Config represents the structure of the configuration file.
type Config struct {
	Hub struct {
		IdentityFile string `yaml:"identity_file"` // Path to the device identity JSON file
		APIVersion   string `yaml:"api_version"`   // REST api-version query parameter
		Endpoint     string `yaml:"endpoint"`      // Optional scheme://host override for requests
	} `yaml:"hub"`

	Token struct {
		TTL         time.Duration `yaml:"ttl"`          // Lifetime of each signed token
		RenewBefore time.Duration `yaml:"renew_before"` // How long before expiry a new token is signed
		RetryDelay  time.Duration `yaml:"retry_delay"`  // Delay before retrying a failed signing
	} `yaml:"token"`

	Services struct {
		Telemetry struct {
			Enabled  bool                 `yaml:"enabled"`  // Enable/disable telemetry service
			Interval time.Duration        `yaml:"interval"` // Interval between telemetry messages
			Metrics  models.MetricsConfig `yaml:"metrics"`  // Host metrics to include
		} `yaml:"telemetry"`

		CloudMessages struct {
			Enabled            bool          `yaml:"enabled"`               // Enable/disable cloud-to-device polling
			Interval           time.Duration `yaml:"interval"`              // Interval between polls
			MaxMessagesPerPoll int           `yaml:"max_messages_per_poll"` // Upper bound of messages settled per poll
		} `yaml:"cloud_messages"`

		Bridge struct {
			Enabled       bool   `yaml:"enabled"`        // Enable/disable the local MQTT bridge
			Broker        string `yaml:"broker"`         // Local MQTT broker address
			ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
			Username      string `yaml:"username"`       // Optional MQTT username
			Password      string `yaml:"password"`       // Optional MQTT password
			CACertificate string `yaml:"ca_certificate"` // Optional path to the broker CA certificate
			EventsTopic   string `yaml:"events_topic"`   // Local topic forwarded to the cloud
			C2DTopic      string `yaml:"c2d_topic"`      // Local topic receiving cloud-to-device messages
			QOS           int    `yaml:"qos"`            // MQTT QoS level for both topics
			Workers       int    `yaml:"workers"`        // Concurrent device-to-cloud forwards
		} `yaml:"bridge"`
	} `yaml:"services"`

	Logging struct {
		Level string `yaml:"level"` // zerolog level name
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Hub.APIVersion == "" {
		c.Hub.APIVersion = iothub.APIVersion
	}
	if c.Token.TTL == 0 {
		c.Token.TTL = constants.DefaultTokenTTL
	}
	if c.Token.RenewBefore == 0 {
		c.Token.RenewBefore = constants.DefaultTokenRenewAhead
	}
	if c.Token.RetryDelay == 0 {
		c.Token.RetryDelay = constants.DefaultTokenRetryDelay
	}
	if c.Services.Telemetry.Interval == 0 {
		c.Services.Telemetry.Interval = constants.DefaultTelemetryInterval
	}
	if c.Services.CloudMessages.Interval == 0 {
		c.Services.CloudMessages.Interval = constants.DefaultPollInterval
	}
	if c.Services.CloudMessages.MaxMessagesPerPoll == 0 {
		c.Services.CloudMessages.MaxMessagesPerPoll = constants.DefaultMaxMessagesPerPoll
	}
	if c.Services.Bridge.Workers == 0 {
		c.Services.Bridge.Workers = constants.DefaultBridgeWorkers
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Hub.IdentityFile == "" {
		return errors.New("hub.identity_file is required")
	}
	if c.Token.TTL < time.Second {
		return fmt.Errorf("token.ttl must be at least one second, got %s", c.Token.TTL)
	}
	if c.Token.RenewBefore < 0 {
		return fmt.Errorf("token.renew_before must not be negative, got %s", c.Token.RenewBefore)
	}
	if c.Token.RetryDelay <= 0 {
		return fmt.Errorf("token.retry_delay must be positive, got %s", c.Token.RetryDelay)
	}
	if c.Token.RenewBefore >= c.Token.TTL {
		return fmt.Errorf("token.renew_before (%s) must be shorter than token.ttl (%s)", c.Token.RenewBefore, c.Token.TTL)
	}
	if c.Services.Telemetry.Interval <= 0 {
		return fmt.Errorf("services.telemetry.interval must be positive, got %s", c.Services.Telemetry.Interval)
	}
	if c.Services.CloudMessages.Interval <= 0 {
		return fmt.Errorf("services.cloud_messages.interval must be positive, got %s", c.Services.CloudMessages.Interval)
	}
	if c.Services.Telemetry.Enabled && !c.Services.Telemetry.Metrics.Any() {
		return errors.New("telemetry is enabled but no metrics are selected")
	}
	if c.Services.Bridge.Enabled {
		if c.Services.Bridge.Broker == "" {
			return errors.New("bridge.broker is required when the bridge is enabled")
		}
		if c.Services.Bridge.EventsTopic == "" && c.Services.Bridge.C2DTopic == "" {
			return errors.New("bridge needs events_topic, c2d_topic or both")
		}
		if c.Services.Bridge.QOS < 0 || c.Services.Bridge.QOS > 2 {
			return fmt.Errorf("bridge.qos must be 0, 1 or 2, got %d", c.Services.Bridge.QOS)
		}
	}
	return nil
}
