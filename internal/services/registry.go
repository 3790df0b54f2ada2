package services

import (
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iothub-agent/internal/metrics_collectors"
	"github.com/benmeehan/iothub-agent/internal/registry"
	"github.com/benmeehan/iothub-agent/internal/utils"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
	"github.com/benmeehan/iothub-agent/pkg/mqtt"
)

// ServiceRegistry manages a collection of services and their startup order.
type ServiceRegistry struct {
	services *orderedmap.OrderedMap[string, registry.Service]
	logger   zerolog.Logger
}

// NewServiceRegistry initializes and returns a new ServiceRegistry instance.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: orderedmap.NewOrderedMap[string, registry.Service](),
		logger:   logger,
	}
}

// RegisterService adds a service; a second registration under the same name is ignored.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services.Get(name); exists {
		sr.logger.Warn().Str("service", name).Msg("Service is already registered")
		return
	}
	sr.services.Set(name, svc)
	sr.logger.Info().Str("service", name).Msg("Registered service")
}

// Names returns the registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return sr.services.Keys()
}

// StartServices starts services in registration order. When one fails, the
// services already started are stopped again in reverse order.
func (sr *ServiceRegistry) StartServices() error {
	var started []string
	for el := sr.services.Front(); el != nil; el = el.Next() {
		sr.logger.Info().Str("service", el.Key).Msg("Starting service")
		if err := el.Value.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				svc, _ := sr.services.Get(started[i])
				if stopErr := svc.Stop(); stopErr != nil {
					sr.logger.Warn().Err(stopErr).Str("service", started[i]).Msg("Failed to stop service during rollback")
				}
			}
			return fmt.Errorf("failed to start service %s: %w", el.Key, err)
		}
		started = append(started, el.Key)
	}
	return nil
}

// StopServices stops services in reverse registration order, logging failures.
func (sr *ServiceRegistry) StopServices() {
	for el := sr.services.Back(); el != nil; el = el.Prev() {
		if err := el.Value.Stop(); err != nil {
			sr.logger.Error().Err(err).Str("service", el.Key).Msg("Failed to stop service")
			continue
		}
		sr.logger.Info().Str("service", el.Key).Msg("Stopped service")
	}
}

// Dependencies are the shared clients services are built from. MQTTClient
// may be nil when the bridge is disabled.
type Dependencies struct {
	Client     iothub.DeviceClient
	DeviceName string
	MQTTClient mqtt.MQTTClient
	Metrics    *metrics_collectors.MetricsRegistry
}

// RegisterServices registers the services enabled in config. The token
// service always comes first; the bridge is registered before the cloud
// message service so it is running before messages are handed to it.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deps Dependencies) {
	sr.RegisterService("token", NewTokenService(
		deps.Client,
		config.Token.TTL,
		config.Token.RenewBefore,
		config.Token.RetryDelay,
		sr.logger.With().Str("service", "token").Logger(),
	))

	if config.Services.Telemetry.Enabled {
		sr.RegisterService("telemetry", NewTelemetryService(
			config.Services.Telemetry.Interval,
			deps.DeviceName,
			config.Services.Telemetry.Metrics,
			deps.Metrics,
			deps.Client,
			sr.logger.With().Str("service", "telemetry").Logger(),
		))
	}

	handler := LogHandler(sr.logger.With().Str("service", "cloud_messages").Logger())
	bridgeCfg := config.Services.Bridge
	if bridgeCfg.Enabled && deps.MQTTClient != nil {
		bridge := NewBridgeService(
			bridgeCfg.EventsTopic,
			bridgeCfg.C2DTopic,
			bridgeCfg.QOS,
			bridgeCfg.Workers,
			deps.MQTTClient,
			deps.Client,
			sr.logger.With().Str("service", "bridge").Logger(),
		)
		sr.RegisterService("bridge", bridge)
		if bridgeCfg.C2DTopic != "" {
			handler = bridge.HandleCloudMessage
		}
	}

	if config.Services.CloudMessages.Enabled {
		sr.RegisterService("cloud_messages", NewCloudMessageService(
			config.Services.CloudMessages.Interval,
			config.Services.CloudMessages.MaxMessagesPerPoll,
			deps.Client,
			handler,
			sr.logger.With().Str("service", "cloud_messages").Logger(),
		))
	}
}
