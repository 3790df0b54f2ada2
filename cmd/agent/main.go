package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iothub-agent/internal/metrics_collectors"
	"github.com/benmeehan/iothub-agent/internal/services"
	"github.com/benmeehan/iothub-agent/internal/utils"
	"github.com/benmeehan/iothub-agent/pkg/file"
	"github.com/benmeehan/iothub-agent/pkg/identity"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
	"github.com/benmeehan/iothub-agent/pkg/mqtt"
)

func main() {
	// Structured JSON logging on stdout
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil {
		logger.Warn().Err(err).Str("level", config.Logging.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	deviceInfo := identity.NewDeviceInfo(config.Hub.IdentityFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device identity")
	}
	logger = logger.With().Str("device", deviceInfo.GetDeviceName()).Logger()

	opts := []iothub.Option{
		iothub.WithAPIVersion(config.Hub.APIVersion),
		iothub.WithLogger(logger.With().Str("component", "iothub").Logger()),
	}
	if config.Hub.Endpoint != "" {
		opts = append(opts, iothub.WithEndpoint(config.Hub.Endpoint))
	}
	client := iothub.NewClientFromIdentity(deviceInfo.ClientIdentity(), opts...)
	logger.Info().Str("url", client.BaseURL()).Str("api_version", config.Hub.APIVersion).Msg("Device client ready")

	var mqttClient *mqtt.MqttService
	deps := services.Dependencies{
		Client:     client,
		DeviceName: deviceInfo.GetDeviceName(),
	}

	if config.Services.Bridge.Enabled {
		// Generate a unique MQTT client ID by appending a UUID
		clientID := config.Services.Bridge.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", clientID).Msg("Using MQTT client ID")

		mqttClient = mqtt.NewMqttService(fileClient, logger.With().Str("component", "mqtt").Logger())
		err = mqttClient.Initialize(mqtt.BrokerOptions{
			Broker:        config.Services.Bridge.Broker,
			ClientID:      clientID,
			Username:      config.Services.Bridge.Username,
			Password:      config.Services.Bridge.Password,
			CACertificate: config.Services.Bridge.CACertificate,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		deps.MQTTClient = mqttClient
	}

	if config.Services.Telemetry.Enabled {
		metrics := metrics_collectors.NewMetricsRegistry()
		metrics.RegisterDefaults()
		deps.Metrics = metrics
	}

	serviceRegistry := services.NewServiceRegistry(logger)
	serviceRegistry.RegisterServices(config, deps)

	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Strs("services", serviceRegistry.Names()).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	serviceRegistry.StopServices()
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}
