package services

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iothub-agent/internal/models"
	"github.com/benmeehan/iothub-agent/internal/utils"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
	"github.com/benmeehan/iothub-agent/pkg/mqtt"
)

// BridgeService connects a local MQTT broker to the hub: payloads published
// on eventsTopic are sent to the cloud, and cloud-to-device messages handed
// to HandleCloudMessage are published on c2dTopic.
type BridgeService struct {
	eventsTopic string
	c2dTopic    string
	qos         int
	workers     int

	mqttClient mqtt.MQTTClient
	sender     EventSender
	logger     zerolog.Logger

	// pool is read on the paho router goroutine without holding mu
	pool    atomic.Pointer[utils.WorkerPool]
	running bool
	mu      sync.Mutex
}

// NewBridgeService initializes a new BridgeService.
func NewBridgeService(eventsTopic, c2dTopic string, qos, workers int, mqttClient mqtt.MQTTClient, sender EventSender, logger zerolog.Logger) *BridgeService {
	return &BridgeService{
		eventsTopic: eventsTopic,
		c2dTopic:    c2dTopic,
		qos:         qos,
		workers:     workers,
		mqttClient:  mqttClient,
		sender:      sender,
		logger:      logger,
	}
}

// Start subscribes to the local events topic.
func (b *BridgeService) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("bridge service is already running")
	}

	pool := utils.NewWorkerPool(b.workers, b.workers*4)
	b.pool.Store(pool)

	if b.eventsTopic != "" {
		token := b.mqttClient.Subscribe(b.eventsTopic, byte(b.qos), b.handleLocalEvent)
		token.Wait()
		if err := token.Error(); err != nil {
			pool.Shutdown()
			b.logger.Error().Err(err).Str("topic", b.eventsTopic).Msg("Failed to subscribe to local events topic")
			return err
		}
	}

	b.running = true
	b.logger.Info().Str("events_topic", b.eventsTopic).Str("c2d_topic", b.c2dTopic).Msg("BridgeService started successfully")
	return nil
}

// Stop unsubscribes and waits for queued forwards to finish.
func (b *BridgeService) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return errors.New("bridge service is not running")
	}

	var err error
	if b.eventsTopic != "" {
		token := b.mqttClient.Unsubscribe(b.eventsTopic)
		token.Wait()
		err = token.Error()
		if err != nil {
			b.logger.Error().Err(err).Str("topic", b.eventsTopic).Msg("Failed to unsubscribe from local events topic")
		}
	}

	b.pool.Load().Shutdown()
	b.running = false

	b.logger.Info().Msg("BridgeService stopped successfully")
	return err
}

// handleLocalEvent runs on the paho router goroutine, so the cloud round trip
// is handed to the worker pool.
func (b *BridgeService) handleLocalEvent(_ MQTT.Client, msg MQTT.Message) {
	event := models.BridgedEvent{
		Topic:   msg.Topic(),
		Payload: append([]byte(nil), msg.Payload()...),
	}

	if err := b.pool.Load().Submit(func() { b.forward(event) }); err != nil {
		b.logger.Warn().Err(err).Str("topic", event.Topic).Msg("Dropping local event")
	}
}

func (b *BridgeService) forward(event models.BridgedEvent) {
	code, err := b.sender.Send(event.Payload)
	if err != nil {
		b.logger.Error().Err(err).Str("topic", event.Topic).Msg("Failed to forward local event")
		return
	}
	if code != http.StatusNoContent {
		b.logger.Warn().Int("status", code).Str("topic", event.Topic).Msg("Hub rejected forwarded event")
		return
	}
	b.logger.Debug().Str("topic", event.Topic).Int("bytes", len(event.Payload)).Msg("Local event forwarded")
}

// HandleCloudMessage publishes a cloud-to-device message body on the local
// topic. Empty bodies are rejected; a failed publish abandons the message so
// the hub redelivers it.
func (b *BridgeService) HandleCloudMessage(msg *iothub.InboundMessage) models.Disposition {
	if msg.Body == "" {
		b.logger.Warn().Str("etag", msg.ETag).Msg("Rejecting empty cloud-to-device message")
		return models.DispositionReject
	}

	token := b.mqttClient.Publish(b.c2dTopic, byte(b.qos), false, []byte(msg.Body))
	token.Wait()
	if err := token.Error(); err != nil {
		b.logger.Error().Err(err).Str("etag", msg.ETag).Msg("Failed to publish cloud-to-device message locally")
		return models.DispositionAbandon
	}

	return models.DispositionComplete
}
