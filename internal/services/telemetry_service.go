package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iothub-agent/internal/metrics_collectors"
	"github.com/benmeehan/iothub-agent/internal/models"
)

// EventSender sends device-to-cloud messages; iothub.Client implements it.
type EventSender interface {
	Send(message []byte) (int, error)
}

// TelemetryService periodically sends host metrics to the hub.
type TelemetryService struct {
	interval      time.Duration
	deviceName    string
	metricsConfig models.MetricsConfig
	registry      *metrics_collectors.MetricsRegistry
	sender        EventSender
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewTelemetryService initializes a new TelemetryService.
func NewTelemetryService(
	interval time.Duration,
	deviceName string,
	metricsConfig models.MetricsConfig,
	registry *metrics_collectors.MetricsRegistry,
	sender EventSender,
	logger zerolog.Logger,
) *TelemetryService {
	return &TelemetryService{
		interval:      interval,
		deviceName:    deviceName,
		metricsConfig: metricsConfig,
		registry:      registry,
		sender:        sender,
		logger:        logger,
	}
}

// Start launches the telemetry loop in a separate goroutine.
func (s *TelemetryService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("TelemetryService is already running")
		return errors.New("telemetry service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTelemetryLoop()
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("TelemetryService started successfully")
	return nil
}

// Stop gracefully stops the telemetry service.
func (s *TelemetryService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.logger.Warn().Msg("TelemetryService is not running")
		return errors.New("telemetry service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("TelemetryService stopped successfully")
	return nil
}

func (s *TelemetryService) runTelemetryLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SendTelemetry(s.ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to send telemetry")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// SendTelemetry collects one sample of every enabled metric and sends it.
// Any answer other than 204 is reported as an error.
func (s *TelemetryService) SendTelemetry(ctx context.Context) error {
	message := models.TelemetryMessage{
		MessageID:  uuid.NewString(),
		DeviceName: s.deviceName,
		Timestamp:  time.Now().UTC(),
		Metrics:    s.registry.CollectEnabled(ctx, &s.metricsConfig, s.logger),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to serialize telemetry message: %w", err)
	}

	code, err := s.sender.Send(payload)
	if err != nil {
		return err
	}
	if code != http.StatusNoContent {
		return fmt.Errorf("hub rejected telemetry message %s with status %d", message.MessageID, code)
	}

	s.logger.Debug().Str("message_id", message.MessageID).Int("metrics", len(message.Metrics)).Msg("Telemetry sent")
	return nil
}
