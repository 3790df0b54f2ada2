package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/iothub-agent/internal/metrics_collectors"
	"github.com/benmeehan/iothub-agent/internal/mocks"
	"github.com/benmeehan/iothub-agent/internal/models"
	"github.com/benmeehan/iothub-agent/internal/services"
)

func goroutineRegistry() *metrics_collectors.MetricsRegistry {
	registry := metrics_collectors.NewMetricsRegistry()
	registry.Register(&metrics_collectors.GoroutineMetricCollector{})
	return registry
}

func TestTelemetryService_SendTelemetry(t *testing.T) {
	client := new(mocks.DeviceClient)
	client.On("Send", mock.Anything).Return(http.StatusNoContent, nil)

	s := services.NewTelemetryService(time.Minute, "dev1", models.MetricsConfig{MonitorGoroutines: true}, goroutineRegistry(), client, zerolog.Nop())

	require.NoError(t, s.SendTelemetry(context.Background()))

	client.AssertNumberOfCalls(t, "Send", 1)
	payload := client.Calls[0].Arguments.Get(0).([]byte)

	var message models.TelemetryMessage
	require.NoError(t, json.Unmarshal(payload, &message))
	assert.Equal(t, "dev1", message.DeviceName)
	_, err := uuid.Parse(message.MessageID)
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now(), message.Timestamp, 5*time.Second)
	assert.Equal(t, "count", message.Metrics["goroutines"].Unit)
}

func TestTelemetryService_SendTelemetryFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		client := new(mocks.DeviceClient)
		client.On("Send", mock.Anything).Return(http.StatusUnauthorized, nil)

		s := services.NewTelemetryService(time.Minute, "dev1", models.MetricsConfig{}, goroutineRegistry(), client, zerolog.Nop())
		err := s.SendTelemetry(context.Background())
		assert.ErrorContains(t, err, "status 401")
	})

	t.Run("transport", func(t *testing.T) {
		client := new(mocks.DeviceClient)
		client.On("Send", mock.Anything).Return(0, errors.New("connection refused"))

		s := services.NewTelemetryService(time.Minute, "dev1", models.MetricsConfig{}, goroutineRegistry(), client, zerolog.Nop())
		assert.EqualError(t, s.SendTelemetry(context.Background()), "connection refused")
	})
}

func TestTelemetryService_Loop(t *testing.T) {
	var sent atomic.Int32
	client := new(mocks.DeviceClient)
	client.On("Send", mock.Anything).Run(func(mock.Arguments) { sent.Add(1) }).Return(http.StatusNoContent, nil)

	s := services.NewTelemetryService(50*time.Millisecond, "dev1", models.MetricsConfig{MonitorGoroutines: true}, goroutineRegistry(), client, zerolog.Nop())

	require.NoError(t, s.Start())
	assert.EqualError(t, s.Start(), "telemetry service is already running")

	assert.Eventually(t, func() bool {
		return sent.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.EqualError(t, s.Stop(), "telemetry service is not running")
}
