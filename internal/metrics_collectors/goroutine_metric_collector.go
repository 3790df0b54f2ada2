package metrics_collectors

import (
	"context"
	"runtime"

	"github.com/benmeehan/iothub-agent/internal/models"
)

// GoroutineMetricCollector reports the agent's own goroutine count.
type GoroutineMetricCollector struct{}

func (g *GoroutineMetricCollector) Name() string {
	return "goroutines"
}

func (g *GoroutineMetricCollector) Collect(ctx context.Context) (interface{}, error) {
	return runtime.NumGoroutine(), nil
}

func (g *GoroutineMetricCollector) IsEnabled(config *models.MetricsConfig) bool {
	return config.MonitorGoroutines
}

func (g *GoroutineMetricCollector) Unit() string {
	return "count"
}
