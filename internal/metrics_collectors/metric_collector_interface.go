package metrics_collectors

import (
	"context"

	"github.com/benmeehan/iothub-agent/internal/models"
)

// MetricCollector defines the interface for collecting a specific metric.
type MetricCollector interface {
	Name() string                                    // Key of the metric in the telemetry envelope
	Collect(ctx context.Context) (interface{}, error) // Current value; nil with no error means "not yet available"
	IsEnabled(config *models.MetricsConfig) bool     // Whether the configuration selects this metric
	Unit() string                                    // Unit of the value (e.g. "percentage")
}
