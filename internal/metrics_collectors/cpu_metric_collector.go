package metrics_collectors

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/cpu"

	"github.com/benmeehan/iothub-agent/internal/models"
)

// CPUMetricCollector collects overall CPU utilisation.
type CPUMetricCollector struct{}

func (c *CPUMetricCollector) Name() string {
	return "cpu"
}

func (c *CPUMetricCollector) Collect(ctx context.Context) (interface{}, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(percentages) == 0 {
		return nil, errors.New("cpu usage data is empty")
	}
	return percentages[0], nil
}

func (c *CPUMetricCollector) IsEnabled(config *models.MetricsConfig) bool {
	return config.MonitorCPU
}

func (c *CPUMetricCollector) Unit() string {
	return "percentage"
}
