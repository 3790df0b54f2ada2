package metrics_collectors

import (
	"context"

	"github.com/shirou/gopsutil/mem"

	"github.com/benmeehan/iothub-agent/internal/models"
)

// MemoryMetricCollector collects the percentage of used virtual memory.
type MemoryMetricCollector struct{}

func (m *MemoryMetricCollector) Name() string {
	return "memory"
}

func (m *MemoryMetricCollector) Collect(ctx context.Context) (interface{}, error) {
	stats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return stats.UsedPercent, nil
}

func (m *MemoryMetricCollector) IsEnabled(config *models.MetricsConfig) bool {
	return config.MonitorMemory
}

func (m *MemoryMetricCollector) Unit() string {
	return "percentage"
}
