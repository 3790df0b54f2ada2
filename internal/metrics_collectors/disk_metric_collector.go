package metrics_collectors

import (
	"context"

	"github.com/shirou/gopsutil/disk"

	"github.com/benmeehan/iothub-agent/internal/models"
)

// DiskMetricCollector collects disk usage of the filesystem holding Path.
type DiskMetricCollector struct {
	Path string
}

func (d *DiskMetricCollector) Name() string {
	return "disk"
}

func (d *DiskMetricCollector) Collect(ctx context.Context) (interface{}, error) {
	usage, err := disk.UsageWithContext(ctx, d.Path)
	if err != nil {
		return nil, err
	}
	return usage.UsedPercent, nil
}

func (d *DiskMetricCollector) IsEnabled(config *models.MetricsConfig) bool {
	return config.MonitorDisk
}

func (d *DiskMetricCollector) Unit() string {
	return "percentage"
}
