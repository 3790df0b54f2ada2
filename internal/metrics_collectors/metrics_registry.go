package metrics_collectors

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iothub-agent/internal/models"
)

// MetricsRegistry holds the collectors the telemetry service samples.
type MetricsRegistry struct {
	collectors map[string]MetricCollector
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		collectors: make(map[string]MetricCollector),
	}
}

// Register adds a collector, replacing any collector with the same name.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	r.collectors[collector.Name()] = collector
}

// Names returns the registered collector names in sorted order.
func (r *MetricsRegistry) Names() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectEnabled samples every collector enabled by config. Collectors that
// fail or have nothing to report yet are left out of the result.
func (r *MetricsRegistry) CollectEnabled(ctx context.Context, config *models.MetricsConfig, logger zerolog.Logger) map[string]models.Metric {
	metrics := make(map[string]models.Metric)
	for _, name := range r.Names() {
		collector := r.collectors[name]
		if !collector.IsEnabled(config) {
			continue
		}

		value, err := collector.Collect(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("metric", name).Msg("Failed to collect metric")
			continue
		}
		if value == nil {
			continue
		}
		metrics[name] = models.Metric{Value: value, Unit: collector.Unit()}
	}
	return metrics
}

// RegisterDefaults registers the host collectors shipped with the agent.
func (r *MetricsRegistry) RegisterDefaults() {
	r.Register(&CPUMetricCollector{})
	r.Register(&MemoryMetricCollector{})
	r.Register(&DiskMetricCollector{Path: "/"})
	r.Register(&NetworkMetricCollector{})
	r.Register(&GoroutineMetricCollector{})
}
