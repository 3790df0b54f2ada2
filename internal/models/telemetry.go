package models

import "time"

// Metric is a single collected measurement.
type Metric struct {
	Value interface{} `json:"value"`
	Unit  string      `json:"unit"`
}

// TelemetryMessage is the device-to-cloud envelope sent by the telemetry service.
type TelemetryMessage struct {
	MessageID  string            `json:"message_id"`
	DeviceName string            `json:"device"`
	Timestamp  time.Time         `json:"timestamp"`
	Metrics    map[string]Metric `json:"metrics"`
}

// MetricsConfig selects which host metrics are collected.
type MetricsConfig struct {
	MonitorCPU        bool `yaml:"cpu"`
	MonitorMemory     bool `yaml:"memory"`
	MonitorDisk       bool `yaml:"disk"`
	MonitorNetwork    bool `yaml:"network"`
	MonitorGoroutines bool `yaml:"goroutines"`
}

// Any reports whether at least one metric is enabled.
func (c *MetricsConfig) Any() bool {
	return c.MonitorCPU || c.MonitorMemory || c.MonitorDisk || c.MonitorNetwork || c.MonitorGoroutines
}
