package metrics_collectors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shirou/gopsutil/net"

	"github.com/benmeehan/iothub-agent/internal/models"
)

// NetworkRates holds receive and send rates in bytes per second.
type NetworkRates struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
}

// NetworkMetricCollector computes network I/O rates between successive calls.
// The first call only primes the counters and reports nothing.
type NetworkMetricCollector struct {
	mu       sync.Mutex
	lastIn   uint64
	lastOut  uint64
	lastTime time.Time
}

func (n *NetworkMetricCollector) Name() string {
	return "network"
}

func (n *NetworkMetricCollector) Collect(ctx context.Context) (interface{}, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(counters) == 0 {
		return nil, errors.New("no network statistics available")
	}
	rates := n.observe(counters[0].BytesRecv, counters[0].BytesSent, time.Now())
	if rates == nil {
		return nil, nil
	}
	return rates, nil
}

// observe records a counter sample and returns the rate since the previous one.
func (n *NetworkMetricCollector) observe(in, out uint64, now time.Time) *NetworkRates {
	n.mu.Lock()
	defer n.mu.Unlock()

	prevIn, prevOut, prevTime := n.lastIn, n.lastOut, n.lastTime
	n.lastIn, n.lastOut, n.lastTime = in, out, now

	if prevTime.IsZero() {
		return nil
	}
	secs := now.Sub(prevTime).Seconds()
	// counters can reset when an interface goes away
	if secs <= 0 || in < prevIn || out < prevOut {
		return nil
	}

	return &NetworkRates{
		In:  float64(in-prevIn) / secs,
		Out: float64(out-prevOut) / secs,
	}
}

func (n *NetworkMetricCollector) IsEnabled(config *models.MetricsConfig) bool {
	return config.MonitorNetwork
}

func (n *NetworkMetricCollector) Unit() string {
	return "bytes per second"
}
