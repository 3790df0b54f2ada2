package constants

import "time"

// Token renewal defaults.
const (
	DefaultTokenTTL        = 1 * time.Hour
	DefaultTokenRenewAhead = 5 * time.Minute
	DefaultTokenRetryDelay = 10 * time.Second
)

// Service defaults.
const (
	DefaultTelemetryInterval  = 60 * time.Second
	DefaultPollInterval       = 10 * time.Second
	DefaultMaxMessagesPerPoll = 10
	DefaultBridgeWorkers      = 4
)
