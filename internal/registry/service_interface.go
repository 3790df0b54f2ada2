package registry

// Service is the interface for all agent services.
type Service interface {
	Start() error
	Stop() error
}
