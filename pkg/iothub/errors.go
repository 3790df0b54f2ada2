package iothub

import "fmt"

// ConfigurationError reports client settings that cannot be used, such as a
// device key that is not valid base64.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NetworkError reports a request that never produced an HTTP response.
// HTTP status codes, including 401 for a rejected signature, are never
// reported through this type.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
