package opensearch

import "errors"

var (
	ErrConnectionFailed = errors.New("opensearch connection failed")
	ErrNoAddresses      = errors.New("no opensearch addresses configured")
	// ErrHealthcheckFailed is returned by New as well as by the probe.
	ErrHealthcheckFailed = errors.New("opensearch healthcheck failed")
)
