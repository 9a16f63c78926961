package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false;
	// the caller runs without outcome history.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch failures handed to the SetOnError
	// callback. A lost command_outcome point never affects dispatch.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
