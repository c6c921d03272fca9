package dispatch

import "errors"

// Sentinel errors for the channel dispatcher.
var (
	// ErrUnsupportedChannel indicates that no transport is registered
	// for the notification's channel. This is a deployment defect and
	// classified permanent.
	ErrUnsupportedChannel = errors.New("no transport registered for channel")

	// ErrSendTimeout indicates that a send attempt missed its bounded
	// deadline. Classified transient.
	ErrSendTimeout = errors.New("send attempt timed out")
)
