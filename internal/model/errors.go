package model

import "errors"

var (
	// ErrMalformedEvent is returned when an inbound event payload fails shape validation.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownEvent is returned when an inbound event type is not recognised.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrUnknownConnection is returned when an event references a connection that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrAlreadyRegistered is returned when a connection id is registered twice.
	ErrAlreadyRegistered = errors.New("connection already registered")

	// ErrDuplicateJoin is returned when a connection that already has an identity joins again.
	ErrDuplicateJoin = errors.New("connection already joined")

	// ErrNotJoined is returned when an operation requires an identity the connection does not have.
	ErrNotJoined = errors.New("connection has not joined")

	// ErrRouteTooLong is returned when a shared route exceeds the configured step limit.
	ErrRouteTooLong = errors.New("route exceeds maximum number of steps")

	// ErrRateLimited is returned when a connection sends events faster than allowed.
	ErrRateLimited = errors.New("event rate limit exceeded")

	// ErrHubClosed is returned when the hub has been shut down.
	ErrHubClosed = errors.New("hub closed")

	// ErrCapacity is returned when the maximum number of concurrent connections is reached.
	ErrCapacity = errors.New("connection limit reached")
)
