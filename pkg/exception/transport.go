package exception

import "errors"

// Transport errors
var (
	// ErrMalformedMessage is returned when inbound text is not of the form "type=value".
	ErrMalformedMessage = errors.New("transport: malformed message")

	// ErrUnknownReader is returned when no reader is registered under the configured name.
	ErrUnknownReader = errors.New("transport: unknown reader")

	// ErrUnknownWriter is returned when no writer is registered under the configured name.
	ErrUnknownWriter = errors.New("transport: unknown writer")

	// ErrAlreadyConsumed is returned when a reader stream is requested twice.
	ErrAlreadyConsumed = errors.New("transport: stream already consumed")

	// ErrNotInitialized is returned when a collaborator is used before Initialize.
	ErrNotInitialized = errors.New("transport: not initialized")
)
