package session

import (
	"errors"
	"fmt"
)

// Session errors.
//
// Transport failures surface as the mqtt package's sentinels
// (mqtt.ErrNotConnected, mqtt.ErrPublishFailed, mqtt.ErrConnectionFailed).
var (
	// ErrProtocol is logged when an inbound payload is malformed or carries
	// an unknown message key. The message is dropped.
	ErrProtocol = errors.New("session: protocol error")

	// ErrCorrelationTimeout is returned when a correlated request receives no
	// result within its timeout.
	ErrCorrelationTimeout = errors.New("session: correlated request timed out")

	// ErrCorrelationRejected is matched by *RejectionError when the gateway
	// reports a command failure.
	ErrCorrelationRejected = errors.New("session: correlated request rejected")

	// ErrConfigLoopDetected is logged when a snapshot arrives while the loop
	// guard is tripped; the registry is updated but no config event is emitted.
	ErrConfigLoopDetected = errors.New("session: config loop detected")

	// ErrShuttingDown is returned by operations attempted after stop/delete
	// or Close.
	ErrShuttingDown = errors.New("session: shutting down")

	// ErrInvalidOptions is returned by New for missing collaborators.
	ErrInvalidOptions = errors.New("session: invalid options")
)

// RejectionError carries the reason the gateway gave for failing a
// correlated request.
type RejectionError struct {
	Key    string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("session: %s rejected: %s", e.Key, e.Reason)
}

// Is makes errors.Is(err, ErrCorrelationRejected) succeed.
func (e *RejectionError) Is(target error) bool {
	return target == ErrCorrelationRejected
}
