package device

import (
	"context"
	"encoding/json"
)

// UnitBoolean is the unit-of-measure code for boolean attributes.
// Boolean values are encoded as "1" and "0" on the wire.
const UnitBoolean = 2

// Attribute is one named status value ("driver") of a device.
// Value is kept in its wire form; Changed marks it as not yet reported.
type Attribute struct {
	Value   string `json:"value"`
	Unit    int    `json:"uom"`
	Changed bool   `json:"changed"`
}

// AttributeSpec declares an attribute and its initial value for a device type.
// Value is coerced the same way SetAttribute coerces it.
type AttributeSpec struct {
	Value any
	Unit  int
}

// Command is an inbound command addressed to one device.
type Command struct {
	Address string         `json:"address"`
	Cmd     string         `json:"cmd"`
	Value   any            `json:"value,omitempty"`
	Unit    any            `json:"uom,omitempty"`
	Query   map[string]any `json:"query,omitempty"`

	// Raw is the undecoded command payload as received.
	Raw json.RawMessage `json:"-"`
}

// CommandHandler runs one named command on a device. The session layer
// waits for it to return before processing the next inbound message.
type CommandHandler func(ctx context.Context, d *Device, cmd Command) error

// Status is an attribute report published to the gateway.
type Status struct {
	Address string `json:"address"`
	Driver  string `json:"driver"`
	Value   string `json:"value"`
	Unit    int    `json:"uom"`
}

// Host is the per-process context object handed to every device at
// construction. The session layer implements it.
type Host interface {
	// ReportStatus publishes an attribute value to the gateway.
	ReportStatus(s Status)

	// AddDevice asks the gateway to add d and waits for its acknowledgment.
	AddDevice(ctx context.Context, d *Device) error

	// Logger returns the logger devices should use.
	Logger() Logger
}

// Logger defines the logging interface used by the device package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
