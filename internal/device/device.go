package device

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Device is an addressable entity ("node") exposed to the gateway.
//
// Identity fields are fixed at construction. The attribute key set is fixed
// by the device type and never grows or shrinks; values, units and the
// gateway-owned flags are guarded by an internal mutex.
type Device struct {
	// Address is the unique key of the device.
	Address string

	// Primary is the address of the parent device (Address itself for
	// standalone devices).
	Primary string

	// TypeID selects the constructor in the TypeRegistry.
	TypeID string

	Name string

	host     Host
	commands map[string]CommandHandler

	mu           sync.RWMutex
	attributes   map[string]*Attribute
	isController bool
	isPrimary    bool
	added        bool
	enabled      bool
	profileNum   int
	timeAdded    time.Time
}

// Spec describes a device to construct. Device types build one from their
// constructor arguments and pass it to New.
type Spec struct {
	TypeID     string
	Address    string
	Primary    string
	Name       string
	Attributes map[string]AttributeSpec
	Commands   map[string]CommandHandler
}

// New creates a device bound to host.
//
// An empty Primary makes the device its own primary.
func New(host Host, spec Spec) (*Device, error) {
	if spec.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidDevice)
	}

	primary := spec.Primary
	if primary == "" {
		primary = spec.Address
	}

	d := &Device{
		Address:    spec.Address,
		Primary:    primary,
		TypeID:     spec.TypeID,
		Name:       spec.Name,
		host:       host,
		commands:   make(map[string]CommandHandler, len(spec.Commands)),
		attributes: make(map[string]*Attribute, len(spec.Attributes)),
		enabled:    true,
		timeAdded:  time.Now(),
	}

	maps.Copy(d.commands, spec.Commands)
	for name, as := range spec.Attributes {
		value, _ := coerceValue(as.Value)
		d.attributes[name] = &Attribute{Value: value, Unit: as.Unit}
	}

	return d, nil
}

// Host returns the context object the device was constructed with.
func (d *Device) Host() Host {
	return d.host
}

// Logger returns the host's logger, or a no-op logger when there is none.
func (d *Device) Logger() Logger {
	if d.host == nil {
		return noopLogger{}
	}
	if l := d.host.Logger(); l != nil {
		return l
	}
	return noopLogger{}
}

// Attribute returns a copy of the named attribute.
func (d *Device) Attribute(name string) (Attribute, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.attributes[name]
	if !ok {
		return Attribute{}, false
	}
	return *a, true
}

// Attributes returns a copy of the attribute map.
func (d *Device) Attributes() map[string]Attribute {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Attribute, len(d.attributes))
	for name, a := range d.attributes {
		out[name] = *a
	}
	return out
}

// AttributeNames returns the declared attribute names, sorted.
func (d *Device) AttributeNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.attributes))
}

// Set is SetAttribute with reporting on and no unit change.
func (d *Device) Set(name string, value any) error {
	return d.SetAttribute(name, value, true, false, nil)
}

// SetAttribute updates an attribute value and optionally reports it.
//
// Numeric values are stored in decimal string form. Booleans are stored as
// "1"/"0"; a warning is logged when the attribute's unit is not UnitBoolean,
// but the encoding is applied regardless. Strings (and anything else) pass
// through. The attribute is marked changed when the coerced value or the unit
// differs from what is stored.
//
// Parameters:
//   - name: Attribute name declared by the device type
//   - value: New value
//   - report: Report the attribute after updating
//   - forceReport: Report even if nothing changed
//   - unit: Optional new unit-of-measure code
//
// Returns:
//   - error: ErrUnknownAttribute if the type does not declare name
func (d *Device) SetAttribute(name string, value any, report, forceReport bool, unit *int) error {
	d.mu.Lock()
	a, ok := d.attributes[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrUnknownAttribute, name, d.Address)
	}

	if unit != nil && *unit != a.Unit {
		a.Unit = *unit
		a.Changed = true
	}

	coerced, isBool := coerceValue(value)
	currentUnit := a.Unit
	if coerced != a.Value {
		a.Value = coerced
		a.Changed = true
	}
	d.mu.Unlock()

	if isBool && currentUnit != UnitBoolean {
		d.Logger().Warn("boolean value set on non-boolean attribute",
			"address", d.Address,
			"attribute", name,
			"uom", currentUnit)
	}

	if report {
		return d.ReportAttribute(name, forceReport)
	}
	return nil
}

// ReportAttribute publishes the attribute if it changed since the last
// report, or unconditionally when force is set, then clears the changed flag.
func (d *Device) ReportAttribute(name string, force bool) error {
	d.mu.Lock()
	a, ok := d.attributes[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrUnknownAttribute, name, d.Address)
	}
	if !a.Changed && !force {
		d.mu.Unlock()
		return nil
	}
	a.Changed = false
	status := Status{Address: d.Address, Driver: name, Value: a.Value, Unit: a.Unit}
	d.mu.Unlock()

	if d.host != nil {
		d.host.ReportStatus(status)
	}
	return nil
}

// ReportAttributes reports every attribute, in name order.
func (d *Device) ReportAttributes(force bool) {
	for _, name := range d.AttributeNames() {
		// Names come from the device itself, so the lookup cannot fail.
		_ = d.ReportAttribute(name, force)
	}
}

// HasCommand reports whether the device type handles cmd.
func (d *Device) HasCommand(cmd string) bool {
	_, ok := d.commands[cmd]
	return ok
}

// RunCommand invokes the handler registered for cmd.Cmd.
func (d *Device) RunCommand(ctx context.Context, cmd Command) error {
	handler, ok := d.commands[cmd.Cmd]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownCommand, cmd.Cmd, d.Address)
	}
	return handler(ctx, d, cmd)
}

// Query runs the type's "query" handler when it has one, and otherwise
// force-reports all attributes.
func (d *Device) Query(ctx context.Context) error {
	if handler, ok := d.commands[QueryCommand]; ok {
		return handler(ctx, d, Command{Address: d.Address, Cmd: QueryCommand})
	}
	d.ReportAttributes(true)
	return nil
}

// QueryCommand is the command name a type may register to override Query.
const QueryCommand = "QUERY"

// IsController reports whether the gateway marks this device as the controller.
func (d *Device) IsController() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isController
}

// IsPrimary reports the gateway's primary-membership flag.
func (d *Device) IsPrimary() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isPrimary
}

// IsAdded reports whether the gateway has confirmed the device.
func (d *Device) IsAdded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.added
}

// Enabled reports the gateway's enabled flag.
func (d *Device) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// ProfileNum returns the profile number the gateway recorded for the device.
func (d *Device) ProfileNum() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.profileNum
}

// TimeAdded returns the creation timestamp.
func (d *Device) TimeAdded() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timeAdded
}

// MarkAdded records that the gateway acknowledged the device.
func (d *Device) MarkAdded() {
	d.mu.Lock()
	d.added = true
	d.mu.Unlock()
}

// coerceValue converts a value to its wire form. The second result reports
// whether the input was a boolean.
func coerceValue(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, false
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case int:
		return strconv.Itoa(v), false
	case int8:
		return strconv.FormatInt(int64(v), 10), false
	case int16:
		return strconv.FormatInt(int64(v), 10), false
	case int32:
		return strconv.FormatInt(int64(v), 10), false
	case int64:
		return strconv.FormatInt(v, 10), false
	case uint:
		return strconv.FormatUint(uint64(v), 10), false
	case uint8:
		return strconv.FormatUint(uint64(v), 10), false
	case uint16:
		return strconv.FormatUint(uint64(v), 10), false
	case uint32:
		return strconv.FormatUint(uint64(v), 10), false
	case uint64:
		return strconv.FormatUint(v, 10), false
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), false
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), false
	case json.Number:
		return v.String(), false
	default:
		return fmt.Sprint(v), false
	}
}
