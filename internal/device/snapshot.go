package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Snapshot is a full restatement of devices and configuration sent by the
// gateway in a "config" message. Each snapshot supersedes the previous one.
type Snapshot struct {
	Nodes           []NodeEntry     `json:"nodes"`
	CustomParams    map[string]any  `json:"customParams"`
	CustomData      json.RawMessage `json:"customData,omitempty"`
	TypedCustomData json.RawMessage `json:"typedCustomData,omitempty"`
	Notices         Notices         `json:"notices,omitempty"`
}

// ParseSnapshot decodes the payload of a "config" message.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return &s, nil
}

// NodeEntry is one device as the gateway knows it.
//
// Identity is decoded eagerly. The remaining fields are kept raw and applied
// through the merge table when the entry is reconciled.
type NodeEntry struct {
	Address string
	Primary string
	TypeID  string
	Name    string

	fields map[string]json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *NodeEntry) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var err error
	if e.Address, err = rawString(fields["address"]); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if e.Primary, err = rawString(fields["primary"]); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if e.TypeID, err = rawString(fields["nodeDefId"]); err != nil {
		return fmt.Errorf("nodeDefId: %w", err)
	}
	if e.Name, err = rawString(fields["name"]); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	e.fields = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e NodeEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.fields)+4)
	for k, v := range e.fields {
		out[k] = v
	}
	out["address"] = e.Address
	out["primary"] = e.Primary
	out["nodeDefId"] = e.TypeID
	out["name"] = e.Name
	return json.Marshal(out)
}

// Field returns the raw value of a snapshot field, if present.
func (e NodeEntry) Field(key string) (json.RawMessage, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// Notices maps notice keys to their text. The gateway sends either an object
// or, from older releases, a plain array of strings.
type Notices map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (n *Notices) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = nil
		return nil
	}

	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		out := make(Notices, len(list))
		for i, text := range list {
			out[strconv.Itoa(i)] = text
		}
		*n = out
		return nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

// fieldMerger applies one snapshot field to a device whose mutex is held.
type fieldMerger func(d *Device, raw json.RawMessage) error

// mergeTable is the fixed set of gateway-owned fields copied into cached
// devices on every snapshot.
var mergeTable = map[string]fieldMerger{
	"isController": func(d *Device, raw json.RawMessage) error {
		v, err := toBool(raw)
		if err == nil {
			d.isController = v
		}
		return err
	},
	"drivers": mergeDrivers,
	"isprimary": func(d *Device, raw json.RawMessage) error {
		v, err := toBool(raw)
		if err == nil {
			d.isPrimary = v
		}
		return err
	},
	"profileNum": func(d *Device, raw json.RawMessage) error {
		v, err := toInt(raw)
		if err == nil {
			d.profileNum = v
		}
		return err
	},
	"timeAdded": func(d *Device, raw json.RawMessage) error {
		v, err := toTime(raw)
		if err == nil {
			d.timeAdded = v
		}
		return err
	},
	"added": func(d *Device, raw json.RawMessage) error {
		v, err := toBool(raw)
		if err == nil {
			d.added = v
		}
		return err
	},
	"enabled": func(d *Device, raw json.RawMessage) error {
		v, err := toBool(raw)
		if err == nil {
			d.enabled = v
		}
		return err
	},
}

// merge applies every known field of entry to d. A field that fails to
// convert is reported and left unchanged; the others still apply.
func (d *Device) merge(entry NodeEntry) []error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for key, apply := range mergeTable {
		raw, ok := entry.fields[key]
		if !ok || isNull(raw) {
			continue
		}
		if err := apply(d, raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s.%s: %w", ErrInvalidSnapshot, d.Address, key, err))
		}
	}
	return errs
}

// snapshotDriver is one element of a "drivers" array.
type snapshotDriver struct {
	Driver string          `json:"driver"`
	Value  json.RawMessage `json:"value"`
	Unit   json.RawMessage `json:"uom"`
}

// mergeDrivers overwrites value and unit of attributes the device already
// declares. Unknown drivers are ignored and the changed flag is untouched.
func mergeDrivers(d *Device, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	var drivers []snapshotDriver

	if len(raw) > 0 && raw[0] == '{' {
		var byName map[string]snapshotDriver
		if err := json.Unmarshal(raw, &byName); err != nil {
			return err
		}
		for name, drv := range byName {
			drv.Driver = name
			drivers = append(drivers, drv)
		}
	} else if err := json.Unmarshal(raw, &drivers); err != nil {
		return err
	}

	for _, drv := range drivers {
		a, ok := d.attributes[drv.Driver]
		if !ok {
			continue
		}
		if len(drv.Value) > 0 {
			var v any
			dec := json.NewDecoder(bytes.NewReader(drv.Value))
			dec.UseNumber()
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("driver %s: %w", drv.Driver, err)
			}
			a.Value, _ = coerceValue(v)
		}
		if len(drv.Unit) > 0 && !isNull(drv.Unit) {
			unit, err := toInt(drv.Unit)
			if err != nil {
				return fmt.Errorf("driver %s uom: %w", drv.Driver, err)
			}
			a.Unit = unit
		}
	}
	return nil
}

// toBool accepts a JSON bool or the strings "true"/"false".
func toBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	s, err := rawString(raw)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// toInt accepts a JSON number or a numeric string.
func toInt(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n.String(), 64)
			if ferr != nil {
				return 0, err
			}
			return int(f), nil
		}
		return int(i), nil
	}
	s, err := rawString(raw)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return i, nil
}

// toTime accepts epoch milliseconds as a JSON number or numeric string.
func toTime(raw json.RawMessage) (time.Time, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("not an epoch: %q", n)
	}
	return time.UnixMilli(ms), nil
}

// rawString decodes a JSON string; numbers are accepted in their literal form.
func rawString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("not a string: %s", raw)
	}
	return n.String(), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
