package device

import (
	"fmt"
	"maps"
	"slices"
)

// Constructor builds a device of one type. It receives the per-process host
// and the identity fields from the snapshot entry.
type Constructor func(host Host, address, primary, name string) (*Device, error)

// Type pairs a type id with its constructor.
type Type struct {
	ID  string
	New Constructor
}

// TypeRegistry resolves type ids to constructors.
// It is built once at startup and read-only afterwards.
type TypeRegistry struct {
	types map[string]Constructor
}

// NewTypeRegistry builds a registry from the given types.
//
// Returns:
//   - *TypeRegistry: Ready for lookups
//   - error: ErrDuplicateType if two types share an id, ErrInvalidDevice for
//     an empty id or nil constructor
func NewTypeRegistry(types ...Type) (*TypeRegistry, error) {
	r := &TypeRegistry{types: make(map[string]Constructor, len(types))}
	for _, t := range types {
		if t.ID == "" || t.New == nil {
			return nil, fmt.Errorf("%w: type needs an id and a constructor", ErrInvalidDevice)
		}
		if _, exists := r.types[t.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateType, t.ID)
		}
		r.types[t.ID] = t.New
	}
	return r, nil
}

// New constructs a device of the given type.
func (r *TypeRegistry) New(host Host, typeID, address, primary, name string) (*Device, error) {
	ctor, ok := r.types[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeviceType, typeID)
	}
	d, err := ctor(host, address, primary, name)
	if err != nil {
		return nil, err
	}
	if d.TypeID == "" {
		d.TypeID = typeID
	}
	return d, nil
}

// Has reports whether typeID is registered.
func (r *TypeRegistry) Has(typeID string) bool {
	_, ok := r.types[typeID]
	return ok
}

// IDs returns the registered type ids, sorted.
func (r *TypeRegistry) IDs() []string {
	return slices.Sorted(maps.Keys(r.types))
}
