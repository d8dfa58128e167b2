package device

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Registry is the local cache of devices, kept consistent with the
// gateway's snapshots.
//
// Devices are created on their first snapshot mention, updated in place on
// later snapshots, and removed when a snapshot no longer lists them. When a
// Repository is set, every reconciliation is written through to it so the
// cache survives restarts.
//
// All public methods are thread-safe.
type Registry struct {
	types *TypeRegistry
	host  Host

	mu              sync.RWMutex
	devices         map[string]*Device
	customParams    map[string]any
	customData      json.RawMessage
	typedCustomData json.RawMessage
	notices         Notices

	repo   Repository
	logger Logger
}

// ReconcileResult describes the outcome of applying one snapshot.
type ReconcileResult struct {
	// Devices is the registry content after reconciliation, sorted by address.
	Devices []*Device

	// ParamsChanged is true when any custom parameter was added, removed or
	// changed value versus the prior snapshot.
	ParamsChanged bool

	Added   []string
	Removed []string

	// Skipped lists addresses whose type id has no constructor.
	Skipped []string
}

// NewRegistry creates an empty registry.
// Devices it constructs receive host as their context object.
func NewRegistry(types *TypeRegistry, host Host) *Registry {
	return &Registry{
		types:   types,
		host:    host,
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetRepository enables write-through persistence.
func (r *Registry) SetRepository(repo Repository) {
	r.repo = repo
}

// Reconcile applies a snapshot to the registry.
//
// Entries with an unknown type id are logged and skipped; the rest of the
// snapshot still applies. Fields that fail to convert are logged and left
// unchanged.
func (r *Registry) Reconcile(ctx context.Context, snap *Snapshot) ReconcileResult {
	var result ReconcileResult
	seen := make(map[string]bool, len(snap.Nodes))

	r.mu.Lock()
	for _, entry := range snap.Nodes {
		if entry.Address == "" {
			r.logger.Warn("snapshot entry without address skipped", "type", entry.TypeID)
			continue
		}
		seen[entry.Address] = true

		d, ok := r.devices[entry.Address]
		if !ok {
			created, err := r.types.New(r.host, entry.TypeID, entry.Address, entry.Primary, entry.Name)
			if err != nil {
				r.logger.Error("cannot construct device from snapshot",
					"address", entry.Address,
					"type", entry.TypeID,
					"error", err)
				result.Skipped = append(result.Skipped, entry.Address)
				delete(seen, entry.Address)
				continue
			}
			d = created
			r.devices[d.Address] = d
			result.Added = append(result.Added, d.Address)
		}

		for _, err := range d.merge(entry) {
			r.logger.Warn("snapshot field not applied", "address", d.Address, "error", err)
		}
	}

	for address := range r.devices {
		if seen[address] {
			continue
		}
		delete(r.devices, address)
		result.Removed = append(result.Removed, address)
		r.logger.Info("device removed, absent from snapshot", "address", address)
	}

	result.ParamsChanged = !gocmp.Equal(r.customParams, snap.CustomParams, cmpopts.EquateEmpty())
	r.customParams = snap.CustomParams
	r.customData = snap.CustomData
	r.typedCustomData = snap.TypedCustomData
	r.notices = snap.Notices

	result.Devices = r.sortedLocked()
	r.mu.Unlock()

	slices.Sort(result.Added)
	slices.Sort(result.Removed)

	r.persist(ctx, result.Devices, result.Removed)

	r.logger.Debug("snapshot reconciled",
		"devices", len(result.Devices),
		"added", len(result.Added),
		"removed", len(result.Removed),
		"skipped", len(result.Skipped),
		"params_changed", result.ParamsChanged)

	return result
}

// persist writes devices through to the repository. Failures are logged;
// the in-memory registry stays authoritative.
func (r *Registry) persist(ctx context.Context, devices []*Device, removed []string) {
	if r.repo == nil {
		return
	}
	for _, d := range devices {
		if err := r.repo.Upsert(ctx, d.Record()); err != nil {
			r.logger.Warn("device cache write failed", "address", d.Address, "error", err)
		}
	}
	for _, address := range removed {
		if err := r.repo.Delete(ctx, address); err != nil {
			r.logger.Warn("device cache delete failed", "address", address, "error", err)
		}
	}
}

// Restore rebuilds cached devices from the repository. It is meant to run
// once at startup, before the first snapshot; devices already in the
// registry are left alone.
//
// Returns the number of devices restored.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.repo == nil {
		return 0, nil
	}

	records, err := r.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading device cache: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if _, exists := r.devices[rec.Address]; exists {
			continue
		}
		d, err := r.types.New(r.host, rec.TypeID, rec.Address, rec.Primary, rec.Name)
		if err != nil {
			r.logger.Warn("cached device not restored", "address", rec.Address, "type", rec.TypeID, "error", err)
			continue
		}
		d.applyRecord(rec)
		r.devices[d.Address] = d
		restored++
	}

	r.logger.Info("device cache restored", "count", restored)
	return restored, nil
}

// Add inserts a device that was created locally, for example after the
// gateway acknowledged an add request. An existing entry is replaced.
func (r *Registry) Add(ctx context.Context, d *Device) {
	r.mu.Lock()
	r.devices[d.Address] = d
	r.mu.Unlock()

	r.persist(ctx, []*Device{d}, nil)
	r.logger.Info("device added", "address", d.Address, "type", d.TypeID)
}

// Remove deletes a device from the registry.
func (r *Registry) Remove(ctx context.Context, address string) error {
	r.mu.Lock()
	_, ok := r.devices[address]
	delete(r.devices, address)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	r.persist(ctx, nil, []string{address})
	return nil
}

// Get returns the device with the given address.
func (r *Registry) Get(address string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return d, nil
}

// List returns all devices sorted by address.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []*Device {
	out := slices.Collect(maps.Values(r.devices))
	slices.SortFunc(out, func(a, b *Device) int {
		return cmp.Compare(a.Address, b.Address)
	})
	return out
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// CustomParams returns a copy of the custom parameters from the last snapshot.
func (r *Registry) CustomParams() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.customParams)
}

// CustomData returns the opaque data blob from the last snapshot.
func (r *Registry) CustomData() json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.customData)
}

// TypedCustomData returns the typed parameter values from the last snapshot.
func (r *Registry) TypedCustomData() json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.typedCustomData)
}

// Notices returns a copy of the notices from the last snapshot.
func (r *Registry) Notices() Notices {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.notices)
}
