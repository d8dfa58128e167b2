// Package device provides the device model and the Device Registry of the
// node server.
//
// A device ("node") is an addressable entity the gateway can command. Its
// type supplies a set of named commands and a fixed set of attributes
// ("drivers"); the package owns attribute mutation and reporting so every
// type encodes values the same way.
//
// # Architecture
//
//	┌────────────────┐    ┌────────────────┐    ┌────────────────┐
//	│  TypeRegistry  │◀───│    Registry    │───▶│   Repository   │
//	│                │    │                │    │                │
//	│ • id → ctor    │    │ • Reconcile    │    │ • SQLite cache │
//	│ • built once   │    │ • merge table  │    │ • Restore      │
//	└────────────────┘    └────────────────┘    └────────────────┘
//	                              │
//	                              ▼
//	                           Device
//	              SetAttribute / ReportAttribute → Host
//
// # Reconciliation
//
// Every "config" message carries a full Snapshot. Reconcile diffs it against
// the registry by address: unknown addresses are constructed through the
// TypeRegistry (unknown type ids are skipped), known ones have a fixed set
// of gateway-owned fields merged in, and addresses missing from the snapshot
// are removed.
//
// # Usage
//
//	types, err := device.NewTypeRegistry(nodes.Types()...)
//	if err != nil {
//	    return err
//	}
//	registry := device.NewRegistry(types, host)
//	registry.SetLogger(log)
//	registry.SetRepository(device.NewSQLiteRepository(db.DB))
//
//	if _, err := registry.Restore(ctx); err != nil {
//	    return err
//	}
//
//	result := registry.Reconcile(ctx, snapshot)
//
// # Thread Safety
//
// Registry and Device methods are safe for concurrent use.
package device
