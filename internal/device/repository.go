package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted form of a device.
type Record struct {
	Address      string
	Primary      string
	TypeID       string
	Name         string
	Attributes   map[string]Attribute
	IsController bool
	IsPrimary    bool
	Added        bool
	Enabled      bool
	ProfileNum   int
	TimeAdded    time.Time
}

// Record returns a persistable copy of the device.
func (d *Device) Record() Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	attrs := make(map[string]Attribute, len(d.attributes))
	for name, a := range d.attributes {
		attrs[name] = Attribute{Value: a.Value, Unit: a.Unit}
	}

	return Record{
		Address:      d.Address,
		Primary:      d.Primary,
		TypeID:       d.TypeID,
		Name:         d.Name,
		Attributes:   attrs,
		IsController: d.isController,
		IsPrimary:    d.isPrimary,
		Added:        d.added,
		Enabled:      d.enabled,
		ProfileNum:   d.profileNum,
		TimeAdded:    d.timeAdded,
	}
}

// applyRecord copies persisted state into a freshly constructed device.
// Attributes the type no longer declares are dropped.
func (d *Device) applyRecord(rec Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, stored := range rec.Attributes {
		if a, ok := d.attributes[name]; ok {
			a.Value = stored.Value
			a.Unit = stored.Unit
		}
	}
	d.isController = rec.IsController
	d.isPrimary = rec.IsPrimary
	d.added = rec.Added
	d.enabled = rec.Enabled
	d.profileNum = rec.ProfileNum
	if !rec.TimeAdded.IsZero() {
		d.timeAdded = rec.TimeAdded
	}
}

// Repository defines the interface for device cache persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// List retrieves all cached devices ordered by address.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts or replaces a device.
	Upsert(ctx context.Context, rec Record) error

	// Delete removes a device by address. Deleting a missing device is not an error.
	Delete(ctx context.Context, address string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves all cached devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `
		SELECT address, primary_address, type_id, name, attributes,
			is_controller, is_primary, added, enabled, profile_num, time_added
		FROM devices
		ORDER BY address`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return records, nil
}

// Upsert inserts or replaces a device.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	attrsJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	query := `
		INSERT INTO devices (
			address, primary_address, type_id, name, attributes,
			is_controller, is_primary, added, enabled, profile_num, time_added, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			primary_address = excluded.primary_address,
			type_id = excluded.type_id,
			name = excluded.name,
			attributes = excluded.attributes,
			is_controller = excluded.is_controller,
			is_primary = excluded.is_primary,
			added = excluded.added,
			enabled = excluded.enabled,
			profile_num = excluded.profile_num,
			time_added = excluded.time_added,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		rec.Address,
		rec.Primary,
		rec.TypeID,
		rec.Name,
		string(attrsJSON),
		boolToInt(rec.IsController),
		boolToInt(rec.IsPrimary),
		boolToInt(rec.Added),
		boolToInt(rec.Enabled),
		rec.ProfileNum,
		rec.TimeAdded.UnixMilli(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// Delete removes a device by address.
func (r *SQLiteRepository) Delete(ctx context.Context, address string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE address = ?", address); err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a device row into a Record.
func scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec          Record
		attrsJSON    string
		isController int
		isPrimary    int
		added        int
		enabled      int
		timeAdded    int64
	)

	err := scanner.Scan(
		&rec.Address,
		&rec.Primary,
		&rec.TypeID,
		&rec.Name,
		&attrsJSON,
		&isController,
		&isPrimary,
		&added,
		&enabled,
		&rec.ProfileNum,
		&timeAdded,
	)
	if err != nil {
		return Record{}, err
	}

	rec.IsController = isController != 0
	rec.IsPrimary = isPrimary != 0
	rec.Added = added != 0
	rec.Enabled = enabled != 0
	if timeAdded > 0 {
		rec.TimeAdded = time.UnixMilli(timeAdded)
	}

	if err := json.Unmarshal([]byte(attrsJSON), &rec.Attributes); err != nil {
		return Record{}, fmt.Errorf("unmarshalling attributes: %w", err)
	}
	return rec, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
