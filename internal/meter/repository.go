package meter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByDriver retrieves all devices belonging to a logical driver.
	ListByDriver(ctx context.Context, driverID string) ([]Device, error)

	// ListByGroup retrieves all devices of a driver in a tariff update group.
	ListByGroup(ctx context.Context, driverID string, group int) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateTariff updates only the tariff of a device.
	// This is optimised for group-scoped tariff broadcasts.
	UpdateTariff(ctx context.Context, id string, tariff float64) error

	// UpdateAvailability updates the availability flag and its reason.
	UpdateAvailability(ctx context.Context, id string, availability Availability, reason *string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, driver_id, settings, source_device_id, tariff,
		tariff_update_group, availability, availability_reason, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByDriver retrieves all devices belonging to a logical driver.
func (r *SQLiteRepository) ListByDriver(ctx context.Context, driverID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE driver_id = ? ORDER BY name`
	return r.queryDevices(ctx, query, driverID)
}

// ListByGroup retrieves all devices of a driver in a tariff update group.
// A stored group below 1 counts as group 1, matching the registry cache.
func (r *SQLiteRepository) ListByGroup(ctx context.Context, driverID string, group int) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices
		WHERE driver_id = ? AND MAX(tariff_update_group, 1) = ? ORDER BY name`
	return r.queryDevices(ctx, query, driverID, group)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	settingsJSON, err := json.Marshal(device.Settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}

	// Set timestamps if not set
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, driver_id, settings, source_device_id, tariff,
			tariff_update_group, availability, availability_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		device.DriverID,
		string(settingsJSON),
		nullableString(device.SourceDeviceID),
		device.Tariff,
		device.Settings.Group(),
		string(device.Availability),
		nullableString(device.AvailabilityReason),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	settingsJSON, err := json.Marshal(device.Settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, driver_id = ?, settings = ?, source_device_id = ?,
			tariff = ?, tariff_update_group = ?, availability = ?,
			availability_reason = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		device.DriverID,
		string(settingsJSON),
		nullableString(device.SourceDeviceID),
		device.Tariff,
		device.Settings.Group(),
		string(device.Availability),
		nullableString(device.AvailabilityReason),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpdateTariff updates only the tariff of a device.
func (r *SQLiteRepository) UpdateTariff(ctx context.Context, id string, tariff float64) error {
	now := time.Now().UTC()
	query := `UPDATE devices SET tariff = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		tariff,
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device tariff: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpdateAvailability updates the availability flag and its reason.
func (r *SQLiteRepository) UpdateAvailability(ctx context.Context, id string, availability Availability, reason *string) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET availability = ?, availability_reason = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(availability),
		nullableString(reason),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device availability: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var settingsJSON string
	var sourceDeviceID, availabilityReason sql.NullString
	var group int
	var availability string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.DriverID,
		&settingsJSON,
		&sourceDeviceID,
		&d.Tariff,
		&group,
		&availability,
		&availabilityReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Availability = Availability(availability)

	if sourceDeviceID.Valid {
		d.SourceDeviceID = &sourceDeviceID.String
	}
	if availabilityReason.Valid {
		d.AvailabilityReason = &availabilityReason.String
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(settingsJSON), &d.Settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}

	// The denormalised group column is authoritative for group queries but
	// the settings map is authoritative for the device; keep them aligned.
	if d.Settings.TariffUpdateGroup < 1 {
		d.Settings.TariffUpdateGroup = group
	}

	return &d, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
