package meter

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with independent copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups
	r.cacheMu.Lock()
	r.cache[id] = device.Clone()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.Clone())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// ListByDriver retrieves all devices belonging to a logical driver.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListByDriver(ctx context.Context, driverID string) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.DriverID == driverID {
				devices = append(devices, *d.Clone())
			}
		}
		return devices, nil
	}

	return r.repo.ListByDriver(ctx, driverID)
}

// ListByGroup retrieves all devices of a driver in a tariff update group.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListByGroup(ctx context.Context, driverID string, group int) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.DriverID == driverID && d.Settings.Group() == group {
				devices = append(devices, *d.Clone())
			}
		}
		return devices, nil
	}

	return r.repo.ListByGroup(ctx, driverID, group)
}

// CreateDevice creates a new device.
// It validates the device, generates an ID if needed, and persists it.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	// Generate ID if not provided
	if device.ID == "" {
		device.ID = GenerateID()
	}

	if device.Availability == "" {
		device.Availability = AvailabilityUnknown
	}

	// Validate
	if err := ValidateDevice(device); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	// Update cache (store a copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[device.ID] = device.Clone()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name)
	return nil
}

// UpdateDevice updates an existing device.
// It validates the device and persists the changes.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	// Validate
	if err := ValidateDevice(device); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	// Update cache (store a copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[device.ID] = device.Clone()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetTariff updates the tariff of a device.
// This is optimised for group-scoped tariff broadcasts.
func (r *Registry) SetTariff(ctx context.Context, id string, tariff float64) error {
	if err := ValidateTariff(tariff); err != nil {
		return err
	}

	if err := r.repo.UpdateTariff(ctx, id, tariff); err != nil {
		return err
	}

	// Update cache using atomic replacement to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.Clone()
		updated.Tariff = tariff
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device tariff updated", "id", id, "tariff", tariff)
	return nil
}

// SetAvailability updates the availability flag of a device.
// A nil reason clears any previous reason.
func (r *Registry) SetAvailability(ctx context.Context, id string, availability Availability, reason *string) error {
	switch availability {
	case AvailabilityAvailable, AvailabilityUnavailable, AvailabilityUnknown:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAvailability, availability)
	}

	if err := r.repo.UpdateAvailability(ctx, id, availability, reason); err != nil {
		return err
	}

	// Update cache using atomic replacement to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.Clone()
		updated.Availability = availability
		updated.AvailabilityReason = nil
		if reason != nil {
			rcopy := *reason
			updated.AvailabilityReason = &rcopy
		}
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device availability updated", "id", id, "availability", availability)
	return nil
}

// DeviceCount returns the number of cached devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int
	ByMode         map[UpdateMode]int
	ByAvailability map[Availability]int
	ByGroup        map[int]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices:   len(r.cache),
		ByMode:         make(map[UpdateMode]int),
		ByAvailability: make(map[Availability]int),
		ByGroup:        make(map[int]int),
	}

	for _, d := range r.cache {
		stats.ByMode[d.Settings.Mode()]++
		stats.ByAvailability[d.Availability]++
		stats.ByGroup[d.Settings.Group()]++
	}

	return stats
}
