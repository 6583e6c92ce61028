package meter

import "time"

// Device represents a derived ("summed") meter device under supervision.
// It is created during discovery, persists until the host removes it, and is
// mutated by the hourly reconciliator and the tariff dispatcher.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// DriverID is the logical driver instance this device belongs to.
	// Tariff broadcasts are scoped by driver.
	DriverID string `json:"driver_id"`

	// Settings is the host-visible settings map for this device.
	Settings Settings `json:"settings"`

	// SourceDeviceID is a weak reference (by id) to the source device this
	// meter derives from. Absent for flow-driven devices. The source lives
	// on the host; a lookup that returns nothing means the source is gone.
	SourceDeviceID *string `json:"source_device_id,omitempty"`

	// Tariff is the numeric tariff currently in effect.
	Tariff float64 `json:"tariff"`

	// Availability is the health flag surfaced to the host.
	Availability       Availability `json:"availability"`
	AvailabilityReason *string      `json:"availability_reason,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates an independent copy of the Device.
// Pointer fields are duplicated so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.SourceDeviceID != nil {
		id := *d.SourceDeviceID
		cpy.SourceDeviceID = &id
	}
	if d.AvailabilityReason != nil {
		reason := *d.AvailabilityReason
		cpy.AvailabilityReason = &reason
	}

	return &cpy
}

// Settings holds the recognised settings keys of a managed device.
// The JSON keys match the host's settings map verbatim.
type Settings struct {
	// MeterViaFlow marks a device whose readings arrive purely via
	// external flow/automation calls. Such devices are never polled.
	MeterViaFlow bool `json:"meter_via_flow"`

	// UseMeasureSource marks a device that derives its meter from
	// instantaneous power readings instead of cumulative energy counters.
	UseMeasureSource bool `json:"use_measure_source"`

	// Interval is the polling interval in seconds. Zero means the device
	// relies on capability listeners rather than a poll timer.
	Interval int `json:"interval,omitempty"`

	// TariffUpdateGroup partitions devices for tariff broadcasts.
	// Always a positive integer; absence implies group 1.
	TariffUpdateGroup int `json:"tariff_update_group,omitempty"`

	// SourceDailyReset marks sources whose cumulative counters reset at
	// midnight (some host apps do this) so the summation compensates.
	SourceDailyReset bool `json:"homey_device_daily_reset"`

	// SourceDeviceID and SourceDeviceName reference the source device on
	// the host that this meter derives from.
	SourceDeviceID   string `json:"homey_device_id,omitempty"`
	SourceDeviceName string `json:"homey_device_name,omitempty"`

	// Level is the settings schema version string.
	Level string `json:"level,omitempty"`
}

// Group returns the effective tariff update group.
// The stored value may be absent (zero); absence implies group 1.
func (s Settings) Group() int {
	if s.TariffUpdateGroup < 1 {
		return 1
	}
	return s.TariffUpdateGroup
}

// UpdateMode identifies how a device's meter is kept current.
// Exactly one mode is active at any time, in this priority order.
type UpdateMode string

// UpdateMode constants.
const (
	// ModeFlow - updates arrive via external flow calls only.
	ModeFlow UpdateMode = "flow"

	// ModeMeasure - meter derived from instantaneous power readings.
	ModeMeasure UpdateMode = "measure"

	// ModePoll - meter kept current by polling or capability listeners.
	ModePoll UpdateMode = "poll"
)

// Mode returns the device's active update mode.
// Flow takes priority over measure; everything else polls/listens.
func (s Settings) Mode() UpdateMode {
	switch {
	case s.MeterViaFlow:
		return ModeFlow
	case s.UseMeasureSource:
		return ModeMeasure
	default:
		return ModePoll
	}
}

// Availability represents the tri-state health flag surfaced to the host.
type Availability string

// Availability constants.
const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityUnavailable Availability = "unavailable"
	AvailabilityUnknown     Availability = "unknown"
)

// AllAvailabilities returns all valid availability values.
func AllAvailabilities() []Availability {
	return []Availability{
		AvailabilityAvailable, AvailabilityUnavailable, AvailabilityUnknown,
	}
}
