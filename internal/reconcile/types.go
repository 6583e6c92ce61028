package reconcile

import (
	"time"

	"github.com/sumline/sumline-core/internal/meter"
)

// Outcome classifies what the reconciliation decision tree concluded for a
// single device during one tick. FlowDriven, MeasureDriven, SourceMissing
// and Stalled are absorbing for the tick; Normal is the only outcome that
// performs the availability re-check, and Degraded is its conservative
// fallback.
type Outcome string

// Outcome constants.
const (
	// OutcomeFlowDriven - updates delegated to the flow routine.
	OutcomeFlowDriven Outcome = "flow_driven"

	// OutcomeSourceMissing - the source device is gone; the device was
	// marked unavailable and a delayed restart scheduled.
	OutcomeSourceMissing Outcome = "source_missing"

	// OutcomeMeasureDriven - updates delegated to the measure routine.
	OutcomeMeasureDriven Outcome = "measure_driven"

	// OutcomeStalled - the device should be polling or listening but is
	// not; an immediate restart was scheduled.
	OutcomeStalled Outcome = "stalled"

	// OutcomeDegraded - the device polled fine but its source reports
	// unavailable; availability left unchanged to avoid flapping.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeNormal - the device polled and was marked available.
	OutcomeNormal Outcome = "normal"
)

// Recovering reports whether the outcome scheduled a restart.
func (o Outcome) Recovering() bool {
	return o == OutcomeSourceMissing || o == OutcomeStalled
}

// DeviceFailure records a per-device error during a tick or tariff
// dispatch. Failures never abort the pass over sibling devices.
type DeviceFailure struct {
	DeviceID string `json:"device_id"`
	Error    string `json:"error"`
}

// TickReport summarises one hourly reconciliation pass.
type TickReport struct {
	DriverID    string          `json:"driver_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMS  int64           `json:"duration_ms"`
	Devices     int             `json:"devices"`
	Outcomes    map[Outcome]int `json:"outcomes"`
	Failures    []DeviceFailure `json:"failures,omitempty"`
}

// TariffResult summarises one tariff broadcast.
type TariffResult struct {
	DriverID string          `json:"driver_id"`
	Tariff   float64         `json:"tariff"`
	Group    int             `json:"group"`
	Devices  int             `json:"devices"`
	Failures []DeviceFailure `json:"failures,omitempty"`
}

// NewDeviceSpec is a device proposal produced by discovery. The caller
// decides whether to register it; discovery itself has no side effects.
type NewDeviceSpec struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Settings meter.Settings `json:"settings"`
}
