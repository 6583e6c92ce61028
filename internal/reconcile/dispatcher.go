package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sumline/sumline-core/internal/infrastructure/mqtt"
	"github.com/sumline/sumline-core/internal/meter"
)

// TariffRegistry is the interface the dispatcher needs from the meter
// package.
type TariffRegistry interface {
	// ListByGroup enumerates the devices of a driver in an update group.
	ListByGroup(ctx context.Context, driverID string, group int) ([]meter.Device, error)

	// SetTariff persists the new tariff locally.
	SetTariff(ctx context.Context, id string, tariff float64) error
}

// TariffWriter is the interface for pushing a tariff to a device on the
// host: into its settings map and onto its tariff capability.
type TariffWriter interface {
	SetSettings(ctx context.Context, id string, settings map[string]any) error
	SetCapability(ctx context.Context, id, capability string, value any) error
}

// tariffEvent is the inbound tariff-change payload. The tariff arrives as
// either a JSON number or a numeric string; group is optional.
type tariffEvent struct {
	Tariff json.RawMessage `json:"tariff"`
	Group  *int            `json:"group,omitempty"`
}

// Dispatcher fans a tariff change out to every managed device of a driver
// belonging to the matching update group.
//
// A fixed grace delay sequences the broadcast after any hourly pass that
// was already in flight when the event arrived. This is a best-effort
// ordering aid, not a transactional guarantee.
type Dispatcher struct {
	driverID   string
	graceDelay time.Duration
	devices    TariffRegistry
	writer     TariffWriter
	pub        Publisher       // may be nil
	history    HistoryRecorder // may be nil
	logger     Logger
	topics     mqtt.Topics
}

// NewDispatcher creates a tariff dispatcher for one logical driver.
func NewDispatcher(driverID string, graceDelay time.Duration, devices TariffRegistry, writer TariffWriter, pub Publisher, history HistoryRecorder, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		driverID:   driverID,
		graceDelay: graceDelay,
		devices:    devices,
		writer:     writer,
		pub:        pub,
		history:    history,
		logger:     logger,
	}
}

// OnTariffChanged handles one tariff-change event.
//
// The payload must parse to a finite number or the event is dropped with
// ErrInvalidTariff and no devices are touched. Group defaults to 1 when
// absent. After the grace delay, every device in the matching group has
// the tariff persisted into its settings and pushed onto its meter_tariff
// capability; devices in other groups are untouched.
func (d *Dispatcher) OnTariffChanged(ctx context.Context, payload []byte) (*TariffResult, error) {
	var event tariffEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTariff, err)
	}

	tariff, err := parseTariff(event.Tariff)
	if err != nil {
		d.logger.Error("tariff event dropped", "driver_id", d.driverID, "error", err)
		return nil, err
	}

	group := 1
	if event.Group != nil && *event.Group > 0 {
		group = *event.Group
	}

	d.logger.Info("tariff change received",
		"driver_id", d.driverID,
		"tariff", tariff,
		"group", group,
		"grace_delay", d.graceDelay,
	)

	// Let any in-flight hourly pass drain before touching settings.
	if d.graceDelay > 0 {
		select {
		case <-time.After(d.graceDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("tariff dispatch cancelled: %w", ctx.Err())
		}
	}

	devices, err := d.devices.ListByGroup(ctx, d.driverID, group)
	if err != nil {
		return nil, fmt.Errorf("listing group %d: %w", group, err)
	}

	result := &TariffResult{
		DriverID: d.driverID,
		Tariff:   tariff,
		Group:    group,
	}

	for _, dev := range devices {
		if err := d.applyTariff(ctx, dev.ID, tariff); err != nil {
			result.Failures = append(result.Failures, DeviceFailure{
				DeviceID: dev.ID,
				Error:    err.Error(),
			})
			d.logger.Error("tariff apply failed", "device_id", dev.ID, "error", err)
			continue
		}
		result.Devices++
	}

	d.reportTariff(result)

	d.logger.Info("tariff broadcast complete",
		"driver_id", d.driverID,
		"group", group,
		"devices", result.Devices,
		"failures", len(result.Failures),
	)

	return result, nil
}

// applyTariff persists the tariff locally, then pushes it into the host
// settings map and onto the tariff capability.
func (d *Dispatcher) applyTariff(ctx context.Context, deviceID string, tariff float64) error {
	if err := d.devices.SetTariff(ctx, deviceID, tariff); err != nil {
		return fmt.Errorf("persisting tariff: %w", err)
	}
	if err := d.writer.SetSettings(ctx, deviceID, map[string]any{"tariff": tariff}); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := d.writer.SetCapability(ctx, deviceID, "meter_tariff", tariff); err != nil {
		return fmt.Errorf("writing capability: %w", err)
	}
	return nil
}

// reportTariff publishes and records the broadcast result.
func (d *Dispatcher) reportTariff(result *TariffResult) {
	if d.history != nil {
		d.history.WriteTariffChange(result.DriverID, result.Group, result.Tariff, result.Devices)
	}
	if d.pub == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := d.pub.Publish(d.topics.CoreTariffApplied(result.DriverID), payload, 0, false); err != nil {
		d.logger.Debug("tariff result publish failed", "error", err)
	}
}

// parseTariff accepts a JSON number or a numeric string and rejects
// everything that is not a finite number.
func parseTariff(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: tariff is missing", ErrInvalidTariff)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTariff, err)
	}

	var tariff float64
	switch v := value.(type) {
	case float64:
		tariff = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTariff, v)
		}
		tariff = parsed
	default:
		return 0, fmt.Errorf("%w: unexpected type %T", ErrInvalidTariff, value)
	}

	if math.IsNaN(tariff) || math.IsInf(tariff, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTariff, tariff)
	}
	return tariff, nil
}
