package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sumline/sumline-core/internal/host"
	"github.com/sumline/sumline-core/internal/infrastructure/mqtt"
	"github.com/sumline/sumline-core/internal/meter"
)

// Logger defines the logging interface used by this package.
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

// DeviceRegistry is the interface the engine needs from the meter package.
type DeviceRegistry interface {
	// ListByDriver enumerates the managed devices of a logical driver.
	ListByDriver(ctx context.Context, driverID string) ([]meter.Device, error)

	// SetAvailability records the availability flag locally.
	SetAvailability(ctx context.Context, id string, availability meter.Availability, reason *string) error
}

// HostDevices is the interface for device-level operations executed by the
// external home-automation host. The host owns the timers, listeners, and
// meter math; the engine only decides which call to make.
type HostDevices interface {
	SourceStatus(ctx context.Context, id string, requiredCapabilities []string) (host.SourceStatus, error)
	RuntimeStatus(ctx context.Context, id string) (host.RuntimeStatus, error)
	UpdateMeterFromFlow(ctx context.Context, id string) error
	UpdateMeterFromMeasure(ctx context.Context, id string) error
	PollMeter(ctx context.Context, id string) error
	RestartDevice(ctx context.Context, id string, delay time.Duration) error
	SetAvailable(ctx context.Context, id string) error
	SetUnavailable(ctx context.Context, id, reason string) error
}

// Publisher is the interface for publishing reconciliation events.
type Publisher interface {
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// HistoryRecorder is the interface for recording reconciliation history.
// Writes are expected to be non-blocking.
type HistoryRecorder interface {
	WriteDeviceOutcome(deviceID, outcome string, recovered bool)
	WriteTickSummary(driverID string, outcomes map[string]int, durationMS int64)
	WriteTariffChange(driverID string, group int, tariff float64, devices int)
}

// EngineConfig collects the tunables of the hourly reconciliation pass.
type EngineConfig struct {
	// DriverID scopes the pass to one logical driver's devices.
	DriverID string

	// OriginCapabilities are the capability names a source device must
	// still carry to count as alive.
	OriginCapabilities []string

	// RestartDelaySourceMissing is the recovery delay when a device's
	// source has disappeared. Kept long so a rebooting source can come
	// back before the restart fires.
	RestartDelaySourceMissing time.Duration

	// RestartDelayStalled is the recovery delay when a device should be
	// polling or listening but is not. Near-zero: the device itself is
	// present, a fast retry is safe.
	RestartDelayStalled time.Duration
}

// Engine runs the hourly device-health reconciliation pass.
//
// On each tick it enumerates every managed device of its driver and runs a
// deterministic decision tree per device: flow-driven devices delegate to
// the flow routine, devices with a vanished source are parked unavailable
// with a delayed restart, measure-driven devices delegate to the measure
// routine, stalled devices are restarted immediately, and healthy devices
// are force-polled and re-marked available.
//
// Devices are processed concurrently; a failure on one device never aborts
// the others. Overlapping ticks are skipped: a tick that arrives while the
// previous one is still draining logs a warning and returns
// ErrTickInProgress.
//
// Thread Safety: OnHourTick is safe for concurrent use.
type Engine struct {
	cfg      EngineConfig
	devices  DeviceRegistry
	host     HostDevices
	pub      Publisher       // may be nil
	history  HistoryRecorder // may be nil
	logger   Logger
	topics   mqtt.Topics
	inFlight atomic.Bool
}

// NewEngine creates a reconciliation engine.
//
// Parameters:
//   - cfg: pass tunables (driver id, capability list, restart delays)
//   - devices: managed-device registry for enumeration and availability
//   - hostDevices: host gateway client for device-level operations
//   - pub: MQTT publisher for tick reports (may be nil)
//   - history: time-series recorder for tick history (may be nil)
//   - logger: logger instance (nil for silent operation)
func NewEngine(cfg EngineConfig, devices DeviceRegistry, hostDevices HostDevices, pub Publisher, history HistoryRecorder, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		cfg:     cfg,
		devices: devices,
		host:    hostDevices,
		pub:     pub,
		history: history,
		logger:  logger,
	}
}

// OnHourTick runs one reconciliation pass over every managed device.
//
// Returns the tick report, or ErrTickInProgress when a previous tick is
// still draining (the new tick is skipped entirely).
func (e *Engine) OnHourTick(ctx context.Context) (*TickReport, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Warn("hour tick skipped, previous tick still in progress",
			"driver_id", e.cfg.DriverID)
		return nil, ErrTickInProgress
	}
	defer e.inFlight.Store(false)

	started := time.Now().UTC()

	devices, err := e.devices.ListByDriver(ctx, e.cfg.DriverID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	e.logger.Info("reconciliation tick started",
		"driver_id", e.cfg.DriverID,
		"devices", len(devices),
	)

	var (
		mu       sync.Mutex
		outcomes = make(map[Outcome]int)
		failures []DeviceFailure
		wg       sync.WaitGroup
	)

	for i := range devices {
		wg.Add(1)
		go func(d meter.Device) {
			defer wg.Done()

			outcome, devErr := e.reconcileDevice(ctx, d)

			mu.Lock()
			defer mu.Unlock()
			if devErr != nil {
				failures = append(failures, DeviceFailure{
					DeviceID: d.ID,
					Error:    devErr.Error(),
				})
				e.logger.Error("device reconciliation failed",
					"device_id", d.ID, "error", devErr)
				return
			}
			outcomes[outcome]++
			e.reportDeviceOutcome(d.ID, outcome)
		}(devices[i])
	}

	wg.Wait()

	completed := time.Now().UTC()
	report := &TickReport{
		DriverID:    e.cfg.DriverID,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
		Devices:     len(devices),
		Outcomes:    outcomes,
		Failures:    failures,
	}

	e.reportTick(report)

	e.logger.Info("reconciliation tick complete",
		"driver_id", e.cfg.DriverID,
		"devices", report.Devices,
		"failures", len(failures),
		"duration_ms", report.DurationMS,
	)

	return report, nil
}

// reconcileDevice runs the per-device decision tree in documented order.
// The first matching step decides the outcome; later steps never run.
func (e *Engine) reconcileDevice(ctx context.Context, d meter.Device) (Outcome, error) {
	// Step 1: flow-driven devices own their updates, never poll them.
	if d.Settings.MeterViaFlow {
		if err := e.host.UpdateMeterFromFlow(ctx, d.ID); err != nil {
			return "", fmt.Errorf("flow update: %w", err)
		}
		return OutcomeFlowDriven, nil
	}

	// Step 2: the source must still exist, still carry a metering
	// capability, and report an availability flag at all.
	alive, err := e.sourceAlive(ctx, d)
	if err != nil {
		return "", err
	}
	if !alive {
		return e.handleSourceMissing(ctx, d)
	}

	// Step 3: measure-driven devices recompute from power readings.
	if d.Settings.UseMeasureSource {
		if err := e.host.UpdateMeterFromMeasure(ctx, d.ID); err != nil {
			return "", fmt.Errorf("measure update: %w", err)
		}
		return OutcomeMeasureDriven, nil
	}

	// Step 4: the device is supposed to be polling or listening.
	runtime, err := e.host.RuntimeStatus(ctx, d.ID)
	if err != nil {
		return "", fmt.Errorf("runtime status: %w", err)
	}
	if !runtime.Healthy(d.Settings.Interval) {
		return e.handleStalled(ctx, d)
	}

	// Step 5: force a synchronous poll, then re-check the source.
	if err := e.host.PollMeter(ctx, d.ID); err != nil {
		return "", fmt.Errorf("poll: %w", err)
	}

	status, err := e.host.SourceStatus(ctx, sourceID(d), e.cfg.OriginCapabilities)
	if err != nil {
		return "", fmt.Errorf("source re-check: %w", err)
	}
	if status.Available != nil && !*status.Available {
		// Source answered but reports unavailable. Leave the derived
		// device's availability unchanged to avoid flapping.
		e.logger.Debug("device degraded, source unavailable",
			"device_id", d.ID, "source_id", sourceID(d))
		return OutcomeDegraded, nil
	}

	if err := e.host.SetAvailable(ctx, d.ID); err != nil {
		return "", fmt.Errorf("marking available: %w", err)
	}
	if err := e.devices.SetAvailability(ctx, d.ID, meter.AvailabilityAvailable, nil); err != nil {
		e.logger.Error("recording availability failed", "device_id", d.ID, "error", err)
	}
	return OutcomeNormal, nil
}

// sourceAlive checks whether the device's source reference points at a
// live, capability-bearing device on the host.
func (e *Engine) sourceAlive(ctx context.Context, d meter.Device) (bool, error) {
	id := sourceID(d)
	if id == "" {
		return false, nil
	}

	status, err := e.host.SourceStatus(ctx, id, e.cfg.OriginCapabilities)
	if err != nil {
		return false, fmt.Errorf("source lookup: %w", err)
	}
	return status.Present && status.HasCapabilities && status.Available != nil, nil
}

// handleSourceMissing parks the device unavailable and schedules a delayed
// restart, giving the source time to reappear before the retry.
func (e *Engine) handleSourceMissing(ctx context.Context, d meter.Device) (Outcome, error) {
	reason := fmt.Sprintf("source device %q is missing on the host", sourceName(d))

	e.logger.Warn("source missing",
		"device_id", d.ID,
		"source_id", sourceID(d),
		"restart_delay", e.cfg.RestartDelaySourceMissing,
	)

	if err := e.host.SetUnavailable(ctx, d.ID, reason); err != nil {
		return "", fmt.Errorf("marking unavailable: %w", err)
	}
	if err := e.devices.SetAvailability(ctx, d.ID, meter.AvailabilityUnavailable, &reason); err != nil {
		e.logger.Error("recording availability failed", "device_id", d.ID, "error", err)
	}
	if err := e.host.RestartDevice(ctx, d.ID, e.cfg.RestartDelaySourceMissing); err != nil {
		return "", fmt.Errorf("scheduling restart: %w", err)
	}
	return OutcomeSourceMissing, nil
}

// handleStalled restarts a device whose poll timer or listeners have died.
// The device itself is present, so the retry is near-immediate.
func (e *Engine) handleStalled(ctx context.Context, d meter.Device) (Outcome, error) {
	e.logger.Error("device stalled, no active timer or listeners",
		"device_id", d.ID,
		"interval", d.Settings.Interval,
		"restart_delay", e.cfg.RestartDelayStalled,
	)

	if err := e.host.RestartDevice(ctx, d.ID, e.cfg.RestartDelayStalled); err != nil {
		return "", fmt.Errorf("scheduling restart: %w", err)
	}
	return OutcomeStalled, nil
}

// reportDeviceOutcome publishes and records a single device's outcome.
func (e *Engine) reportDeviceOutcome(deviceID string, outcome Outcome) {
	if e.history != nil {
		e.history.WriteDeviceOutcome(deviceID, string(outcome), outcome.Recovering())
	}
	if e.pub == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"device_id": deviceID,
		"outcome":   string(outcome),
		"recovered": outcome.Recovering(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := e.pub.Publish(e.topics.CoreDeviceOutcome(deviceID), payload, 0, false); err != nil {
		e.logger.Debug("outcome publish failed", "device_id", deviceID, "error", err)
	}
}

// reportTick publishes and records the tick summary.
func (e *Engine) reportTick(report *TickReport) {
	if e.history != nil {
		counts := make(map[string]int, len(report.Outcomes))
		for outcome, n := range report.Outcomes {
			counts[string(outcome)] = n
		}
		e.history.WriteTickSummary(report.DriverID, counts, report.DurationMS)
	}
	if e.pub == nil {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := e.pub.Publish(e.topics.CoreTickReport(), payload, 0, false); err != nil {
		e.logger.Debug("tick report publish failed", "error", err)
	}
}

// sourceID returns the device's source reference, preferring the settings
// map over the denormalised column.
func sourceID(d meter.Device) string {
	if d.Settings.SourceDeviceID != "" {
		return d.Settings.SourceDeviceID
	}
	if d.SourceDeviceID != nil {
		return *d.SourceDeviceID
	}
	return ""
}

// sourceName returns a human-readable name for the source reference.
func sourceName(d meter.Device) string {
	if d.Settings.SourceDeviceName != "" {
		return d.Settings.SourceDeviceName
	}
	return sourceID(d)
}
