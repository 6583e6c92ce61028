package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sumline/sumline-core/internal/host"
	"github.com/sumline/sumline-core/internal/meter"
)

// ─── Mock Dependencies ───────────────────────────────────────────────────

// MockRegistry is a test implementation of DeviceRegistry and
// TariffRegistry.
type MockRegistry struct {
	mu           sync.Mutex
	devices      []meter.Device
	listErr      error
	tariffs      map[string]float64
	tariffErr    error
	availability map[string]meter.Availability
	reasons      map[string]*string
}

func NewMockRegistry(devices ...meter.Device) *MockRegistry {
	return &MockRegistry{
		devices:      devices,
		tariffs:      make(map[string]float64),
		availability: make(map[string]meter.Availability),
		reasons:      make(map[string]*string),
	}
}

func (m *MockRegistry) ListByDriver(_ context.Context, driverID string) ([]meter.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []meter.Device
	for _, d := range m.devices {
		if d.DriverID == driverID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockRegistry) ListByGroup(_ context.Context, driverID string, group int) ([]meter.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []meter.Device
	for _, d := range m.devices {
		if d.DriverID == driverID && d.Settings.Group() == group {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockRegistry) SetTariff(_ context.Context, id string, tariff float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tariffErr != nil {
		return m.tariffErr
	}
	m.tariffs[id] = tariff
	return nil
}

func (m *MockRegistry) SetAvailability(_ context.Context, id string, availability meter.Availability, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability[id] = availability
	m.reasons[id] = reason
	return nil
}

type restartCall struct {
	deviceID string
	delay    time.Duration
}

// MockHost is a test implementation of HostDevices, TariffWriter and
// Inventory. Every call is recorded for assertion.
type MockHost struct {
	mu sync.Mutex

	sourceStatus  map[string]host.SourceStatus
	runtimeStatus map[string]host.RuntimeStatus
	inventory     []host.RawDevice
	inventoryErr  error
	pollErr       error

	flowCalls     []string
	measureCalls  []string
	pollCalls     []string
	restarts      []restartCall
	available     []string
	unavailable   map[string]string
	settingsCalls map[string][]map[string]any
	capCalls      map[string]map[string]any
}

func NewMockHost() *MockHost {
	return &MockHost{
		sourceStatus:  make(map[string]host.SourceStatus),
		runtimeStatus: make(map[string]host.RuntimeStatus),
		unavailable:   make(map[string]string),
		settingsCalls: make(map[string][]map[string]any),
		capCalls:      make(map[string]map[string]any),
	}
}

func (m *MockHost) SourceStatus(_ context.Context, id string, _ []string) (host.SourceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceStatus[id], nil
}

func (m *MockHost) RuntimeStatus(_ context.Context, id string) (host.RuntimeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runtimeStatus[id], nil
}

func (m *MockHost) UpdateMeterFromFlow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowCalls = append(m.flowCalls, id)
	return nil
}

func (m *MockHost) UpdateMeterFromMeasure(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.measureCalls = append(m.measureCalls, id)
	return nil
}

func (m *MockHost) PollMeter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return m.pollErr
	}
	m.pollCalls = append(m.pollCalls, id)
	return nil
}

func (m *MockHost) RestartDevice(_ context.Context, id string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, restartCall{deviceID: id, delay: delay})
	return nil
}

func (m *MockHost) SetAvailable(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = append(m.available, id)
	return nil
}

func (m *MockHost) SetUnavailable(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable[id] = reason
	return nil
}

func (m *MockHost) SetSettings(_ context.Context, id string, settings map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingsCalls[id] = append(m.settingsCalls[id], settings)
	return nil
}

func (m *MockHost) SetCapability(_ context.Context, id, capability string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capCalls[id] == nil {
		m.capCalls[id] = make(map[string]any)
	}
	m.capCalls[id][capability] = value
	return nil
}

func (m *MockHost) FetchInventory(_ context.Context) ([]host.RawDevice, error) {
	if m.inventoryErr != nil {
		return nil, m.inventoryErr
	}
	return m.inventory, nil
}

// setSource registers a live, capability-bearing, available source.
func (m *MockHost) setSource(id string, available bool) {
	avail := available
	m.sourceStatus[id] = host.SourceStatus{
		Present:         true,
		HasCapabilities: true,
		Available:       &avail,
	}
}

// ─── Test Fixtures ───────────────────────────────────────────────────────

const testDriverID = "power_sum"

func engineConfig() EngineConfig {
	return EngineConfig{
		DriverID:                  testDriverID,
		OriginCapabilities:        []string{"measure_power", "meter_power"},
		RestartDelaySourceMissing: 600 * time.Second,
		RestartDelayStalled:       time.Second,
	}
}

func managedDevice(id string, settings meter.Settings) meter.Device {
	return meter.Device{
		ID:           id,
		Name:         id,
		DriverID:     testDriverID,
		Settings:     settings,
		Availability: meter.AvailabilityAvailable,
	}
}

// ─── Engine Tests ────────────────────────────────────────────────────────

func TestEngineFlowDrivenDevice(t *testing.T) {
	dev := managedDevice("dev-flow", meter.Settings{MeterViaFlow: true})
	registry := NewMockRegistry(dev)
	hst := NewMockHost()
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}

	if report.Outcomes[OutcomeFlowDriven] != 1 {
		t.Errorf("flow_driven count = %d, want 1", report.Outcomes[OutcomeFlowDriven])
	}
	if len(hst.flowCalls) != 1 || hst.flowCalls[0] != "dev-flow" {
		t.Errorf("flowCalls = %v, want [dev-flow]", hst.flowCalls)
	}
	// Flow mode is authoritative: no polling, no availability writes.
	if len(hst.pollCalls) != 0 {
		t.Errorf("pollCalls = %v, want none", hst.pollCalls)
	}
	if len(hst.available) != 0 || len(hst.unavailable) != 0 {
		t.Error("flow-driven tick must not touch availability")
	}
	if len(hst.restarts) != 0 {
		t.Errorf("restarts = %v, want none", hst.restarts)
	}
}

func TestEngineSourceMissing(t *testing.T) {
	tests := []struct {
		name   string
		status host.SourceStatus
	}{
		{"reference gone", host.SourceStatus{}},
		{"no capabilities", host.SourceStatus{Present: true}},
		{"no availability flag", host.SourceStatus{Present: true, HasCapabilities: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := managedDevice("dev-1", meter.Settings{
				SourceDeviceID:   "src-1",
				SourceDeviceName: "Heat Pump",
				Interval:         60,
			})
			registry := NewMockRegistry(dev)
			hst := NewMockHost()
			hst.sourceStatus["src-1"] = tt.status
			engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

			report, err := engine.OnHourTick(context.Background())
			if err != nil {
				t.Fatalf("OnHourTick() error = %v", err)
			}

			if report.Outcomes[OutcomeSourceMissing] != 1 {
				t.Fatalf("source_missing count = %d, want 1", report.Outcomes[OutcomeSourceMissing])
			}
			if len(hst.restarts) != 1 {
				t.Fatalf("restarts = %d, want exactly 1", len(hst.restarts))
			}
			if hst.restarts[0].delay != 600*time.Second {
				t.Errorf("restart delay = %v, want 10m", hst.restarts[0].delay)
			}
			reason, ok := hst.unavailable["dev-1"]
			if !ok {
				t.Fatal("device was not marked unavailable")
			}
			if !strings.Contains(reason, "Heat Pump") || !strings.Contains(reason, "missing") {
				t.Errorf("reason = %q, want it to name the missing source", reason)
			}
			if registry.availability["dev-1"] != meter.AvailabilityUnavailable {
				t.Errorf("recorded availability = %q, want unavailable", registry.availability["dev-1"])
			}
		})
	}
}

func TestEngineMissingSourceReference(t *testing.T) {
	// No source reference at all behaves the same as a vanished source.
	dev := managedDevice("dev-1", meter.Settings{Interval: 60})
	registry := NewMockRegistry(dev)
	hst := NewMockHost()
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}
	if report.Outcomes[OutcomeSourceMissing] != 1 {
		t.Errorf("source_missing count = %d, want 1", report.Outcomes[OutcomeSourceMissing])
	}
}

func TestEngineMeasureDrivenDevice(t *testing.T) {
	dev := managedDevice("dev-1", meter.Settings{
		UseMeasureSource: true,
		SourceDeviceID:   "src-1",
	})
	registry := NewMockRegistry(dev)
	hst := NewMockHost()
	hst.setSource("src-1", true)
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}

	if report.Outcomes[OutcomeMeasureDriven] != 1 {
		t.Errorf("measure_driven count = %d, want 1", report.Outcomes[OutcomeMeasureDriven])
	}
	if len(hst.measureCalls) != 1 {
		t.Errorf("measureCalls = %v, want [dev-1]", hst.measureCalls)
	}
	if len(hst.pollCalls) != 0 {
		t.Errorf("pollCalls = %v, want none", hst.pollCalls)
	}
}

func TestEngineStalledDevice(t *testing.T) {
	tests := []struct {
		name     string
		settings meter.Settings
		runtime  host.RuntimeStatus
	}{
		{
			"timer dead",
			meter.Settings{SourceDeviceID: "src-1", Interval: 60},
			host.RuntimeStatus{},
		},
		{
			"timer at wrong interval",
			meter.Settings{SourceDeviceID: "src-1", Interval: 60},
			host.RuntimeStatus{PollActive: true, PollIntervalSeconds: 30},
		},
		{
			"listener driven with no listeners",
			meter.Settings{SourceDeviceID: "src-1"},
			host.RuntimeStatus{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := managedDevice("dev-1", tt.settings)
			registry := NewMockRegistry(dev)
			hst := NewMockHost()
			hst.setSource("src-1", true)
			hst.runtimeStatus["dev-1"] = tt.runtime
			engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

			report, err := engine.OnHourTick(context.Background())
			if err != nil {
				t.Fatalf("OnHourTick() error = %v", err)
			}

			if report.Outcomes[OutcomeStalled] != 1 {
				t.Fatalf("stalled count = %d, want 1", report.Outcomes[OutcomeStalled])
			}
			if len(hst.restarts) != 1 {
				t.Fatalf("restarts = %d, want 1", len(hst.restarts))
			}
			if hst.restarts[0].delay != time.Second {
				t.Errorf("restart delay = %v, want near-zero", hst.restarts[0].delay)
			}
			if len(hst.pollCalls) != 0 {
				t.Errorf("pollCalls = %v, want none for stalled device", hst.pollCalls)
			}
		})
	}
}

func TestEngineListenersSatisfyUpdateCheck(t *testing.T) {
	// A dead poll timer is fine as long as live capability listeners are
	// keeping the device current. Either mechanism counts.
	dev := managedDevice("dev-1", meter.Settings{SourceDeviceID: "src-1", Interval: 60})
	registry := NewMockRegistry(dev)
	hst := NewMockHost()
	hst.setSource("src-1", true)
	hst.runtimeStatus["dev-1"] = host.RuntimeStatus{ListenerCount: 2}
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}

	if report.Outcomes[OutcomeStalled] != 0 {
		t.Errorf("stalled count = %d, want 0", report.Outcomes[OutcomeStalled])
	}
	if len(hst.restarts) != 0 {
		t.Errorf("restarts = %d, want 0", len(hst.restarts))
	}
	if report.Outcomes[OutcomeNormal] != 1 {
		t.Errorf("normal count = %d, want 1", report.Outcomes[OutcomeNormal])
	}
	if len(hst.pollCalls) != 1 {
		t.Errorf("pollCalls = %v, want exactly one poll", hst.pollCalls)
	}
}

func TestEngineNormalDevice(t *testing.T) {
	dev := managedDevice("dev-1", meter.Settings{SourceDeviceID: "src-1", Interval: 60})
	registry := NewMockRegistry(dev)
	hst := NewMockHost()
	hst.setSource("src-1", true)
	hst.runtimeStatus["dev-1"] = host.RuntimeStatus{PollActive: true, PollIntervalSeconds: 60}
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}

	if report.Outcomes[OutcomeNormal] != 1 {
		t.Errorf("normal count = %d, want 1", report.Outcomes[OutcomeNormal])
	}
	if len(hst.pollCalls) != 1 {
		t.Fatalf("pollCalls = %v, want exactly one poll", hst.pollCalls)
	}
	if len(hst.available) != 1 || hst.available[0] != "dev-1" {
		t.Errorf("available = %v, want [dev-1]", hst.available)
	}
	if registry.availability["dev-1"] != meter.AvailabilityAvailable {
		t.Errorf("recorded availability = %q, want available", registry.availability["dev-1"])
	}
}

func TestEngineDegradedDevice(t *testing.T) {
	dev := managedDevice("dev-1", meter.Settings{SourceDeviceID: "src-1", Interval: 60})
	registry := NewMockRegistry(dev)
	hst := NewMockHost()
	hst.setSource("src-1", false) // answers, but reports unavailable
	hst.runtimeStatus["dev-1"] = host.RuntimeStatus{PollActive: true, PollIntervalSeconds: 60}
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}

	if report.Outcomes[OutcomeDegraded] != 1 {
		t.Errorf("degraded count = %d, want 1", report.Outcomes[OutcomeDegraded])
	}
	if len(hst.pollCalls) != 1 {
		t.Errorf("pollCalls = %v, want exactly one poll", hst.pollCalls)
	}
	// Conservative: availability is left completely untouched.
	if len(hst.available) != 0 || len(hst.unavailable) != 0 {
		t.Error("degraded device must not change availability")
	}
	if len(hst.restarts) != 0 {
		t.Errorf("restarts = %v, want none", hst.restarts)
	}
}

func TestEngineFailureIsolation(t *testing.T) {
	// One device's poll failure must not abort its siblings.
	broken := managedDevice("dev-broken", meter.Settings{SourceDeviceID: "src-1", Interval: 60})
	flow := managedDevice("dev-flow", meter.Settings{MeterViaFlow: true})
	registry := NewMockRegistry(broken, flow)
	hst := NewMockHost()
	hst.setSource("src-1", true)
	hst.runtimeStatus["dev-broken"] = host.RuntimeStatus{PollActive: true, PollIntervalSeconds: 60}
	hst.pollErr = errors.New("host timeout")
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(report.Failures))
	}
	if report.Failures[0].DeviceID != "dev-broken" {
		t.Errorf("failure device = %s, want dev-broken", report.Failures[0].DeviceID)
	}
	if report.Outcomes[OutcomeFlowDriven] != 1 {
		t.Error("sibling device was not processed despite the failure")
	}
}

func TestEngineOverlappingTickSkipped(t *testing.T) {
	dev := managedDevice("dev-flow", meter.Settings{MeterViaFlow: true})
	registry := NewMockRegistry(dev)
	hst := NewMockHost()
	engine := NewEngine(engineConfig(), registry, hst, nil, nil, nil)

	// Simulate a tick still draining.
	engine.inFlight.Store(true)

	_, err := engine.OnHourTick(context.Background())
	if !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("OnHourTick() error = %v, want ErrTickInProgress", err)
	}
	if len(hst.flowCalls) != 0 {
		t.Error("skipped tick must not touch devices")
	}

	// After the previous tick drains, the next one runs.
	engine.inFlight.Store(false)
	if _, err := engine.OnHourTick(context.Background()); err != nil {
		t.Fatalf("OnHourTick() after drain error = %v", err)
	}
}

func TestEngineEmptyFleet(t *testing.T) {
	registry := NewMockRegistry()
	engine := NewEngine(engineConfig(), registry, NewMockHost(), nil, nil, nil)

	report, err := engine.OnHourTick(context.Background())
	if err != nil {
		t.Fatalf("OnHourTick() error = %v", err)
	}
	if report.Devices != 0 {
		t.Errorf("Devices = %d, want 0", report.Devices)
	}
}
