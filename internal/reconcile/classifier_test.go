package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sumline/sumline-core/internal/host"
)

func classifierConfig() ClassifierConfig {
	return ClassifierConfig{
		OriginCapabilities: []string{
			"measure_power", "meter_power",
			"measure_water", "meter_water",
			"measure_gas", "meter_gas",
		},
		DailyResetApps: []string{"com.tibber", "it.diederik.solar"},
		OwnDriverURI:   "homey:app:com.sumline",
	}
}

// flowSpec returns the always-appended flow-driven spec from a batch, or
// fails the test if it is not exactly once present.
func flowSpec(t *testing.T, specs []NewDeviceSpec) NewDeviceSpec {
	t.Helper()
	var found []NewDeviceSpec
	for _, s := range specs {
		if s.Settings.MeterViaFlow {
			found = append(found, s)
		}
	}
	if len(found) != 1 {
		t.Fatalf("flow-driven specs = %d, want exactly 1", len(found))
	}
	return found[0]
}

func TestClassifierDiscover(t *testing.T) {
	hst := NewMockHost()
	hst.inventory = []host.RawDevice{
		{ID: "src-power", Name: "Heat Pump", DriverURI: "homey:app:com.vendor", Capabilities: []string{"measure_power", "onoff"}},
		{ID: "src-own", Name: "Old Sum", DriverURI: "homey:app:com.sumline:power_sum", Capabilities: []string{"meter_power"}},
		{ID: "src-lamp", Name: "Lamp", DriverURI: "homey:app:com.lamp", Capabilities: []string{"onoff", "dim"}},
	}
	classifier := NewClassifier(classifierConfig(), hst, nil)

	specs, err := classifier.Discover(context.Background(), testDriverID)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	// One eligible source plus the flow-driven spec; the own-namespace
	// descriptor and the capability-less lamp are excluded.
	if len(specs) != 2 {
		t.Fatalf("specs = %d, want 2", len(specs))
	}

	derived := specs[0]
	if derived.Name != "Heat Pump_Σpower_sum" {
		t.Errorf("Name = %q", derived.Name)
	}
	if !derived.Settings.UseMeasureSource {
		t.Error("power-only source must use measure derivation")
	}
	if derived.Settings.SourceDeviceID != "src-power" {
		t.Errorf("SourceDeviceID = %q, want src-power", derived.Settings.SourceDeviceID)
	}
	if derived.Settings.SourceDailyReset {
		t.Error("vendor app is not on the daily-reset list")
	}
	if !strings.HasPrefix(derived.ID, testDriverID+"_") {
		t.Errorf("ID = %q, want driver-id prefix", derived.ID)
	}

	flow := flowSpec(t, specs)
	if flow.Settings.UseMeasureSource || flow.Settings.SourceDeviceID != "" {
		t.Errorf("flow spec carries source settings: %+v", flow.Settings)
	}
}

func TestClassifierMeterCapableSource(t *testing.T) {
	hst := NewMockHost()
	hst.inventory = []host.RawDevice{
		{ID: "src-1", Name: "Main Meter", DriverURI: "homey:app:com.vendor", Capabilities: []string{"meter_power", "measure_power"}},
	}
	classifier := NewClassifier(classifierConfig(), hst, nil)

	specs, err := classifier.Discover(context.Background(), testDriverID)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if specs[0].Settings.UseMeasureSource {
		t.Error("source with a meter_ capability must not use measure derivation")
	}
}

func TestClassifierDailyResetApps(t *testing.T) {
	tests := []struct {
		name      string
		driverURI string
		want      bool
	}{
		{"tibber", "homey:app:com.tibber:home", true},
		{"solar", "homey:app:it.diederik.solar:panel", true},
		{"other vendor", "homey:app:com.vendor:meter", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hst := NewMockHost()
			hst.inventory = []host.RawDevice{
				{ID: "src-1", Name: "Source", DriverURI: tt.driverURI, Capabilities: []string{"meter_power"}},
			}
			classifier := NewClassifier(classifierConfig(), hst, nil)

			specs, err := classifier.Discover(context.Background(), testDriverID)
			if err != nil {
				t.Fatalf("Discover() error = %v", err)
			}
			if specs[0].Settings.SourceDailyReset != tt.want {
				t.Errorf("SourceDailyReset = %v, want %v", specs[0].Settings.SourceDailyReset, tt.want)
			}
		})
	}
}

func TestClassifierEmptyInventory(t *testing.T) {
	hst := NewMockHost()
	classifier := NewClassifier(classifierConfig(), hst, nil)

	specs, err := classifier.Discover(context.Background(), testDriverID)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	// The flow-driven spec is offered even with nothing to derive from.
	if len(specs) != 1 {
		t.Fatalf("specs = %d, want 1", len(specs))
	}
	flowSpec(t, specs)
}

func TestClassifierInventoryFailure(t *testing.T) {
	hst := NewMockHost()
	hst.inventoryErr = errors.New("timeout after 20s")
	classifier := NewClassifier(classifierConfig(), hst, nil)

	specs, err := classifier.Discover(context.Background(), testDriverID)
	if !errors.Is(err, ErrDiscoveryFailed) {
		t.Fatalf("Discover() error = %v, want ErrDiscoveryFailed", err)
	}
	if specs != nil {
		t.Error("failed discovery must not return partial results")
	}
}

func TestClassifierUniqueIDsWithinBatch(t *testing.T) {
	hst := NewMockHost()
	for i := 0; i < 50; i++ {
		hst.inventory = append(hst.inventory, host.RawDevice{
			ID:           "src-shared", // identical route for every descriptor
			Name:         "Clone",
			DriverURI:    "homey:app:com.vendor",
			Capabilities: []string{"meter_power"},
		})
	}
	classifier := NewClassifier(classifierConfig(), hst, nil)

	specs, err := classifier.Discover(context.Background(), testDriverID)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	seen := make(map[string]bool)
	for _, s := range specs {
		if seen[s.ID] {
			t.Fatalf("duplicate id in batch: %s", s.ID)
		}
		seen[s.ID] = true
	}
}
