package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/sumline/sumline-core/internal/host"
	"github.com/sumline/sumline-core/internal/meter"
)

// settingsLevel is the settings schema version stamped on new devices.
const settingsLevel = "1"

// idTokenLength is the length of the random suffix in generated ids.
const idTokenLength = 8

// Inventory is the interface for fetching the host's device inventory.
type Inventory interface {
	FetchInventory(ctx context.Context) ([]host.RawDevice, error)
}

// ClassifierConfig collects the discovery rules. All three fields are
// configuration data, not logic.
type ClassifierConfig struct {
	// OriginCapabilities are the capability names accepted as valid meter
	// sources. A descriptor qualifies when its capability set intersects
	// this list.
	OriginCapabilities []string

	// DailyResetApps lists host app identifiers whose cumulative counters
	// reset at midnight; devices derived from them get compensation
	// enabled.
	DailyResetApps []string

	// OwnDriverURI is this system's own driver namespace. Descriptors in
	// it are never offered as sources: no summing a summed meter.
	OwnDriverURI string
}

// Classifier turns the host's raw device inventory into proposals for new
// derived meter devices.
//
// Discovery is read-only: it returns specs, the caller registers them. A
// failed inventory fetch fails the whole call; partial results are never
// returned.
type Classifier struct {
	cfg       ClassifierConfig
	inventory Inventory
	logger    Logger
}

// NewClassifier creates a discovery classifier.
func NewClassifier(cfg ClassifierConfig, inventory Inventory, logger Logger) *Classifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Classifier{
		cfg:       cfg,
		inventory: inventory,
		logger:    logger,
	}
}

// Discover fetches the host inventory and produces one derived-meter spec
// per eligible source device, plus exactly one flow-driven spec whose
// updates arrive via external automation calls instead of any source.
//
// A descriptor is eligible when its capabilities intersect the configured
// origin capabilities and it does not already belong to this system's own
// driver namespace. Sources exposing only instantaneous power (no meter_*
// capability) get use_measure_source; sources from daily-reset apps get
// midnight compensation.
//
// Returns ErrDiscoveryFailed if the inventory fetch fails or times out.
func (c *Classifier) Discover(ctx context.Context, driverID string) ([]NewDeviceSpec, error) {
	inventory, err := c.inventory.FetchInventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	usedIDs := make(map[string]bool)
	var specs []NewDeviceSpec

	for _, src := range inventory {
		if !src.HasAnyCapability(c.cfg.OriginCapabilities) {
			continue
		}
		if c.ownDevice(src.DriverURI) {
			c.logger.Debug("skipping own derived device", "source_id", src.ID)
			continue
		}

		spec := NewDeviceSpec{
			ID:   c.uniqueID(usedIDs, driverID, src.ID),
			Name: fmt.Sprintf("%s_Σ%s", src.Name, driverID),
			Settings: meter.Settings{
				UseMeasureSource:  !hasMeterCapability(src),
				TariffUpdateGroup: 1,
				SourceDailyReset:  c.dailyResetSource(src.DriverURI),
				SourceDeviceID:    src.ID,
				SourceDeviceName:  src.Name,
				Level:             settingsLevel,
			},
		}
		specs = append(specs, spec)
	}

	// Always offer exactly one flow-driven virtual meter, independent of
	// inventory contents.
	specs = append(specs, NewDeviceSpec{
		ID:   c.uniqueID(usedIDs, driverID, "flow"),
		Name: fmt.Sprintf("Flow_Σ%s", driverID),
		Settings: meter.Settings{
			MeterViaFlow:      true,
			TariffUpdateGroup: 1,
			Level:             settingsLevel,
		},
	})

	c.logger.Info("discovery complete",
		"driver_id", driverID,
		"inventory", len(inventory),
		"proposed", len(specs),
	)

	return specs, nil
}

// uniqueID composes a device id from the driver id, the source route, and
// a short random token, retrying until the id is unique within this batch.
func (c *Classifier) uniqueID(used map[string]bool, driverID, route string) string {
	for {
		id := fmt.Sprintf("%s_%s_%s", driverID, route, meter.NewToken(idTokenLength))
		if !used[id] {
			used[id] = true
			return id
		}
	}
}

// ownDevice reports whether a driver URI belongs to this system's own
// namespace.
func (c *Classifier) ownDevice(driverURI string) bool {
	return c.cfg.OwnDriverURI != "" && strings.HasPrefix(driverURI, c.cfg.OwnDriverURI)
}

// dailyResetSource reports whether a driver URI belongs to an app known to
// reset its cumulative counters daily.
func (c *Classifier) dailyResetSource(driverURI string) bool {
	for _, app := range c.cfg.DailyResetApps {
		if strings.Contains(driverURI, app) {
			return true
		}
	}
	return false
}

// hasMeterCapability reports whether a source exposes any cumulative
// meter_* capability. Sources without one only report instantaneous power
// and need measure-based derivation.
func hasMeterCapability(d host.RawDevice) bool {
	for _, capability := range d.Capabilities {
		if strings.HasPrefix(capability, "meter_") {
			return true
		}
	}
	return false
}
