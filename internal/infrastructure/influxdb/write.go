package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceOutcome records the reconciliation outcome for a single device.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: The managed device identifier
//   - outcome: The decision tree result ("flow_driven", "source_missing", ...)
//   - recovered: Whether a restart was scheduled for this device
//
// Example:
//
//	client.WriteDeviceOutcome("sum-heatpump", "stalled", true)
func (c *Client) WriteDeviceOutcome(deviceID string, outcome string, recovered bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"reconcile_outcome",
		map[string]string{
			"device_id": deviceID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"recovered": recovered,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTickSummary records aggregate counts for one hourly reconciliation pass.
//
// Parameters:
//   - driverID: The logical driver whose fleet was reconciled
//   - outcomes: Count of devices per outcome name
//   - durationMS: Wall-clock duration of the pass in milliseconds
func (c *Client) WriteTickSummary(driverID string, outcomes map[string]int, durationMS int64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"duration_ms": durationMS,
	}
	total := 0
	for outcome, count := range outcomes {
		fields[outcome] = count
		total += count
	}
	fields["total"] = total

	point := write.NewPoint(
		"reconcile_tick",
		map[string]string{
			"driver_id": driverID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTariffChange records an applied tariff broadcast.
//
// Parameters:
//   - driverID: The logical driver the tariff event was scoped to
//   - group: The tariff update group that received the broadcast
//   - tariff: The new tariff value
//   - devices: Number of devices updated
func (c *Client) WriteTariffChange(driverID string, group int, tariff float64, devices int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"tariff_change",
		map[string]string{
			"driver_id": driverID,
		},
		map[string]interface{}{
			"group":   group,
			"tariff":  tariff,
			"devices": devices,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
