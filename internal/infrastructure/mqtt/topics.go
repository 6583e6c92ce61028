package mqtt

import "fmt"

// Topic prefixes for the Sumline MQTT namespace.
//
// Inbound event topics (clock ticks, tariff changes) are published by the
// external clock and tariff tooling; core topics carry this service's own
// reconciliation results.
const (
	// TopicPrefix is the base for all Sumline topics.
	TopicPrefix = "sumline"

	// TopicPrefixCore is the base for topics published by this service.
	TopicPrefixCore = "sumline/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "sumline/system"
)

// Topics provides builders for Sumline MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	tick := topics.ClockEveryHour()
//	// Returns: "sumline/clock/everyhour"
type Topics struct{}

// ClockEveryHour returns the inbound hourly tick topic.
//
// The external clock publishes an empty payload here at most once per hour.
//
// Example: sumline/clock/everyhour
func (Topics) ClockEveryHour() string {
	return fmt.Sprintf("%s/clock/everyhour", TopicPrefix)
}

// TariffSet returns the inbound tariff-change topic for a logical driver.
//
// Payload: {"tariff": "0.25", "group": 2}; group is optional.
//
// Example: sumline/tariff/power_sum/set
func (Topics) TariffSet(driverID string) string {
	return fmt.Sprintf("%s/tariff/%s/set", TopicPrefix, driverID)
}

// CoreTickReport returns the topic for hourly reconciliation reports.
//
// Example: sumline/core/reconcile/report
func (Topics) CoreTickReport() string {
	return fmt.Sprintf("%s/reconcile/report", TopicPrefixCore)
}

// CoreDeviceOutcome returns the topic for a device's reconciliation outcome.
//
// Example: sumline/core/device/sum-heatpump/outcome
func (Topics) CoreDeviceOutcome(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/outcome", TopicPrefixCore, deviceID)
}

// CoreTariffApplied returns the topic for tariff application events.
//
// Example: sumline/core/tariff/power_sum/applied
func (Topics) CoreTariffApplied(driverID string) string {
	return fmt.Sprintf("%s/tariff/%s/applied", TopicPrefixCore, driverID)
}

// SystemStatus returns the service status topic (online/offline, LWT).
//
// Example: sumline/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTariffSets returns a pattern matching tariff events for any driver.
//
// Pattern: sumline/tariff/+/set
func (Topics) AllTariffSets() string {
	return fmt.Sprintf("%s/tariff/+/set", TopicPrefix)
}
