package host

// RawDevice is a device descriptor as reported by the host inventory.
// Only the fields the classifier and reconciliator need are decoded.
// Available is a pointer so a descriptor that omits the flag stays
// distinguishable from one that reports false.
type RawDevice struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	DriverURI    string   `json:"driverUri"`
	Capabilities []string `json:"capabilities"`
	Available    *bool    `json:"available"`
}

// HasCapability reports whether the device exposes the named capability.
func (d RawDevice) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// HasAnyCapability reports whether the device exposes at least one of the
// named capabilities.
func (d RawDevice) HasAnyCapability(names []string) bool {
	for _, n := range names {
		if d.HasCapability(n) {
			return true
		}
	}
	return false
}

// SourceStatus describes the state of a source device as seen on the host.
// Present and HasCapabilities distinguish a vanished source from one that
// merely lost its metering capabilities. Available is nil when the host
// did not report an availability flag.
type SourceStatus struct {
	Present         bool
	HasCapabilities bool
	Available       *bool
}

// RuntimeStatus describes the live update machinery of a managed device
// as reported by the host.
type RuntimeStatus struct {
	// PollActive reports whether a poll timer is currently running.
	PollActive bool `json:"poll_active"`

	// PollIntervalSeconds is the interval of the running poll timer.
	// Zero when no timer is active.
	PollIntervalSeconds int `json:"poll_interval_seconds"`

	// ListenerCount is the number of registered capability listeners.
	ListenerCount int `json:"listener_count"`
}

// Healthy reports whether the update machinery is keeping the device
// current: a poll timer running at the configured interval, or at least
// one live capability listener. Either mechanism on its own is enough.
func (s RuntimeStatus) Healthy(intervalSeconds int) bool {
	if intervalSeconds > 0 && s.PollActive && s.PollIntervalSeconds == intervalSeconds {
		return true
	}
	return s.ListenerCount > 0
}
