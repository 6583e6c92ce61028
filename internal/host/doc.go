// Package host provides the client for the home-automation host's local
// REST API.
//
// The host owns the physical source devices and executes all device-level
// operations. This package is deliberately thin: it exposes exactly the
// calls the reconciliator, tariff dispatcher, and discovery classifier
// need, and nothing else.
//
//   - FetchInventory enumerates every device (used by discovery, bounded
//     by its own longer timeout)
//   - SourceStatus / RuntimeStatus answer the reconciliator's health
//     questions about a source or managed device
//   - PollMeter, RestartDevice, SetAvailable, SetUnavailable drive the
//     reconciliator's recovery actions
//   - SetSettings and SetCapability carry tariff broadcasts to devices
//
// The client is stateless apart from its connection settings; every call
// reflects live host state. Consumers define their own narrow interfaces
// over the subset of methods they use.
package host
