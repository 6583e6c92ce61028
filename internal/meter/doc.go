// Package meter provides the managed-device registry for Sumline Core.
//
// A managed device is a derived "summed" meter that accumulates readings
// from a source device on the home-automation host. The registry is the
// authoritative local catalogue of these devices: the reconciliator walks
// it every hour, the tariff dispatcher partitions it into update groups,
// and the discovery classifier appends newly proposed devices to it.
//
// # Key Types
//
//   - Device: a managed summed meter, including its host-visible settings
//   - Settings: the recognised settings keys (update mode, interval, group,
//     source reference, daily-reset compensation)
//   - UpdateMode: how the meter is kept current (flow, measure, poll)
//   - Availability: the tri-state health flag surfaced to the host
//
// # Usage
//
//	repo := meter.NewSQLiteRepository(db)
//	registry := meter.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	devices, _ := registry.ListByGroup(ctx, "power_sum", 1)
//	registry.SetTariff(ctx, id, 0.31)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All operations are protected by
// a read-write mutex. The Repository implementation must also be thread-safe.
package meter
