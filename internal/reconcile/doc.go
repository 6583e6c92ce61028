// Package reconcile implements the coordination core of Sumline Core: the
// hourly device-health reconciliation pass, the tariff broadcast protocol,
// and the source-device discovery classifier.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                        reconcile                                │
//	│                                                                 │
//	│  ┌──────────────┐   ┌────────────────┐   ┌──────────────────┐   │
//	│  │    Engine    │   │   Dispatcher   │   │    Classifier    │   │
//	│  │ (engine.go)  │   │ (dispatcher.go)│   │ (classifier.go)  │   │
//	│  │              │   │                │   │                  │   │
//	│  │ • hour tick  │   │ • tariff parse │   │ • eligibility    │   │
//	│  │ • 5-step tree│   │ • grace delay  │   │ • dedup          │   │
//	│  │ • recovery   │   │ • group fanout │   │ • spec synthesis │   │
//	│  └──────┬───────┘   └───────┬────────┘   └────────┬─────────┘   │
//	│         └───────────┬───────┘                     │             │
//	│                ┌────┴─────┐                       │             │
//	│                │ Listener │            invoked on demand        │
//	│                │(MQTT in) │            (pairing / HTTP API)     │
//	│                └──────────┘                                     │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Decision tree
//
// Each hourly tick runs a deterministic per-device decision tree, first
// match wins:
//
//  1. meter_via_flow set: delegate to the flow-update routine.
//  2. source reference dead (gone, capability-less, or no availability
//     flag): mark unavailable, schedule a restart after a long delay.
//  3. use_measure_source set: delegate to the measure-update routine.
//  4. no live poll timer and no listeners: log an error and schedule a
//     near-immediate restart.
//  5. otherwise force a poll; if the source then reports unavailable,
//     leave availability untouched (degraded), else mark available.
//
// Devices are processed concurrently with per-device failure isolation;
// one device's fault never aborts the others. A tick arriving while the
// previous one is still draining is skipped with a warning.
//
// # Cross-component ordering
//
// The dispatcher's fixed grace delay is the sole ordering mechanism
// between a tariff event and a concurrently in-flight hourly pass. It is
// best-effort sequencing, not a transactional guarantee.
//
// All collaborators are injected as narrow interfaces; the host gateway
// owns timers, listeners, and meter math, this package only decides which
// call to make.
package reconcile
