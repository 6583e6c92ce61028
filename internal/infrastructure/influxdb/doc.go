// Package influxdb provides time-series history for Sumline Core.
//
// Every hourly reconciliation pass and tariff broadcast leaves a trace
// here: per-device outcomes, per-tick summary counts, and applied tariff
// values. The history answers "what did the reconciliator decide, and
// when" without digging through logs.
//
// Writes are batched and non-blocking; a failed write never affects the
// reconciliation pass that produced it. InfluxDB is optional; when
// disabled in config the service runs without history.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceOutcome("sum-heatpump", "normal", false)
package influxdb
