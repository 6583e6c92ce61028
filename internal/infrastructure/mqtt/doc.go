// Package mqtt provides MQTT client connectivity for Sumline Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the event bus between Sumline Core and its surroundings. The
// external clock publishes hourly ticks, tariff tooling publishes tariff
// changes scoped to a logical driver, and Core publishes reconciliation
// results and its own online/offline status:
//
//	clock/tariff tooling → MQTT Broker → Sumline Core → reconcile reports
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.ClockEveryHour(), 1,
//	    func(topic string, payload []byte) error {
//	        engine.OnHourTick(ctx)
//	        return nil
//	    })
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
package mqtt
