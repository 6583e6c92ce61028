package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sumline/sumline-core/internal/infrastructure/mqtt"
)

// MQTTClient is the interface for the inbound event subscriptions.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Listener binds the inbound events to their handlers: the hourly clock
// tick drives the engine, the driver-scoped tariff event drives the
// dispatcher.
//
// Subscription lifecycle is explicit: Start subscribes exactly once, Close
// unsubscribes. Restarting requires a new Start after Close.
type Listener struct {
	client   MQTTClient
	engine   *Engine
	disp     *Dispatcher
	driverID string
	logger   Logger
	topics   mqtt.Topics

	mu      sync.Mutex
	started bool
	baseCtx context.Context
}

// NewListener creates an event listener for one logical driver.
func NewListener(client MQTTClient, engine *Engine, disp *Dispatcher, driverID string, logger Logger) *Listener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Listener{
		client:   client,
		engine:   engine,
		disp:     disp,
		driverID: driverID,
		logger:   logger,
	}
}

// Start subscribes to the hour-tick and tariff topics.
// The given context is the parent for all handler invocations; cancelling
// it aborts in-flight work but does not unsubscribe.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return nil
	}
	l.baseCtx = ctx

	if err := l.client.Subscribe(l.topics.ClockEveryHour(), 1, l.handleHourTick); err != nil {
		return fmt.Errorf("subscribing to hour tick: %w", err)
	}

	tariffTopic := l.topics.TariffSet(l.driverID)
	if err := l.client.Subscribe(tariffTopic, 1, l.handleTariff); err != nil {
		// Roll back the first subscription so Close/Start stay paired.
		if unsubErr := l.client.Unsubscribe(l.topics.ClockEveryHour()); unsubErr != nil {
			l.logger.Error("rollback unsubscribe failed", "error", unsubErr)
		}
		return fmt.Errorf("subscribing to tariff events: %w", err)
	}

	l.started = true
	l.logger.Info("event listener started",
		"driver_id", l.driverID,
		"topics", []string{l.topics.ClockEveryHour(), tariffTopic},
	)
	return nil
}

// Close unsubscribes from both topics.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}
	l.started = false

	var errs []error
	if err := l.client.Unsubscribe(l.topics.ClockEveryHour()); err != nil {
		errs = append(errs, err)
	}
	if err := l.client.Unsubscribe(l.topics.TariffSet(l.driverID)); err != nil {
		errs = append(errs, err)
	}

	l.logger.Info("event listener stopped", "driver_id", l.driverID)
	return errors.Join(errs...)
}

// handleHourTick runs one reconciliation pass. The tick carries no
// payload. A skipped overlapping tick is not an error at this boundary.
func (l *Listener) handleHourTick(_ string, _ []byte) error {
	_, err := l.engine.OnHourTick(l.baseCtx)
	if errors.Is(err, ErrTickInProgress) {
		return nil
	}
	return err
}

// handleTariff dispatches one tariff-change event. An unparseable tariff
// drops the event; it is already logged by the dispatcher.
func (l *Listener) handleTariff(_ string, payload []byte) error {
	_, err := l.disp.OnTariffChanged(l.baseCtx, payload)
	if errors.Is(err, ErrInvalidTariff) {
		return nil
	}
	return err
}
