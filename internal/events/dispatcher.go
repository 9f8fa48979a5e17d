// Package events fans committed vault events out to NATS and the
// websocket hub without blocking the vault.
package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"vault-backend/internal/clients"
	"vault-backend/internal/config"
	"vault-backend/internal/vault"
)

const defaultBuffer = 1024

// Sink receives vault events after commit.
type Sink interface {
	Name() string
	Publish(ev vault.Event) error
}

// Dispatcher queues events from the vault observer and delivers them to
// every sink on its own goroutine. Events are dropped, with a warning,
// when the queue is full.
type Dispatcher struct {
	log   logrus.FieldLogger
	queue chan vault.Event

	mu    sync.RWMutex
	sinks []Sink

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given queue size.
func NewDispatcher(logger logrus.FieldLogger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		log:   logger.WithField("component", "events"),
		queue: make(chan vault.Event, buffer),
		sinks: sinks,
	}
}

// AddSink registers another sink. Safe while running.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Observe is a vault.Observer.
func (d *Dispatcher) Observe(cs *vault.Changeset) {
	for _, ev := range cs.Events {
		select {
		case d.queue <- ev:
		default:
			d.log.WithFields(logrus.Fields{"event": ev.Name, "op_id": ev.OpID}).Warn("event queue full, dropping event")
		}
	}
}

// Start delivers events until ctx is cancelled, then drains what is
// already queued.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case ev := <-d.queue:
				d.deliver(ev)
			case <-ctx.Done():
				for {
					select {
					case ev := <-d.queue:
						d.deliver(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the delivery goroutine has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ev vault.Event) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Publish(ev); err != nil {
			d.log.WithFields(logrus.Fields{
				"sink":  s.Name(),
				"event": ev.Name,
				"op_id": ev.OpID,
			}).WithError(err).Warn("event delivery failed")
		}
	}
}

// InitNATS connects the NATS sink when configured. A nil client and nil
// error mean NATS is disabled.
func InitNATS(cfg config.NATSConfig, logger logrus.FieldLogger) (*clients.NATSClient, error) {
	if cfg.URL == "" {
		logger.Info("NATS not configured, event publishing disabled")
		return nil, nil
	}
	return clients.NewNATSClient(cfg)
}
