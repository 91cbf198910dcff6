// Package relay forwards structured sensor records to Redis and MQTT.
package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/sirupsen/logrus"
)

const (
	queueSize      = 64
	publishTimeout = 5 * time.Second
)

// Relay queues readings from the bus and publishes them from a single worker.
// The bus handler never blocks: when the queue is full the reading is dropped.
type Relay struct {
	sinks []Sink
	log   *logrus.Logger
	port  string

	queue   chan Reading
	dropped atomic.Uint64
}

func New(log *logrus.Logger, port string, sinks ...Sink) *Relay {
	return &Relay{
		sinks: sinks,
		log:   log,
		port:  port,
		queue: make(chan Reading, queueSize),
	}
}

func (r *Relay) Attach(bus *eventbus.Bus) {
	bus.OnData(func(ev eventbus.DataEvent) {
		resp := ev.Frame.Response
		if resp == nil || !resp.HasInfo() {
			return
		}
		r.Enqueue(Reading{Port: r.port, Info: resp.Info, ReceivedAt: ev.ReceivedAt, Response: resp})
	})
}

func (r *Relay) Enqueue(reading Reading) bool {
	select {
	case r.queue <- reading:
		return true
	default:
		n := r.dropped.Add(1)
		r.log.WithField("dropped", n).Warn("Relay queue full, dropping reading")
		return false
	}
}

func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Run publishes until ctx is done, then closes every sink.
func (r *Relay) Run(ctx context.Context) error {
	defer r.closeSinks()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reading := <-r.queue:
			r.publish(ctx, reading)
		}
	}
}

func (r *Relay) publish(ctx context.Context, reading Reading) {
	payload := reading.ToJsonBytes()
	if payload == nil {
		return
	}
	for _, sink := range r.sinks {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := sink.Publish(pubCtx, payload)
		cancel()
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"sink": sink.Name(),
				"info": reading.Info,
			}).Warnf("Relay publish failed: %v", err)
		}
	}
}

func (r *Relay) closeSinks() {
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			r.log.Debugf("Closing %s sink: %v", sink.Name(), err)
		}
	}
}
