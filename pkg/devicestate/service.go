// Package devicestate holds the last known sensor values of one connection.
package devicestate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
)

// Cache is written by the connection's read loop only. Other goroutines read
// copies through Snapshot. Counters are atomic since command senders bump them too.
type Cache struct {
	mu    sync.RWMutex
	state State

	commandsSent      atomic.Uint64
	responsesReceived atomic.Uint64
	opaqueLines       atomic.Uint64
	errors            atomic.Uint64
	checksumFailures  atomic.Uint64
	degradedFrames    atomic.Uint64
}

func New() *Cache {
	return &Cache{}
}

// Apply folds one structured response into the cache. Fields absent from the
// record keep their previous value.
func (c *Cache) Apply(resp *protocol.StructuredResponse, at time.Time) Applied {
	c.responsesReceived.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.state

	if fw, ok := resp.FirmwareVersion(); ok {
		s.FirmwareVersion = fw
		s.FirmwareKnown = true
		s.BinsSupported = protocol.BinsSupported(fw)
	}
	if resp.FwESP32 != "" {
		s.BridgeFirmware = resp.FwESP32
	}
	if st, ok := resp.SensorState(); ok {
		s.SensorState = st
		s.SensorStateKnown = true
	}
	if v, ok := resp.TRH.Temperature(); ok {
		s.Temperature = v
		s.TemperatureKnown = true
	}
	if v, ok := resp.TRH.Humidity(); ok {
		s.Humidity = v
		s.HumidityKnown = true
	}
	if v, ok := resp.PM.Mass(); ok {
		s.Mass = v
		s.MassKnown = true
		if resp.Avg != "" {
			s.Window = resp.Avg
		}
	}
	if v, ok := resp.PM.Number(); ok {
		s.Number = v
		s.NumberKnown = true
	}
	if ts, ok := resp.Timestamp(); ok {
		s.UptimeMs = ts
		s.UptimeKnown = true
	}

	// Classified after the firmware update so a combined record uses its own version
	applied := Applied{
		Integrity: protocol.ClassifyIntegrity(resp, s.FirmwareVersion, s.FirmwareKnown),
	}
	switch applied.Integrity {
	case protocol.IntegrityFailed:
		c.checksumFailures.Add(1)
	case protocol.IntegrityDegraded:
		c.degradedFrames.Add(1)
	}

	if resp.Info == protocol.InfoBins && resp.IsOK() {
		h, source, err := protocol.HistogramFromResponse(resp)
		if err != nil {
			applied.BinsErr = err
		} else {
			s.Bins = h
			s.BinsKnown = true
			s.BinsSource = source.String()
			s.BinsIntegrity = applied.Integrity.String()
		}
	}

	s.LastUpdate = at
	return applied
}

func (c *Cache) ApplyOpaque() {
	c.opaqueLines.Add(1)
}

// Reset returns the cache to the unknown state of a fresh connection.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.state = State{}
	c.mu.Unlock()

	c.commandsSent.Store(0)
	c.responsesReceived.Store(0)
	c.opaqueLines.Store(0)
	c.errors.Store(0)
	c.checksumFailures.Store(0)
	c.degradedFrames.Store(0)
}

func (c *Cache) Snapshot() State {
	c.mu.RLock()
	s := c.state
	c.mu.RUnlock()

	s.Stats = c.Stats()
	return s
}

func (c *Cache) Stats() Stats {
	return Stats{
		CommandsSent:      c.commandsSent.Load(),
		ResponsesReceived: c.responsesReceived.Load(),
		OpaqueLines:       c.opaqueLines.Load(),
		Errors:            c.errors.Load(),
		ChecksumFailures:  c.checksumFailures.Load(),
		DegradedFrames:    c.degradedFrames.Load(),
	}
}

// Firmware is the cached sensor firmware and whether it was ever reported.
func (c *Cache) Firmware() (uint16, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.FirmwareVersion, c.state.FirmwareKnown
}

func (c *Cache) CountCommandSent() { c.commandsSent.Add(1) }
func (c *Cache) CountError()       { c.errors.Add(1) }
