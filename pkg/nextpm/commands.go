package nextpm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/correlator"
	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// SendCommand writes one command line without waiting for a reply.
func (c *Client) SendCommand(command string) error {
	t := c.transport()
	if t == nil {
		c.logEntry(logrus.ErrorLevel, "Not connected", logrus.Fields{"command": command})
		return fmt.Errorf("%w: %s", ErrNotConnected, command)
	}

	c.logEntry(logrus.InfoLevel, "TX", logrus.Fields{"command": command})
	c.cache.CountCommandSent()

	if err := t.Write([]byte(command + "\n")); err != nil {
		c.cache.CountError()
		c.logEntry(logrus.ErrorLevel, "Send command failed", logrus.Fields{"command": command, "error": err})
		c.bus.EmitError(eventbus.ErrorEvent{Category: eventbus.CategorySend, Err: err, At: time.Now()})
		return err
	}
	return nil
}

// SendAndWait sends command and returns the next structured response carrying an info tag.
// Only one awaited command runs at a time, later callers queue behind it.
func (c *Client) SendAndWait(ctx context.Context, command string, timeout time.Duration) (*protocol.StructuredResponse, error) {
	return c.await(ctx, command, timeout, logrus.ErrorLevel)
}

// await logs a timeout at failLevel, BINS uses a lower level since it may be unsupported.
func (c *Client) await(ctx context.Context, command string, timeout time.Duration, failLevel logrus.Level) (*protocol.StructuredResponse, error) {
	c.commandMutex.Lock()
	defer c.commandMutex.Unlock()

	if !c.IsConnected() {
		c.logEntry(logrus.ErrorLevel, "Not connected", logrus.Fields{"command": command})
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, command)
	}

	p := c.pending.Register(command, timeout)
	if err := c.SendCommand(command); err != nil {
		c.pending.Cancel(p, err)
		return nil, err
	}

	resp, err := c.pending.Wait(ctx, p)
	switch {
	case err == nil:
		c.logEntry(logrus.DebugLevel, "Command resolved", logrus.Fields{
			"command": command,
			"id":      p.ID.String(),
			"info":    resp.Info,
			"elapsed": time.Since(p.Registered).String(),
		})
		return resp, nil
	case errors.Is(err, correlator.ErrTimeout):
		c.cache.CountError()
		c.logEntry(failLevel, "Timeout waiting for response", logrus.Fields{"command": command, "id": p.ID.String(), "timeout": timeout.String()})
	case errors.Is(err, correlator.ErrCancelled):
		c.logEntry(logrus.DebugLevel, "Command wait cancelled", logrus.Fields{"command": command, "id": p.ID.String()})
	}
	return nil, err
}

// QuerySensorInfo sends PING, FW and STATE without waiting. The replies update
// the device state through the read loop.
func (c *Client) QuerySensorInfo(ctx context.Context) error {
	c.commandMutex.Lock()
	defer c.commandMutex.Unlock()

	c.logEntry(logrus.InfoLevel, "Querying sensor info...", nil)
	for _, command := range []string{"PING", "FW", "STATE"} {
		if err := c.SendCommand(command); err != nil {
			return err
		}
		// Gap after the last command too, so its reply cannot resolve the next awaited command
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.commands.QueryGap()):
		}
	}
	return nil
}

// expect checks a reply belongs to the command family that was sent.
func (c *Client) expect(resp *protocol.StructuredResponse, info string) bool {
	if resp.Info == info {
		return true
	}
	c.logEntry(logrus.WarnLevel, "Unexpected reply", logrus.Fields{"want": info, "got": resp.Info})
	return false
}

// ReadEnvironment reads sensor temperature and humidity. A reply without data
// gives a nil reading and no error.
func (c *Client) ReadEnvironment(ctx context.Context) (*Environment, error) {
	resp, err := c.SendAndWait(ctx, "TRH", c.commands.TRHTimeout())
	if err != nil {
		return nil, err
	}
	if !c.expect(resp, protocol.InfoTRH) {
		return nil, nil
	}

	temp, tempOK := resp.TRH.Temperature()
	rh, rhOK := resp.TRH.Humidity()
	if !resp.IsOK() || (!tempOK && !rhOK) {
		c.logEntry(logrus.WarnLevel, "TRH reply without data", logrus.Fields{"ok": resp.IsOK()})
		return nil, nil
	}

	env := &Environment{
		Temperature:      temp,
		TemperatureKnown: tempOK,
		Humidity:         rh,
		HumidityKnown:    rhOK,
	}
	if st, ok := resp.SensorState(); ok {
		env.SensorState = &st
	}
	if chk, ok := resp.ChecksumOK(); ok {
		env.ChecksumOK = &chk
	}
	return env, nil
}

func (c *Client) ReadConcentrations(ctx context.Context, window Window) (*ConcentrationReading, error) {
	resp, err := c.SendAndWait(ctx, window.command("PM"), c.commands.PMTimeout())
	if err != nil {
		return nil, err
	}
	if !c.expect(resp, protocol.InfoPM) {
		return nil, nil
	}

	mass, ok := resp.PM.Mass()
	if !resp.IsOK() || !ok {
		c.logEntry(logrus.WarnLevel, "PM reply without data", logrus.Fields{"ok": resp.IsOK()})
		return nil, nil
	}

	fw, known := c.cache.Firmware()
	reading := &ConcentrationReading{
		Mass:      mass,
		Window:    resp.Avg,
		Integrity: protocol.ClassifyIntegrity(resp, fw, known),
	}
	if reading.Window == "" {
		reading.Window = string(window)
	}
	reading.Number, reading.NumberKnown = resp.PM.Number()
	if st, ok := resp.SensorState(); ok {
		reading.SensorState = &st
	}
	return reading, nil
}

// ReadBins reads the particle size histogram. Firmware older than 1047 has no
// BINS command, that case is logged and returns no reading without sending anything.
// A failed checksum still returns the histogram, tagged with its integrity.
func (c *Client) ReadBins(ctx context.Context, window Window) (*BinsReading, error) {
	if fw, known := c.cache.Firmware(); known && !protocol.BinsSupported(fw) {
		c.logEntry(logrus.WarnLevel, "BINS not supported by sensor firmware", logrus.Fields{"firmware": fw})
		return nil, nil
	}

	resp, err := c.await(ctx, window.command("BINS"), c.commands.BinsTimeout(), logrus.WarnLevel)
	if err != nil {
		return nil, err
	}
	if !c.expect(resp, protocol.InfoBins) {
		return nil, nil
	}
	if !resp.IsOK() {
		c.logEntry(logrus.WarnLevel, "BINS failed (may not be supported)", nil)
		return nil, nil
	}

	fw, known := c.cache.Firmware()
	// Checksum failures are already counted and logged by the read loop
	integrity := protocol.ClassifyIntegrity(resp, fw, known)
	h, source, err := protocol.HistogramFromResponse(resp)
	if err != nil {
		return nil, nil
	}

	reading := &BinsReading{
		Bins:      h,
		Source:    source.String(),
		Raw:       resp.Raw,
		Window:    resp.Avg,
		Integrity: integrity,
	}
	if reading.Window == "" {
		reading.Window = string(window)
	}
	return reading, nil
}

// ReadSnapshot asks the bridge for every reading at once. It is the slowest command.
func (c *Client) ReadSnapshot(ctx context.Context, window Window) (*Snapshot, error) {
	resp, err := c.SendAndWait(ctx, window.command("SNAPSHOT"), c.commands.SnapshotTimeout())
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		c.logEntry(logrus.WarnLevel, "SNAPSHOT failed", logrus.Fields{"info": resp.Info})
		return nil, nil
	}

	snap := &Snapshot{
		Window:   resp.Avg,
		Parts:    resp.Parts,
		FwRaw:    resp.FwRaw,
		StateRaw: resp.StateRaw,
		TRHRaw:   resp.TRHRaw,
		PMRaw:    resp.PMRaw,
		BinsRaw:  resp.BinsRaw,
	}
	if snap.Window == "" {
		snap.Window = string(window)
	}
	return snap, nil
}
