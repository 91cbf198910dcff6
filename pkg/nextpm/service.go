// Package nextpm drives a NextPM sensor behind the ESP32 serial bridge: one read loop
// per connection, command/response correlation and the high level read commands.
package nextpm

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/config"
	"github.com/NotCoffee418/nextpm_monitor/pkg/correlator"
	"github.com/NotCoffee418/nextpm_monitor/pkg/devicestate"
	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/framer"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/NotCoffee418/nextpm_monitor/pkg/transport"
	"github.com/sirupsen/logrus"
)

type Client struct {
	serial   transport.SerialConfig
	commands config.CommandConfig
	open     transport.Opener
	log      *logrus.Logger
	bus      *eventbus.Bus
	cache    *devicestate.Cache
	pending  *correlator.Correlator

	mu   sync.Mutex
	conn *connection

	// Held for the whole send/wait transaction of an awaited command
	commandMutex sync.Mutex
}

type connection struct {
	t           transport.Transport
	connectedAt time.Time
	ready       chan struct{}
	done        chan struct{}
	// Stops background work bound to this connection
	ctx    context.Context
	cancel context.CancelFunc

	// Set while the read loop runs bus handlers for a line
	stateMu     sync.Mutex
	dispatching bool
	// Disconnect ran inside a handler, the read loop finishes the teardown
	loopTeardown bool
}

func (conn *connection) setDispatching(v bool) {
	conn.stateMu.Lock()
	conn.dispatching = v
	conn.stateMu.Unlock()
}

// handOffTeardown reports whether the read loop is inside a handler and, if so,
// leaves the cache reset and disconnect event to it.
func (conn *connection) handOffTeardown() bool {
	conn.stateMu.Lock()
	defer conn.stateMu.Unlock()
	if conn.dispatching {
		conn.loopTeardown = true
	}
	return conn.dispatching
}

func (conn *connection) teardownPending() bool {
	conn.stateMu.Lock()
	defer conn.stateMu.Unlock()
	return conn.loopTeardown
}

type Option func(*Client)

// WithOpener replaces the serial port opener, tests use it to plug in a pipe.
func WithOpener(open transport.Opener) Option {
	return func(c *Client) { c.open = open }
}

func WithBus(bus *eventbus.Bus) Option {
	return func(c *Client) { c.bus = bus }
}

func New(cfg *config.NextPMConfig, log *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		serial: transport.SerialConfig{
			Device:     cfg.Serial.Device,
			BaudRate:   cfg.Serial.Baudrate,
			AutoDetect: cfg.Serial.AutoDetect,
		},
		commands: cfg.Commands,
		open:     transport.OpenSerial,
		log:      log,
		bus:      eventbus.New(),
		cache:    devicestate.New(),
		pending:  correlator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Bus() *eventbus.Bus {
	return c.bus
}

// Connect opens the transport and starts the read loop. When query_on_connect is set
// PING, FW and STATE are sent in the background after query_delay_ms.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return ErrAlreadyConnected
	}
	c.logEntry(logrus.InfoLevel, "Requesting serial port...", logrus.Fields{"device": c.serial.Device})

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	t, err := c.open(c.serial)
	if err != nil {
		c.mu.Unlock()
		c.logEntry(logrus.ErrorLevel, "Connection failed", logrus.Fields{"error": err})
		c.bus.EmitError(eventbus.ErrorEvent{Category: eventbus.CategoryConnection, Err: err, At: time.Now()})
		return err
	}

	c.cache.Reset()
	connCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		t:           t,
		connectedAt: time.Now(),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         connCtx,
		cancel:      cancel,
	}
	c.conn = conn
	go c.readLoop(conn)
	c.mu.Unlock()

	c.logEntry(logrus.InfoLevel, "Connected successfully", logrus.Fields{"port": t.Name()})
	c.bus.EmitConnect(eventbus.ConnectEvent{Port: t.Name(), At: conn.connectedAt})
	// Data events only start flowing after the connect event
	close(conn.ready)

	if c.commands.QueryOnConnect {
		go func() {
			select {
			case <-connCtx.Done():
				return
			case <-ctx.Done():
				return
			case <-time.After(c.commands.QueryDelay()):
			}
			if err := c.QuerySensorInfo(connCtx); err != nil && !errors.Is(err, context.Canceled) {
				c.logEntry(logrus.ErrorLevel, "Failed to query sensor info", logrus.Fields{"error": err})
			}
		}()
	}
	return nil
}

// Disconnect closes the transport, rejects any pending command with ErrNotConnected
// and waits for the read loop to exit before clearing the device state.
// Called from a bus handler it returns at once and the read loop completes the teardown.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	conn.cancel()
	closeErr := conn.t.Close()
	c.pending.CancelAll(correlator.ErrDisconnected)

	if closeErr != nil && errors.Is(closeErr, transport.ErrAlreadyClosed) {
		closeErr = nil
	}
	if closeErr != nil {
		c.logEntry(logrus.ErrorLevel, "Disconnection error", logrus.Fields{"error": closeErr})
		c.bus.EmitError(eventbus.ErrorEvent{Category: eventbus.CategoryDisconnection, Err: closeErr, At: time.Now()})
	}

	if conn.handOffTeardown() {
		return closeErr
	}
	<-conn.done
	c.finishDisconnect(conn)
	return closeErr
}

// finishDisconnect clears the cache unless a new connection already took over,
// then announces the disconnect.
func (c *Client) finishDisconnect(conn *connection) {
	c.mu.Lock()
	if c.conn == nil {
		c.cache.Reset()
	}
	c.mu.Unlock()

	c.logEntry(logrus.InfoLevel, "Disconnected", nil)
	c.bus.EmitDisconnect(eventbus.DisconnectEvent{Port: conn.t.Name(), At: time.Now()})
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Status() Status {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	status := Status{Device: c.cache.Snapshot()}
	if conn != nil {
		at := conn.connectedAt
		status.Connected = true
		status.Port = conn.t.Name()
		status.ConnectedAt = &at
	}
	return status
}

func (c *Client) transport() transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.t
}

// readLoop is the only goroutine that frames, decodes and applies inbound data.
func (c *Client) readLoop(conn *connection) {
	defer close(conn.done)
	<-conn.ready

	fr := framer.New()
	var overflows uint64
	for {
		chunk, err := conn.t.ReadChunk()
		if err != nil {
			c.readFailed(conn, err)
			return
		}
		lines := fr.Push(chunk)
		if n := fr.Overflows(); n != overflows {
			overflows = n
			c.cache.CountError()
			c.logEntry(logrus.WarnLevel, "Discarded oversized line", logrus.Fields{"max_bytes": framer.MaxLineLength})
		}
		for _, line := range lines {
			// A handler may have disconnected, drop the rest of the chunk
			if conn.ctx.Err() != nil {
				break
			}
			conn.setDispatching(true)
			c.handleLine(line)
			conn.setDispatching(false)
		}
	}
}

// readFailed tears the connection down unless Disconnect already owns it.
func (c *Client) readFailed(conn *connection, err error) {
	c.mu.Lock()
	forced := c.conn == conn
	if forced {
		c.conn = nil
	}
	c.mu.Unlock()
	if !forced {
		if conn.teardownPending() {
			c.finishDisconnect(conn)
		}
		return
	}

	c.cache.CountError()
	if errors.Is(err, io.EOF) {
		c.logEntry(logrus.WarnLevel, "Reader closed", logrus.Fields{"port": conn.t.Name()})
	} else {
		c.logEntry(logrus.ErrorLevel, "Read error", logrus.Fields{"port": conn.t.Name(), "error": err})
	}
	c.bus.EmitError(eventbus.ErrorEvent{Category: eventbus.CategoryRead, Err: err, At: time.Now()})

	conn.cancel()
	_ = conn.t.Close()
	c.pending.CancelAll(correlator.ErrDisconnected)
	c.cache.Reset()

	c.logEntry(logrus.InfoLevel, "Disconnected", logrus.Fields{"reason": err})
	c.bus.EmitDisconnect(eventbus.DisconnectEvent{Port: conn.t.Name(), Reason: err, At: time.Now()})
}

func (c *Client) handleLine(line string) {
	now := time.Now()
	frame := protocol.Decode(line)

	if frame.Kind == protocol.KindOpaque {
		c.cache.ApplyOpaque()
		if frame.Err != nil {
			c.logEntry(logrus.WarnLevel, "Malformed record", logrus.Fields{"line": line, "error": frame.Err})
		} else {
			c.logEntry(logrus.DebugLevel, "Non-JSON message", logrus.Fields{"line": line})
		}
		c.bus.EmitData(eventbus.DataEvent{Line: line, Frame: frame, ReceivedAt: now})
		return
	}

	c.logEntry(logrus.DebugLevel, "RX", logrus.Fields{"line": line})
	applied := c.cache.Apply(frame.Response, now)
	switch applied.Integrity {
	case protocol.IntegrityFailed:
		c.logEntry(logrus.WarnLevel, "Checksum failure detected", logrus.Fields{"info": frame.Response.Info})
	case protocol.IntegrityDegraded:
		c.logEntry(logrus.InfoLevel, "BINS checksum flag false on FW 1047, payload kept", nil)
	}
	if applied.BinsErr != nil {
		c.logEntry(logrus.WarnLevel, "Undecodable BINS payload", logrus.Fields{"error": applied.BinsErr})
	}

	c.bus.EmitData(eventbus.DataEvent{Line: line, Frame: frame, ReceivedAt: now})
	c.pending.Resolve(frame.Response)
}

// logEntry writes to the process logger and mirrors the entry on the log topic.
func (c *Client) logEntry(level logrus.Level, msg string, fields logrus.Fields) {
	c.log.WithFields(fields).Log(level, msg)
	c.bus.EmitLog(eventbus.LogEvent{Level: level, Message: msg, Fields: fields, At: time.Now()})
}
