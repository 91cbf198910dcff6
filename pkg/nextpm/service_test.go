package nextpm

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/config"
	"github.com/NotCoffee418/nextpm_monitor/pkg/correlator"
	"github.com/NotCoffee418/nextpm_monitor/pkg/devicestate"
	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/framer"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/NotCoffee418/nextpm_monitor/pkg/transport"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeBridge is the ESP32 side of a net.Pipe.
type fakeBridge struct {
	t        *testing.T
	conn     net.Conn
	commands chan string
}

func (b *fakeBridge) send(line string) {
	_, err := b.conn.Write([]byte(line + "\r\n"))
	assert.NoError(b.t, err)
}

// expect returns the next command written by the client.
func (b *fakeBridge) expect() string {
	select {
	case cmd := <-b.commands:
		return cmd
	case <-time.After(waitFor):
		assert.Fail(b.t, "no command received")
		return ""
	}
}

// reply answers the next command with line when it equals want.
func (b *fakeBridge) reply(want, line string) {
	go func() {
		if cmd := b.expect(); assert.Equal(b.t, want, cmd) {
			b.send(line)
		}
	}()
}

func newHarness(t *testing.T, tweak func(*config.NextPMConfig)) (*Client, *fakeBridge, *logtest.Hook) {
	t.Helper()

	cfg := config.DefaultNextPMConfig()
	cfg.Commands.QueryOnConnect = false
	if tweak != nil {
		tweak(cfg)
	}

	host, dev := net.Pipe()
	bridge := &fakeBridge{t: t, conn: dev, commands: make(chan string, 16)}
	go func() {
		scanner := bufio.NewScanner(dev)
		for scanner.Scan() {
			bridge.commands <- scanner.Text()
		}
	}()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	client := New(cfg, logger, WithOpener(func(transport.SerialConfig) (transport.Transport, error) {
		return transport.NewStream("pipe", host), nil
	}))
	t.Cleanup(func() {
		_ = client.Disconnect()
		_ = dev.Close()
	})
	return client, bridge, hook
}

func connect(t *testing.T, client *Client) {
	t.Helper()
	require.NoError(t, client.Connect(context.Background()))
	require.True(t, client.IsConnected())
}

func waitFirmware(t *testing.T, client *Client, bridge *fakeBridge, fw uint16) {
	t.Helper()
	// u16_swap carries the version directly
	bridge.send(`{"info":"fw","ok":true,"nextpm":{"fw":{"u16_swap":` + strconv.Itoa(int(fw)) + `},"state":0}}`)
	require.Eventually(t, func() bool {
		s := client.Status().Device
		return s.FirmwareKnown && s.FirmwareVersion == fw
	}, waitFor, 5*time.Millisecond)
}

func messages(hook *logtest.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

func TestConcentrationRoundTrip(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)
	connect(t, client)

	bridge.reply("PM 1M", `{"info":"pm","ok":true,"avg":"1m","nextpm":{"state":0,"chk_ok":true},"pm":{"ug_m3":{"pm1_swap":3.4,"pm25_swap":7.8,"pm10_swap":12.1},"nb_l":{"pm1_swap":410,"pm25_swap":52,"pm10_swap":3}}}`)

	reading, err := client.ReadConcentrations(context.Background(), Window1m)
	require.NoError(t, err)
	require.NotNil(t, reading)

	assert.Equal(t, protocol.Concentrations{PM1: 3.4, PM25: 7.8, PM10: 12.1}, reading.Mass)
	assert.True(t, reading.NumberKnown)
	assert.Equal(t, protocol.Concentrations{PM1: 410, PM25: 52, PM10: 3}, reading.Number)
	assert.Equal(t, "1m", reading.Window)
	assert.Equal(t, protocol.IntegrityOK, reading.Integrity)
	require.NotNil(t, reading.SensorState)
	assert.Equal(t, 0, *reading.SensorState)

	stats := client.Status().Device.Stats
	assert.Equal(t, uint64(1), stats.CommandsSent)
	assert.Equal(t, uint64(1), stats.ResponsesReceived)
}

func TestDefaultWindowSendsBareCommand(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)
	connect(t, client)

	bridge.reply("PM", `{"info":"pm","ok":true,"pm":{"ug_m3":{"pm25_swap":1.5}}}`)
	reading, err := client.ReadConcentrations(context.Background(), Window10s)
	require.NoError(t, err)
	require.NotNil(t, reading)
	assert.Equal(t, "10s", reading.Window)
	assert.Equal(t, protocol.IntegrityUnknown, reading.Integrity)
}

func TestReadEnvironment(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)
	connect(t, client)

	bridge.reply("TRH", `{"info":"trh","ok":true,"nextpm":{"state":2,"chk_ok":true},"trh":{"t_c_swap":23.25,"rh_pct_swap":51.5}}`)
	env, err := client.ReadEnvironment(context.Background())
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.InDelta(t, 23.25, env.Temperature, 1e-9)
	assert.InDelta(t, 51.5, env.Humidity, 1e-9)
	require.NotNil(t, env.SensorState)
	assert.Equal(t, 2, *env.SensorState)
	require.NotNil(t, env.ChecksumOK)
	assert.True(t, *env.ChecksumOK)

	s := client.Status().Device
	assert.True(t, s.TemperatureKnown)
	assert.InDelta(t, 23.25, s.Temperature, 1e-9)
}

func TestReplyWithoutDataIsAbsent(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)
	connect(t, client)

	bridge.reply("TRH", `{"info":"trh","ok":false}`)
	env, err := client.ReadEnvironment(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, env)
}

func TestDisconnectRejectsPendingWait(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)

	var disconnects []eventbus.DisconnectEvent
	var mu sync.Mutex
	client.Bus().OnDisconnect(func(ev eventbus.DisconnectEvent) {
		mu.Lock()
		disconnects = append(disconnects, ev)
		mu.Unlock()
	})

	connect(t, client)
	waitFirmware(t, client, bridge, 1047)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.SendAndWait(context.Background(), "BINS", 10*time.Second)
		errCh <- err
	}()
	require.Equal(t, "BINS", bridge.expect())

	require.NoError(t, client.Disconnect())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.ErrorIs(t, err, correlator.ErrDisconnected)
	case <-time.After(waitFor):
		t.Fatal("pending wait was not rejected")
	}

	assert.False(t, client.IsConnected())
	assert.Equal(t, devicestate.State{}, client.Status().Device)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, disconnects, 1)
	assert.NoError(t, disconnects[0].Reason)
	assert.ErrorIs(t, client.Disconnect(), ErrNotConnected)
}

func TestTimeoutKeepsConnection(t *testing.T) {
	client, bridge, hook := newHarness(t, func(cfg *config.NextPMConfig) {
		cfg.Commands.TRHTimeoutMs = 50
	})
	connect(t, client)

	env, err := client.ReadEnvironment(context.Background())
	assert.ErrorIs(t, err, correlator.ErrTimeout)
	assert.Nil(t, env)
	assert.Equal(t, "TRH", bridge.expect())
	assert.True(t, client.IsConnected())
	assert.Contains(t, messages(hook), "Timeout waiting for response")

	// The late reply only updates the cache
	bridge.send(`{"info":"trh","ok":true,"trh":{"t_c_swap":10}}`)
	require.Eventually(t, func() bool {
		return client.Status().Device.Temperature == 10
	}, waitFor, 5*time.Millisecond)

	bridge.reply("TRH", `{"info":"trh","ok":true,"trh":{"t_c_swap":20}}`)
	resp, err := client.SendAndWait(context.Background(), "TRH", waitFor)
	require.NoError(t, err)
	temp, ok := resp.TRH.Temperature()
	require.True(t, ok)
	assert.InDelta(t, 20.0, temp, 1e-9)
}

func TestOpaqueLinesReachSubscribers(t *testing.T) {
	client, bridge, hook := newHarness(t, nil)

	events := make(chan eventbus.DataEvent, 4)
	client.Bus().OnData(func(ev eventbus.DataEvent) { events <- ev })
	connect(t, client)

	bridge.send("NextPM bridge v1.2 ready")
	bridge.send(`{"info":"pm","ok":tru`)

	for _, want := range []string{"NextPM bridge v1.2 ready", `{"info":"pm","ok":tru`} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Line)
			assert.Equal(t, protocol.KindOpaque, ev.Frame.Kind)
			assert.False(t, ev.ReceivedAt.IsZero())
		case <-time.After(waitFor):
			t.Fatalf("no data event for %q", want)
		}
	}

	assert.Equal(t, uint64(2), client.Status().Device.Stats.OpaqueLines)
	assert.Contains(t, messages(hook), "Malformed record")
	assert.True(t, client.IsConnected())
}

func TestBinsDegradedOnFirmware1047(t *testing.T) {
	client, bridge, hook := newHarness(t, nil)
	connect(t, client)
	waitFirmware(t, client, bridge, 1047)

	bridge.reply("BINS 15M", `{"info":"bins","ok":true,"avg":"15m","nextpm":{"chk_ok":false},"raw":"81 27 00 00 02 C7 B0 00 00 05 23 00 00 01 BC 00 00 00 00 00 00 00 00"}`)
	reading, err := client.ReadBins(context.Background(), Window15m)
	require.NoError(t, err)
	require.NotNil(t, reading)

	assert.Equal(t, protocol.IntegrityDegraded, reading.Integrity)
	assert.Equal(t, protocol.BinHistogram{2, 51120, 0, 1315, 0}, reading.Bins)
	assert.Equal(t, "raw", reading.Source)
	assert.Equal(t, "15m", reading.Window)

	stats := client.Status().Device.Stats
	assert.Equal(t, uint64(0), stats.ChecksumFailures)
	assert.Equal(t, uint64(1), stats.DegradedFrames)
	assert.NotContains(t, messages(hook), "Checksum failure detected")
}

func TestBinsChecksumFailureOnOtherFirmware(t *testing.T) {
	client, bridge, hook := newHarness(t, nil)
	connect(t, client)
	waitFirmware(t, client, bridge, 1049)

	bridge.reply("BINS", `{"info":"bins","ok":true,"nextpm":{"chk_ok":false},"raw":"81 25 00 00 02 C7 B0 00 00 05 23 00 00 01 BC 00 00 00 00 00 00 00 00"}`)
	reading, err := client.ReadBins(context.Background(), Window10s)
	require.NoError(t, err)
	require.NotNil(t, reading)
	assert.Equal(t, protocol.IntegrityFailed, reading.Integrity)
	assert.Equal(t, protocol.BinHistogram{2, 51120, 0, 1315, 0}, reading.Bins)

	assert.Equal(t, uint64(1), client.Status().Device.Stats.ChecksumFailures)
	assert.Contains(t, messages(hook), "Checksum failure detected")
}

func TestBinsUnsupportedFirmware(t *testing.T) {
	client, bridge, hook := newHarness(t, nil)
	connect(t, client)
	waitFirmware(t, client, bridge, 1046)
	assert.False(t, client.Status().Device.BinsSupported)

	reading, err := client.ReadBins(context.Background(), Window10s)
	assert.NoError(t, err)
	assert.Nil(t, reading)
	assert.Contains(t, messages(hook), "BINS not supported by sensor firmware")

	select {
	case cmd := <-bridge.commands:
		t.Fatalf("unexpected command %q", cmd)
	default:
	}
}

func TestReadSnapshotPassesPartsThrough(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)
	connect(t, client)

	bridge.reply("SNAPSHOT 1M", `{"info":"snapshot","ok":true,"avg":"1m","parts":4,"fw_raw":"81 17 00 04 17 4D","trh_raw":"81 14 00 08 66 11 AD 00"}`)
	snap, err := client.ReadSnapshot(context.Background(), Window1m)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "1m", snap.Window)
	assert.JSONEq(t, `4`, string(snap.Parts))
	assert.JSONEq(t, `"81 17 00 04 17 4D"`, string(snap.FwRaw))
	assert.Nil(t, snap.PMRaw)
}

func TestRemoteCloseForcesDisconnect(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)

	errs := make(chan eventbus.ErrorEvent, 1)
	disconnects := make(chan eventbus.DisconnectEvent, 1)
	client.Bus().OnError(func(ev eventbus.ErrorEvent) { errs <- ev })
	client.Bus().OnDisconnect(func(ev eventbus.DisconnectEvent) { disconnects <- ev })

	connect(t, client)
	waitFirmware(t, client, bridge, 1047)

	require.NoError(t, bridge.conn.Close())

	select {
	case ev := <-errs:
		assert.Equal(t, eventbus.CategoryRead, ev.Category)
	case <-time.After(waitFor):
		t.Fatal("no error event")
	}
	select {
	case ev := <-disconnects:
		assert.Error(t, ev.Reason)
	case <-time.After(waitFor):
		t.Fatal("no disconnect event")
	}

	assert.False(t, client.IsConnected())
	assert.False(t, client.Status().Device.FirmwareKnown)

	err := client.SendCommand("PING")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectFromDataHandler(t *testing.T) {
	client, bridge, _ := newHarness(t, nil)

	var mu sync.Mutex
	var lines []string
	result := make(chan error, 1)
	client.Bus().OnData(func(ev eventbus.DataEvent) {
		mu.Lock()
		lines = append(lines, ev.Line)
		mu.Unlock()
		if ev.Line == "boot banner" {
			result <- client.Disconnect()
		}
	})
	disconnects := make(chan eventbus.DisconnectEvent, 1)
	client.Bus().OnDisconnect(func(ev eventbus.DisconnectEvent) { disconnects <- ev })

	connect(t, client)
	waitFirmware(t, client, bridge, 1047)
	bridge.send("boot banner\r\nafter the disconnect")

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Disconnect from a data handler did not return")
	}
	select {
	case ev := <-disconnects:
		assert.NoError(t, ev.Reason)
	case <-time.After(waitFor):
		t.Fatal("no disconnect event")
	}

	assert.False(t, client.IsConnected())
	assert.Equal(t, devicestate.State{}, client.Status().Device)
	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, lines, "after the disconnect")
}

func TestOversizedLineIsLoggedAndSkipped(t *testing.T) {
	client, bridge, hook := newHarness(t, nil)
	connect(t, client)

	bridge.send(strings.Repeat("~", framer.MaxLineLength+1))
	waitFirmware(t, client, bridge, 1047)

	assert.Contains(t, messages(hook), "Discarded oversized line")
	assert.Equal(t, uint64(1), client.Status().Device.Stats.Errors)
	assert.True(t, client.IsConnected())
}

func TestConnectTwice(t *testing.T) {
	client, _, _ := newHarness(t, nil)
	connect(t, client)
	assert.ErrorIs(t, client.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConnectFailureEmitsError(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	openErr := errors.Join(transport.ErrPortUnavailable, errors.New("no such file"))
	client := New(config.DefaultNextPMConfig(), logger, WithOpener(func(transport.SerialConfig) (transport.Transport, error) {
		return nil, openErr
	}))

	var got []eventbus.ErrorEvent
	client.Bus().OnError(func(ev eventbus.ErrorEvent) { got = append(got, ev) })

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrPortUnavailable)
	assert.False(t, client.IsConnected())
	require.Len(t, got, 1)
	assert.Equal(t, eventbus.CategoryConnection, got[0].Category)
}

func TestQueryOnConnect(t *testing.T) {
	client, bridge, _ := newHarness(t, func(cfg *config.NextPMConfig) {
		cfg.Commands.QueryOnConnect = true
		cfg.Commands.QueryDelayMs = 1
		cfg.Commands.QueryGapMs = 1
	})
	connect(t, client)

	assert.Equal(t, "PING", bridge.expect())
	assert.Equal(t, "FW", bridge.expect())
	assert.Equal(t, "STATE", bridge.expect())
}

func TestLogEventsMirrorLogger(t *testing.T) {
	client, _, hook := newHarness(t, nil)

	var logged []string
	var mu sync.Mutex
	client.Bus().OnLog(func(ev eventbus.LogEvent) {
		mu.Lock()
		logged = append(logged, ev.Message)
		mu.Unlock()
	})

	connect(t, client)
	require.NoError(t, client.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, messages(hook), logged)
	assert.Contains(t, logged, "Connected successfully")
	assert.Contains(t, logged, "Disconnected")
}

func TestParseWindow(t *testing.T) {
	for in, want := range map[string]Window{"": Window10s, "10s": Window10s, "1M": Window1m, " 15m ": Window15m} {
		got, err := ParseWindow(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWindow("5m")
	assert.ErrorIs(t, err, ErrInvalidWindow)

	assert.Equal(t, "PM", Window10s.command("PM"))
	assert.Equal(t, "BINS 1M", Window1m.command("BINS"))
	assert.Equal(t, "SNAPSHOT 15M", Window15m.command("SNAPSHOT"))
}
