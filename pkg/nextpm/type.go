package nextpm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/correlator"
	"github.com/NotCoffee418/nextpm_monitor/pkg/devicestate"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
)

var (
	// Commands issued or pending while not connected fail with this.
	ErrNotConnected     = correlator.ErrDisconnected
	ErrAlreadyConnected = errors.New("already connected")
	ErrInvalidWindow    = errors.New("invalid averaging window")
)

// Window is the sensor side averaging period of PM, BINS and SNAPSHOT reads.
type Window string

const (
	Window10s Window = "10s"
	Window1m  Window = "1m"
	Window15m Window = "15m"
)

func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "", Window10s:
		return Window10s, nil
	case Window1m, Window15m:
		return w, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
}

// command builds the wire command. 10s is the firmware default and sent bare.
func (w Window) command(base string) string {
	if w == "" || w == Window10s {
		return base
	}
	return base + " " + strings.ToUpper(string(w))
}

type Environment struct {
	Temperature      float64 `json:"temperature_c"`
	TemperatureKnown bool    `json:"temperature_known"`
	Humidity         float64 `json:"humidity_pct"`
	HumidityKnown    bool    `json:"humidity_known"`
	SensorState      *int    `json:"sensor_state,omitempty"`
	ChecksumOK       *bool   `json:"checksum_ok,omitempty"`
}

type ConcentrationReading struct {
	Mass        protocol.Concentrations `json:"mass_ug_m3"`
	Number      protocol.Concentrations `json:"number_per_l"`
	NumberKnown bool                    `json:"number_known"`
	Window      string                  `json:"window"`
	SensorState *int                    `json:"sensor_state,omitempty"`
	Integrity   protocol.Integrity      `json:"integrity"`
}

type BinsReading struct {
	Bins      protocol.BinHistogram `json:"bins"`
	Source    string                `json:"source"`
	Raw       string                `json:"raw,omitempty"`
	Window    string                `json:"window"`
	Integrity protocol.Integrity    `json:"integrity"`
}

// Snapshot parts are passed through as sent by the bridge.
type Snapshot struct {
	Window   string          `json:"window"`
	Parts    json.RawMessage `json:"parts,omitempty"`
	FwRaw    json.RawMessage `json:"fw_raw,omitempty"`
	StateRaw json.RawMessage `json:"state_raw,omitempty"`
	TRHRaw   json.RawMessage `json:"trh_raw,omitempty"`
	PMRaw    json.RawMessage `json:"pm_raw,omitempty"`
	BinsRaw  json.RawMessage `json:"bins_raw,omitempty"`
}

type Status struct {
	Connected   bool              `json:"connected"`
	Port        string            `json:"port,omitempty"`
	ConnectedAt *time.Time        `json:"connected_at,omitempty"`
	Device      devicestate.State `json:"device"`
}
