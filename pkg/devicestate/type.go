package devicestate

import (
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
)

// Stats counters only grow until the connection is torn down.
type Stats struct {
	CommandsSent      uint64 `json:"commands_sent"`
	ResponsesReceived uint64 `json:"responses_received"`
	OpaqueLines       uint64 `json:"opaque_lines"`
	Errors            uint64 `json:"errors"`
	ChecksumFailures  uint64 `json:"checksum_failures"`
	DegradedFrames    uint64 `json:"degraded_frames"`
}

// State is a snapshot of everything last reported by the sensor.
// Each value is paired with a Known flag, a zero value alone means nothing.
type State struct {
	FirmwareVersion uint16 `json:"firmware_version"`
	FirmwareKnown   bool   `json:"firmware_known"`
	BinsSupported   bool   `json:"bins_supported"`
	BridgeFirmware  string `json:"bridge_firmware,omitempty"`

	SensorState      int  `json:"sensor_state"`
	SensorStateKnown bool `json:"sensor_state_known"`

	Temperature      float64 `json:"temperature_c"`
	TemperatureKnown bool    `json:"temperature_known"`
	Humidity         float64 `json:"humidity_pct"`
	HumidityKnown    bool    `json:"humidity_known"`

	Mass        protocol.Concentrations `json:"mass_ug_m3"`
	MassKnown   bool                    `json:"mass_known"`
	Number      protocol.Concentrations `json:"number_per_l"`
	NumberKnown bool                    `json:"number_known"`
	Window      string                  `json:"window,omitempty"`

	Bins          protocol.BinHistogram `json:"bins"`
	BinsKnown     bool                  `json:"bins_known"`
	BinsSource    string                `json:"bins_source,omitempty"`
	BinsIntegrity string                `json:"bins_integrity,omitempty"`

	UptimeMs    int64     `json:"uptime_ms"`
	UptimeKnown bool      `json:"uptime_known"`
	LastUpdate  time.Time `json:"last_update"`

	Stats Stats `json:"stats"`
}

// Applied tells the read loop what a response did to the cache.
type Applied struct {
	Integrity protocol.Integrity
	// Histogram present in the record but undecodable
	BinsErr error
}
