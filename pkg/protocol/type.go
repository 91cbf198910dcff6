package protocol

import (
	"encoding/json"
	"errors"
)

var (
	ErrMalformedRecord    = errors.New("malformed structured record")
	ErrInsufficientLength = errors.New("insufficient frame length")
	ErrInvalidHex         = errors.New("invalid hex frame")
)

// Response kinds reported in the info field.
const (
	InfoPong     = "pong"
	InfoFirmware = "fw"
	InfoState    = "state"
	InfoTRH      = "trh"
	InfoPM       = "pm"
	InfoBins     = "bins"
	InfoSnapshot = "snapshot"
)

type Kind int

const (
	KindOpaque Kind = iota
	KindStructured
)

func (k Kind) String() string {
	if k == KindStructured {
		return "structured"
	}
	return "opaque"
}

// Frame is the decode result of one line: either a structured record or opaque text.
type Frame struct {
	Kind     Kind
	Line     string
	Response *StructuredResponse
	// Set when the line looked like a record but could not be decoded.
	Err error
}

// StructuredResponse mirrors the JSON emitted by the ESP32 bridge.
// Every block is optional and must be presence-checked.
type StructuredResponse struct {
	Info    string `json:"info,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Avg     string `json:"avg,omitempty"`
	ChkOK   *bool  `json:"chk_ok,omitempty"`
	TsMs    *int64 `json:"ts_ms,omitempty"`
	FwESP32 string `json:"fw_esp32,omitempty"`

	NextPM *SensorBlock `json:"nextpm,omitempty"`
	TRH    *TRHBlock    `json:"trh,omitempty"`
	PM     *PMBlock     `json:"pm,omitempty"`
	Bins   ChannelMap   `json:"bins,omitempty"`

	// SNAPSHOT pass-through parts, shape decided by the bridge firmware
	Parts    json.RawMessage `json:"parts,omitempty"`
	FwRaw    json.RawMessage `json:"fw_raw,omitempty"`
	StateRaw json.RawMessage `json:"state_raw,omitempty"`
	TRHRaw   json.RawMessage `json:"trh_raw,omitempty"`
	PMRaw    json.RawMessage `json:"pm_raw,omitempty"`
	BinsRaw  json.RawMessage `json:"bins_raw,omitempty"`
}

type SensorBlock struct {
	FW    *FirmwareBlock `json:"fw,omitempty"`
	State *int           `json:"state,omitempty"`
	ChkOK *bool          `json:"chk_ok,omitempty"`
}

// U16 is the version word in wire order, U16Swap the byte-swapped value.
type FirmwareBlock struct {
	U16     *uint16 `json:"u16,omitempty"`
	U16Swap *uint16 `json:"u16_swap,omitempty"`
}

// Raw words are in wire order and scaled by 100.
type TRHBlock struct {
	TU16      *uint16  `json:"t_u16,omitempty"`
	TCSwap    *float64 `json:"t_c_swap,omitempty"`
	RHU16     *uint16  `json:"rh_u16,omitempty"`
	RHPctSwap *float64 `json:"rh_pct_swap,omitempty"`
}

type PMBlock struct {
	UgM3 *ConcentrationBlock `json:"ug_m3,omitempty"`
	NbL  *ConcentrationBlock `json:"nb_l,omitempty"`
}

type ConcentrationBlock struct {
	PM1      *uint16  `json:"pm1,omitempty"`
	PM1Swap  *float64 `json:"pm1_swap,omitempty"`
	PM25     *uint16  `json:"pm25,omitempty"`
	PM25Swap *float64 `json:"pm25_swap,omitempty"`
	PM10     *uint16  `json:"pm10,omitempty"`
	PM10Swap *float64 `json:"pm10_swap,omitempty"`
}

// Concentrations holds one value per PM size class.
type Concentrations struct {
	PM1  float64 `json:"pm1"`
	PM25 float64 `json:"pm25"`
	PM10 float64 `json:"pm10"`
}

// ChannelMap is the JSON histogram form, keyed by size boundaries.
type ChannelMap map[string]float64
