package protocol

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

const (
	tempScale = 100.0
	massScale = 10.0
)

// Decode classifies one trimmed line. Anything that is not a JSON object is opaque
// text (boot banner, debug output). A line starting with '{' that fails to decode is
// opaque too, with Err describing the failure.
func Decode(line string) Frame {
	frame := Frame{Kind: KindOpaque, Line: line}

	text := strings.TrimSpace(line)
	if !strings.HasPrefix(text, "{") {
		return frame
	}

	var resp StructuredResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		frame.Err = fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		return frame
	}

	frame.Kind = KindStructured
	frame.Response = &resp
	return frame
}

func (r *StructuredResponse) HasInfo() bool {
	return r.Info != ""
}

// IsOK is false when ok is missing.
func (r *StructuredResponse) IsOK() bool {
	return r.OK != nil && *r.OK
}

// FirmwareVersion prefers the bridge's swapped value and swaps the wire word otherwise.
func (r *StructuredResponse) FirmwareVersion() (uint16, bool) {
	if r.NextPM == nil || r.NextPM.FW == nil {
		return 0, false
	}
	fw := r.NextPM.FW
	switch {
	case fw.U16Swap != nil:
		return *fw.U16Swap, true
	case fw.U16 != nil:
		return bits.ReverseBytes16(*fw.U16), true
	}
	return 0, false
}

func (r *StructuredResponse) SensorState() (int, bool) {
	if r.NextPM == nil || r.NextPM.State == nil {
		return 0, false
	}
	return *r.NextPM.State, true
}

// ChecksumOK reports the sensor frame integrity flag computed by the bridge.
// The nextpm block wins over the top-level chk_ok.
func (r *StructuredResponse) ChecksumOK() (ok bool, known bool) {
	if r.NextPM != nil && r.NextPM.ChkOK != nil {
		return *r.NextPM.ChkOK, true
	}
	if r.ChkOK != nil {
		return *r.ChkOK, true
	}
	return false, false
}

func (r *StructuredResponse) Timestamp() (int64, bool) {
	if r.TsMs == nil {
		return 0, false
	}
	return *r.TsMs, true
}

func swapped(pre *float64, word *uint16, scale float64) (float64, bool) {
	if pre != nil {
		return *pre, true
	}
	if word != nil {
		return float64(bits.ReverseBytes16(*word)) / scale, true
	}
	return 0, false
}

// Temperature in degrees Celsius.
func (t *TRHBlock) Temperature() (float64, bool) {
	if t == nil {
		return 0, false
	}
	return swapped(t.TCSwap, t.TU16, tempScale)
}

// Humidity in percent relative humidity.
func (t *TRHBlock) Humidity() (float64, bool) {
	if t == nil {
		return 0, false
	}
	return swapped(t.RHPctSwap, t.RHU16, tempScale)
}

func (c *ConcentrationBlock) values(scale float64) (Concentrations, bool) {
	if c == nil {
		return Concentrations{}, false
	}
	var out Concentrations
	pm1, ok1 := swapped(c.PM1Swap, c.PM1, scale)
	pm25, ok25 := swapped(c.PM25Swap, c.PM25, scale)
	pm10, ok10 := swapped(c.PM10Swap, c.PM10, scale)
	out.PM1, out.PM25, out.PM10 = pm1, pm25, pm10
	return out, ok1 || ok25 || ok10
}

// Mass concentrations in µg/m3.
func (p *PMBlock) Mass() (Concentrations, bool) {
	if p == nil {
		return Concentrations{}, false
	}
	return p.UgM3.values(massScale)
}

// Number concentrations in particles per litre.
func (p *PMBlock) Number() (Concentrations, bool) {
	if p == nil {
		return Concentrations{}, false
	}
	return p.NbL.values(1)
}
