package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// BinFrameLength is the size of the NextPM histogram frame:
// addr, cmd, state, 5 big-endian channel words, 8 reserved bytes, 2 checksum bytes.
const BinFrameLength = 23

const (
	binFirstOffset = 3
	BinChannels    = 5
)

var BinChannelLabels = [BinChannels]string{
	"0.3-0.5µm",
	"0.5-1.0µm",
	"1.0-2.5µm",
	"2.5-5.0µm",
	"5.0-10µm",
}

// Both key spellings are emitted depending on the bridge firmware.
var channelKeys = [BinChannels][]string{
	{"ch_0.3_0.5", "ch_0_3_0_5"},
	{"ch_0.5_1", "ch_0_5_1"},
	{"ch_1_2.5", "ch_1_2_5"},
	{"ch_2.5_5", "ch_2_5_5"},
	{"ch_5_10"},
}

// BinHistogram holds one count per particle-size channel, smallest first.
type BinHistogram [BinChannels]uint16

type BinSource int

const (
	BinSourceNone BinSource = iota
	BinSourceRawFrame
	BinSourceChannelMap
)

func (s BinSource) String() string {
	switch s {
	case BinSourceRawFrame:
		return "raw"
	case BinSourceChannelMap:
		return "channel_map"
	default:
		return "none"
	}
}

// DecodeBins extracts the five channel words. Checksum bytes are not verified here,
// integrity comes from the bridge's chk_ok flag.
func DecodeBins(frame []byte) (BinHistogram, error) {
	var h BinHistogram
	if len(frame) != BinFrameLength {
		return h, fmt.Errorf("%w: got %d bytes, want %d", ErrInsufficientLength, len(frame), BinFrameLength)
	}
	for i := range h {
		offset := binFirstOffset + 2*i
		h[i] = binary.BigEndian.Uint16(frame[offset : offset+2])
	}
	return h, nil
}

// ParseHexFrame parses the space separated hex bytes of the raw field ("81 25 00 ...").
func ParseHexFrame(raw string) ([]byte, error) {
	fields := strings.Fields(raw)
	out := make([]byte, 0, len(fields))
	for i, tok := range fields {
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: byte %d %q", ErrInvalidHex, i, tok)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// BinsFromChannelMap is the fallback when no raw frame is available. Missing channels
// read as zero. Values above 16 bits are masked, one firmware revision encodes
// the words as 32-bit integers with garbage in the high half.
func BinsFromChannelMap(m ChannelMap) BinHistogram {
	var h BinHistogram
	for i, keys := range channelKeys {
		for _, key := range keys {
			v, ok := m[key]
			if !ok {
				continue
			}
			h[i] = maskChannel(v)
			break
		}
	}
	return h
}

func maskChannel(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	return uint16(uint64(v) & 0xFFFF)
}

// HistogramFromResponse decodes the raw frame when present and only falls back to
// the channel map when it is not. Map values are advisory next to a raw frame.
func HistogramFromResponse(r *StructuredResponse) (BinHistogram, BinSource, error) {
	if r.Raw != "" {
		frame, err := ParseHexFrame(r.Raw)
		if err != nil {
			return BinHistogram{}, BinSourceNone, err
		}
		h, err := DecodeBins(frame)
		if err != nil {
			return BinHistogram{}, BinSourceNone, err
		}
		return h, BinSourceRawFrame, nil
	}
	if r.Bins != nil {
		return BinsFromChannelMap(r.Bins), BinSourceChannelMap, nil
	}
	return BinHistogram{}, BinSourceNone, fmt.Errorf("%w: no raw frame or channel map", ErrMalformedRecord)
}
