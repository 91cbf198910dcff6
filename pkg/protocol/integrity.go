package protocol

const (
	// Histogram commands exist from this sensor firmware on.
	BinsMinFirmware uint16 = 1047
	// FW 1047 reports a failed checksum on BINS although the payload is fine.
	CosmeticChecksumFirmware uint16 = 1047
)

type Integrity int

const (
	IntegrityUnknown Integrity = iota
	IntegrityOK
	// Checksum flag is false because of the known FW 1047 BINS defect, data is usable.
	IntegrityDegraded
	IntegrityFailed
)

func (i Integrity) String() string {
	switch i {
	case IntegrityOK:
		return "ok"
	case IntegrityDegraded:
		return "degraded"
	case IntegrityFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (i Integrity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// ClassifyIntegrity combines the response checksum flag with the cached sensor firmware.
func ClassifyIntegrity(r *StructuredResponse, firmware uint16, firmwareKnown bool) Integrity {
	ok, known := r.ChecksumOK()
	switch {
	case !known:
		return IntegrityUnknown
	case ok:
		return IntegrityOK
	case r.Info == InfoBins && firmwareKnown && firmware == CosmeticChecksumFirmware:
		return IntegrityDegraded
	default:
		return IntegrityFailed
	}
}

func BinsSupported(firmware uint16) bool {
	return firmware >= BinsMinFirmware
}
