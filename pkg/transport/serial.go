package transport

import (
	"fmt"

	"github.com/jacobsa/go-serial/serial"
)

// OpenSerial opens the USB CDC port of the ESP32 bridge at 8N1 without flow control.
func OpenSerial(cfg SerialConfig) (Transport, error) {
	device := cfg.Device
	if device == "" && cfg.AutoDetect {
		ports, err := ListPorts()
		if err != nil {
			return nil, err
		}
		device = ports[0]
	}
	if device == "" {
		return nil, fmt.Errorf("%w: no serial device configured", ErrPortUnavailable)
	}

	options := serial.OpenOptions{
		PortName:          device,
		BaudRate:          cfg.BaudRate,
		DataBits:          8,
		StopBits:          1,
		ParityMode:        serial.PARITY_NONE,
		RTSCTSFlowControl: false,
		MinimumReadSize:   1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", ErrPortUnavailable, device, err)
	}

	return NewStream(device, port), nil
}
