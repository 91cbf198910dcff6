package transport

import (
	"fmt"

	bugst "go.bug.st/serial"
)

// ListPorts enumerates the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate ports: %w", ErrPortUnavailable, err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no serial ports found", ErrPortUnavailable)
	}
	return ports, nil
}
