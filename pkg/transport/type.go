package transport

import "errors"

var (
	ErrPortUnavailable = errors.New("serial port unavailable")
	ErrIOFailure       = errors.New("serial i/o failure")
	ErrAlreadyClosed   = errors.New("transport already closed")
	// Returned by a read that was interrupted by Close.
	ErrCancelled = errors.New("transport read cancelled")
)

// Transport is a byte stream to the sensor bridge.
// ReadChunk blocks until bytes arrive, the stream ends (io.EOF) or Close is called (ErrCancelled).
type Transport interface {
	ReadChunk() ([]byte, error)
	Write(p []byte) error
	Close() error
	Name() string
}

// Opener opens a Transport for the given settings.
type Opener func(cfg SerialConfig) (Transport, error)

type SerialConfig struct {
	Device     string
	BaudRate   uint
	AutoDetect bool
}
