package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
)

// Sink publishes one encoded reading to an external system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Reading is the payload forwarded for every structured record.
type Reading struct {
	Port       string                       `json:"port,omitempty"`
	Info       string                       `json:"info"`
	ReceivedAt time.Time                    `json:"received_at"`
	Response   *protocol.StructuredResponse `json:"response"`
}

func (r Reading) ToJsonBytes() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}
