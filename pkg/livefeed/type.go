package livefeed

import (
	"encoding/json"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
)

const (
	MessageData       = "data"
	MessageConnect    = "connect"
	MessageDisconnect = "disconnect"
)

// Message is the websocket payload sent to live feed clients.
type Message struct {
	Type       string                       `json:"type"`
	Line       string                       `json:"line,omitempty"`
	Kind       string                       `json:"kind,omitempty"`
	Response   *protocol.StructuredResponse `json:"response,omitempty"`
	Port       string                       `json:"port,omitempty"`
	Reason     string                       `json:"reason,omitempty"`
	ReceivedAt time.Time                    `json:"received_at"`
}

func MessageFromData(ev eventbus.DataEvent) Message {
	return Message{
		Type:       MessageData,
		Line:       ev.Line,
		Kind:       ev.Frame.Kind.String(),
		Response:   ev.Frame.Response,
		ReceivedAt: ev.ReceivedAt,
	}
}

func (m Message) ToJsonBytes() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// Returns nil when the payload is not a live feed message.
func MessageFromJsonBytes(data []byte) *Message {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil || m.Type == "" {
		return nil
	}
	return &m
}
