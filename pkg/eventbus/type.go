package eventbus

import (
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/sirupsen/logrus"
)

type Topic int

const (
	TopicConnect Topic = iota
	TopicDisconnect
	TopicData
	TopicError
	TopicLog
)

func (t Topic) String() string {
	switch t {
	case TopicConnect:
		return "connect"
	case TopicDisconnect:
		return "disconnect"
	case TopicData:
		return "data"
	case TopicError:
		return "error"
	case TopicLog:
		return "log"
	default:
		return "unknown"
	}
}

type ErrorCategory string

const (
	CategoryConnection    ErrorCategory = "connection"
	CategoryDisconnection ErrorCategory = "disconnection"
	CategoryRead          ErrorCategory = "read"
	CategorySend          ErrorCategory = "send"
)

type ConnectEvent struct {
	Port string
	At   time.Time
}

type DisconnectEvent struct {
	Port string
	// Nil for a requested disconnect
	Reason error
	At     time.Time
}

// DataEvent is emitted for every non-empty line, structured or not.
type DataEvent struct {
	Line       string
	Frame      protocol.Frame
	ReceivedAt time.Time
}

type ErrorEvent struct {
	Category ErrorCategory
	Err      error
	At       time.Time
}

type LogEvent struct {
	Level   logrus.Level
	Message string
	Fields  logrus.Fields
	At      time.Time
}

// Subscription identifies one registered handler.
type Subscription struct {
	topic Topic
	id    uint64
}

func (s Subscription) Topic() Topic {
	return s.topic
}
