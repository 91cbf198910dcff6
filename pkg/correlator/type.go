package correlator

import (
	"errors"
	"sync"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/google/uuid"
)

var (
	ErrTimeout      = errors.New("command timed out")
	ErrDisconnected = errors.New("disconnected")
	ErrCancelled    = errors.New("command wait cancelled")
)

type State int

const (
	StatePending State = iota
	StateResolved
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pending is one awaited command. It settles exactly once.
type Pending struct {
	ID         uuid.UUID
	Command    string
	Timeout    time.Duration
	Registered time.Time

	mu    sync.Mutex
	state State
	resp  *protocol.StructuredResponse
	err   error
	done  chan struct{}
}

func (p *Pending) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once the pending command leaves StatePending.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result is only meaningful after Done is closed.
func (p *Pending) Result() (*protocol.StructuredResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resp, p.err
}

func (p *Pending) settle(state State, resp *protocol.StructuredResponse, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return false
	}
	p.state = state
	p.resp = resp
	p.err = err
	close(p.done)
	return true
}
