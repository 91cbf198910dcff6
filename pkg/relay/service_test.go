package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name string
	fail bool

	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(ctx context.Context, payload []byte) error {
	if s.fail {
		return errors.New("broker unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestRelayForwardsStructuredRecords(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", fail: true}
	r := New(logger, "/dev/ttyACM0", good, bad)
	bus := eventbus.New()
	r.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	bus.EmitData(eventbus.DataEvent{Line: "booting", Frame: protocol.Decode("booting")})
	line := `{"info":"trh","ok":true,"trh":{"t_c_swap":21.5}}`
	bus.EmitData(eventbus.DataEvent{Line: line, Frame: protocol.Decode(line), ReceivedAt: time.Now()})

	require.Eventually(t, func() bool { return len(good.received()) == 1 }, 2*time.Second, 5*time.Millisecond)

	var got Reading
	require.NoError(t, json.Unmarshal(good.received()[0], &got))
	assert.Equal(t, "trh", got.Info)
	assert.Equal(t, "/dev/ttyACM0", got.Port)
	require.NotNil(t, got.Response)
	assert.True(t, got.Response.IsOK())

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel && e.Data["sink"] == "bad" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.True(t, good.isClosed())
	assert.True(t, bad.isClosed())
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	r := New(logger, "")

	for i := 0; i < queueSize; i++ {
		require.True(t, r.Enqueue(Reading{Info: "pm"}))
	}
	assert.False(t, r.Enqueue(Reading{Info: "pm"}))
	assert.Equal(t, uint64(1), r.Dropped())
}
