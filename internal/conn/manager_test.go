package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketstream/internal/model"
)

// fakeTransport scripts dial outcomes and delivers queued payloads.
type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	failures int // fail this many dials before succeeding

	incoming chan []byte
	readErrs chan error
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{
		failures: failures,
		incoming: make(chan []byte, 16),
		readErrs: make(chan error, 16),
	}
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	f.mu.Lock()
	f.dials++
	d := f.dials
	f.mu.Unlock()
	if d <= f.failures {
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case b := <-f.incoming:
		return b, nil
	case err := <-f.readErrs:
		return nil, err
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func validPayload() []byte {
	return []byte(`{
		"metadata": {"timestamp": 1700000000000, "sequenceId": 1},
		"trade": {"price": [[1700000000000, 100]], "volume": [[1700000000000, 5]]}
	}`)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func testConfig() Config {
	return Config{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 3}
}

func TestBackoffSchedule(t *testing.T) {
	base, max := time.Second, 30*time.Second
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for k, w := range want {
		if got := backoffDelay(k+1, base, max); got != w {
			t.Errorf("attempt %d: expected %v, got %v", k+1, w, got)
		}
	}
}

func TestManager_ConnectDeliversValidPackets(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(testConfig(), tr, NewValidator(testGroups))
	defer m.Close()

	var mu sync.Mutex
	var connected bool
	var packets []model.DataPacket
	m.Events().OnConnected(func() {
		mu.Lock()
		connected = true
		mu.Unlock()
	})
	m.Events().OnData(func(p model.DataPacket) {
		mu.Lock()
		packets = append(packets, p)
		mu.Unlock()
	})

	m.Connect()
	tr.incoming <- validPayload()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected && len(packets) == 1
	}, "connected + one data event")

	if m.State() != StateConnected {
		t.Errorf("expected StateConnected, got %v", m.State())
	}
	if m.Attempts() != 0 {
		t.Errorf("attempts should reset to 0 on success, got %d", m.Attempts())
	}
	if m.ConnectedAt().IsZero() {
		t.Error("connectedAt should be recorded")
	}
	mu.Lock()
	seq := packets[0].Meta.SequenceID
	mu.Unlock()
	if seq != 1 {
		t.Errorf("expected sequenceId 1, got %d", seq)
	}
}

func TestManager_InvalidPacketsDiscardedSilently(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(testConfig(), tr, NewValidator(testGroups))
	defer m.Close()

	var mu sync.Mutex
	var dataCount, invalidCount int
	m.Events().OnData(func(model.DataPacket) {
		mu.Lock()
		dataCount++
		mu.Unlock()
	})
	m.OnInvalidPacket = func() {
		mu.Lock()
		invalidCount++
		mu.Unlock()
	}

	m.Connect()
	tr.incoming <- []byte(`{"no": "metadata"}`)
	tr.incoming <- validPayload()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dataCount == 1 && invalidCount == 1
	}, "one valid + one discarded packet")

	if m.State() != StateConnected {
		t.Errorf("invalid packet must not change state, got %v", m.State())
	}
}

func TestManager_FailsAfterExhaustedRetries(t *testing.T) {
	tr := newFakeTransport(1000) // never succeeds
	m := NewManager(testConfig(), tr, NewValidator(testGroups))
	defer m.Close()

	var mu sync.Mutex
	var exhausted bool
	m.Events().OnError(func(err error) {
		if errors.Is(err, ErrRetriesExhausted) {
			mu.Lock()
			exhausted = true
			mu.Unlock()
		}
	})

	m.Connect()
	waitFor(t, func() bool { return m.State() == StateFailed }, "StateFailed")

	// maxAttempts=3 bounds automatic retries: the 4th failed attempt fails.
	if got := tr.dialCount(); got != 4 {
		t.Errorf("expected 4 dial attempts (maxAttempts+1), got %d", got)
	}
	mu.Lock()
	ok := exhausted
	mu.Unlock()
	if !ok {
		t.Error("expected ErrRetriesExhausted error event")
	}
	if m.LastError() == nil {
		t.Error("lastError should be recorded")
	}
}

func TestManager_ExplicitConnectResetsFailed(t *testing.T) {
	tr := newFakeTransport(4) // fails through the retry budget, then succeeds
	m := NewManager(testConfig(), tr, NewValidator(testGroups))
	defer m.Close()

	m.Connect()
	waitFor(t, func() bool { return m.State() == StateFailed }, "StateFailed")

	m.Connect()
	waitFor(t, func() bool { return m.State() == StateConnected }, "StateConnected after reset")
	if m.Attempts() != 0 {
		t.Errorf("attempts should reset, got %d", m.Attempts())
	}
}

func TestManager_DropTriggersReconnect(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(testConfig(), tr, NewValidator(testGroups))
	defer m.Close()

	var mu sync.Mutex
	var reasons []string
	var states []State
	m.Events().OnDisconnected(func(reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})
	m.Events().OnStatusChanged(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.Connect()
	waitFor(t, func() bool { return m.State() == StateConnected }, "initial connect")

	tr.readErrs <- errors.New("peer reset")
	waitFor(t, func() bool {
		return m.State() == StateConnected && tr.dialCount() == 2
	}, "reconnect after drop")

	mu.Lock()
	defer mu.Unlock()
	if len(reasons) == 0 || reasons[0] != "peer reset" {
		t.Errorf("expected disconnected(peer reset) event, got %v", reasons)
	}
	sawReconnecting := false
	for _, s := range states {
		if s == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Errorf("expected a Reconnecting transition, states: %v", states)
	}
}

func TestManager_ManualDisconnectSuppressesRetry(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(testConfig(), tr, NewValidator(testGroups))
	defer m.Close()

	m.Connect()
	waitFor(t, func() bool { return m.State() == StateConnected }, "connect")

	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Fatalf("expected StateDisconnected, got %v", m.State())
	}

	// A read error after manual disconnect must not trigger a redial.
	tr.readErrs <- errors.New("late error")
	time.Sleep(20 * time.Millisecond)

	if got := tr.dialCount(); got != 1 {
		t.Errorf("manual disconnect must suppress auto-retry, dials=%d", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected StateDisconnected, got %v", m.State())
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()

	var calls int
	unsub := bus.OnStatusChanged(func(State) { calls++ })

	bus.emitStatus(StateConnecting)
	unsub()
	bus.emitStatus(StateConnected)

	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateFailed:       "failed",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
