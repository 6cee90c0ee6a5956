// Package conn owns the single logical connection to the data source: the
// connect/retry state machine, packet validation, and the typed event bus
// external collaborators observe.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrRetriesExhausted is surfaced through the error event when the automatic
// retry budget runs out; the manager parks in StateFailed until an explicit
// Connect call.
var ErrRetriesExhausted = errors.New("conn: retries exhausted")

// Config tunes the retry state machine. Zero values take the defaults.
type Config struct {
	BaseDelay   time.Duration // first retry delay (default 1s)
	MaxDelay    time.Duration // backoff ceiling (default 30s)
	MaxAttempts int           // automatic retries before Failed (default 10)
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	return c
}

// Manager maintains exactly one logical connection with automatic recovery.
// State transitions:
//
//	Disconnected --Connect--> Connecting
//	Connecting   --success--> Connected      (attempts reset)
//	Connecting   --failure--> Reconnecting   (attempts <= max) | Failed
//	Connected    --drop-----> Reconnecting
//	Connected    --Disconnect-> Disconnected (manual, no auto-retry)
//	Reconnecting --timer----> Connecting
//	Failed       --Connect--> Connecting     (attempts reset)
type Manager struct {
	cfg       Config
	transport Transport
	validator *Validator
	events    *EventBus

	mu          sync.Mutex
	state       State
	attempts    int
	lastErr     error
	connectedAt time.Time
	lastDataAt  time.Time
	retryTimer  *time.Timer
	manual      bool

	ctx    context.Context
	cancel context.CancelFunc

	// Metrics hooks, all optional.
	OnReconnect     func()
	OnInvalidPacket func()
	OnPacket        func()
}

// NewManager creates a Manager in StateDisconnected.
func NewManager(cfg Config, tr Transport, v *Validator) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg.withDefaults(),
		transport: tr,
		validator: v,
		events:    NewEventBus(),
		state:     StateDisconnected,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Events exposes the subscription surface.
func (m *Manager) Events() *EventBus { return m.events }

// Connect starts connecting. From Disconnected or Failed the attempt counter
// resets. No-op while already Connecting or Connected.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.stopRetryLocked()
	m.manual = false
	m.attempts = 0
	m.lastErr = nil
	m.state = StateConnecting
	m.mu.Unlock()

	m.events.emitStatus(StateConnecting)
	go m.dial()
}

// Disconnect tears the connection down manually, cancelling any pending
// retry. The manager will not reconnect until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.stopRetryLocked()
	already := m.state == StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	m.transport.Close()
	if !already {
		m.events.emitStatus(StateDisconnected)
		m.events.emitDisconnected("manual disconnect")
	}
}

// Close shuts the manager down for good.
func (m *Manager) Close() {
	m.Disconnect()
	m.cancel()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the current automatic-retry count.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ConnectedAt returns when the current connection was established.
func (m *Manager) ConnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedAt
}

// LastDataAt returns when the last valid packet arrived.
func (m *Manager) LastDataAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDataAt
}

func (m *Manager) dial() {
	err := m.transport.Dial(m.ctx)

	m.mu.Lock()
	if m.manual || m.ctx.Err() != nil {
		m.mu.Unlock()
		if err == nil {
			m.transport.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.onDialFailure(err)
		return
	}
	m.attempts = 0
	m.lastErr = nil
	m.connectedAt = time.Now()
	m.state = StateConnected
	m.mu.Unlock()

	log.Printf("[conn] connected")
	m.events.emitStatus(StateConnected)
	m.events.emitConnected()
	go m.readLoop()
}

func (m *Manager) onDialFailure(err error) {
	m.mu.Lock()
	m.attempts++
	m.lastErr = err
	k := m.attempts
	if k > m.cfg.MaxAttempts {
		m.state = StateFailed
		m.mu.Unlock()
		log.Printf("[conn] giving up after %d attempts: %v", k, err)
		m.events.emitStatus(StateFailed)
		m.events.emitError(fmt.Errorf("%w: %v", ErrRetriesExhausted, err))
		return
	}
	delay := backoffDelay(k, m.cfg.BaseDelay, m.cfg.MaxDelay)
	m.state = StateReconnecting
	m.retryTimer = time.AfterFunc(delay, m.retry)
	m.mu.Unlock()

	log.Printf("[conn] dial attempt %d failed: %v (retrying in %v)", k, err, delay)
	m.events.emitStatus(StateReconnecting)
	m.events.emitError(err)
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.manual || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if m.OnReconnect != nil {
		m.OnReconnect()
	}
	m.events.emitStatus(StateConnecting)
	m.dial()
}

func (m *Manager) readLoop() {
	for {
		data, err := m.transport.ReadMessage()
		if err != nil {
			m.onConnectionDrop(err)
			return
		}

		pkt, perr := m.validator.Parse(data)
		if perr != nil {
			// Discarded silently: logged, no retry, no state change.
			log.Printf("[conn] %v", perr)
			if m.OnInvalidPacket != nil {
				m.OnInvalidPacket()
			}
			continue
		}

		m.mu.Lock()
		m.lastDataAt = time.Now()
		m.mu.Unlock()

		if m.OnPacket != nil {
			m.OnPacket()
		}
		m.events.emitData(pkt)
	}
}

func (m *Manager) onConnectionDrop(err error) {
	m.mu.Lock()
	if m.manual || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.state = StateReconnecting
	delay := backoffDelay(m.attempts+1, m.cfg.BaseDelay, m.cfg.MaxDelay)
	m.retryTimer = time.AfterFunc(delay, m.retry)
	m.mu.Unlock()

	log.Printf("[conn] connection dropped: %v (retrying in %v)", err, delay)
	m.events.emitDisconnected(err.Error())
	m.events.emitStatus(StateReconnecting)
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// backoffDelay returns min(base * 2^(k-1), max) for the k-th attempt.
func backoffDelay(k int, base, max time.Duration) time.Duration {
	if k < 1 {
		k = 1
	}
	d := base
	for i := 1; i < k; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
