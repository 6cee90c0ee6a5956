package conn

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// Transport is the external collaborator delivering raw packet payloads.
// Production uses a WebSocket; tests use a scripted fake.
type Transport interface {
	// Dial establishes the connection. Each call starts a fresh session.
	Dial(ctx context.Context) error

	// ReadMessage blocks for the next payload. Returns an error when the
	// connection drops or is closed.
	ReadMessage() ([]byte, error)

	// Close tears down the current session.
	Close() error
}

// WSTransport is the gorilla/websocket Transport implementation with
// ping/pong keepalive.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewWSTransport creates a WebSocket transport for the given URL.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
}

func (t *WSTransport) Dial(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetPongHandler(func(string) error { return nil })

	t.mu.Lock()
	if t.done != nil {
		close(t.done)
	}
	t.conn = conn
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.heartbeatLoop(conn, done)
	return nil
}

func (t *WSTransport) ReadMessage() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, websocket.ErrCloseSent
	}
	_, data, err := conn.ReadMessage()
	return data, err
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	return conn.Close()
}

func (t *WSTransport) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			if err != nil {
				return
			}
		}
	}
}
