package connection

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrNoCredential  = errors.New("no credential available")
)

// State is the push channel lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a message from the Manager to the Message Router.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full push channel URL, credential included
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
	ReadLimit        int64         // Largest accepted inbound frame in bytes
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
		ReadLimit:        1 << 20,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	URL               string        // Push channel URL without credential
	TokenParam        string        // Query parameter carrying the credential
	BaseDelay         time.Duration // Reconnect delay for the first attempt
	MaxAttempts       int           // Automatic reconnect attempts before giving up
	MaxDelay          time.Duration // Upper bound on a single reconnect delay
	HeartbeatInterval time.Duration // Ping envelope period while connected
	QueueSize         int           // Outbound queue bound while not connected
	MessageBufferSize int           // Buffer size for the inbound message channel
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TokenParam:        "token",
		BaseDelay:         1 * time.Second,
		MaxAttempts:       5,
		MaxDelay:          time.Minute,
		HeartbeatInterval: 30 * time.Second,
		QueueSize:         256,
		MessageBufferSize: 4096,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Dialer opens a connected Client for url.
type Dialer func(ctx context.Context, cfg ClientConfig) (Client, error)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ManagerStats is a point-in-time view of the Manager.
type ManagerStats struct {
	State       State
	Attempts    int
	Unavailable bool
	Queued      int
	Dropped     int64
	Sent        int64
	Received    int64
	Reconnects  int64
	ConnectedAt time.Time
	LastError   string
}

// sleepCtx is the default Sleeper.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
