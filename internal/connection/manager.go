package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/vehicle-sync/internal/auth"
	"github.com/rickgao/vehicle-sync/internal/metrics"
	"github.com/rickgao/vehicle-sync/internal/model"
	"github.com/rickgao/vehicle-sync/internal/version"
)

// Manager owns the push channel: connect, heartbeat, reconnect with
// backoff, and the outbound queue used while not connected.
type Manager interface {
	// Connect starts connecting in the background. It is a no-op when the
	// credential provider is not authenticated or a session is already
	// running. ctx bounds the lifetime of the whole session.
	Connect(ctx context.Context)

	// Disconnect closes the channel, stops heartbeat and reconnects, clears
	// the outbound queue and runs the disconnect hooks.
	Disconnect()

	// Send transmits env if connected, otherwise queues it. It only fails
	// when env cannot be encoded.
	Send(env model.Envelope) error

	// Messages returns the channel of inbound frames for the Message Router.
	Messages() <-chan RawMessage

	State() State
	Attempts() int

	// Unavailable reports that automatic reconnects are exhausted.
	Unavailable() bool

	// OnStateChange registers fn to run after every state transition.
	OnStateChange(fn func(from, to State))

	// OnDisconnect registers fn to run after an explicit Disconnect.
	OnDisconnect(fn func())

	Stats() ManagerStats
}

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *manager) { m.dial = d }
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) ManagerOption {
	return func(m *manager) { m.sleep = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *manager) { m.now = now }
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	creds  auth.Provider
	logger *slog.Logger
	dial   Dialer
	sleep  Sleeper
	now    func() time.Time

	// Output to Message Router
	messages chan RawMessage

	// sendMu orders Send against the flush on connect.
	sendMu sync.Mutex

	mu          sync.Mutex
	state       State
	attempts    int
	unavailable bool
	client      Client
	queue       [][]byte
	cancel      context.CancelFunc
	done        chan struct{}
	baseCtx     context.Context
	connectedAt time.Time
	lastErr     string

	listenersMu  sync.RWMutex
	stateFns     []func(from, to State)
	disconnectFn []func()

	dropped    atomic.Int64
	sent       atomic.Int64
	received   atomic.Int64
	reconnects atomic.Int64
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, creds auth.Provider, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultManagerConfig()
	if cfg.TokenParam == "" {
		cfg.TokenParam = defaults.TokenParam
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = defaults.MessageBufferSize
	}

	m := &manager{
		cfg:      cfg,
		creds:    creds,
		logger:   logger.With("component", "connection"),
		sleep:    sleepCtx,
		now:      time.Now,
		messages: make(chan RawMessage, cfg.MessageBufferSize),
		state:    StateDisconnected,
	}
	m.dial = func(ctx context.Context, ccfg ClientConfig) (Client, error) {
		c := NewClient(ccfg, m.logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts a connection session.
func (m *manager) Connect(ctx context.Context) {
	if m.creds == nil || !m.creds.IsAuthenticated() {
		m.logger.Info("connect skipped, not authenticated")
		return
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	// Wait for a previous session's goroutine to finish its cleanup.
	prev := m.done
	m.mu.Unlock()
	if prev != nil {
		<-prev
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.baseCtx = ctx
	m.cancel = cancel
	m.done = make(chan struct{})
	m.attempts = 0
	wasUnavailable := m.unavailable
	m.unavailable = false
	done := m.done
	m.mu.Unlock()

	if wasUnavailable {
		metrics.SetUnavailable(false)
	}
	m.setState(StateConnecting)

	go m.run(runCtx, done)
}

// Disconnect closes the session.
func (m *manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		m.setState(StateClosing)
		cancel()
		<-done
	}

	m.mu.Lock()
	n := len(m.queue)
	m.queue = nil
	m.mu.Unlock()
	metrics.OutboundQueueDepth.Set(0)

	m.setState(StateDisconnected)

	if n > 0 {
		m.logger.Info("outbound queue cleared", "discarded", n)
	}

	m.listenersMu.RLock()
	hooks := append([]func(){}, m.disconnectFn...)
	m.listenersMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}

	m.logger.Info("disconnected")
}

// Send transmits or queues an envelope.
func (m *manager) Send(env model.Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	m.sendMu.Lock()
	m.mu.Lock()
	state := m.state
	client := m.client
	m.mu.Unlock()

	if state == StateConnected && client != nil {
		err := client.Send(data)
		if err == nil {
			m.sendMu.Unlock()
			m.sent.Add(1)
			metrics.MessagesSent.WithLabelValues(env.Type).Inc()
			return nil
		}
		// The serve loop will observe the broken socket and reconnect.
		m.logger.Debug("send failed, queueing", "type", env.Type, "error", err)
	}

	m.mu.Lock()
	m.enqueueLocked(data)
	ctx := m.baseCtx
	m.mu.Unlock()
	m.sendMu.Unlock()

	if state == StateDisconnected {
		if ctx == nil {
			ctx = context.Background()
		}
		m.Connect(ctx)
	}
	return nil
}

// enqueueLocked appends data, dropping the oldest message when full.
// Caller holds m.mu.
func (m *manager) enqueueLocked(data []byte) {
	if len(m.queue) >= m.cfg.QueueSize {
		m.queue = m.queue[1:]
		m.dropped.Add(1)
		metrics.OutboundDropped.Inc()
		m.logger.Warn("outbound queue full, dropped oldest message", "size", m.cfg.QueueSize)
	}
	m.queue = append(m.queue, data)
	metrics.OutboundQueueDepth.Set(float64(len(m.queue)))
}

// Messages returns the output channel for the Message Router.
func (m *manager) Messages() <-chan RawMessage {
	return m.messages
}

func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *manager) Unavailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unavailable
}

func (m *manager) OnStateChange(fn func(from, to State)) {
	m.listenersMu.Lock()
	m.stateFns = append(m.stateFns, fn)
	m.listenersMu.Unlock()
}

func (m *manager) OnDisconnect(fn func()) {
	m.listenersMu.Lock()
	m.disconnectFn = append(m.disconnectFn, fn)
	m.listenersMu.Unlock()
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:       m.state,
		Attempts:    m.attempts,
		Unavailable: m.unavailable,
		Queued:      len(m.queue),
		Dropped:     m.dropped.Load(),
		Sent:        m.sent.Load(),
		Received:    m.received.Load(),
		Reconnects:  m.reconnects.Load(),
		ConnectedAt: m.connectedAt,
		LastError:   m.lastErr,
	}
}

// setState moves to the given state and notifies listeners. Once Closing,
// the only allowed transition is to Disconnected.
func (m *manager) setState(to State) bool {
	m.mu.Lock()
	from := m.state
	if from == to || (from == StateClosing && to != StateDisconnected) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	metrics.RecordTransition(from.String(), to.String(), int(to))
	m.logger.Debug("state change", "from", from, "to", to)

	m.listenersMu.RLock()
	fns := append([]func(from, to State){}, m.stateFns...)
	m.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(from, to)
	}
	return true
}

// run is the session loop: dial, serve until the socket breaks, back off,
// and dial again until attempts are exhausted or ctx is cancelled.
func (m *manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.endSession()

	for {
		client, err := m.open(ctx)
		if ctx.Err() != nil {
			if client != nil {
				client.Close()
			}
			return
		}

		if err != nil {
			m.recordError(err)
			var hsErr *HandshakeError
			if errors.As(err, &hsErr) && hsErr.Unauthorized() {
				m.logger.Warn("push channel rejected credential", "status", hsErr.Status)
			} else {
				m.logger.Warn("connect failed", "error", err)
			}
		} else {
			if !m.onConnected(client) {
				client.Close()
				return
			}
			err = m.serve(ctx, client)
			m.detach(client)
			if ctx.Err() != nil {
				return
			}
			m.recordError(err)
			m.logger.Warn("connection lost", "error", err)
		}

		delay, err := m.nextAttempt()
		if errors.Is(err, errClosing) {
			return
		}
		if err != nil {
			m.mu.Lock()
			m.unavailable = true
			cancel := m.cancel
			m.cancel = nil
			m.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			metrics.SetUnavailable(true)
			m.setState(StateDisconnected)
			m.logger.Error("reconnect attempts exhausted, channel unavailable",
				"max_attempts", m.cfg.MaxAttempts,
			)
			return
		}

		if err := m.sleep(ctx, delay); err != nil {
			return
		}
		if !m.setState(StateConnecting) {
			return
		}
	}
}

// endSession returns to Disconnected when the session context was cancelled
// by its parent. Disconnect and attempt exhaustion clear m.cancel before the
// loop exits and own the transition themselves.
func (m *manager) endSession() {
	m.mu.Lock()
	cancel := m.cancel
	if cancel == nil {
		m.mu.Unlock()
		return
	}
	m.cancel = nil
	m.client = nil
	// A Send that reopens the channel must not inherit the dead context.
	m.baseCtx = nil
	m.mu.Unlock()

	cancel()
	m.setState(StateDisconnected)
	m.logger.Info("session context ended, disconnected")
}

// open derives a fresh credential and dials.
func (m *manager) open(ctx context.Context) (Client, error) {
	if !m.creds.IsAuthenticated() {
		return nil, ErrNoCredential
	}
	token, err := m.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("derive token: %w", err)
	}
	if token == "" {
		return nil, ErrNoCredential
	}

	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	q.Set(m.cfg.TokenParam, token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	return m.dial(ctx, ClientConfig{
		URL:              u.String(),
		Header:           header,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.MessageBufferSize,
	})
}

var (
	errAttemptsExhausted = errors.New("reconnect attempts exhausted")
	errClosing           = errors.New("session closing")
)

// nextAttempt increments the attempt counter and returns the backoff delay.
// It returns errClosing while Disconnect is in progress and
// errAttemptsExhausted once MaxAttempts is reached.
func (m *manager) nextAttempt() (time.Duration, error) {
	m.mu.Lock()
	if m.state == StateClosing {
		m.mu.Unlock()
		return 0, errClosing
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.mu.Unlock()
		return 0, errAttemptsExhausted
	}
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	if !m.setState(StateReconnecting) {
		return 0, errClosing
	}

	delay := min(Backoff(m.cfg.BaseDelay, attempt), m.cfg.MaxDelay)
	m.reconnects.Add(1)
	metrics.ReconnectAttempts.Inc()
	m.logger.Info("reconnecting",
		"attempt", attempt,
		"max_attempts", m.cfg.MaxAttempts,
		"delay", delay,
	)
	return delay, nil
}

// Backoff returns base * 2^(attempt-1), saturating at the largest
// representable duration.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift >= 63 || base > time.Duration(math.MaxInt64>>shift) {
		return time.Duration(math.MaxInt64)
	}
	return base << shift
}

// onConnected installs client, resets the attempt counter, and flushes the
// outbound queue in order before any new Send can go direct.
func (m *manager) onConnected(client Client) bool {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.state == StateClosing {
		m.mu.Unlock()
		return false
	}
	m.client = client
	m.attempts = 0
	m.connectedAt = m.now()
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	for i, data := range queued {
		if err := client.Send(data); err != nil {
			m.mu.Lock()
			m.queue = append(append([][]byte{}, queued[i:]...), m.queue...)
			m.mu.Unlock()
			m.logger.Warn("flush interrupted", "remaining", len(queued)-i, "error", err)
			break
		}
		m.sent.Add(1)
	}

	m.mu.Lock()
	depth := len(m.queue)
	m.mu.Unlock()
	metrics.OutboundQueueDepth.Set(float64(depth))

	if len(queued) > 0 {
		m.logger.Info("outbound queue flushed", "messages", len(queued)-depth)
	}

	m.logger.Info("connected")
	return m.setState(StateConnected)
}

// detach drops the current client after the socket is gone.
func (m *manager) detach(client Client) {
	m.sendMu.Lock()
	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()
	m.sendMu.Unlock()
	client.Close()
}

// serve forwards inbound frames and runs the heartbeat until the socket
// fails or ctx is cancelled.
func (m *manager) serve(ctx context.Context, client Client) error {
	hbCtx, stop := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.heartbeatLoop(hbCtx, client)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-client.Messages():
			m.forward(ctx, msg)
		case err := <-client.Errors():
			m.drain(ctx, client)
			return err
		}
	}
}

// drain delivers frames that arrived before the socket broke.
func (m *manager) drain(ctx context.Context, client Client) {
	for {
		select {
		case msg := <-client.Messages():
			m.forward(ctx, msg)
		default:
			return
		}
	}
}

func (m *manager) forward(ctx context.Context, msg TimestampedMessage) {
	m.received.Add(1)
	metrics.FramesReceived.Inc()

	select {
	case m.messages <- RawMessage{Data: msg.Data, ReceivedAt: msg.ReceivedAt}:
	case <-ctx.Done():
	default:
		metrics.FramesDropped.WithLabelValues("buffer_full").Inc()
		m.logger.Warn("message buffer full, dropping")
	}
}

// heartbeatLoop sends a ping envelope every HeartbeatInterval.
// Liveness comes from the socket's own close and error events.
func (m *manager) heartbeatLoop(ctx context.Context, client Client) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, err := model.NewEnvelope(model.EventPing, nil, m.now())
			if err != nil {
				continue
			}
			data, err := env.Marshal()
			if err != nil {
				continue
			}
			if err := client.Send(data); err != nil {
				m.logger.Debug("failed to send ping", "error", err)
				continue
			}
			metrics.MessagesSent.WithLabelValues(model.EventPing).Inc()
		}
	}
}

func (m *manager) recordError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}
