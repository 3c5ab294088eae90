package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-client/internal/config"
	"github.com/DoyleJ11/quiz-client/internal/hub"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
	"github.com/DoyleJ11/quiz-client/internal/ratelimit"
)

var (
	ErrClosed        = errors.New("connection manager closed")
	ErrAlreadyActive = errors.New("connection already active")
	ErrNotConnected  = errors.New("not connected")
	// ErrRateLimited reports a message the limiter dropped. Nothing was
	// queued; callers that staged local state for it should roll it back.
	ErrRateLimited = errors.New("rate limited")
)

type Config struct {
	MaxAttempts      int
	Backoff          Backoff
	RateMax          int
	RateWindow       time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	StableAfter      time.Duration
	OutboxSize       int
	SubscriberBuffer int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:      config.MaxReconnectAttempts,
		Backoff:          Backoff{Base: config.BackoffBase, Max: config.BackoffMax},
		RateMax:          config.MaxMessagesPerWindow,
		RateWindow:       config.RateLimitWindow,
		WriteTimeout:     config.WriteTimeout,
		PingInterval:     config.PingInterval,
		StableAfter:      config.StableAfter,
		OutboxSize:       config.OutboxSize,
		SubscriberBuffer: config.SubscriberBuffer,
	}
}

// Delivery is one item of the ordered feed: status changes and inbound
// messages interleaved exactly as the manager observed them.
type Delivery interface{ isDelivery() }

type StatusChanged struct {
	From Status
	To   Status
}

type Received struct {
	Msg protocol.ServerMessage
}

func (StatusChanged) isDelivery() {}
func (Received) isDelivery()      {}

// outFrame is an encoded message tagged with the Connect that queued it.
type outFrame struct {
	epoch uint64
	data  []byte
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithLimiter replaces the limiter built from Config.RateMax/RateWindow.
func WithLimiter(l *ratelimit.Limiter) Option { return func(m *Manager) { m.limiter = l } }

// WithSleep replaces the backoff wait. It must return ctx.Err() when ctx
// ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// Manager owns one logical connection per player session. A single run
// goroutine holds the socket: it is the only writer and it starts the only
// reader, so frames are never interleaved.
type Manager struct {
	cfg     Config
	dialer  Dialer
	limiter *ratelimit.Limiter
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	messages *hub.Hub[protocol.ServerMessage]
	statuses *hub.Hub[Status]
	feed     *hub.Hub[Delivery]

	outbox chan outFrame

	mu       sync.Mutex
	status   Status
	epoch    uint64
	playerID string
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

func NewManager(dialer Dialer, cfg Config, opts ...Option) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.OutboxSize < 1 {
		cfg.OutboxSize = config.OutboxSize
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = config.SubscriberBuffer
	}

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		log:    zap.NewNop(),
		sleep:  sleepCtx,
		outbox: make(chan outFrame, cfg.OutboxSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.limiter == nil {
		m.limiter = ratelimit.New(cfg.RateMax, cfg.RateWindow)
	}

	ctx := context.Background()
	buf := hub.WithBuffer(cfg.SubscriberBuffer)
	m.messages = hub.New[protocol.ServerMessage](ctx, "messages", buf, hub.WithLogger(m.log))
	m.statuses = hub.New[Status](ctx, "status", buf, hub.WithReplay(), hub.WithLogger(m.log))
	m.feed = hub.New[Delivery](ctx, "feed", buf, hub.WithLogger(m.log))
	m.statuses.Publish(m.status)
	return m
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ObserveMessages subscribes to decoded server messages from now on.
// Messages that arrive while the caller is not subscribed, or while the
// socket is down, are not replayed.
func (m *Manager) ObserveMessages() (<-chan protocol.ServerMessage, func()) {
	return m.messages.Subscribe()
}

// ObserveStatus subscribes to status changes, starting with the current one.
func (m *Manager) ObserveStatus() (<-chan Status, func()) {
	return m.statuses.Subscribe()
}

// Feed subscribes to status changes and messages in a single ordered stream.
func (m *Manager) Feed() (<-chan Delivery, func()) {
	return m.feed.Subscribe()
}

// Connect opens the socket for playerID. It returns once the first dial has
// finished; if that dial fails the reconnect protocol takes over in the
// background and the outcome is visible on the status stream. Connect is
// also how a caller leaves Failed; the new socket then announces the player
// first, as any reconnect does.
func (m *Manager) Connect(ctx context.Context, playerID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	// a run that reached Failed is on its way out and owns nothing
	if m.done != nil && m.status.Phase != Failed {
		select {
		case <-m.done:
		default:
			m.mu.Unlock()
			return ErrAlreadyActive
		}
	}
	recovering := m.status.Phase == Failed
	if recovering {
		m.transitionLocked(context.Background(), Reset)
	}
	if m.cancel != nil {
		m.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.epoch++
	epoch := m.epoch
	m.drainOutbox()
	m.playerID = playerID
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	log := m.log.With(zap.String("player", playerID))
	var hello []byte
	if recovering {
		hello = helloFrame(playerID, log)
	}
	c, err := m.dialer.Dial(ctx, playerID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if runCtx.Err() != nil {
		// Disconnect raced us
		if c != nil {
			_ = c.Close()
		}
		close(done)
		return context.Canceled
	}
	if err != nil && ctx.Err() != nil {
		cancel()
		close(done)
		m.cancel, m.done = nil, nil
		return ctx.Err()
	}

	if err != nil {
		log.Warn("initial dial failed", zap.Error(err))
		m.transitionLocked(runCtx, Lost)
		go m.run(runCtx, epoch, nil, nil, done)
		return nil
	}

	log.Info("connected", zap.Bool("recovering", recovering))
	m.transitionLocked(runCtx, Opened)
	go m.run(runCtx, epoch, c, hello, done)
	return nil
}

// Send queues msg for the writer. A message denied by the rate limiter is
// dropped with ErrRateLimited; nothing is retried. While the socket is being
// re-established messages wait in the outbox; Send blocks only when the
// outbox is full.
func (m *Manager) Send(ctx context.Context, msg protocol.ClientMessage) error {
	data, err := protocol.EncodeClient(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.status.Phase == Idle || m.status.Phase == Failed {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if !m.limiter.TryAcquire() {
		m.mu.Unlock()
		m.log.Debug("rate limited, dropping message", zap.String("type", string(msg.ClientType())))
		return ErrRateLimited
	}
	frame := outFrame{epoch: m.epoch, data: data}
	select {
	case m.outbox <- frame:
		m.mu.Unlock()
		return nil
	default:
	}
	m.mu.Unlock()

	// outbox full: wait for the writer. If a Disconnect lands meanwhile the
	// frame carries a dead epoch and the next run skips it.
	select {
	case m.outbox <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect cancels any backoff wait, closes the socket and moves to Idle.
// Queued messages are discarded.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel, m.done = nil, nil
	m.drainOutbox()
	if m.status.Phase != Idle {
		m.transitionLocked(context.Background(), Reset)
		m.log.Info("disconnected by caller")
	}
}

// Close disconnects and ends every subscription.
func (m *Manager) Close() error {
	m.Disconnect()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.messages.Close()
	m.statuses.Close()
	m.feed.Close()
	return nil
}

func (m *Manager) run(ctx context.Context, epoch uint64, c Conn, hello []byte, done chan struct{}) {
	defer close(done)
	playerID := m.playerIDSnapshot()
	log := m.log.With(zap.String("player", playerID))

	// attempt that opened the current socket; 0 for the one Connect dialed
	attempt, spent := 0, 0
	for {
		if c == nil {
			var ok bool
			c, attempt, ok = m.reconnect(ctx, log, spent)
			if !ok {
				return
			}
			hello = helloFrame(playerID, log)
		}

		healthy, err := m.serve(ctx, epoch, c, hello)
		c, hello = nil, nil
		if ctx.Err() != nil {
			return
		}
		if healthy {
			spent = 0
		} else {
			spent = attempt
		}
		log.Warn("connection lost", zap.Error(err), zap.Bool("healthy", healthy), zap.Int("spent", spent))
		if _, ok := m.transition(ctx, Lost); !ok {
			return
		}
	}
}

// reconnect dials until a socket opens or the attempts run out. spent
// attempts are already used up by sockets that died before proving healthy.
func (m *Manager) reconnect(ctx context.Context, log *zap.Logger, spent int) (Conn, int, bool) {
	st, ok := m.move(ctx, func(s Status) (Status, error) {
		return Resume(s, spent, m.cfg.MaxAttempts)
	})
	if !ok {
		return nil, 0, false
	}
	if st.Phase == Failed {
		log.Error("giving up, connection keeps dropping", zap.Int("max", m.cfg.MaxAttempts))
		return nil, 0, false
	}

	for {
		delay := m.cfg.Backoff.Delay(st.Attempt)
		log.Info("reconnecting", zap.Int("attempt", st.Attempt), zap.Duration("backoff", delay))
		if err := m.sleep(ctx, delay); err != nil {
			return nil, 0, false
		}

		c, err := m.dialer.Dial(ctx, m.playerIDSnapshot())
		if err == nil {
			if _, ok := m.transition(ctx, Opened); !ok {
				_ = c.Close()
				return nil, 0, false
			}
			log.Info("reconnected", zap.Int("attempt", st.Attempt))
			return c, st.Attempt, true
		}
		if ctx.Err() != nil {
			return nil, 0, false
		}

		log.Warn("reconnect attempt failed", zap.Int("attempt", st.Attempt), zap.Error(err))
		st, ok = m.transition(ctx, AttemptFailed)
		if !ok {
			return nil, 0, false
		}
		if st.Phase == Failed {
			log.Error("giving up after reconnect attempts", zap.Int("max", m.cfg.MaxAttempts))
			return nil, 0, false
		}
	}
}

// helloFrame is the seat-restore announcement written before anything else
// on a re-established socket. It bypasses the rate limiter.
func helloFrame(playerID string, log *zap.Logger) []byte {
	data, err := protocol.EncodeClient(protocol.ReconnectPlayer{PlayerID: playerID})
	if err != nil {
		log.Error("encode reconnect announcement", zap.Error(err))
		return nil
	}
	return data
}

// serve pumps one socket until it fails or ctx ends. The socket was healthy
// if the server spoke on it or it stayed up for StableAfter.
func (m *Manager) serve(ctx context.Context, epoch uint64, c Conn, hello []byte) (healthy bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	var heard atomic.Bool
	opened := time.Now()
	readErr := make(chan error, 1)
	go func() { readErr <- m.readLoop(ctx, c, &heard) }()
	defer func() {
		cancel()
		_ = c.Close()
		<-readErr
		healthy = heard.Load() || (m.cfg.StableAfter > 0 && time.Since(opened) >= m.cfg.StableAfter)
	}()

	return false, m.pump(ctx, epoch, c, hello, readErr)
}

func (m *Manager) pump(ctx context.Context, epoch uint64, c Conn, hello []byte, readErr chan error) error {
	if hello != nil {
		if err := m.write(ctx, c, hello); err != nil {
			return err
		}
	}

	var pings <-chan time.Time
	if m.cfg.PingInterval > 0 {
		t := time.NewTicker(m.cfg.PingInterval)
		defer t.Stop()
		pings = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			// put it back for the deferred wait
			readErr <- err
			return err

		case frame := <-m.outbox:
			if frame.epoch != epoch {
				m.log.Debug("skipping frame queued before the last disconnect")
				continue
			}
			if err := m.write(ctx, c, frame.data); err != nil {
				return err
			}

		case <-pings:
			pctx, pcancel := context.WithTimeout(ctx, m.writeTimeout())
			err := c.Ping(pctx)
			pcancel()
			if err != nil {
				return &TransportError{Op: "ping", Err: err}
			}
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, c Conn, heard *atomic.Bool) error {
	for {
		data, err := c.Read(ctx)
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		heard.Store(true)

		msg, err := protocol.DecodeServer(data)
		if err != nil {
			m.log.Warn("dropping undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		m.messages.Publish(msg)
		m.feed.Publish(Received{Msg: msg})
	}
}

func (m *Manager) write(ctx context.Context, c Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, m.writeTimeout())
	defer cancel()
	if err := c.Write(wctx, frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (m *Manager) writeTimeout() time.Duration {
	if m.cfg.WriteTimeout > 0 {
		return m.cfg.WriteTimeout
	}
	return config.WriteTimeout
}

func (m *Manager) transition(ctx context.Context, t Trigger) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ctx, t)
}

func (m *Manager) move(ctx context.Context, step func(Status) (Status, error)) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(ctx, step)
}

func (m *Manager) transitionLocked(ctx context.Context, t Trigger) (Status, bool) {
	return m.moveLocked(ctx, func(s Status) (Status, error) {
		return Next(s, t, m.cfg.MaxAttempts)
	})
}

// moveLocked applies step unless ctx is already cancelled, in which case
// a Disconnect is in flight and owns the next status.
func (m *Manager) moveLocked(ctx context.Context, step func(Status) (Status, error)) (Status, bool) {
	if ctx.Err() != nil {
		return m.status, false
	}
	next, err := step(m.status)
	if err != nil {
		m.log.Error("status transition rejected", zap.Error(err))
		return m.status, false
	}
	from := m.status
	m.status = next
	if next.Phase == Failed {
		m.drainOutbox()
	}
	m.statuses.Publish(next)
	m.feed.Publish(StatusChanged{From: from, To: next})
	m.log.Debug("status", zap.Stringer("from", from), zap.Stringer("to", next))
	return next, true
}

func (m *Manager) playerIDSnapshot() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playerID
}

func (m *Manager) drainOutbox() {
	for {
		select {
		case <-m.outbox:
		default:
			return
		}
	}
}
