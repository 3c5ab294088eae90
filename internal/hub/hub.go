package hub

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub fans every published value out to all current subscribers. One
// goroutine owns the subscriber set; everything else talks to it through
// the inbox, so publish order is delivery order.
type Hub[T any] struct {
	name    string
	inbox   chan hubMsg
	subs    map[string]chan T
	latest  *T
	replay  bool
	buffer  int
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

type hubMsg interface{ isHubMsg() }

type subscribe[T any] struct {
	id    string
	out   chan T
	reply chan struct{}
}

type unsubscribe struct{ id string }

type publish[T any] struct{ v T }

type count struct{ reply chan int }

func (subscribe[T]) isHubMsg() {}
func (unsubscribe) isHubMsg()  {}
func (publish[T]) isHubMsg()   {}
func (count) isHubMsg()        {}

type Option func(*options)

type options struct {
	replay bool
	buffer int
	log    *zap.Logger
}

// WithReplay hands the most recent value to each new subscriber.
func WithReplay() Option { return func(o *options) { o.replay = true } }

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option { return func(o *options) { o.buffer = n } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func New[T any](parent context.Context, name string, opts ...Option) *Hub[T] {
	o := options{buffer: 32, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer < 1 {
		o.buffer = 1
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Hub[T]{
		name:    name,
		inbox:   make(chan hubMsg, 64),
		subs:    make(map[string]chan T),
		replay:  o.replay,
		buffer:  o.buffer,
		log:     o.log.With(zap.String("hub", name)),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub[T]) loop() {
	defer close(h.stopped)
	for {
		select {
		case <-h.ctx.Done():
			for id, ch := range h.subs {
				close(ch)
				delete(h.subs, id)
			}
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case subscribe[T]:
				h.subs[msg.id] = msg.out
				if h.replay && h.latest != nil {
					msg.out <- *h.latest
				}
				close(msg.reply)

			case unsubscribe:
				if ch, ok := h.subs[msg.id]; ok {
					close(ch)
					delete(h.subs, msg.id)
				}

			case publish[T]:
				v := msg.v
				h.latest = &v
				h.broadcast(v)

			case count:
				msg.reply <- len(h.subs)
			}
		}
	}
}

func (h *Hub[T]) broadcast(v T) {
	for id, ch := range h.subs {
		select {
		case ch <- v:
		default:
			// Subscriber is slow/full - drop it.
			h.log.Warn("dropping slow subscriber", zap.String("subscriber", id))
			close(ch)
			delete(h.subs, id)
		}
	}
}

// Subscribe registers a new subscriber and returns once it is live, so it
// sees every value published after the call returns. The channel closes on
// cancel, on Close, or when the subscriber falls too far behind.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	id := uuid.NewString()
	out := make(chan T, h.buffer)
	reply := make(chan struct{})

	select {
	case h.inbox <- subscribe[T]{id: id, out: out, reply: reply}:
	case <-h.ctx.Done():
		close(out)
		return out, func() {}
	}
	select {
	case <-reply:
	case <-h.stopped:
		select {
		case <-reply:
		default:
			// never registered, nobody else will close it
			close(out)
		}
	}

	return out, func() {
		select {
		case h.inbox <- unsubscribe{id: id}:
		case <-h.ctx.Done():
		}
	}
}

// Publish queues v for every subscriber. It is a no-op after Close.
func (h *Hub[T]) Publish(v T) {
	select {
	case h.inbox <- publish[T]{v: v}:
	case <-h.ctx.Done():
	}
}

// Count reports the number of live subscribers.
func (h *Hub[T]) Count() int {
	reply := make(chan int, 1)
	select {
	case h.inbox <- count{reply: reply}:
	case <-h.ctx.Done():
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.stopped:
		return 0
	}
}

// Close stops the hub and closes all subscriber channels.
func (h *Hub[T]) Close() {
	h.cancel()
	<-h.stopped
}
