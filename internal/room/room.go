package room

import (
	"context"
	"errors"
	"reflect"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-client/internal/conn"
	"github.com/DoyleJ11/quiz-client/internal/config"
	"github.com/DoyleJ11/quiz-client/internal/engine"
	"github.com/DoyleJ11/quiz-client/internal/hub"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
)

type Msg interface{ isRoomMsg() }

type FromServer struct {
	Msg protocol.ServerMessage
}

func (FromServer) isRoomMsg() {}

type StatusChanged struct {
	From conn.Status
	To   conn.Status
}

func (StatusChanged) isRoomMsg() {}

type AssumeAnswer struct {
	Index int
}

func (AssumeAnswer) isRoomMsg() {}

// Resync makes the next RoomUpdate authoritative, for when messages may
// have been missed.
type Resync struct{}

func (Resync) isRoomMsg() {}

// WithdrawAnswer drops the pending answer after a failed send.
type WithdrawAnswer struct{}

func (WithdrawAnswer) isRoomMsg() {}

// Reset forgets the current room, e.g. when the player leaves.
type Reset struct{}

func (Reset) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan Snapshot
}

func (GetState) isRoomMsg() {}

// Snapshot is a published, versioned copy of the room state. Receivers may
// keep it; the room never touches a value after publishing it.
type Snapshot struct {
	Version int
	State   engine.State
}

// Notice is something the player should be told about: a server error, a
// rejected join, a round or game result.
type Notice struct {
	engine.Event
}

// Room owns the single room state and is the only code that changes it.
type Room struct {
	inbox    chan Msg
	state    engine.State
	version  int
	lapsed   bool // the connection gave up since the last Connected
	snaps    *hub.Hub[Snapshot]
	notices  *hub.Hub[Notice]
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

func New(parent context.Context, self string, log *zap.Logger) *Room {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		inbox:    make(chan Msg, config.RoomInboxSize),
		state:    engine.NewState(self),
		snaps:    hub.New[Snapshot](ctx, "snapshots", hub.WithReplay(), hub.WithBuffer(config.SubscriberBuffer), hub.WithLogger(log)),
		notices:  hub.New[Notice](ctx, "notices", hub.WithBuffer(config.SubscriberBuffer), hub.WithLogger(log)),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	r.snaps.Publish(Snapshot{Version: 0, State: r.state.Clone()})

	go r.loop()
	return r
}

func (r *Room) loop() {
	defer close(r.finished)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case FromServer:
				r.applyServer(msg.Msg)

			case StatusChanged:
				// Back from a drop, or connected again after Failed: the
				// next RoomUpdate is the truth.
				switch msg.To.Phase {
				case conn.Failed:
					r.lapsed = true
				case conn.Connected:
					if msg.From.Phase == conn.Reconnecting || r.lapsed {
						r.commitIfChanged(engine.BeginResync(r.state))
					}
					r.lapsed = false
				}

			case Resync:
				r.commitIfChanged(engine.BeginResync(r.state))

			case WithdrawAnswer:
				r.commitIfChanged(engine.WithdrawAnswer(r.state))

			case AssumeAnswer:
				next, err := engine.AssumeAnswer(r.state, msg.Index)
				if err != nil {
					r.log.Debug("answer without a live room", zap.Error(err))
					break
				}
				r.commit(next)

			case Reset:
				r.lapsed = false
				r.commit(engine.NewState(r.state.Self))

			case GetState:
				msg.Reply <- Snapshot{Version: r.version, State: r.state.Clone()}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) applyServer(m protocol.ServerMessage) {
	events, next, err := engine.Apply(r.state, m)
	switch {
	case errors.Is(err, engine.ErrStaleRoom), errors.Is(err, engine.ErrNoRoom):
		r.log.Debug("discarding message", zap.String("type", string(m.ServerType())), zap.Error(err))
		return
	case err != nil:
		r.log.Warn("cannot apply message", zap.Error(err))
		return
	}

	r.commitIfChanged(next)
	for _, e := range events {
		if e.Type == engine.EvtServerError || e.Type == engine.EvtJoinRejected {
			r.log.Info("notice", zap.String("event", string(e.Type)), zap.String("message", e.Message))
		}
		r.notices.Publish(Notice{Event: e})
	}
}

func (r *Room) commitIfChanged(next engine.State) {
	if !reflect.DeepEqual(r.state, next) {
		r.commit(next)
	}
}

func (r *Room) commit(next engine.State) {
	r.state = next
	r.version++
	r.snaps.Publish(Snapshot{Version: r.version, State: next.Clone()})
}

func (r *Room) shutdown() {
	r.snaps.Close()
	r.notices.Close()
	r.cancel()
}

// Inbox exposes the room's mailbox.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Post delivers m unless the room has already shut down.
func (r *Room) Post(m Msg) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Subscribe returns snapshots starting with the current one.
func (r *Room) Subscribe() (<-chan Snapshot, func()) { return r.snaps.Subscribe() }

func (r *Room) Notices() (<-chan Notice, func()) { return r.notices.Subscribe() }

// View asks the loop for the current snapshot.
func (r *Room) View(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case r.inbox <- GetState{Reply: reply}:
	case <-r.ctx.Done():
		return Snapshot{}, r.ctx.Err()
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.finished:
		return Snapshot{}, context.Canceled
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Done is closed once the loop has exited.
func (r *Room) Done() <-chan struct{} { return r.finished }
