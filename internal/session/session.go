// Package session is what a presentation layer talks to: one player, one
// connection, one room view.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/quiz-client/internal/conn"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
	"github.com/DoyleJ11/quiz-client/internal/room"
	"github.com/DoyleJ11/quiz-client/internal/store"
)

var (
	ErrNoPlayer       = errors.New("no player id given or stored")
	ErrNotStarted     = errors.New("session not started")
	ErrPlayerMismatch = errors.New("session already belongs to another player")
	ErrClosed         = errors.New("session closed")
)

// feed resubscribe pause after the manager dropped the pump as too slow
const resubscribeDelay = 50 * time.Millisecond

type Option func(*Session)

func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

type Session struct {
	mgr   *conn.Manager
	store store.PlayerStore
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	playerID string
	room     *room.Room
	closed   bool
}

// New takes ownership of mgr and st; Close closes both.
func New(mgr *conn.Manager, st store.PlayerStore, opts ...Option) *Session {
	s := &Session{mgr: mgr, store: st, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.group, s.ctx = errgroup.WithContext(s.ctx)
	return s
}

// Start connects as playerID. An empty playerID resumes the stored one.
// Starting again after LeaveConnection reuses the same room view.
func (s *Session) Start(ctx context.Context, playerID string) error {
	if playerID == "" {
		stored, err := s.store.PlayerID(ctx)
		if err != nil {
			return err
		}
		playerID = stored
	}
	if playerID == "" {
		return ErrNoPlayer
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.room != nil && s.playerID != playerID {
		s.mu.Unlock()
		return ErrPlayerMismatch
	}
	if s.room == nil {
		s.playerID = playerID
		s.room = room.New(s.ctx, playerID, s.log.Named("room"))
		s.startPumps(s.room)
	}
	s.mu.Unlock()

	if err := s.store.SavePlayerID(ctx, playerID); err != nil {
		s.log.Warn("cannot remember player id", zap.Error(err))
	}
	return s.mgr.Connect(ctx, playerID)
}

func (s *Session) startPumps(r *room.Room) {
	// Subscribe before Connect so the first transition is not missed.
	feed, stop := s.mgr.Feed()
	s.group.Go(func() error { return s.pumpFeed(r, feed, stop) })

	notices, stopNotices := r.Notices()
	s.group.Go(func() error {
		defer stopNotices()
		for n := range notices {
			s.log.Info("room notice",
				zap.String("event", string(n.Type)),
				zap.String("room", n.RoomID),
				zap.String("player", n.PlayerID),
				zap.String("message", n.Message))
		}
		return nil
	})
}

// pumpFeed forwards the manager's ordered feed into the room actor.
func (s *Session) pumpFeed(r *room.Room, feed <-chan conn.Delivery, stop func()) error {
	for {
		s.forward(r, feed)
		stop()
		if s.ctx.Err() != nil {
			return nil
		}

		// Dropped as a slow subscriber: whatever was missed is repaired by
		// the next RoomUpdate.
		s.log.Warn("room feed dropped, resubscribing")
		select {
		case <-time.After(resubscribeDelay):
		case <-s.ctx.Done():
			return nil
		}
		feed, stop = s.mgr.Feed()
		r.Post(room.Resync{})
	}
}

func (s *Session) forward(r *room.Room, feed <-chan conn.Delivery) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case d, ok := <-feed:
			if !ok {
				return
			}
			switch d := d.(type) {
			case conn.Received:
				r.Post(room.FromServer{Msg: d.Msg})
			case conn.StatusChanged:
				r.Post(room.StatusChanged{From: d.From, To: d.To})
			}
		}
	}
}

func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

func (s *Session) Status() conn.Status { return s.mgr.Status() }

// ObserveConnectionStatus streams connection status, starting with the
// current one.
func (s *Session) ObserveConnectionStatus() (<-chan conn.Status, func()) {
	return s.mgr.ObserveStatus()
}

// ObserveRoomSnapshot streams room snapshots, starting with the current one.
func (s *Session) ObserveRoomSnapshot() (<-chan room.Snapshot, func(), error) {
	r, err := s.currentRoom()
	if err != nil {
		return nil, nil, err
	}
	ch, stop := r.Subscribe()
	return ch, stop, nil
}

// ObserveNotices streams server errors, rejected joins and round results.
func (s *Session) ObserveNotices() (<-chan room.Notice, func(), error) {
	r, err := s.currentRoom()
	if err != nil {
		return nil, nil, err
	}
	ch, stop := r.Notices()
	return ch, stop, nil
}

// Snapshot returns the current room view.
func (s *Session) Snapshot(ctx context.Context) (room.Snapshot, error) {
	r, err := s.currentRoom()
	if err != nil {
		return room.Snapshot{}, err
	}
	return r.View(ctx)
}

func (s *Session) CreateRoom(ctx context.Context, name string, categoryID int, gameType string) error {
	return s.send(ctx, protocol.CreateRoom{RoomName: name, CategoryID: categoryID, GameType: gameType})
}

func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	return s.send(ctx, protocol.JoinRoom{RoomID: roomID})
}

func (s *Session) RejoinRoom(ctx context.Context, roomID string) error {
	return s.send(ctx, protocol.RejoinRoom{RoomID: roomID})
}

func (s *Session) Ready(ctx context.Context) error {
	return s.send(ctx, protocol.PlayerReady{})
}

// SendAnswer records the answer as pending in the room view and sends it.
// An answer the rate limiter drops is withdrawn again without an error.
func (s *Session) SendAnswer(ctx context.Context, index int) error {
	r, err := s.currentRoom()
	if err != nil {
		return err
	}
	// pending before sending, so the verdict can never overtake it
	r.Post(room.AssumeAnswer{Index: index})
	if err := s.mgr.Send(ctx, protocol.PlayerAnswer{AnswerIndex: index}); err != nil {
		r.Post(room.WithdrawAnswer{})
		return s.dropped(err)
	}
	return nil
}

// LeaveConnection closes the socket and forgets the room. The stored
// player id is kept so Start can resume later.
func (s *Session) LeaveConnection() error {
	r, err := s.currentRoom()
	if err != nil {
		return err
	}
	s.mgr.Disconnect()
	r.Post(room.Reset{})
	return nil
}

// Forget clears the stored player id.
func (s *Session) Forget(ctx context.Context) error {
	return s.store.ClearPlayerID(ctx)
}

// Close stops the pumps and releases the connection and the store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.mgr.Close()
	err = multierr.Append(err, s.group.Wait())
	err = multierr.Append(err, s.store.Close())
	return err
}

func (s *Session) send(ctx context.Context, msg protocol.ClientMessage) error {
	if _, err := s.currentRoom(); err != nil {
		return err
	}
	return s.dropped(s.mgr.Send(ctx, msg))
}

// dropped hides rate limiting from callers: sends are fire-and-forget.
func (s *Session) dropped(err error) error {
	if errors.Is(err, conn.ErrRateLimited) {
		s.log.Debug("message dropped by rate limiter")
		return nil
	}
	return err
}

func (s *Session) currentRoom() (*room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.room == nil {
		return nil, ErrNotStarted
	}
	return s.room, nil
}
