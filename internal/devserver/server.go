// Package devserver is an in-memory game server that speaks the quiz
// protocol. It backs integration tests and local development.
package devserver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-client/internal/account"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
)

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

// WithTimings sets the countdown before the first round, the time allowed
// per round and the pause between rounds.
func WithTimings(countdown, round, intermission time.Duration) Option {
	return func(s *Server) {
		s.countdown, s.roundTime, s.intermission = countdown, round, intermission
	}
}

// WithRounds sets how many questions a game has.
func WithRounds(n int) Option { return func(s *Server) { s.rounds = n } }

// WithMinPlayers sets how many ready players start the countdown.
func WithMinPlayers(n int) Option { return func(s *Server) { s.minPlayers = n } }

func WithQuestions(qs []Question) Option { return func(s *Server) { s.questions = qs } }

// Server owns every player, socket and room. All of it is touched only by
// the loop goroutine; handlers talk to it through the inbox.
type Server struct {
	inbox chan msg
	log   *zap.Logger

	countdown    time.Duration
	roundTime    time.Duration
	intermission time.Duration
	rounds       int
	minPlayers   int
	questions    []Question

	players  map[string]account.Player
	clients  map[string]*client
	rooms    map[string]*gameRoom
	byPlayer map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(parent)
	s := &Server{
		inbox:        make(chan msg, 64),
		log:          zap.NewNop(),
		countdown:    3 * time.Second,
		roundTime:    15 * time.Second,
		intermission: 2 * time.Second,
		rounds:       3,
		minPlayers:   2,
		questions:    defaultQuestions,
		players:      make(map[string]account.Player),
		clients:      make(map[string]*client),
		rooms:        make(map[string]*gameRoom),
		byPlayer:     make(map[string]string),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.minPlayers < 1 {
		s.minPlayers = 1
	}
	if len(s.questions) == 0 {
		s.questions = defaultQuestions
	}
	if s.rounds < 1 {
		s.rounds = 1
	}
	go s.loop()
	return s
}

type msg interface{ isServerMsg() }

type attach struct{ c *client }
type detach struct{ c *client }
type fromClient struct {
	c   *client
	msg protocol.ClientMessage
}
type badFrame struct {
	c   *client
	err error
}
type timerFired struct {
	roomID string
	gen    int
	kind   timerKind
}
type createPlayer struct {
	name, avatarURL string
	reply           chan account.Player
}
type loginPlayer struct {
	id    string
	reply chan *account.Player
}
type listRooms struct{ reply chan []account.GameRoom }
type dropPlayers struct {
	ids   []string
	reply chan int
}
type closeRoom struct {
	id, reason string
	reply      chan bool
}

func (attach) isServerMsg()       {}
func (detach) isServerMsg()       {}
func (fromClient) isServerMsg()   {}
func (badFrame) isServerMsg()     {}
func (timerFired) isServerMsg()   {}
func (createPlayer) isServerMsg() {}
func (loginPlayer) isServerMsg()  {}
func (listRooms) isServerMsg()    {}
func (dropPlayers) isServerMsg()  {}
func (closeRoom) isServerMsg()    {}

func (s *Server) post(m msg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// ask posts m and waits for its reply, or for shutdown.
func ask[T any](s *Server, m msg, reply chan T) (T, bool) {
	var zero T
	if !s.post(m) {
		return zero, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-s.ctx.Done():
		return zero, false
	}
}

func (s *Server) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			for _, c := range s.clients {
				c.drop()
			}
			for _, r := range s.rooms {
				r.stopTimer()
			}
			return

		case m := <-s.inbox:
			switch m := m.(type) {
			case attach:
				s.attach(m.c)
			case detach:
				s.detach(m.c)
			case fromClient:
				if s.clients[m.c.playerID] != m.c {
					continue
				}
				s.handle(m.c, m.msg)
			case badFrame:
				s.log.Debug("bad client frame", zap.String("player", m.c.playerID), zap.Error(m.err))
				s.sendTo(m.c, protocol.ServerError{Message: m.err.Error()})
			case timerFired:
				s.fire(m)
			case createPlayer:
				p := account.Player{ID: uuid.NewString(), Name: m.name, AvatarURL: m.avatarURL}
				s.players[p.ID] = p
				m.reply <- p
			case loginPlayer:
				if p, ok := s.players[m.id]; ok {
					m.reply <- &p
				} else {
					m.reply <- nil
				}
			case listRooms:
				m.reply <- s.roomList()
			case dropPlayers:
				m.reply <- s.drop(m.ids)
			case closeRoom:
				r := s.rooms[m.id]
				if r != nil {
					s.closeRoom(r, m.reason)
				}
				m.reply <- r != nil
			}
		}
	}
}

func (s *Server) attach(c *client) {
	if old := s.clients[c.playerID]; old != nil {
		s.log.Info("replacing socket", zap.String("player", c.playerID))
		old.drop()
	}
	s.clients[c.playerID] = c
	if _, ok := s.players[c.playerID]; !ok {
		s.players[c.playerID] = account.Player{ID: c.playerID, Name: c.playerID}
	}
	s.log.Info("player connected", zap.String("player", c.playerID))
}

func (s *Server) detach(c *client) {
	if s.clients[c.playerID] != c {
		return
	}
	delete(s.clients, c.playerID)
	s.log.Info("player disconnected", zap.String("player", c.playerID))

	r, st := s.roomOf(c.playerID)
	if r == nil || st == nil || !st.online {
		return
	}
	st.online = false
	if r.state == protocol.RoomPlaying {
		s.pause(r)
	}
	s.broadcastExcept(r, c.playerID, protocol.PlayerDisconnected{PlayerID: c.playerID, PlayerName: st.player.Name})
	s.broadcastUpdate(r)

	if r.state == protocol.RoomFinished && r.online() == 0 {
		s.forget(r)
	}
}

func (s *Server) drop(ids []string) int {
	n := 0
	for id, c := range s.clients {
		if len(ids) > 0 && !contains(ids, id) {
			continue
		}
		c.drop()
		n++
	}
	return n
}

func (s *Server) sendTo(c *client, m protocol.ServerMessage) {
	data, err := protocol.EncodeServer(m)
	if err != nil {
		s.log.Error("encode", zap.Error(err))
		return
	}
	if !c.push(data) {
		s.log.Warn("client too slow, dropping", zap.String("player", c.playerID))
		c.drop()
	}
}

func (s *Server) sendToPlayer(playerID string, m protocol.ServerMessage) {
	if c := s.clients[playerID]; c != nil {
		s.sendTo(c, m)
	}
}

func (s *Server) roomList() []account.GameRoom {
	out := make([]account.GameRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, account.GameRoom{
			ID:         r.id,
			Name:       r.name,
			CategoryID: r.categoryID,
			GameType:   r.gameType,
			State:      string(r.state),
			Players:    len(r.seats),
		})
	}
	return out
}

// CreatePlayer registers a player and returns it with a fresh id.
func (s *Server) CreatePlayer(name, avatarURL string) (account.Player, bool) {
	reply := make(chan account.Player, 1)
	return ask(s, createPlayer{name: name, avatarURL: avatarURL, reply: reply}, reply)
}

// Login looks a player up by id.
func (s *Server) Login(id string) (account.Player, bool) {
	reply := make(chan *account.Player, 1)
	p, ok := ask(s, loginPlayer{id: id, reply: reply}, reply)
	if !ok || p == nil {
		return account.Player{}, false
	}
	return *p, true
}

// DropPlayers closes the sockets of the given players, or of everyone
// when ids is empty, without a close handshake. It returns how many
// sockets were dropped.
func (s *Server) DropPlayers(ids ...string) int {
	reply := make(chan int, 1)
	n, _ := ask(s, dropPlayers{ids: ids, reply: reply}, reply)
	return n
}

// DropAll drops every socket.
func (s *Server) DropAll() int { return s.DropPlayers() }

// CloseRoom ends a room for everyone in it.
func (s *Server) CloseRoom(id, reason string) bool {
	reply := make(chan bool, 1)
	ok, _ := ask(s, closeRoom{id: id, reason: reason, reply: reply}, reply)
	return ok
}

func (s *Server) Rooms() []account.GameRoom {
	reply := make(chan []account.GameRoom, 1)
	rooms, _ := ask(s, listRooms{reply: reply}, reply)
	return rooms
}

// Close stops the loop and drops every socket.
func (s *Server) Close() {
	s.cancel()
	<-s.done
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
