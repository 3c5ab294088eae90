package devserver

import (
	"crypto/rand"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-client/internal/account"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
)

type timerKind int

const (
	countdownDone timerKind = iota
	roundTimeout
	nextRound
)

type seat struct {
	player account.Player
	ready  bool
	online bool
	score  int
	cursor int
}

type gameRoom struct {
	id         string
	name       string
	categoryID int
	gameType   string
	state      protocol.RoomState
	seats      []*seat
	questions  []Question

	round    int
	current  Question
	answered map[string]bool
	winner   string

	timer     *time.Timer
	gen       int
	deadline  time.Time
	remaining time.Duration
}

func (r *gameRoom) seat(playerID string) *seat {
	for _, st := range r.seats {
		if st.player.ID == playerID {
			return st
		}
	}
	return nil
}

func (r *gameRoom) online() int {
	n := 0
	for _, st := range r.seats {
		if st.online {
			n++
		}
	}
	return n
}

func (r *gameRoom) allReady() bool {
	for _, st := range r.seats {
		if !st.ready {
			return false
		}
	}
	return true
}

func (r *gameRoom) allAnswered() bool {
	for _, st := range r.seats {
		if st.online && !r.answered[st.player.ID] {
			return false
		}
	}
	return true
}

func (r *gameRoom) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

func (r *gameRoom) roster() []protocol.PlayerInRoom {
	out := make([]protocol.PlayerInRoom, 0, len(r.seats))
	for _, st := range r.seats {
		ps := protocol.PlayerWait
		if st.ready {
			ps = protocol.PlayerStateReady
		}
		out = append(out, protocol.PlayerInRoom{
			ID:        st.player.ID,
			Name:      st.player.Name,
			AvatarURL: st.player.AvatarURL,
			State:     ps,
		})
	}
	return out
}

func (s *Server) handle(c *client, m protocol.ClientMessage) {
	pid := c.playerID
	switch m := m.(type) {
	case protocol.CreateRoom:
		s.leave(pid)
		id, err := s.newRoomCode()
		if err != nil {
			s.sendTo(c, protocol.ServerError{Message: "failed to create room"})
			return
		}
		r := &gameRoom{
			id:         id,
			name:       m.RoomName,
			categoryID: m.CategoryID,
			gameType:   m.GameType,
			state:      protocol.RoomWaiting,
			questions:  questionsFor(s.questions, m.CategoryID),
		}
		s.rooms[id] = r
		s.seatPlayer(r, pid)
		s.log.Info("room created", zap.String("room", id), zap.String("player", pid))
		s.sendTo(c, protocol.RoomCreated{RoomID: id})
		s.broadcastUpdate(r)

	case protocol.JoinRoom:
		r := s.rooms[m.RoomID]
		if r == nil || (r.state != protocol.RoomWaiting && r.seat(pid) == nil) {
			s.sendTo(c, protocol.JoinedRoom{RoomID: m.RoomID, Success: false})
			return
		}
		if r.seat(pid) == nil {
			s.leave(pid)
			s.seatPlayer(r, pid)
		}
		s.sendTo(c, protocol.JoinedRoom{RoomID: r.id, Success: true})
		s.broadcastUpdate(r)

	case protocol.RejoinRoom:
		r := s.rooms[m.RoomID]
		if r == nil || r.seat(pid) == nil {
			s.sendTo(c, protocol.RejoinedRoom{RoomID: m.RoomID, PlayerID: pid, Success: false})
			return
		}
		s.sendTo(c, protocol.RejoinedRoom{RoomID: r.id, PlayerID: pid, Success: true})
		s.resume(r, c)

	case protocol.PlayerReady:
		r, st := s.roomOf(pid)
		if r == nil {
			s.sendTo(c, protocol.ServerError{Message: "not in a room"})
			return
		}
		if r.state != protocol.RoomWaiting {
			s.sendTo(c, protocol.ServerError{Message: "game already started"})
			return
		}
		st.ready = true
		s.broadcastUpdate(r)
		if len(r.seats) >= s.minPlayers && r.allReady() {
			s.startCountdown(r)
		}

	case protocol.PlayerAnswer:
		r, st := s.roomOf(pid)
		switch {
		case r == nil:
			s.sendTo(c, protocol.ServerError{Message: "not in a room"})
			return
		case r.state != protocol.RoomPlaying:
			s.sendTo(c, protocol.ServerError{Message: "no open question"})
			return
		case r.answered[pid]:
			s.sendTo(c, protocol.ServerError{Message: "already answered"})
			return
		case m.AnswerIndex < 0 || m.AnswerIndex >= len(r.current.Answers):
			s.sendTo(c, protocol.ServerError{Message: "answer out of range"})
			return
		}
		correct := m.AnswerIndex == r.current.Correct
		r.answered[pid] = true
		if correct {
			st.cursor++
			if r.winner == "" {
				r.winner = pid
				st.score++
			}
		}
		s.broadcast(r, protocol.AnswerResult{PlayerID: pid, AnswerIndex: m.AnswerIndex, Correct: correct})
		if r.allAnswered() {
			s.endRound(r, false)
		}

	case protocol.ReconnectPlayer:
		if m.PlayerID != pid {
			s.sendTo(c, protocol.ServerError{Message: "player id does not match this connection"})
			return
		}
		if r, _ := s.roomOf(pid); r != nil {
			s.resume(r, c)
		}
	}
}

// resume puts a returning player back in their seat and resyncs the room.
func (s *Server) resume(r *gameRoom, c *client) {
	st := r.seat(c.playerID)
	if !st.online {
		st.online = true
		s.broadcastExcept(r, c.playerID, protocol.PlayerReconnected{PlayerID: c.playerID})
	}
	if r.state == protocol.RoomPaused && r.online() == len(r.seats) {
		s.unpause(r)
	}
	s.broadcastUpdate(r)

	if r.state == protocol.RoomPlaying || r.state == protocol.RoomPaused {
		s.sendTo(c, protocol.RoundStarted{
			RoundNumber:     r.round,
			TimeRemainingMs: r.timeLeft().Milliseconds(),
			Question:        r.current.Question,
		})
	}
}

func (s *Server) seatPlayer(r *gameRoom, pid string) {
	r.seats = append(r.seats, &seat{player: s.players[pid], online: true})
	s.byPlayer[pid] = r.id
}

// leave removes pid from whatever room it sits in.
func (s *Server) leave(pid string) {
	r, _ := s.roomOf(pid)
	if r == nil {
		return
	}
	delete(s.byPlayer, pid)
	for i, st := range r.seats {
		if st.player.ID == pid {
			r.seats = append(r.seats[:i], r.seats[i+1:]...)
			break
		}
	}
	if len(r.seats) == 0 {
		s.forget(r)
		return
	}
	s.broadcastUpdate(r)
}

func (s *Server) roomOf(pid string) (*gameRoom, *seat) {
	r := s.rooms[s.byPlayer[pid]]
	if r == nil {
		return nil, nil
	}
	st := r.seat(pid)
	if st == nil {
		return nil, nil
	}
	return r, st
}

func (s *Server) startCountdown(r *gameRoom) {
	r.state = protocol.RoomCountdown
	s.broadcast(r, protocol.CountdownTimeUpdate{RemainingMs: s.countdown.Milliseconds()})
	s.broadcastUpdate(r)
	s.schedule(r, s.countdown, countdownDone)
}

func (s *Server) startRound(r *gameRoom) {
	r.round++
	r.current = r.questions[(r.round-1)%len(r.questions)]
	r.answered = make(map[string]bool)
	r.winner = ""
	r.state = protocol.RoomPlaying
	r.deadline = time.Now().Add(s.roundTime)
	s.broadcast(r, protocol.RoundStarted{
		RoundNumber:     r.round,
		TimeRemainingMs: s.roundTime.Milliseconds(),
		Question:        r.current.Question,
	})
	s.schedule(r, s.roundTime, roundTimeout)
}

func (s *Server) endRound(r *gameRoom, timedOut bool) {
	r.stopTimer()
	r.state = protocol.RoomRoundEnd

	switch {
	case timedOut && r.winner == "":
		s.broadcast(r, protocol.TimeUp{CorrectAnswer: r.current.Correct})
	case r.gameType == GameCursor:
		cursors := make(map[string]int, len(r.seats))
		for _, st := range r.seats {
			cursors[st.player.ID] = st.cursor
		}
		s.broadcast(r, protocol.CursorRoundEnded{CorrectAnswer: r.current.Correct, WinnerPlayerID: r.winner, Cursors: cursors})
	default:
		s.broadcast(r, protocol.RoundEnded{CorrectAnswer: r.current.Correct, WinnerPlayerID: r.winner})
	}

	if r.round >= s.rounds {
		s.finish(r)
		return
	}
	s.broadcastUpdate(r)
	s.schedule(r, s.intermission, nextRound)
}

func (s *Server) finish(r *gameRoom) {
	r.state = protocol.RoomFinished
	best, winner := 0, ""
	for _, st := range r.seats {
		if st.score > best {
			best, winner = st.score, st.player.ID
		}
	}
	s.broadcastUpdate(r)
	s.broadcast(r, protocol.GameOver{WinnerPlayerID: winner})
	s.log.Info("game over", zap.String("room", r.id), zap.String("winner", winner))
}

func (s *Server) pause(r *gameRoom) {
	r.remaining = r.timeLeft()
	r.stopTimer()
	r.state = protocol.RoomPaused
}

func (s *Server) unpause(r *gameRoom) {
	r.state = protocol.RoomPlaying
	r.deadline = time.Now().Add(r.remaining)
	s.schedule(r, r.remaining, roundTimeout)
	s.broadcast(r, protocol.TimeUpdate{RemainingMs: r.remaining.Milliseconds()})
}

func (r *gameRoom) timeLeft() time.Duration {
	if r.state == protocol.RoomPaused {
		return r.remaining
	}
	d := time.Until(r.deadline)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Server) schedule(r *gameRoom, d time.Duration, kind timerKind) {
	r.stopTimer()
	id, gen := r.id, r.gen
	r.timer = time.AfterFunc(d, func() {
		s.post(timerFired{roomID: id, gen: gen, kind: kind})
	})
}

func (s *Server) fire(t timerFired) {
	r := s.rooms[t.roomID]
	if r == nil || r.gen != t.gen {
		return
	}
	r.timer = nil
	switch t.kind {
	case countdownDone:
		if r.state == protocol.RoomCountdown {
			s.startRound(r)
		}
	case roundTimeout:
		if r.state == protocol.RoomPlaying {
			s.endRound(r, true)
		}
	case nextRound:
		if r.state == protocol.RoomRoundEnd {
			s.startRound(r)
		}
	}
}

func (s *Server) closeRoom(r *gameRoom, reason string) {
	s.broadcast(r, protocol.RoomClosed{Reason: reason})
	s.forget(r)
}

func (s *Server) forget(r *gameRoom) {
	r.stopTimer()
	for _, st := range r.seats {
		if s.byPlayer[st.player.ID] == r.id {
			delete(s.byPlayer, st.player.ID)
		}
	}
	delete(s.rooms, r.id)
	s.log.Info("room removed", zap.String("room", r.id))
}

func (s *Server) broadcastUpdate(r *gameRoom) {
	s.broadcast(r, protocol.RoomUpdate{Players: r.roster(), State: r.state})
}

func (s *Server) broadcast(r *gameRoom, m protocol.ServerMessage) {
	s.broadcastExcept(r, "", m)
}

func (s *Server) broadcastExcept(r *gameRoom, skip string, m protocol.ServerMessage) {
	for _, st := range r.seats {
		if st.player.ID == skip || !st.online {
			continue
		}
		s.sendToPlayer(st.player.ID, m)
	}
}

func (s *Server) newRoomCode() (string, error) {
	for {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := s.rooms[code]; !taken {
			return code, nil
		}
		s.log.Debug("room code collision, regenerating")
	}
}

func generateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
