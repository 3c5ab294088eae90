package engine

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/quiz-client/internal/protocol"
)

var ErrNoRoom = errors.New("no active room")
var ErrStaleRoom = errors.New("stale room")
var ErrUnsupportedMessage = errors.New("unsupported message")

// Seat is a room member as this client sees it. Disconnected is local
// knowledge layered over the server's player record.
type Seat struct {
	Player       protocol.PlayerInRoom
	Disconnected bool
}

type RoundOutcome struct {
	Round          int
	CorrectAnswer  int
	WinnerPlayerID string
	Cursors        map[string]int
	TimedOut       bool
}

// State is the materialized view of one room. Apply never mutates its
// input; every call returns a fresh value safe to hand to other goroutines.
type State struct {
	Self string

	Active    bool
	Closed    bool
	Resyncing bool

	RoomID          string
	RoomState       protocol.RoomState
	Players         []Seat
	Question        *protocol.Question
	RoundNumber     int
	TimeRemainingMs int64
	CountdownMs     int64

	PendingAnswer *int
	LastAnswer    *protocol.AnswerResult
	LastRound     *RoundOutcome
	Winner        string
	CloseReason   string
}

type EventType string

const (
	EvtRoomOpened    EventType = "RoomOpened"
	EvtJoinRejected  EventType = "JoinRejected"
	EvtServerError   EventType = "ServerError"
	EvtAnswerJudged  EventType = "AnswerJudged"
	EvtRoundFinished EventType = "RoundFinished"
	EvtGameFinished  EventType = "GameFinished"
	EvtRoomClosed    EventType = "RoomClosed"
)

type Event struct {
	Type     EventType
	RoomID   string
	PlayerID string
	Message  string
}

// Apply folds one server message into s. On error the returned state is s
// itself, never a partial update.
func Apply(s State, msg protocol.ServerMessage) ([]Event, State, error) {
	switch m := msg.(type) {
	case protocol.RoomCreated:
		if err := canOpen(s, m.RoomID); err != nil {
			return nil, s, err
		}
		next := open(s, m.RoomID)
		return []Event{{Type: EvtRoomOpened, RoomID: m.RoomID}}, next, nil

	case protocol.JoinedRoom:
		if !m.Success {
			return []Event{{Type: EvtJoinRejected, RoomID: m.RoomID}}, s, nil
		}
		if err := canOpen(s, m.RoomID); err != nil {
			return nil, s, err
		}
		if isCurrent(s, m.RoomID) {
			return nil, s, nil
		}
		return []Event{{Type: EvtRoomOpened, RoomID: m.RoomID}}, open(s, m.RoomID), nil

	case protocol.RejoinedRoom:
		if !m.Success {
			return []Event{{Type: EvtJoinRejected, RoomID: m.RoomID, PlayerID: m.PlayerID}}, s, nil
		}
		if err := canOpen(s, m.RoomID); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		if !isCurrent(s, m.RoomID) {
			next = open(s, m.RoomID)
		}
		next.Resyncing = true
		return []Event{{Type: EvtRoomOpened, RoomID: m.RoomID, PlayerID: m.PlayerID}}, next, nil

	case protocol.RoomUpdate:
		if err := live(s); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		next.Players = seatsFrom(m.Players)
		next.RoomState = m.State
		if s.Resyncing {
			next.PendingAnswer = nil
			next.Resyncing = false
		}
		return nil, next, nil

	case protocol.CountdownTimeUpdate:
		if err := live(s); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		next.CountdownMs = m.RemainingMs
		if next.RoomState == protocol.RoomWaiting {
			next.RoomState = protocol.RoomCountdown
		}
		return nil, next, nil

	case protocol.RoundStarted:
		if err := live(s); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		q := m.Question
		next.Question = &q
		next.RoundNumber = m.RoundNumber
		next.TimeRemainingMs = m.TimeRemainingMs
		next.CountdownMs = 0
		next.PendingAnswer = nil
		next.LastAnswer = nil
		if next.RoomState != protocol.RoomPaused {
			next.RoomState = protocol.RoomPlaying
		}
		return nil, next, nil

	case protocol.TimeUpdate:
		if err := live(s); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		next.TimeRemainingMs = m.RemainingMs
		return nil, next, nil

	case protocol.AnswerResult:
		if err := live(s); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		r := m
		next.LastAnswer = &r
		if m.PlayerID == s.Self {
			next.PendingAnswer = nil
		}
		return []Event{{Type: EvtAnswerJudged, RoomID: s.RoomID, PlayerID: m.PlayerID}}, next, nil

	case protocol.RoundEnded:
		return endRound(s, RoundOutcome{CorrectAnswer: m.CorrectAnswer, WinnerPlayerID: m.WinnerPlayerID})

	case protocol.CursorRoundEnded:
		return endRound(s, RoundOutcome{
			CorrectAnswer:  m.CorrectAnswer,
			WinnerPlayerID: m.WinnerPlayerID,
			Cursors:        copyCursors(m.Cursors),
		})

	case protocol.TimeUp:
		return endRound(s, RoundOutcome{CorrectAnswer: m.CorrectAnswer, TimedOut: true})

	case protocol.GameOver:
		if err := live(s); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		next.RoomState = protocol.RoomFinished
		next.Winner = m.WinnerPlayerID
		next.TimeRemainingMs = 0
		next.PendingAnswer = nil
		next.Closed = true
		return []Event{{Type: EvtGameFinished, RoomID: s.RoomID, PlayerID: m.WinnerPlayerID}}, next, nil

	case protocol.ServerError:
		return []Event{{Type: EvtServerError, RoomID: s.RoomID, Message: m.Message}}, s, nil

	case protocol.PlayerDisconnected:
		if err := live(s); err != nil {
			return nil, s, err
		}
		i := seatIndex(s.Players, m.PlayerID)
		if i < 0 {
			return nil, s, nil
		}
		next := s.Clone()
		next.Players[i].Disconnected = true
		if next.RoomState == protocol.RoomPlaying {
			next.RoomState = protocol.RoomPaused
		}
		return nil, next, nil

	case protocol.PlayerReconnected:
		if err := live(s); err != nil {
			return nil, s, err
		}
		i := seatIndex(s.Players, m.PlayerID)
		if i < 0 {
			return nil, s, nil
		}
		next := s.Clone()
		next.Players[i].Disconnected = false
		if next.RoomState == protocol.RoomPaused && !anyDisconnected(next.Players) {
			next.RoomState = protocol.RoomPlaying
		}
		return nil, next, nil

	case protocol.RoomClosed:
		if err := live(s); err != nil {
			return nil, s, err
		}
		next := s.Clone()
		next.Closed = true
		next.CloseReason = m.Reason
		next.PendingAnswer = nil
		return []Event{{Type: EvtRoomClosed, RoomID: s.RoomID, Message: m.Reason}}, next, nil

	default:
		return nil, s, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}
}

// BeginResync marks s as waiting for an authoritative RoomUpdate. Called
// when the connection comes back after a drop.
func BeginResync(s State) State {
	if !s.Active || s.Closed {
		return s
	}
	next := s.Clone()
	next.Resyncing = true
	return next
}

// AssumeAnswer records an answer the player sent but the server has not
// judged yet.
func AssumeAnswer(s State, index int) (State, error) {
	if err := live(s); err != nil {
		return s, err
	}
	next := s.Clone()
	next.PendingAnswer = &index
	return next, nil
}

// WithdrawAnswer forgets a pending answer that never reached the server.
func WithdrawAnswer(s State) State {
	if s.PendingAnswer == nil {
		return s
	}
	next := s.Clone()
	next.PendingAnswer = nil
	return next
}

func endRound(s State, out RoundOutcome) ([]Event, State, error) {
	if err := live(s); err != nil {
		return nil, s, err
	}
	out.Round = s.RoundNumber
	next := s.Clone()
	next.LastRound = &out
	next.TimeRemainingMs = 0
	next.PendingAnswer = nil
	next.RoomState = protocol.RoomRoundEnd
	return []Event{{Type: EvtRoundFinished, RoomID: s.RoomID, PlayerID: out.WinnerPlayerID}}, next, nil
}
