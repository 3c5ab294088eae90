package engine

import "github.com/DoyleJ11/quiz-client/internal/protocol"

func NewState(self string) State {
	return State{Self: self}
}

// Clone returns a deep copy of everything Apply may touch.
func (s State) Clone() State {
	c := s
	if s.Players != nil {
		c.Players = make([]Seat, len(s.Players))
		copy(c.Players, s.Players)
	}
	if s.PendingAnswer != nil {
		v := *s.PendingAnswer
		c.PendingAnswer = &v
	}
	return c
}

// Ready counts players whose state is READY.
func (s State) Ready() int {
	n := 0
	for _, seat := range s.Players {
		if seat.Player.IsReady() {
			n++
		}
	}
	return n
}

func (s State) Seat(playerID string) (Seat, bool) {
	i := seatIndex(s.Players, playerID)
	if i < 0 {
		return Seat{}, false
	}
	return s.Players[i], true
}

func open(s State, roomID string) State {
	return State{
		Self:      s.Self,
		Active:    true,
		RoomID:    roomID,
		RoomState: protocol.RoomWaiting,
		Players:   []Seat{},
	}
}

func canOpen(s State, roomID string) error {
	if s.Closed && s.RoomID == roomID {
		return ErrStaleRoom
	}
	return nil
}

func isCurrent(s State, roomID string) bool {
	return s.Active && !s.Closed && s.RoomID == roomID
}

func live(s State) error {
	if !s.Active {
		return ErrNoRoom
	}
	if s.Closed {
		return ErrStaleRoom
	}
	return nil
}

// seatsFrom keeps join order and drops repeated ids.
func seatsFrom(players []protocol.PlayerInRoom) []Seat {
	seats := make([]Seat, 0, len(players))
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		seats = append(seats, Seat{Player: p})
	}
	return seats
}

func seatIndex(seats []Seat, playerID string) int {
	for i, seat := range seats {
		if seat.Player.ID == playerID {
			return i
		}
	}
	return -1
}

func anyDisconnected(seats []Seat) bool {
	for _, seat := range seats {
		if seat.Disconnected {
			return true
		}
	}
	return false
}

func copyCursors(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
