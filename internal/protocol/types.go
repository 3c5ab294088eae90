package protocol

type RoomState string

const (
	RoomWaiting   RoomState = "WAITING"
	RoomCountdown RoomState = "COUNTDOWN"
	RoomPlaying   RoomState = "PLAYING"
	RoomPaused    RoomState = "PAUSED"
	RoomRoundEnd  RoomState = "ROUND_END"
	RoomFinished  RoomState = "FINISHED"
)

func (s RoomState) Valid() bool {
	switch s {
	case RoomWaiting, RoomCountdown, RoomPlaying, RoomPaused, RoomRoundEnd, RoomFinished:
		return true
	}
	return false
}

// Terminal reports whether no further lifecycle transition is possible.
func (s RoomState) Terminal() bool { return s == RoomFinished }

type PlayerState string

const (
	PlayerWait       PlayerState = "WAIT"
	PlayerStateReady PlayerState = "READY"
)

func (s PlayerState) Valid() bool { return s == PlayerWait || s == PlayerStateReady }

type PlayerInRoom struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	AvatarURL string      `json:"avatarUrl"`
	State     PlayerState `json:"state"`
}

// IsReady is derived from State so the two can never disagree.
func (p PlayerInRoom) IsReady() bool { return p.State == PlayerStateReady }

type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Answers  []string `json:"answers"`
	ImageURL string   `json:"imageUrl,omitempty"`
}
