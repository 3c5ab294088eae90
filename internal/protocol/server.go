package protocol

// ServerMessage is the closed set of messages the game server pushes.
type ServerMessage interface {
	ServerType() ServerType
	isServerMessage()
}

type ServerType string

const (
	TypeRoomCreated         ServerType = "RoomCreated"
	TypeJoinedRoom          ServerType = "JoinedRoom"
	TypeRejoinedRoom        ServerType = "RejoinedRoom"
	TypeRoomUpdate          ServerType = "RoomUpdate"
	TypeCountdownTimeUpdate ServerType = "CountdownTimeUpdate"
	TypeRoundStarted        ServerType = "RoundStarted"
	TypeTimeUpdate          ServerType = "TimeUpdate"
	TypeAnswerResult        ServerType = "AnswerResult"
	TypeRoundEnded          ServerType = "RoundEnded"
	TypeCursorRoundEnded    ServerType = "CursorRoundEnded"
	TypeTimeUp              ServerType = "TimeUp"
	TypeGameOver            ServerType = "GameOver"
	TypeError               ServerType = "Error"
	TypePlayerDisconnected  ServerType = "PlayerDisconnected"
	TypePlayerReconnected   ServerType = "PlayerReconnected"
	TypeRoomClosed          ServerType = "RoomClosed"
)

type RoomCreated struct {
	RoomID string `json:"roomId"`
}

type JoinedRoom struct {
	RoomID  string `json:"roomId"`
	Success bool   `json:"success"`
}

type RejoinedRoom struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Success  bool   `json:"success"`
}

type RoomUpdate struct {
	Players []PlayerInRoom `json:"players"`
	State   RoomState      `json:"state"`
}

type CountdownTimeUpdate struct {
	RemainingMs int64 `json:"remainingMs"`
}

type RoundStarted struct {
	RoundNumber     int      `json:"roundNumber"`
	TimeRemainingMs int64    `json:"timeRemainingMs"`
	Question        Question `json:"question"`
}

type TimeUpdate struct {
	RemainingMs int64 `json:"remainingMs"`
}

type AnswerResult struct {
	PlayerID    string `json:"playerId"`
	AnswerIndex int    `json:"answerIndex"`
	Correct     bool   `json:"correct"`
}

// RoundEnded closes a round under standard scoring. WinnerPlayerID is empty
// when nobody answered correctly.
type RoundEnded struct {
	CorrectAnswer  int    `json:"correctAnswer"`
	WinnerPlayerID string `json:"winnerPlayerId,omitempty"`
}

// CursorRoundEnded closes a round under cursor-based scoring, where every
// player advances a cursor on a shared track.
type CursorRoundEnded struct {
	CorrectAnswer  int            `json:"correctAnswer"`
	WinnerPlayerID string         `json:"winnerPlayerId,omitempty"`
	Cursors        map[string]int `json:"cursors"`
}

type TimeUp struct {
	CorrectAnswer int `json:"correctAnswer"`
}

type GameOver struct {
	WinnerPlayerID string `json:"winnerPlayerId,omitempty"`
}

// ServerError is the server's "Error" message, a user-visible notice.
type ServerError struct {
	Message string `json:"message"`
}

type PlayerDisconnected struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName,omitempty"`
}

type PlayerReconnected struct {
	PlayerID string `json:"playerId"`
}

type RoomClosed struct {
	Reason string `json:"reason,omitempty"`
}

func (RoomCreated) ServerType() ServerType         { return TypeRoomCreated }
func (JoinedRoom) ServerType() ServerType          { return TypeJoinedRoom }
func (RejoinedRoom) ServerType() ServerType        { return TypeRejoinedRoom }
func (RoomUpdate) ServerType() ServerType          { return TypeRoomUpdate }
func (CountdownTimeUpdate) ServerType() ServerType { return TypeCountdownTimeUpdate }
func (RoundStarted) ServerType() ServerType        { return TypeRoundStarted }
func (TimeUpdate) ServerType() ServerType          { return TypeTimeUpdate }
func (AnswerResult) ServerType() ServerType        { return TypeAnswerResult }
func (RoundEnded) ServerType() ServerType          { return TypeRoundEnded }
func (CursorRoundEnded) ServerType() ServerType    { return TypeCursorRoundEnded }
func (TimeUp) ServerType() ServerType              { return TypeTimeUp }
func (GameOver) ServerType() ServerType            { return TypeGameOver }
func (ServerError) ServerType() ServerType         { return TypeError }
func (PlayerDisconnected) ServerType() ServerType  { return TypePlayerDisconnected }
func (PlayerReconnected) ServerType() ServerType   { return TypePlayerReconnected }
func (RoomClosed) ServerType() ServerType          { return TypeRoomClosed }

func (RoomCreated) isServerMessage()         {}
func (JoinedRoom) isServerMessage()          {}
func (RejoinedRoom) isServerMessage()        {}
func (RoomUpdate) isServerMessage()          {}
func (CountdownTimeUpdate) isServerMessage() {}
func (RoundStarted) isServerMessage()        {}
func (TimeUpdate) isServerMessage()          {}
func (AnswerResult) isServerMessage()        {}
func (RoundEnded) isServerMessage()          {}
func (CursorRoundEnded) isServerMessage()    {}
func (TimeUp) isServerMessage()              {}
func (GameOver) isServerMessage()            {}
func (ServerError) isServerMessage()         {}
func (PlayerDisconnected) isServerMessage()  {}
func (PlayerReconnected) isServerMessage()   {}
func (RoomClosed) isServerMessage()          {}
