package protocol

// ClientMessage is the closed set of messages a player sends to the server.
type ClientMessage interface {
	ClientType() ClientType
	isClientMessage()
}

type ClientType string

const (
	TypeCreateRoom        ClientType = "CreateRoom"
	TypeJoinRoom          ClientType = "JoinRoom"
	TypeRejoinRoom        ClientType = "RejoinRoom"
	TypePlayerReady       ClientType = "PlayerReady"
	TypePlayerAnswer      ClientType = "PlayerAnswer"
	TypeClientReconnected ClientType = "PlayerReconnected"
)

type CreateRoom struct {
	RoomName   string `json:"roomName"`
	CategoryID int    `json:"categoryId"`
	GameType   string `json:"gameType"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type RejoinRoom struct {
	RoomID string `json:"roomId"`
}

type PlayerReady struct{}

type PlayerAnswer struct {
	AnswerIndex int `json:"answerIndex"`
}

// ReconnectPlayer asks the server to restore the player's seat after the
// socket was reopened. On the wire it is "PlayerReconnected".
type ReconnectPlayer struct {
	PlayerID string `json:"playerId"`
}

func (CreateRoom) ClientType() ClientType      { return TypeCreateRoom }
func (JoinRoom) ClientType() ClientType        { return TypeJoinRoom }
func (RejoinRoom) ClientType() ClientType      { return TypeRejoinRoom }
func (PlayerReady) ClientType() ClientType     { return TypePlayerReady }
func (PlayerAnswer) ClientType() ClientType    { return TypePlayerAnswer }
func (ReconnectPlayer) ClientType() ClientType { return TypeClientReconnected }

func (CreateRoom) isClientMessage()      {}
func (JoinRoom) isClientMessage()        {}
func (RejoinRoom) isClientMessage()      {}
func (PlayerReady) isClientMessage()     {}
func (PlayerAnswer) isClientMessage()    {}
func (ReconnectPlayer) isClientMessage() {}
