package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedPayload   = errors.New("malformed payload")
)

// EncodeClient renders m as a flat JSON object tagged with its "type".
func EncodeClient(m ClientMessage) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil client message")
	}
	return tagged(string(m.ClientType()), m)
}

// EncodeServer is the server-side counterpart of EncodeClient.
func EncodeServer(m ServerMessage) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil server message")
	}
	if u, ok := m.(RoomUpdate); ok && u.Players == nil {
		u.Players = []PlayerInRoom{}
		m = u
	}
	if err := validateServer(m); err != nil {
		return nil, err
	}
	return tagged(string(m.ServerType()), m)
}

// validateServer refuses to encode what DecodeServer would reject.
func validateServer(m ServerMessage) error {
	switch m := m.(type) {
	case RoomUpdate:
		if !m.State.Valid() {
			return fmt.Errorf("%w: %s state %q", ErrMalformedPayload, m.ServerType(), m.State)
		}
		for i, p := range m.Players {
			if p.ID == "" || !p.State.Valid() {
				return fmt.Errorf("%w: %s players[%d] invalid", ErrMalformedPayload, m.ServerType(), i)
			}
		}
	case RoundStarted:
		if len(m.Question.Answers) == 0 {
			return fmt.Errorf("%w: %s question without answers", ErrMalformedPayload, m.ServerType())
		}
	}
	return nil
}

func tagged(tag string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	if len(raw) < 2 || raw[0] != '{' {
		return nil, fmt.Errorf("encode %s: body is not an object", tag)
	}
	name, _ := json.Marshal(tag)

	var buf bytes.Buffer
	buf.Grow(len(raw) + len(name) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(name)
	if len(raw) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(raw[1:])
	return buf.Bytes(), nil
}

// DecodeServer parses one inbound frame. Unknown tags yield
// ErrUnknownMessageType; missing or mistyped required fields yield
// ErrMalformedPayload.
func DecodeServer(data []byte) (ServerMessage, error) {
	tag, r, err := parse(data)
	if err != nil {
		return nil, err
	}

	switch ServerType(tag) {
	case TypeRoomCreated:
		var m RoomCreated
		r.req("roomId", &m.RoomID)
		return server(m, r.err)

	case TypeJoinedRoom:
		var m JoinedRoom
		r.req("roomId", &m.RoomID)
		r.req("success", &m.Success)
		return server(m, r.err)

	case TypeRejoinedRoom:
		var m RejoinedRoom
		r.req("roomId", &m.RoomID)
		r.req("playerId", &m.PlayerID)
		r.req("success", &m.Success)
		return server(m, r.err)

	case TypeRoomUpdate:
		var m RoomUpdate
		r.req("players", &m.Players)
		r.req("state", &m.State)
		r.check(m.State.Valid(), "state %q", m.State)
		for i, p := range m.Players {
			r.check(p.ID != "", "players[%d] without id", i)
			r.check(p.State.Valid(), "players[%d] state %q", i, p.State)
		}
		return server(m, r.err)

	case TypeCountdownTimeUpdate:
		var m CountdownTimeUpdate
		r.req("remainingMs", &m.RemainingMs)
		return server(m, r.err)

	case TypeRoundStarted:
		var m RoundStarted
		r.req("roundNumber", &m.RoundNumber)
		r.req("timeRemainingMs", &m.TimeRemainingMs)
		r.req("question", &m.Question)
		r.check(len(m.Question.Answers) > 0, "question without answers")
		return server(m, r.err)

	case TypeTimeUpdate:
		var m TimeUpdate
		r.req("remainingMs", &m.RemainingMs)
		return server(m, r.err)

	case TypeAnswerResult:
		var m AnswerResult
		r.req("playerId", &m.PlayerID)
		r.req("answerIndex", &m.AnswerIndex)
		r.req("correct", &m.Correct)
		return server(m, r.err)

	case TypeRoundEnded:
		var m RoundEnded
		r.req("correctAnswer", &m.CorrectAnswer)
		r.opt("winnerPlayerId", &m.WinnerPlayerID)
		return server(m, r.err)

	case TypeCursorRoundEnded:
		var m CursorRoundEnded
		r.req("correctAnswer", &m.CorrectAnswer)
		r.opt("winnerPlayerId", &m.WinnerPlayerID)
		r.opt("cursors", &m.Cursors)
		return server(m, r.err)

	case TypeTimeUp:
		var m TimeUp
		r.req("correctAnswer", &m.CorrectAnswer)
		return server(m, r.err)

	case TypeGameOver:
		var m GameOver
		r.opt("winnerPlayerId", &m.WinnerPlayerID)
		return server(m, r.err)

	case TypeError:
		var m ServerError
		r.req("message", &m.Message)
		return server(m, r.err)

	case TypePlayerDisconnected:
		var m PlayerDisconnected
		r.req("playerId", &m.PlayerID)
		r.opt("playerName", &m.PlayerName)
		return server(m, r.err)

	case TypePlayerReconnected:
		var m PlayerReconnected
		r.req("playerId", &m.PlayerID)
		return server(m, r.err)

	case TypeRoomClosed:
		var m RoomClosed
		r.opt("reason", &m.Reason)
		return server(m, r.err)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, tag)
	}
}

// DecodeClient parses a frame sent by a player.
func DecodeClient(data []byte) (ClientMessage, error) {
	tag, r, err := parse(data)
	if err != nil {
		return nil, err
	}

	switch ClientType(tag) {
	case TypeCreateRoom:
		var m CreateRoom
		r.req("roomName", &m.RoomName)
		r.req("categoryId", &m.CategoryID)
		r.req("gameType", &m.GameType)
		return client(m, r.err)

	case TypeJoinRoom:
		var m JoinRoom
		r.req("roomId", &m.RoomID)
		return client(m, r.err)

	case TypeRejoinRoom:
		var m RejoinRoom
		r.req("roomId", &m.RoomID)
		return client(m, r.err)

	case TypePlayerReady:
		return PlayerReady{}, nil

	case TypePlayerAnswer:
		var m PlayerAnswer
		r.req("answerIndex", &m.AnswerIndex)
		return client(m, r.err)

	case TypeClientReconnected:
		var m ReconnectPlayer
		r.req("playerId", &m.PlayerID)
		return client(m, r.err)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, tag)
	}
}

func server(m ServerMessage, err error) (ServerMessage, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func client(m ClientMessage, err error) (ClientMessage, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

// fieldReader keeps the first error so a decode branch reads top to bottom.
type fieldReader struct {
	tag    string
	fields map[string]json.RawMessage
	err    error
}

func parse(data []byte) (string, *fieldReader, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return "", nil, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}
	r := &fieldReader{fields: fields}
	var tag string
	r.req("type", &tag)
	if r.err != nil {
		return "", nil, r.err
	}
	r.tag = tag
	return tag, r, nil
}

func (r *fieldReader) req(name string, dst any) {
	if r.err != nil {
		return
	}
	raw, ok := r.fields[name]
	if !ok || isNull(raw) {
		r.err = fmt.Errorf("%w: %s missing %q", ErrMalformedPayload, r.tag, name)
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.err = fmt.Errorf("%w: %s field %q: %v", ErrMalformedPayload, r.tag, name, err)
	}
}

func (r *fieldReader) opt(name string, dst any) {
	if r.err != nil {
		return
	}
	raw, ok := r.fields[name]
	if !ok || isNull(raw) {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.err = fmt.Errorf("%w: %s field %q: %v", ErrMalformedPayload, r.tag, name, err)
	}
}

func (r *fieldReader) check(ok bool, format string, args ...any) {
	if r.err != nil || ok {
		return
	}
	r.err = fmt.Errorf("%w: %s: %s", ErrMalformedPayload, r.tag, fmt.Sprintf(format, args...))
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
