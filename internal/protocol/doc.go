// Package protocol defines the two closed message vocabularies exchanged
// with the quiz server and their JSON wire form.
//
// Every frame is a flat JSON object whose "type" field names the variant:
//
//	Client -> Server
//	CreateRoom:        roomName, categoryId, gameType
//	JoinRoom:          roomId
//	RejoinRoom:        roomId
//	PlayerReady:       {}
//	PlayerAnswer:      answerIndex
//	PlayerReconnected: playerId
//
//	Server -> Client
//	RoomCreated:         roomId
//	JoinedRoom:          roomId, success
//	RejoinedRoom:        roomId, playerId, success
//	RoomUpdate:          players[{id, name, avatarUrl, state}], state
//	CountdownTimeUpdate: remainingMs
//	RoundStarted:        roundNumber, timeRemainingMs, question{id, text, answers, imageUrl?}
//	TimeUpdate:          remainingMs
//	AnswerResult:        playerId, answerIndex, correct
//	RoundEnded:          correctAnswer, winnerPlayerId?
//	CursorRoundEnded:    correctAnswer, winnerPlayerId?, cursors?
//	TimeUp:              correctAnswer
//	GameOver:            winnerPlayerId?
//	Error:               message
//	PlayerDisconnected:  playerId, playerName?
//	PlayerReconnected:   playerId
//	RoomClosed:          reason?
package protocol
