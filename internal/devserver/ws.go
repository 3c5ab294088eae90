package devserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-client/internal/config"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
)

const clientOutbox = 32

// client is one accepted socket.
type client struct {
	playerID string
	conn     *websocket.Conn
	out      chan []byte
	gone     chan struct{}
	once     sync.Once
}

func (c *client) push(frame []byte) bool {
	select {
	case c.out <- frame:
		return true
	case <-c.gone:
		return true
	default:
		return false
	}
}

// drop closes the socket without a handshake, the way a network failure
// would.
func (c *client) drop() {
	c.once.Do(func() {
		close(c.gone)
		_ = c.conn.CloseNow()
	})
}

// Handler upgrades GET /ws?playerId=... and pumps frames between the
// socket and the server loop.
func Handler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		if playerID == "" {
			http.Error(w, "missing playerId", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			s.log.Debug("accept failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(config.MaxFrameBytes)

		c := &client{
			playerID: playerID,
			conn:     conn,
			out:      make(chan []byte, clientOutbox),
			gone:     make(chan struct{}),
		}
		defer c.drop()
		if !s.post(attach{c: c}) {
			return
		}
		defer s.post(detach{c: c})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case <-c.gone:
					return
				case frame := <-c.out:
					ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
					err := conn.Write(ctx, websocket.MessageText, frame)
					cancel()
					if err != nil {
						c.drop()
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						s.log.Debug("read ended", zap.String("player", playerID), zap.Error(err))
					}
				}
				return
			}

			m, err := protocol.DecodeClient(data)
			if err != nil {
				s.post(badFrame{c: c, err: err})
				continue
			}
			s.post(fromClient{c: c, msg: m})
		}
	}
}
