package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/quiz-client/internal/conn"
	"github.com/DoyleJ11/quiz-client/internal/devserver"
	"github.com/DoyleJ11/quiz-client/internal/engine"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
	"github.com/DoyleJ11/quiz-client/internal/ratelimit"
	"github.com/DoyleJ11/quiz-client/internal/room"
	"github.com/DoyleJ11/quiz-client/internal/store"
)

const wait = 2 * time.Second

var testQuestion = devserver.Question{
	Question: protocol.Question{ID: "q-test", Text: "2+2?", Answers: []string{"3", "4", "5"}},
	Correct:  1,
}

type harness struct {
	srv   *devserver.Server
	wsURL string
}

func newHarness(t *testing.T, opts ...devserver.Option) *harness {
	t.Helper()
	opts = append([]devserver.Option{
		devserver.WithTimings(20*time.Millisecond, 5*time.Second, time.Second),
		devserver.WithRounds(1),
		devserver.WithQuestions([]devserver.Question{testQuestion}),
	}, opts...)
	srv := devserver.New(context.Background(), opts...)
	ts := httptest.NewServer(devserver.SetupRoutes(srv))
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &harness{srv: srv, wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

func (h *harness) newSession(t *testing.T, dir string) *Session {
	t.Helper()
	return h.newSessionWith(t, dir, h.dialer())
}

func (h *harness) dialer() conn.WSDialer {
	return conn.WSDialer{URL: h.wsURL, DialTimeout: time.Second}
}

func (h *harness) newSessionWith(t *testing.T, dir string, d conn.Dialer, opts ...conn.Option) *Session {
	t.Helper()
	cfg := conn.DefaultConfig()
	cfg.Backoff = conn.Backoff{Base: 50 * time.Millisecond, Max: 200 * time.Millisecond}
	cfg.PingInterval = 0
	mgr := conn.NewManager(d, cfg, opts...)
	s := New(mgr, store.NewFileStore(filepath.Join(dir, "player.json")))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func subscribe(t *testing.T, s *Session) <-chan room.Snapshot {
	t.Helper()
	snaps, stop, err := s.ObserveRoomSnapshot()
	require.NoError(t, err)
	t.Cleanup(stop)
	return snaps
}

// switchDialer refuses every dial while down is set.
type switchDialer struct {
	conn.Dialer
	down atomic.Bool
}

func (d *switchDialer) Dial(ctx context.Context, playerID string) (conn.Conn, error) {
	if d.down.Load() {
		return nil, &conn.TransportError{Op: "dial", Err: errors.New("network unreachable")}
	}
	return d.Dialer.Dial(ctx, playerID)
}

func (h *harness) start(t *testing.T, playerID string) (*Session, <-chan room.Snapshot) {
	t.Helper()
	s := h.newSession(t, t.TempDir())
	require.NoError(t, s.Start(context.Background(), playerID))
	return s, subscribe(t, s)
}

// waitSnapshot reads snapshots until one satisfies ok.
func waitSnapshot(t *testing.T, ch <-chan room.Snapshot, what string, ok func(engine.State) bool) room.Snapshot {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case snap, open := <-ch:
			if !open {
				t.Fatalf("snapshot stream closed waiting for %s", what)
			}
			if ok(snap.State) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return room.Snapshot{}
		}
	}
}

func waitStatus(t *testing.T, ch <-chan conn.Status, want conn.Status) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case st := <-ch:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}

func waitNotice(t *testing.T, ch <-chan room.Notice, typ engine.EventType) room.Notice {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case n := <-ch:
			if n.Type == typ {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for notice %s", typ)
			return room.Notice{}
		}
	}
}

func uniqueIDs(seats []engine.Seat) bool {
	seen := map[string]bool{}
	for _, s := range seats {
		if seen[s.Player.ID] {
			return false
		}
		seen[s.Player.ID] = true
	}
	return true
}

// createAndJoin puts P1 and P2 in the same room and returns its id.
func createAndJoin(t *testing.T, p1, p2 *Session, s1, s2 <-chan room.Snapshot) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p1.CreateRoom(ctx, "trivia", 9, devserver.GameStandard))
	created := waitSnapshot(t, s1, "room created", func(s engine.State) bool { return s.Active && s.RoomID != "" })
	roomID := created.State.RoomID

	require.NoError(t, p2.JoinRoom(ctx, roomID))
	waitSnapshot(t, s2, "P2 sees both players", func(s engine.State) bool {
		return s.RoomID == roomID && s.RoomState == protocol.RoomWaiting && len(s.Players) == 2
	})
	waitSnapshot(t, s1, "P1 sees both players", func(s engine.State) bool { return len(s.Players) == 2 })
	return roomID
}

func TestSession_JoinScenario(t *testing.T) {
	h := newHarness(t)
	p1, s1 := h.start(t, "P1")
	p2, s2 := h.start(t, "P2")

	roomID := createAndJoin(t, p1, p2, s1, s2)

	snap, err := p2.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, roomID, snap.State.RoomID)
	assert.Equal(t, protocol.RoomWaiting, snap.State.RoomState)
	require.Len(t, snap.State.Players, 2)
	assert.Equal(t, "P1", snap.State.Players[0].Player.ID)
	assert.Equal(t, "P2", snap.State.Players[1].Player.ID)
}

func TestSession_ReconnectMidRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1, s1 := h.start(t, "P1")
	p2, s2 := h.start(t, "P2")
	createAndJoin(t, p1, p2, s1, s2)

	statuses, stop := p2.ObserveConnectionStatus()
	defer stop()
	waitStatus(t, statuses, conn.Status{Phase: conn.Connected})

	require.NoError(t, p1.Ready(ctx))
	require.NoError(t, p2.Ready(ctx))
	playing := func(s engine.State) bool { return s.RoomState == protocol.RoomPlaying && s.Question != nil }
	waitSnapshot(t, s1, "P1 round start", playing)
	waitSnapshot(t, s2, "P2 round start", playing)

	require.Equal(t, 1, h.srv.DropPlayers("P2"))

	waitSnapshot(t, s1, "P1 sees the pause", func(s engine.State) bool {
		seat, ok := s.Seat("P2")
		return s.RoomState == protocol.RoomPaused && ok && seat.Disconnected
	})

	waitStatus(t, statuses, conn.Status{Phase: conn.Disconnected})
	waitStatus(t, statuses, conn.Status{Phase: conn.Reconnecting, Attempt: 1})
	waitStatus(t, statuses, conn.Status{Phase: conn.Connected})

	waitSnapshot(t, s2, "P2 resyncing", func(s engine.State) bool { return s.Resyncing })
	back := waitSnapshot(t, s2, "P2 resynced", func(s engine.State) bool {
		return !s.Resyncing && s.RoomState == protocol.RoomPlaying
	})
	assert.Len(t, back.State.Players, 2)
	assert.True(t, uniqueIDs(back.State.Players))

	waitSnapshot(t, s1, "P1 resumes", func(s engine.State) bool {
		seat, ok := s.Seat("P2")
		return s.RoomState == protocol.RoomPlaying && ok && !seat.Disconnected
	})

	// finish the single round
	require.Eventually(t, func() bool {
		snap, err := p2.Snapshot(ctx)
		return err == nil && snap.State.Question != nil
	}, wait, 10*time.Millisecond, "P2 has the question again")
	require.NoError(t, p1.SendAnswer(ctx, testQuestion.Correct))
	require.NoError(t, p2.SendAnswer(ctx, 0))

	done := waitSnapshot(t, s1, "game over", func(s engine.State) bool { return s.RoomState == protocol.RoomFinished && s.Closed })
	assert.Equal(t, "P1", done.State.Winner)
	require.NotNil(t, done.State.LastRound)
	assert.Equal(t, "P1", done.State.LastRound.WinnerPlayerID)
	assert.Equal(t, testQuestion.Correct, done.State.LastRound.CorrectAnswer)
}

func TestSession_ConnectAfterFailedRestoresSeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1, s1 := h.start(t, "P1")

	sw := &switchDialer{Dialer: h.dialer()}
	p2 := h.newSessionWith(t, t.TempDir(), sw)
	require.NoError(t, p2.Start(ctx, "P2"))
	s2 := subscribe(t, p2)
	createAndJoin(t, p1, p2, s1, s2)

	statuses, stop := p2.ObserveConnectionStatus()
	defer stop()

	require.NoError(t, p1.Ready(ctx))
	require.NoError(t, p2.Ready(ctx))
	playing := func(s engine.State) bool { return s.RoomState == protocol.RoomPlaying && s.Question != nil }
	waitSnapshot(t, s2, "P2 round start", playing)

	sw.down.Store(true)
	require.Equal(t, 1, h.srv.DropPlayers("P2"))
	waitStatus(t, statuses, conn.Status{Phase: conn.Failed})
	waitSnapshot(t, s1, "P1 sees the pause", func(s engine.State) bool {
		seat, ok := s.Seat("P2")
		return s.RoomState == protocol.RoomPaused && ok && seat.Disconnected
	})

	sw.down.Store(false)
	require.NoError(t, p2.Start(ctx, ""))
	waitStatus(t, statuses, conn.Status{Phase: conn.Connected})

	waitSnapshot(t, s2, "P2 resyncing", func(s engine.State) bool { return s.Resyncing })
	back := waitSnapshot(t, s2, "P2 resynced", func(s engine.State) bool {
		return !s.Resyncing && s.RoomState == protocol.RoomPlaying
	})
	assert.Len(t, back.State.Players, 2)

	waitSnapshot(t, s1, "P1 resumes", func(s engine.State) bool {
		seat, ok := s.Seat("P2")
		return s.RoomState == protocol.RoomPlaying && ok && !seat.Disconnected
	})
}

func TestSession_RateLimitedAnswerIsWithdrawn(t *testing.T) {
	h := newHarness(t, devserver.WithMinPlayers(1))
	ctx := context.Background()

	// room creation and ready use up the whole budget
	p1 := h.newSessionWith(t, t.TempDir(), h.dialer(), conn.WithLimiter(ratelimit.New(2, time.Hour)))
	require.NoError(t, p1.Start(ctx, "P1"))
	s1 := subscribe(t, p1)

	require.NoError(t, p1.CreateRoom(ctx, "solo", 9, devserver.GameStandard))
	waitSnapshot(t, s1, "room", func(s engine.State) bool { return s.Active })
	require.NoError(t, p1.Ready(ctx))
	waitSnapshot(t, s1, "playing", func(s engine.State) bool { return s.RoomState == protocol.RoomPlaying && s.Question != nil })

	require.NoError(t, p1.SendAnswer(ctx, 1), "a dropped answer is not an error")
	snap, err := p1.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.State.PendingAnswer)
	assert.Nil(t, snap.State.LastAnswer)

	require.NoError(t, p1.Ready(ctx), "dropped sends stay silent")
}

func TestSession_PendingAnswerClearedByVerdict(t *testing.T) {
	h := newHarness(t, devserver.WithMinPlayers(1))
	ctx := context.Background()
	p1, s1 := h.start(t, "P1")

	require.NoError(t, p1.CreateRoom(ctx, "solo", 9, devserver.GameStandard))
	waitSnapshot(t, s1, "room", func(s engine.State) bool { return s.Active })
	require.NoError(t, p1.Ready(ctx))
	waitSnapshot(t, s1, "playing", func(s engine.State) bool { return s.RoomState == protocol.RoomPlaying && s.Question != nil })

	require.NoError(t, p1.SendAnswer(ctx, 2))
	waitSnapshot(t, s1, "pending", func(s engine.State) bool { return s.PendingAnswer != nil })
	judged := waitSnapshot(t, s1, "judged", func(s engine.State) bool { return s.LastAnswer != nil })
	assert.Nil(t, judged.State.PendingAnswer)
	assert.False(t, judged.State.LastAnswer.Correct)
}

func TestSession_NoticesForRejectedJoin(t *testing.T) {
	h := newHarness(t)
	p1, _ := h.start(t, "P1")
	notices, stop, err := p1.ObserveNotices()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, p1.JoinRoom(context.Background(), "NOPE42"))
	n := waitNotice(t, notices, engine.EvtJoinRejected)
	assert.Equal(t, "NOPE42", n.RoomID)

	require.NoError(t, p1.Ready(context.Background()))
	n = waitNotice(t, notices, engine.EvtServerError)
	assert.Equal(t, "not in a room", n.Message)
}

func TestSession_StartResumesStoredPlayer(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	ctx := context.Background()

	first := h.newSession(t, dir)
	require.NoError(t, first.Start(ctx, "P7"))
	require.NoError(t, first.Close())

	second := h.newSession(t, dir)
	require.NoError(t, second.Start(ctx, ""))
	assert.Equal(t, "P7", second.PlayerID())

	assert.ErrorIs(t, second.Start(ctx, "P8"), ErrPlayerMismatch)

	require.NoError(t, second.Forget(ctx))
	third := h.newSession(t, dir)
	assert.ErrorIs(t, third.Start(ctx, ""), ErrNoPlayer)
}

func TestSession_RequiresStart(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, t.TempDir())

	_, _, err := s.ObserveRoomSnapshot()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, s.JoinRoom(context.Background(), "R1"), ErrNotStarted)
	assert.ErrorIs(t, s.SendAnswer(context.Background(), 0), ErrNotStarted)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Start(context.Background(), "P1"), ErrClosed)
	assert.NoError(t, s.Close(), "closing twice is fine")
}

func TestSession_LeaveConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1, s1 := h.start(t, "P1")
	statuses, stop := p1.ObserveConnectionStatus()
	defer stop()

	require.NoError(t, p1.CreateRoom(ctx, "trivia", 9, devserver.GameStandard))
	waitSnapshot(t, s1, "room", func(s engine.State) bool { return s.Active })

	require.NoError(t, p1.LeaveConnection())
	waitStatus(t, statuses, conn.Status{Phase: conn.Idle})
	waitSnapshot(t, s1, "room forgotten", func(s engine.State) bool { return !s.Active })
	assert.ErrorIs(t, p1.JoinRoom(ctx, "R1"), conn.ErrNotConnected)

	require.NoError(t, p1.Start(ctx, ""))
	waitStatus(t, statuses, conn.Status{Phase: conn.Connected})
}
