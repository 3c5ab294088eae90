package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-client/internal/account"
	"github.com/DoyleJ11/quiz-client/internal/config"
	"github.com/DoyleJ11/quiz-client/internal/conn"
	"github.com/DoyleJ11/quiz-client/internal/engine"
	"github.com/DoyleJ11/quiz-client/internal/protocol"
	"github.com/DoyleJ11/quiz-client/internal/session"
	"github.com/DoyleJ11/quiz-client/internal/store"
)

const help = `commands:
  lobby                          list rooms, game types and categories
  create <name> <category> <type> create a room
  join <room>                    join a waiting room
  rejoin <room>                  take your seat back in a running room
  ready                          mark yourself ready
  answer <index>                 answer the current question
  state                          print the room
  leave                          close the connection
  connect                        connect again
  forget                         forget the stored player id
  quit`

func main() {
	name := flag.String("name", "", "create a new player with this name")
	avatar := flag.String("avatar", "", "avatar url for a new player")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	acct := account.New(cfg.APIURL, account.WithLogger(logger.Named("account")))

	playerID, err := resolvePlayer(ctx, acct, st, *name, *avatar)
	if err != nil {
		_ = st.Close()
		logger.Fatal("resolve player", zap.Error(err))
	}

	mgr := conn.NewManager(
		conn.WSDialer{URL: cfg.ServerURL, DialTimeout: config.DialTimeout, ReadLimit: config.MaxFrameBytes},
		conn.Config{
			MaxAttempts:  cfg.ReconnectAttempts,
			Backoff:      conn.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
			RateMax:      cfg.RateMax,
			RateWindow:   cfg.RateWindow,
			WriteTimeout: config.WriteTimeout,
			PingInterval: config.PingInterval,
			StableAfter:  config.StableAfter,
		},
		conn.WithLogger(logger.Named("conn")),
	)
	sess := session.New(mgr, st, session.WithLogger(logger.Named("session")))
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	if err := sess.Start(ctx, playerID); err != nil {
		logger.Error("start", zap.Error(err))
		return
	}
	fmt.Printf("playing as %s\n%s\n", playerID, help)
	watch(sess)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := run(ctx, sess, acct, strings.Fields(line))
			if err != nil {
				fmt.Println("error:", err)
			}
			if quit {
				return
			}
		}
	}
}

// resolvePlayer returns the stored player when the account service still
// knows it, otherwise registers a new one.
func resolvePlayer(ctx context.Context, acct *account.Client, st store.PlayerStore, name, avatar string) (string, error) {
	if name == "" {
		id, err := st.PlayerID(ctx)
		if err != nil {
			return "", err
		}
		if id != "" {
			p, err := acct.Login(ctx, id)
			if err == nil {
				return p.ID, nil
			}
			if !errors.Is(err, account.ErrNotFound) {
				return "", err
			}
		}
		return "", errors.New("no known player, pass -name to create one")
	}
	p, err := acct.CreatePlayer(ctx, name, avatar)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func watch(sess *session.Session) {
	statuses, _ := sess.ObserveConnectionStatus()
	go func() {
		for st := range statuses {
			fmt.Println("connection:", st)
		}
	}()

	snaps, _, err := sess.ObserveRoomSnapshot()
	if err == nil {
		go func() {
			for snap := range snaps {
				printState(snap.State)
			}
		}()
	}

	notices, _, err := sess.ObserveNotices()
	if err == nil {
		go func() {
			for n := range notices {
				fmt.Printf("* %s %s %s\n", n.Type, n.PlayerID, n.Message)
			}
		}()
	}
}

func run(ctx context.Context, sess *session.Session, acct *account.Client, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "quit", "exit":
		return true, nil

	case "help":
		fmt.Println(help)

	case "lobby":
		l, err := acct.Lobby(ctx)
		if err != nil {
			return false, err
		}
		for _, r := range l.Rooms {
			fmt.Printf("room %s %q %s category=%d players=%d %s\n", r.ID, r.Name, r.GameType, r.CategoryID, r.Players, r.State)
		}
		for _, t := range l.GameTypes {
			fmt.Printf("type %s %s\n", t.ID, t.Name)
		}
		for _, c := range l.Categories {
			fmt.Printf("category %d %s\n", c.ID, c.Name)
		}

	case "create":
		if len(args) != 4 {
			return false, errors.New("usage: create <name> <category> <type>")
		}
		cat, err := strconv.Atoi(args[2])
		if err != nil {
			return false, fmt.Errorf("category: %w", err)
		}
		return false, sess.CreateRoom(ctx, args[1], cat, args[3])

	case "join", "rejoin":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: %s <room>", args[0])
		}
		if args[0] == "rejoin" {
			return false, sess.RejoinRoom(ctx, args[1])
		}
		return false, sess.JoinRoom(ctx, args[1])

	case "ready":
		return false, sess.Ready(ctx)

	case "answer":
		if len(args) != 2 {
			return false, errors.New("usage: answer <index>")
		}
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return false, err
		}
		return false, sess.SendAnswer(ctx, i)

	case "state":
		snap, err := sess.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		printState(snap.State)

	case "leave":
		return false, sess.LeaveConnection()

	case "connect":
		return false, sess.Start(ctx, "")

	case "forget":
		return false, sess.Forget(ctx)

	default:
		return false, fmt.Errorf("unknown command %q", args[0])
	}
	return false, nil
}

func printState(s engine.State) {
	if !s.Active {
		fmt.Println("room: none")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "room %s [%s]", s.RoomID, s.RoomState)
	if s.Resyncing {
		b.WriteString(" resyncing")
	}
	for _, seat := range s.Players {
		fmt.Fprintf(&b, "\n  %s %s", seat.Player.Name, seat.Player.State)
		if seat.Disconnected {
			b.WriteString(" (away)")
		}
	}
	if q := s.Question; q != nil && s.RoomState == protocol.RoomPlaying {
		fmt.Fprintf(&b, "\n  Q%d %s (%dms)", s.RoundNumber, q.Text, s.TimeRemainingMs)
		for i, a := range q.Answers {
			fmt.Fprintf(&b, "\n    %d) %s", i, a)
		}
	}
	if r := s.LastRound; r != nil && s.RoomState == protocol.RoomRoundEnd {
		fmt.Fprintf(&b, "\n  answer was %d, winner %s", r.CorrectAnswer, r.WinnerPlayerID)
	}
	if s.Closed {
		fmt.Fprintf(&b, "\n  closed %s %s", s.Winner, s.CloseReason)
	}
	fmt.Println(b.String())
}
