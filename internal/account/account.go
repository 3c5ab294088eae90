// Package account talks to the stateless account and lobby endpoints that
// sit next to the game socket.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/quiz-client/internal/config"
)

var ErrNotFound = errors.New("not found")

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type GameRoom struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CategoryID int    `json:"categoryId"`
	GameType   string `json:"gameType"`
	State      string `json:"state"`
	Players    int    `json:"players"`
}

type GameType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Lobby is everything the room picker shows.
type Lobby struct {
	Rooms      []GameRoom
	GameTypes  []GameType
	Categories []Category
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l *zap.Logger) Option      { return func(c *Client) { c.log = l } }

type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: config.HTTPTimeout},
		log:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Login(ctx context.Context, playerID string) (Player, error) {
	var p Player
	err := c.do(ctx, http.MethodPost, "/players/login", map[string]string{"playerId": playerID}, &p)
	return p, err
}

func (c *Client) CreatePlayer(ctx context.Context, name, avatarURL string) (Player, error) {
	var p Player
	err := c.do(ctx, http.MethodPost, "/players", Player{Name: name, AvatarURL: avatarURL}, &p)
	return p, err
}

func (c *Client) Rooms(ctx context.Context) ([]GameRoom, error) {
	var out []GameRoom
	err := c.do(ctx, http.MethodGet, "/rooms", nil, &out)
	return out, err
}

func (c *Client) GameTypes(ctx context.Context) ([]GameType, error) {
	var out []GameType
	err := c.do(ctx, http.MethodGet, "/game-types", nil, &out)
	return out, err
}

func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := c.do(ctx, http.MethodGet, "/categories", nil, &out)
	return out, err
}

// Lobby fetches rooms, game types and categories in parallel. The first
// failure cancels the other two.
func (c *Client) Lobby(ctx context.Context) (Lobby, error) {
	var l Lobby
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rooms, err := c.Rooms(ctx)
		if err != nil {
			return fmt.Errorf("rooms: %w", err)
		}
		l.Rooms = rooms
		return nil
	})
	g.Go(func() error {
		types, err := c.GameTypes(ctx)
		if err != nil {
			return fmt.Errorf("game types: %w", err)
		}
		l.GameTypes = types
		return nil
	})
	g.Go(func() error {
		cats, err := c.Categories(ctx)
		if err != nil {
			return fmt.Errorf("categories: %w", err)
		}
		l.Categories = cats
		return nil
	})

	if err := g.Wait(); err != nil {
		return Lobby{}, err
	}
	return l, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Debug("account request failed",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
