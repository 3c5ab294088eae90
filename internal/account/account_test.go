package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/players", func(w http.ResponseWriter, r *http.Request) {
		var p Player
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		p.ID = "P-" + p.Name
		writeJSON(w, http.StatusCreated, p)
	})
	r.Post("/players/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PlayerID string `json:"playerId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.PlayerID != "P-ann" {
			http.Error(w, "unknown player", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, Player{ID: "P-ann", Name: "ann"})
	})
	r.Get("/rooms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []GameRoom{{ID: "R1", Name: "trivia", CategoryID: 9, GameType: "standard", State: "WAITING", Players: 2}})
	})
	r.Get("/game-types", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []GameType{{ID: "standard", Name: "Standard"}, {ID: "cursor", Name: "Cursor race"}})
	})
	r.Get("/categories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Category{{ID: 9, Name: "General"}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClient_Players(t *testing.T) {
	srv, _ := newTestServer(t)
	c := New(srv.URL + "/")
	ctx := context.Background()

	p, err := c.CreatePlayer(ctx, "ann", "https://img/ann.png")
	require.NoError(t, err)
	assert.Equal(t, "P-ann", p.ID)
	assert.Equal(t, "https://img/ann.png", p.AvatarURL)

	p, err = c.Login(ctx, "P-ann")
	require.NoError(t, err)
	assert.Equal(t, "ann", p.Name)

	_, err = c.Login(ctx, "P-nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unknown player", se.Body)

	_, err = c.CreatePlayer(ctx, "", "")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestClient_Lobby(t *testing.T) {
	srv, hits := newTestServer(t)
	c := New(srv.URL)

	l, err := c.Lobby(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	require.Len(t, l.Rooms, 1)
	assert.Equal(t, "R1", l.Rooms[0].ID)
	assert.Len(t, l.GameTypes, 2)
	assert.Equal(t, []Category{{ID: 9, Name: "General"}}, l.Categories)
}

func TestClient_LobbyFailsAsAWhole(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/rooms", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, []GameRoom{}) })
	r.Get("/game-types", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, []GameType{}) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, err := New(srv.URL).Lobby(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "categories")
}
