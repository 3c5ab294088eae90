package devserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DoyleJ11/quiz-client/internal/account"
)

func SetupRoutes(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", Handler(s))

	r.Post("/players", CreatePlayer(s))
	r.Post("/players/login", Login(s))
	r.Get("/rooms", ListRooms(s))
	r.Get("/game-types", ListGameTypes)
	r.Get("/categories", ListCategories)
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func CreatePlayer(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body account.Player
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		p, ok := s.CreatePlayer(body.Name, body.AvatarURL)
		if !ok {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func Login(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PlayerID string `json:"playerId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PlayerID == "" {
			http.Error(w, "playerId is required", http.StatusBadRequest)
			return
		}
		p, ok := s.Login(body.PlayerID)
		if !ok {
			http.Error(w, "unknown player", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func ListRooms(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Rooms())
	}
}

func ListGameTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gameTypes)
}

func ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, categories)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
