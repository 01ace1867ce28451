// Package api serves the classification output over HTTP, read-only. The
// scrape pipeline is the only writer; this surface just exposes the current
// flushed state for dashboards and ad hoc lookups.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/luoxia/steamtags/internal/store"
)

// Server handles HTTP requests over the result and universe stores.
type Server struct {
	results  *store.Results
	universe *store.Universe
	addr     string
	log      *slog.Logger
}

// New creates a new API server. A nil logger disables logging.
func New(results *store.Results, universe *store.Universe, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{results: results, universe: universe, addr: addr, log: log}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.log.Info("starting server", "addr", s.addr)
	return http.ListenAndServe(s.addr, withCORS(s.Handler()))
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /chinese", s.listChinese)
	mux.HandleFunc("GET /cards", s.listCards)
	mux.HandleFunc("GET /apps/{id}", s.getApp)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /health", s.health)

	return mux
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listChinese(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"games": s.results.ChineseGames(),
		"count": s.results.ChineseCount(),
	})
}

func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"games": s.results.CardGames(),
		"count": s.results.CardCount(),
	})
}

func (s *Server) getApp(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "app id must be numeric")
		return
	}

	if s.results.IsInvalid(id) {
		writeError(w, http.StatusNotFound, "app id is marked invalid")
		return
	}

	rec, ok := s.results.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "app not classified")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"appid":  id,
		"record": rec,
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	total, err := s.universe.CountApps()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.universe.CountPending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"universe": total,
		"pending":  pending,
		"chinese":  s.results.ChineseCount(),
		"cards":    s.results.CardCount(),
		"invalid":  s.results.InvalidCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
