package server

import (
	"encoding/json"
	"net/http"

	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/room"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.gateway)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/rooms", s.roomsHandler)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, players := s.rooms.Stats()
	writeJSON(w, map[string]int{
		"rooms":      rooms,
		"players":    players,
		"sessions":   s.Sessions(),
		"websockets": s.gateway.Len(),
	})
}

func (s *Server) roomsHandler(w http.ResponseWriter, r *http.Request) {
	all := s.rooms.Rooms()
	snaps := make([]room.Snapshot, 0, len(all))
	for _, rm := range all {
		snap := rm.Snapshot()
		// roles stay private to their players
		for i := range snap.Players {
			snap.Players[i].Role = domain.RoleNone
		}
		snaps = append(snaps, snap)
	}
	writeJSON(w, snaps)
}
