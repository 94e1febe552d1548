// Package hub is the room registry. Rooms are created on first reference and
// kept for the life of the process.
package hub

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/5h1ro0o/loup-garou/room"
)

const shardCount = 16

type shard struct {
	rooms map[string]*room.Room
	mu    sync.RWMutex
}

type Hub struct {
	shards  [shardCount]*shard
	newRoom func(id string) *room.Room
}

// New returns an empty registry. newRoom builds a room for an unseen id; nil
// uses room.New with default options.
func New(newRoom func(id string) *room.Room) *Hub {
	if newRoom == nil {
		newRoom = func(id string) *room.Room { return room.New(id) }
	}
	h := &Hub{newRoom: newRoom}
	for i := range h.shards {
		h.shards[i] = &shard{rooms: make(map[string]*room.Room)}
	}
	return h
}

func (h *Hub) shardFor(id string) *shard {
	return h.shards[xxhash.Sum64String(id)%shardCount]
}

// Get returns the room with the given id, if it exists.
func (h *Hub) Get(id string) (*room.Room, bool) {
	s := h.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// GetOrCreate returns the room for id, creating it if needed. Concurrent
// callers for the same id always get the same room.
func (h *Hub) GetOrCreate(id string) *room.Room {
	if r, ok := h.Get(id); ok {
		return r
	}

	s := h.shardFor(id)
	s.mu.Lock()
	r, exists := s.rooms[id]
	if !exists {
		r = h.newRoom(id)
		s.rooms[id] = r
	}
	count := len(s.rooms)
	s.mu.Unlock()

	if !exists {
		slog.Info("room created", "room", id, "shardRooms", count)
	}
	return r
}

// Rooms returns every room sorted by id.
func (h *Hub) Rooms() []*room.Room {
	var out []*room.Room
	for _, s := range h.shards {
		s.mu.RLock()
		for _, r := range s.rooms {
			out = append(out, r)
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b *room.Room) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

func (h *Hub) Stats() (rooms, players int) {
	for _, r := range h.Rooms() {
		rooms++
		players += r.Len()
	}
	return rooms, players
}
