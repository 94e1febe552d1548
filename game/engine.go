// Package game holds the default rule engine and role policy used by rooms
// when no other engine is plugged in.
//
// Every living player acts once per phase, either eliminating a living
// target or passing. Once everyone alive has acted the phase flips between
// night and day. Villagers win when no
// werewolf is alive, werewolves win once they are at least as many as the
// rest.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/5h1ro0o/loup-garou/domain"
)

const (
	PhaseNight = "night"
	PhaseDay   = "day"

	WinnerVillagers  = "villagers"
	WinnerWerewolves = "werewolves"
)

var (
	ErrNotInitialized = errors.New("game not initialized")
	ErrUnknownPlayer  = errors.New("unknown player")
	ErrDeadPlayer     = errors.New("player is dead")
	ErrUnknownAction  = errors.New("unknown action")
	ErrGameOver       = errors.New("game is over")
)

// Action is the payload of a player "action" message.
type Action struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

// Snapshot is the public view of a game. Roles are not included.
type Snapshot struct {
	Room    string            `json:"room"`
	Phase   string            `json:"phase"`
	Round   int               `json:"round"`
	Players map[string]string `json:"players"`
	Winner  string            `json:"winner,omitempty"`
}

type Engine struct {
	mu      sync.Mutex
	room    string
	players map[string]*domain.PlayerState
	acted   map[string]bool
	phase   string
	round   int
	winner  string
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) Initialize(players map[string]domain.PlayerState, roomID string) error {
	if len(players) == 0 {
		return errors.New("initialize: no players")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.room = roomID
	e.players = make(map[string]*domain.PlayerState, len(players))
	for name, p := range players {
		if p.Status == "" {
			p.Status = domain.StatusAlive
		}
		e.players[name] = &p
	}
	e.acted = make(map[string]bool)
	e.phase = PhaseNight
	e.round = 1
	e.winner = ""
	return nil
}

func (e *Engine) Apply(player string, payload json.RawMessage) error {
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.players == nil {
		return ErrNotInitialized
	}
	if e.winner != "" {
		return ErrGameOver
	}
	actor, ok := e.players[player]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, player)
	}
	if actor.Status != domain.StatusAlive {
		return fmt.Errorf("%w: %s", ErrDeadPlayer, player)
	}

	switch action.Kind {
	case "pass":
	case "eliminate":
		target, ok := e.players[action.Target]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlayer, action.Target)
		}
		if target.Status != domain.StatusAlive {
			return fmt.Errorf("%w: %s", ErrDeadPlayer, action.Target)
		}
		target.Status = domain.StatusDead
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action.Kind)
	}

	e.acted[player] = true
	e.advancePhase()
	e.winner = e.computeWinner()
	return nil
}

// Remove takes a departed player out of play. They no longer hold up the
// phase and no longer count towards either side.
func (e *Engine) Remove(player string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.players[player]
	if !ok || p.Status != domain.StatusAlive {
		return
	}
	p.Status = domain.StatusLeft
	delete(e.acted, player)
	if e.winner != "" {
		return
	}
	e.advancePhase()
	e.winner = e.computeWinner()
}

func (e *Engine) advancePhase() {
	alive := 0
	for name, p := range e.players {
		if p.Status != domain.StatusAlive {
			continue
		}
		if !e.acted[name] {
			return
		}
		alive++
	}
	if alive == 0 {
		return
	}
	clear(e.acted)
	if e.phase == PhaseNight {
		e.phase = PhaseDay
		return
	}
	e.phase = PhaseNight
	e.round++
}

func (e *Engine) computeWinner() string {
	wolves, others := 0, 0
	for _, p := range e.players {
		if p.Status != domain.StatusAlive {
			continue
		}
		if p.Role == domain.RoleWerewolf {
			wolves++
		} else {
			others++
		}
	}
	switch {
	case wolves == 0:
		return WinnerVillagers
	case wolves >= others:
		return WinnerWerewolves
	}
	return ""
}

func (e *Engine) State() any {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Room:    e.room,
		Phase:   e.phase,
		Round:   e.round,
		Players: make(map[string]string, len(e.players)),
		Winner:  e.winner,
	}
	for name, p := range e.players {
		snap.Players[name] = p.Status
	}
	return snap
}

// Dead returns the names of dead players, sorted.
func (e *Engine) Dead() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var dead []string
	for name, p := range e.players {
		if p.Status == domain.StatusDead {
			dead = append(dead, name)
		}
	}
	slices.Sort(dead)
	return dead
}

func (e *Engine) Winner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.winner
}
