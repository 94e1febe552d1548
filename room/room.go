// Package room implements the per-room state machine: roster, lifecycle,
// turn pointer and the optional bound admin session.
//
// Every read-modify-write of a room runs under that room's mutex. Outbound
// sends happen inside the critical section so that all sessions observe
// events in the same order; Send only enqueues, so a slow peer cannot stall
// the room.
package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/5h1ro0o/loup-garou/broadcast"
	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/game"
)

const DefaultMinPlayers = 4

var (
	ErrAlreadyStarted   = errors.New("room already started")
	ErrNameTaken        = errors.New("name already taken")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrNotInRoom        = errors.New("not in room")
	ErrNotStarted       = errors.New("game not started")
	ErrNotYourTurn      = errors.New("not your turn")
)

const (
	ActionOpenGame   = "open_game"
	ActionStartGame  = "start_game"
	ActionEndGame    = "end_game"
	ActionAddPlayer  = "add_player"
	ActionPlayerJoin = "player_join"
)

type Option func(*Room)

func WithMinPlayers(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.minPlayers = n
		}
	}
}

// WithGame sets the factory for the rule engine created at start.
func WithGame(newGame func() domain.GameLogic) Option {
	return func(r *Room) { r.newGame = newGame }
}

func WithRoles(a domain.RoleAssigner) Option {
	return func(r *Room) { r.roles = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Room) { r.log = l }
}

type member struct {
	conn domain.Connection
	name string
	role domain.Role
}

type Room struct {
	id         string
	minPlayers int
	newGame    func() domain.GameLogic
	roles      domain.RoleAssigner
	log        *slog.Logger

	mu        sync.Mutex
	roster    []*member
	lifecycle domain.Lifecycle
	turn      *member
	game      domain.GameLogic
	announced map[string]struct{}
	admin     domain.Connection
}

func New(id string, opts ...Option) *Room {
	r := &Room{
		id:         id,
		minPlayers: DefaultMinPlayers,
		newGame:    func() domain.GameLogic { return game.NewEngine() },
		roles:      game.NewAssigner(game.DefaultWerewolfRatio, true, nil),
		log:        slog.Default(),
		announced:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Room) ID() string { return r.id }

func (r *Room) Lifecycle() domain.Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifecycle
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roster)
}

// AddPlayer puts conn on the roster. Re-adding a rostered session only
// renames it.
func (r *Room) AddPlayer(conn domain.Connection, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lifecycle != domain.Waiting {
		return ErrAlreadyStarted
	}

	for _, m := range r.roster {
		if m.name == name && m.conn.ID() != conn.ID() {
			return fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
	}

	if _, m := r.findLocked(conn.ID()); m != nil {
		m.name = name
	} else {
		r.roster = append(r.roster, &member{conn: conn, name: name})
	}
	count := len(r.roster)

	r.log.Info("player joined", "room", r.id, "clientId", conn.ID(), "name", name, "players", count)

	r.broadcastPlayerListLocked()
	if r.admin != nil {
		broadcast.Unicast(r.admin, domain.AdminMessage{Action: ActionPlayerJoin, Username: name})
	}
	if count >= r.minPlayers {
		r.broadcastLocked(domain.NewSystemMessage(fmt.Sprintf("The game can start! (%d players connected)", count)))
	}
	return nil
}

// RemovePlayer drops conn from the roster. The lifecycle never moves back,
// even when the roster becomes empty.
func (r *Room) RemovePlayer(conn domain.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, m := r.findLocked(conn.ID())
	if m == nil {
		return false
	}
	r.roster = slices.Delete(r.roster, idx, idx+1)

	if r.turn == m {
		r.turn = r.nextTurnLocked(idx)
	}

	r.log.Info("player left", "room", r.id, "clientId", conn.ID(), "name", m.name, "players", len(r.roster))

	if r.lifecycle == domain.Started {
		r.game.Remove(m.name)
	}

	r.broadcastPlayerListLocked()
	if r.lifecycle == domain.Started {
		r.broadcastGameStateLocked()
		if winner := r.game.Winner(); winner != "" {
			r.announceOnceLocked("winner", fmt.Sprintf("The %s win!", winner))
		}
	}
	return true
}

// StartGame moves the room from Waiting to Started. It is a no-op once the
// room has left Waiting. With too few players only trigger is told, and
// nothing changes.
func (r *Room) StartGame(trigger domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lifecycle != domain.Waiting {
		return nil
	}

	if len(r.roster) < r.minPlayers {
		if trigger != nil {
			broadcast.Unicast(trigger, domain.NewSystemMessage(
				fmt.Sprintf("Cannot start: at least %d players are required.", r.minPlayers)))
		}
		return ErrNotEnoughPlayers
	}

	assigned := r.roles.Assign(r.namesLocked())
	players := make(map[string]domain.PlayerState, len(r.roster))
	for _, m := range r.roster {
		role := assigned[m.name]
		if role == domain.RoleNone {
			role = domain.RoleVillager
		}
		players[m.name] = domain.PlayerState{Role: role, Status: domain.StatusAlive}
	}

	g := r.newGame()
	if err := g.Initialize(players, r.id); err != nil {
		return fmt.Errorf("initialize game: %w", err)
	}

	for _, m := range r.roster {
		m.role = players[m.name].Role
	}
	r.game = g
	r.turn = r.roster[0]
	r.lifecycle = domain.Started

	r.log.Info("game started", "room", r.id, "players", len(r.roster), "turn", r.turn.name)

	r.broadcastLocked(domain.NewSystemMessage("The game has started!"))
	for _, m := range r.roster {
		broadcast.Unicast(m.conn, domain.RoleAssignment{Type: "role_assignment", Role: m.role})
	}
	r.broadcastGameStateLocked()
	if r.admin != nil {
		broadcast.Unicast(r.admin, domain.AdminMessage{Action: ActionStartGame})
	}
	return nil
}

// End moves a started room to Ended. The roster is kept. A room that never
// started stays Waiting.
func (r *Room) End() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lifecycle != domain.Started {
		r.log.Info("end ignored", "room", r.id, "lifecycle", r.lifecycle.String())
		return
	}
	r.broadcastLocked(domain.NewSystemMessage("The game was terminated by the administrator."))
	r.lifecycle = domain.Ended
	r.turn = nil

	r.log.Info("game ended", "room", r.id)
}

// HandleAdmin applies one admin action. Unknown actions are logged and
// ignored.
func (r *Room) HandleAdmin(msg domain.AdminMessage) {
	switch msg.Action {
	case ActionOpenGame:
		r.Announce("The game is now open to players!")
	case ActionStartGame:
		if err := r.StartGame(nil); err != nil {
			r.log.Warn("admin start refused", "room", r.id, "error", err)
		}
	case ActionEndGame:
		r.End()
	case ActionAddPlayer, ActionPlayerJoin:
		r.Announce(fmt.Sprintf("%s joined the game!", msg.Username))
	default:
		r.log.Warn("unknown admin action", "room", r.id, "action", msg.Action)
	}
}

// Announce broadcasts a system message to the roster.
func (r *Room) Announce(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(domain.NewSystemMessage(content))
}

// BindAdmin makes conn the admin of the room, replacing any previous one.
func (r *Room) BindAdmin(conn domain.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admin != nil && r.admin.ID() != conn.ID() {
		r.log.Info("admin replaced", "room", r.id, "previous", r.admin.ID(), "clientId", conn.ID())
	}
	r.admin = conn
}

// UnbindAdmin clears the binding only if conn is the bound admin.
func (r *Room) UnbindAdmin(conn domain.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admin == nil || r.admin.ID() != conn.ID() {
		return false
	}
	r.admin = nil
	return true
}

func (r *Room) Chat(conn domain.Connection, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, m := r.findLocked(conn.ID())
	if m == nil {
		return ErrNotInRoom
	}
	r.broadcastLocked(domain.ChatMessage{Type: "chat_message", Sender: m.name, Content: content})
	return nil
}

// Act hands a turn action to the game logic and advances the turn pointer.
func (r *Room) Act(conn domain.Connection, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, m := r.findLocked(conn.ID())
	if m == nil {
		return ErrNotInRoom
	}
	if r.lifecycle != domain.Started {
		return ErrNotStarted
	}
	if r.turn != m {
		return ErrNotYourTurn
	}
	if err := r.game.Apply(m.name, payload); err != nil {
		return fmt.Errorf("apply action: %w", err)
	}

	r.announceDeathsLocked()
	r.turn = r.nextTurnLocked(idx + 1)
	r.broadcastGameStateLocked()

	if winner := r.game.Winner(); winner != "" {
		r.announceOnceLocked("winner", fmt.Sprintf("The %s win!", winner))
	}
	return nil
}

type PlayerView struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role domain.Role `json:"role,omitempty"`
}

type Snapshot struct {
	ID         string           `json:"id"`
	Lifecycle  domain.Lifecycle `json:"lifecycle"`
	Players    []PlayerView     `json:"players"`
	Turn       string           `json:"turn,omitempty"`
	AdminBound bool             `json:"adminBound"`
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ID:         r.id,
		Lifecycle:  r.lifecycle,
		Players:    make([]PlayerView, 0, len(r.roster)),
		AdminBound: r.admin != nil,
	}
	for _, m := range r.roster {
		snap.Players = append(snap.Players, PlayerView{ID: m.conn.ID(), Name: m.name, Role: m.role})
	}
	if r.turn != nil {
		snap.Turn = r.turn.conn.ID()
	}
	return snap
}

func (r *Room) findLocked(id string) (int, *member) {
	for i, m := range r.roster {
		if m.conn.ID() == id {
			return i, m
		}
	}
	return -1, nil
}

func (r *Room) namesLocked() []string {
	names := make([]string, len(r.roster))
	for i, m := range r.roster {
		names[i] = m.name
	}
	return names
}

// nextTurnLocked returns the first living member at or after from, wrapping
// around the roster.
func (r *Room) nextTurnLocked(from int) *member {
	n := len(r.roster)
	if n == 0 {
		return nil
	}
	var dead []string
	if r.game != nil {
		dead = r.game.Dead()
	}
	for i := 0; i < n; i++ {
		m := r.roster[(from+i)%n]
		if !slices.Contains(dead, m.name) {
			return m
		}
	}
	return r.roster[from%n]
}

func (r *Room) announceDeathsLocked() {
	for _, name := range r.game.Dead() {
		r.announceOnceLocked("death:"+name, fmt.Sprintf("%s is dead.", name))
	}
}

func (r *Room) announceOnceLocked(key, content string) {
	if _, done := r.announced[key]; done {
		return
	}
	r.announced[key] = struct{}{}
	r.broadcastLocked(domain.NewSystemMessage(content))
}

func (r *Room) recipientsLocked() []domain.Connection {
	conns := make([]domain.Connection, len(r.roster))
	for i, m := range r.roster {
		conns[i] = m.conn
	}
	return conns
}

func (r *Room) broadcastLocked(msg any) {
	broadcast.Broadcast(r.recipientsLocked(), msg)
}

func (r *Room) broadcastPlayerListLocked() {
	r.broadcastLocked(domain.PlayerList{Type: "player_list", Room: r.id, Players: r.namesLocked()})
}

func (r *Room) broadcastGameStateLocked() {
	state := domain.GameState{Type: "game_state", Room: r.id}
	if r.game != nil {
		state.State = r.game.State()
	}
	if r.turn != nil {
		state.Turn = r.turn.name
	}
	r.broadcastLocked(state)
}
