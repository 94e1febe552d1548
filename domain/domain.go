package domain

import "encoding/json"

// Lifecycle is the state of a room. It only moves forward:
// Waiting -> Started -> Ended.
type Lifecycle int

const (
	Waiting Lifecycle = iota
	Started
	Ended
)

func (l Lifecycle) String() string {
	switch l {
	case Waiting:
		return "waiting"
	case Started:
		return "started"
	case Ended:
		return "ended"
	}
	return "unknown"
}

func (l Lifecycle) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

type Role string

const (
	RoleNone     Role = ""
	RoleVillager Role = "villager"
	RoleWerewolf Role = "werewolf"
	RoleSeer     Role = "seer"
)

const (
	StatusAlive = "alive"
	StatusDead  = "dead"
	StatusLeft  = "left"
)

// PlayerState is what the game logic receives for every rostered player.
type PlayerState struct {
	Role   Role   `json:"role"`
	Status string `json:"status"`
}

// PlayerMessage is the inbound envelope on the player channel.
type PlayerMessage struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Name      string          `json:"name,omitempty"`
	Content   string          `json:"content,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// AdminMessage is both the inbound envelope on the admin channel and the
// notification sent back to the bound admin.
type AdminMessage struct {
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
}

type SystemMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type PlayerList struct {
	Type    string   `json:"type"`
	Room    string   `json:"room"`
	Players []string `json:"players"`
}

type GameState struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Turn  string `json:"turn,omitempty"`
	State any    `json:"state"`
}

type RoleAssignment struct {
	Type string `json:"type"`
	Role Role   `json:"role"`
}

type ChatMessage struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId"`
}

func NewSystemMessage(content string) SystemMessage {
	return SystemMessage{Type: "system_message", Content: content}
}

// Connection is a single outbound delivery target.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Session is an accepted connection plus the room association that the
// dispatcher records on it. The association is only touched by the goroutine
// that handles the connection.
type Session interface {
	Connection
	Room() string
	Name() string
	Join(room, name string)
	Leave()
}

// MessageHandler is the vocabulary of one listener. Connect and Disconnect
// bracket the lifetime of every session accepted by that listener.
type MessageHandler interface {
	Connect(sess Session)
	Handle(sess Session, data []byte)
	Disconnect(sess Session)
}

// GameLogic is the rule engine plugged into a room at start.
type GameLogic interface {
	Initialize(players map[string]PlayerState, roomID string) error
	Apply(player string, payload json.RawMessage) error
	// Remove is called when a player leaves a started game.
	Remove(player string)
	State() any
	Dead() []string
	Winner() string
}

// RoleAssigner decides the role of every player. The slice is in join order
// and the result must have one role per name.
type RoleAssigner interface {
	Assign(names []string) map[string]Role
}
