// Package protocol routes decoded messages to rooms. Players and admins use
// separate handlers with separate vocabularies; the listener that accepted a
// connection decides which one applies.
package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/5h1ro0o/loup-garou/broadcast"
	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/hub"
	"github.com/5h1ro0o/loup-garou/room"
)

// Player message types.
const (
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypeStartGame = "start_game"
	TypeChat      = "chat"
	TypeAction    = "action"
	TypePing      = "ping"
)

var errEmptyName = errors.New("a name is required to join")

type playerRoute func(sess domain.Session, msg domain.PlayerMessage) error

type PlayerHandler struct {
	rooms       *hub.Hub
	defaultRoom string
	routes      map[string]playerRoute
}

func NewPlayerHandler(rooms *hub.Hub, defaultRoom string) *PlayerHandler {
	h := &PlayerHandler{rooms: rooms, defaultRoom: defaultRoom}
	h.routes = map[string]playerRoute{
		TypeJoinRoom:  h.join,
		TypeLeaveRoom: h.leave,
		TypeStartGame: h.start,
		TypeChat:      h.chat,
		TypeAction:    h.action,
		TypePing:      h.ping,
	}
	return h
}

func (h *PlayerHandler) Connect(sess domain.Session) {
	slog.Info("player connected", "clientId", sess.ID())
}

func (h *PlayerHandler) Handle(sess domain.Session, data []byte) {
	var msg domain.PlayerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "clientId", sess.ID(), "error", err)
		return
	}

	route, ok := h.routes[msg.Type]
	if !ok {
		slog.Warn("unknown message type", "clientId", sess.ID(), "type", msg.Type)
		return
	}
	if err := route(sess, msg); err != nil {
		h.reject(sess, msg.Type, err)
	}
}

func (h *PlayerHandler) Disconnect(sess domain.Session) {
	h.leave(sess, domain.PlayerMessage{})
	slog.Info("player disconnected", "clientId", sess.ID())
}

// reject reports a policy error to the originating session only.
func (h *PlayerHandler) reject(sess domain.Session, msgType string, err error) {
	slog.Info("request refused", "clientId", sess.ID(), "type", msgType, "error", err)
	if errors.Is(err, room.ErrNotEnoughPlayers) {
		// the room already told the session
		return
	}
	broadcast.Unicast(sess, domain.NewSystemMessage(err.Error()))
}

func (h *PlayerHandler) current(sess domain.Session) (*room.Room, error) {
	if sess.Room() == "" {
		return nil, room.ErrNotInRoom
	}
	return h.rooms.GetOrCreate(sess.Room()), nil
}

func (h *PlayerHandler) join(sess domain.Session, msg domain.PlayerMessage) error {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		return errEmptyName
	}
	roomID := strings.TrimSpace(msg.Room)
	if roomID == "" {
		roomID = h.defaultRoom
	}

	// a refused join keeps the session where it was
	if err := h.rooms.GetOrCreate(roomID).AddPlayer(sess, name); err != nil {
		return err
	}
	if prev := sess.Room(); prev != "" && prev != roomID {
		if r, ok := h.rooms.Get(prev); ok {
			r.RemovePlayer(sess)
		}
	}
	sess.Join(roomID, name)
	return nil
}

func (h *PlayerHandler) leave(sess domain.Session, _ domain.PlayerMessage) error {
	if sess.Room() == "" {
		return nil
	}
	if r, ok := h.rooms.Get(sess.Room()); ok {
		r.RemovePlayer(sess)
	}
	sess.Leave()
	return nil
}

func (h *PlayerHandler) start(sess domain.Session, _ domain.PlayerMessage) error {
	r, err := h.current(sess)
	if err != nil {
		return err
	}
	return r.StartGame(sess)
}

func (h *PlayerHandler) chat(sess domain.Session, msg domain.PlayerMessage) error {
	r, err := h.current(sess)
	if err != nil {
		return err
	}
	return r.Chat(sess, msg.Content)
}

func (h *PlayerHandler) action(sess domain.Session, msg domain.PlayerMessage) error {
	r, err := h.current(sess)
	if err != nil {
		return err
	}
	return r.Act(sess, msg.Payload)
}

func (h *PlayerHandler) ping(sess domain.Session, msg domain.PlayerMessage) error {
	broadcast.Unicast(sess, domain.Pong{Type: "pong", Timestamp: msg.Timestamp, ClientID: sess.ID()})
	return nil
}
