package protocol

import (
	"encoding/json"
	"log/slog"

	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/hub"
	"github.com/5h1ro0o/loup-garou/room"
)

// adminActions is the admin vocabulary. Anything else is logged and dropped
// before it reaches a room.
var adminActions = map[string]bool{
	room.ActionOpenGame:   true,
	room.ActionStartGame:  true,
	room.ActionEndGame:    true,
	room.ActionAddPlayer:  true,
	room.ActionPlayerJoin: true,
}

// AdminHandler serves the admin listener. Every admin session is bound to
// one room, fixed at construction.
type AdminHandler struct {
	rooms  *hub.Hub
	roomID string
}

func NewAdminHandler(rooms *hub.Hub, roomID string) *AdminHandler {
	return &AdminHandler{rooms: rooms, roomID: roomID}
}

// Connect binds sess as the admin of the default room, replacing any
// previous admin.
func (h *AdminHandler) Connect(sess domain.Session) {
	h.rooms.GetOrCreate(h.roomID).BindAdmin(sess)
	sess.Join(h.roomID, "")
	slog.Info("admin connected", "clientId", sess.ID(), "room", h.roomID)
}

func (h *AdminHandler) Handle(sess domain.Session, data []byte) {
	var msg domain.AdminMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid admin message", "clientId", sess.ID(), "error", err)
		return
	}
	if !adminActions[msg.Action] {
		slog.Warn("unknown admin action", "clientId", sess.ID(), "action", msg.Action)
		return
	}

	slog.Debug("admin action", "clientId", sess.ID(), "room", h.roomID, "action", msg.Action)
	h.rooms.GetOrCreate(h.roomID).HandleAdmin(msg)
}

func (h *AdminHandler) Disconnect(sess domain.Session) {
	if r, ok := h.rooms.Get(h.roomID); ok && r.UnbindAdmin(sess) {
		slog.Info("admin unbound", "clientId", sess.ID(), "room", h.roomID)
	}
	sess.Leave()
	slog.Info("admin disconnected", "clientId", sess.ID())
}
