// Package broadcast serializes a message once and delivers it best-effort.
// A failed send is logged and never stops delivery to the other recipients.
package broadcast

import (
	"encoding/json"
	"log/slog"

	"github.com/5h1ro0o/loup-garou/domain"
)

// Encode marshals msg as one newline-terminated frame.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Broadcast sends msg to every recipient and returns how many deliveries
// were accepted.
func Broadcast(recipients []domain.Connection, msg any) int {
	data, err := Encode(msg)
	if err != nil {
		slog.Warn("marshal error", "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range recipients {
		if err := conn.Send(data); err != nil {
			slog.Warn("send failed", "clientId", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Unicast sends msg to a single recipient. A nil recipient is ignored.
func Unicast(conn domain.Connection, msg any) bool {
	if conn == nil {
		return false
	}
	data, err := Encode(msg)
	if err != nil {
		slog.Warn("marshal error", "clientId", conn.ID(), "error", err)
		return false
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send failed", "clientId", conn.ID(), "error", err)
		return false
	}
	return true
}
