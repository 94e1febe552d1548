package room

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/game"
)

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) getSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// messages decodes every frame sent to m whose "type" (or "action" for
// admin frames) equals kind.
func (m *mockConn) messages(t *testing.T, kind string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, data := range m.getSent() {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == kind || msg["action"] == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockConn) systemMessages(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, msg := range m.messages(t, "system_message") {
		out = append(out, msg["content"].(string))
	}
	return out
}

func newTestRoom(id string) *Room {
	return New(id, WithRoles(game.NewAssigner(4, true, rand.NewPCG(1, 1))))
}

func joinAll(t *testing.T, r *Room, names ...string) []*mockConn {
	t.Helper()
	conns := make([]*mockConn, len(names))
	for i, name := range names {
		conns[i] = &mockConn{id: "s-" + name}
		require.NoError(t, r.AddPlayer(conns[i], name))
	}
	return conns
}

func TestRoom_AddPlayerWhileWaiting(t *testing.T) {
	for n := 1; n <= 6; n++ {
		t.Run(fmt.Sprintf("%d players", n), func(t *testing.T) {
			r := newTestRoom("g1")
			for i := 0; i < n; i++ {
				require.NoError(t, r.AddPlayer(&mockConn{id: fmt.Sprintf("s%d", i)}, fmt.Sprintf("p%d", i)))
			}

			snap := r.Snapshot()
			assert.Len(t, snap.Players, n)
			for _, p := range snap.Players {
				assert.Equal(t, domain.RoleNone, p.Role)
			}
			assert.Equal(t, domain.Waiting, snap.Lifecycle)
			assert.Empty(t, snap.Turn)
		})
	}
}

func TestRoom_AddPlayerBroadcastsList(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B")

	lists := conns[0].messages(t, "player_list")
	require.Len(t, lists, 2)
	assert.Equal(t, []any{"A", "B"}, lists[1]["players"])
	assert.Len(t, conns[1].messages(t, "player_list"), 1)
}

func TestRoom_ReAddRenames(t *testing.T) {
	r := newTestRoom("g1")
	conn := &mockConn{id: "s1"}

	require.NoError(t, r.AddPlayer(conn, "A"))
	require.NoError(t, r.AddPlayer(conn, "Alice"))

	snap := r.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "Alice", snap.Players[0].Name)
}

func TestRoom_NameTaken(t *testing.T) {
	r := newTestRoom("g1")
	joinAll(t, r, "A")

	err := r.AddPlayer(&mockConn{id: "other"}, "A")

	assert.ErrorIs(t, err, ErrNameTaken)
	assert.Equal(t, 1, r.Len())
}

func TestRoom_CanStartAnnouncedPerJoinPastThreshold(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B", "C", "D", "E")

	// A saw the joins of D and E, both at or past the threshold.
	assert.Equal(t, []string{
		"The game can start! (4 players connected)",
		"The game can start! (5 players connected)",
	}, conns[0].systemMessages(t))
	assert.Equal(t, []string{"The game can start! (5 players connected)"}, conns[4].systemMessages(t))
}

func TestRoom_StartGameBelowThreshold(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B", "C")
	trigger := conns[1]

	err := r.StartGame(trigger)

	assert.ErrorIs(t, err, ErrNotEnoughPlayers)
	assert.Equal(t, domain.Waiting, r.Lifecycle())
	assert.Equal(t, []string{"Cannot start: at least 4 players are required."}, trigger.systemMessages(t))
	assert.Empty(t, conns[0].systemMessages(t))
	assert.Empty(t, conns[2].systemMessages(t))
	for _, p := range r.Snapshot().Players {
		assert.Equal(t, domain.RoleNone, p.Role)
	}
}

func TestRoom_StartGameBelowThresholdFromAdmin(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A")
	before := len(conns[0].getSent())

	r.HandleAdmin(domain.AdminMessage{Action: ActionStartGame})

	assert.Equal(t, domain.Waiting, r.Lifecycle())
	assert.Len(t, conns[0].getSent(), before)
}

func TestRoom_Scenario(t *testing.T) {
	r := newTestRoom("g1")
	admin := &mockConn{id: "admin"}
	r.BindAdmin(admin)

	conns := joinAll(t, r, "A", "B", "C", "D")

	joins := admin.messages(t, ActionPlayerJoin)
	require.Len(t, joins, 4)
	assert.Equal(t, "D", joins[3]["username"])

	r.HandleAdmin(domain.AdminMessage{Action: ActionStartGame})

	snap := r.Snapshot()
	assert.Equal(t, domain.Started, snap.Lifecycle)
	for _, p := range snap.Players {
		assert.NotEqual(t, domain.RoleNone, p.Role, "player %s", p.Name)
	}
	assert.Equal(t, conns[0].ID(), snap.Turn)

	assert.Len(t, admin.messages(t, ActionStartGame), 1)
	for _, c := range conns {
		assert.Contains(t, c.systemMessages(t), "The game has started!")
		require.Len(t, c.messages(t, "role_assignment"), 1)
		states := c.messages(t, "game_state")
		require.Len(t, states, 1)
		assert.Equal(t, "A", states[0]["turn"])
	}
}

func TestRoom_JoinAfterStart(t *testing.T) {
	r := newTestRoom("g1")
	joinAll(t, r, "A", "B", "C", "D")
	require.NoError(t, r.StartGame(nil))

	err := r.AddPlayer(&mockConn{id: "late"}, "E")

	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, 4, r.Len())
}

func TestRoom_EndIsTerminal(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B", "C", "D")
	require.NoError(t, r.StartGame(nil))

	r.HandleAdmin(domain.AdminMessage{Action: ActionEndGame})
	assert.Equal(t, domain.Ended, r.Lifecycle())
	assert.Contains(t, conns[0].systemMessages(t), "The game was terminated by the administrator.")

	sentBefore := len(conns[0].getSent())
	r.HandleAdmin(domain.AdminMessage{Action: ActionStartGame})
	require.NoError(t, r.StartGame(conns[0]))
	r.HandleAdmin(domain.AdminMessage{Action: ActionEndGame})

	snap := r.Snapshot()
	assert.Equal(t, domain.Ended, snap.Lifecycle)
	assert.Len(t, snap.Players, 4)
	assert.Empty(t, snap.Turn)
	assert.Len(t, conns[0].getSent(), sentBefore)
	assert.ErrorIs(t, r.AddPlayer(&mockConn{id: "late"}, "E"), ErrAlreadyStarted)
}

func TestRoom_EndWhileWaitingIsIgnored(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B")

	r.HandleAdmin(domain.AdminMessage{Action: ActionEndGame})

	snap := r.Snapshot()
	assert.Equal(t, domain.Waiting, snap.Lifecycle)
	for _, p := range snap.Players {
		assert.Equal(t, domain.RoleNone, p.Role)
	}
	assert.NotContains(t, conns[0].systemMessages(t), "The game was terminated by the administrator.")

	joinAll(t, r, "C", "D")
	require.NoError(t, r.StartGame(nil))
	assert.Equal(t, domain.Started, r.Lifecycle())
}

func TestRoom_StartIsIdempotent(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B", "C", "D")
	require.NoError(t, r.StartGame(nil))
	roles := r.Snapshot().Players

	require.NoError(t, r.StartGame(conns[2]))

	assert.Equal(t, roles, r.Snapshot().Players)
	assert.Len(t, conns[2].messages(t, "role_assignment"), 1)
}

func TestRoom_AdminActions(t *testing.T) {
	tests := []struct {
		name    string
		msg     domain.AdminMessage
		wantSys []string
	}{
		{name: "open game", msg: domain.AdminMessage{Action: ActionOpenGame}, wantSys: []string{"The game is now open to players!"}},
		{name: "player join", msg: domain.AdminMessage{Action: ActionPlayerJoin, Username: "Zoe"}, wantSys: []string{"Zoe joined the game!"}},
		{name: "add player", msg: domain.AdminMessage{Action: ActionAddPlayer, Username: "Yan"}, wantSys: []string{"Yan joined the game!"}},
		{name: "unknown action", msg: domain.AdminMessage{Action: "reboot"}, wantSys: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRoom("g1")
			conns := joinAll(t, r, "A")

			r.HandleAdmin(tt.msg)

			assert.Equal(t, tt.wantSys, conns[0].systemMessages(t))
			assert.Equal(t, 1, r.Len())
			assert.Equal(t, domain.Waiting, r.Lifecycle())
		})
	}
}

func TestRoom_AdminBinding(t *testing.T) {
	r := newTestRoom("g1")
	first := &mockConn{id: "admin1"}
	second := &mockConn{id: "admin2"}

	r.BindAdmin(first)
	r.BindAdmin(second)
	assert.False(t, r.UnbindAdmin(first))
	assert.True(t, r.Snapshot().AdminBound)

	joinAll(t, r, "A")
	assert.Empty(t, first.messages(t, ActionPlayerJoin))
	assert.Len(t, second.messages(t, ActionPlayerJoin), 1)

	assert.True(t, r.UnbindAdmin(second))
	assert.False(t, r.Snapshot().AdminBound)
}

func TestRoom_RemovePlayer(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B")

	assert.True(t, r.RemovePlayer(conns[0]))
	assert.False(t, r.RemovePlayer(conns[0]))

	snap := r.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "B", snap.Players[0].Name)
	lists := conns[1].messages(t, "player_list")
	assert.Equal(t, []any{"B"}, lists[len(lists)-1]["players"])
}

func TestRoom_RemoveTurnHolderAdvancesTurn(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B", "C", "D")
	require.NoError(t, r.StartGame(nil))

	r.RemovePlayer(conns[0])

	snap := r.Snapshot()
	assert.Equal(t, domain.Started, snap.Lifecycle)
	assert.Equal(t, conns[1].ID(), snap.Turn)
}

func TestRoom_EmptyRosterKeepsLifecycle(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B", "C", "D")
	require.NoError(t, r.StartGame(nil))

	for _, c := range conns {
		r.RemovePlayer(c)
	}

	assert.Equal(t, domain.Started, r.Lifecycle())
	assert.Zero(t, r.Len())
}

func TestRoom_Chat(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B")

	require.NoError(t, r.Chat(conns[0], "hello"))
	assert.ErrorIs(t, r.Chat(&mockConn{id: "stranger"}, "hi"), ErrNotInRoom)

	chats := conns[1].messages(t, "chat_message")
	require.Len(t, chats, 1)
	assert.Equal(t, "A", chats[0]["sender"])
	assert.Equal(t, "hello", chats[0]["content"])
}

func action(kind, target string) json.RawMessage {
	data, _ := json.Marshal(game.Action{Kind: kind, Target: target})
	return data
}

func TestRoom_ActRules(t *testing.T) {
	r := newTestRoom("g1")
	conns := joinAll(t, r, "A", "B", "C", "D")

	assert.ErrorIs(t, r.Act(conns[0], action("pass", "")), ErrNotStarted)
	require.NoError(t, r.StartGame(nil))

	assert.ErrorIs(t, r.Act(conns[1], action("pass", "")), ErrNotYourTurn)
	assert.ErrorIs(t, r.Act(&mockConn{id: "x"}, action("pass", "")), ErrNotInRoom)
	assert.ErrorIs(t, r.Act(conns[0], action("dance", "")), game.ErrUnknownAction)

	require.NoError(t, r.Act(conns[0], action("pass", "")))
	assert.Equal(t, conns[1].ID(), r.Snapshot().Turn)
}

func TestRoom_DeathAnnouncedOnceAndTurnSkipsDead(t *testing.T) {
	r := New("g1", WithMinPlayers(4), WithRoles(fixedRoles{
		"A": domain.RoleVillager,
		"B": domain.RoleVillager,
		"C": domain.RoleVillager,
		"D": domain.RoleWerewolf,
		"E": domain.RoleVillager,
	}))
	conns := joinAll(t, r, "A", "B", "C", "D", "E")
	require.NoError(t, r.StartGame(nil))

	require.NoError(t, r.Act(conns[0], action("eliminate", "B")))

	assert.Equal(t, conns[2].ID(), r.Snapshot().Turn)
	require.NoError(t, r.Act(conns[2], action("pass", "")))
	require.NoError(t, r.Act(conns[3], action("pass", "")))

	deaths := 0
	for _, msg := range conns[0].systemMessages(t) {
		if msg == "B is dead." {
			deaths++
		}
	}
	assert.Equal(t, 1, deaths)
}

func TestRoom_LeaverDoesNotStallGame(t *testing.T) {
	r := New("g1", WithRoles(fixedRoles{
		"A": domain.RoleVillager,
		"B": domain.RoleVillager,
		"C": domain.RoleWerewolf,
		"D": domain.RoleVillager,
		"E": domain.RoleVillager,
	}))
	conns := joinAll(t, r, "A", "B", "C", "D", "E")
	require.NoError(t, r.StartGame(nil))

	r.RemovePlayer(conns[4])
	for _, c := range conns[:4] {
		require.NoError(t, r.Act(c, action("pass", "")))
	}

	states := conns[0].messages(t, "game_state")
	require.NotEmpty(t, states)
	state := states[len(states)-1]["state"].(map[string]any)
	assert.Equal(t, game.PhaseDay, state["phase"])
	assert.Equal(t, domain.StatusLeft, state["players"].(map[string]any)["E"])
}

func TestRoom_LeaverCanDecideWinner(t *testing.T) {
	r := New("g1", WithRoles(fixedRoles{
		"A": domain.RoleVillager,
		"B": domain.RoleWerewolf,
		"C": domain.RoleVillager,
		"D": domain.RoleVillager,
	}))
	conns := joinAll(t, r, "A", "B", "C", "D")
	require.NoError(t, r.StartGame(nil))

	r.RemovePlayer(conns[1])

	assert.Contains(t, conns[0].systemMessages(t), "The villagers win!")
}

func TestRoom_WinnerAnnounced(t *testing.T) {
	r := New("g1", WithRoles(fixedRoles{
		"A": domain.RoleVillager,
		"B": domain.RoleWerewolf,
		"C": domain.RoleVillager,
		"D": domain.RoleVillager,
	}))
	conns := joinAll(t, r, "A", "B", "C", "D")
	require.NoError(t, r.StartGame(nil))

	require.NoError(t, r.Act(conns[0], action("eliminate", "B")))

	assert.Contains(t, conns[3].systemMessages(t), "The villagers win!")
	assert.Equal(t, domain.Started, r.Lifecycle())
}

func TestRoom_ConcurrentAddPlayer(t *testing.T) {
	r := newTestRoom("g1")
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &mockConn{id: fmt.Sprintf("s%d", i)}
			assert.NoError(t, r.AddPlayer(conn, fmt.Sprintf("p%d", i)))
			assert.NoError(t, r.AddPlayer(conn, fmt.Sprintf("p%d", i)))
		}(i)
	}
	wg.Wait()

	snap := r.Snapshot()
	require.Len(t, snap.Players, n)
	seen := make(map[string]bool)
	for _, p := range snap.Players {
		assert.False(t, seen[p.ID], "duplicate session %s", p.ID)
		seen[p.ID] = true
	}
}

func TestRoom_ConcurrentStartAndEnd(t *testing.T) {
	r := newTestRoom("g1")
	joinAll(t, r, "A", "B", "C", "D")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.HandleAdmin(domain.AdminMessage{Action: ActionStartGame})
		}()
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
	r.End()

	assert.Equal(t, domain.Ended, r.Lifecycle())
	require.NoError(t, r.StartGame(nil))
	assert.Equal(t, domain.Ended, r.Lifecycle())
}

type fixedRoles map[string]domain.Role

func (f fixedRoles) Assign(names []string) map[string]domain.Role {
	out := make(map[string]domain.Role, len(names))
	for _, n := range names {
		out[n] = f[n]
	}
	return out
}

type failingGame struct{ domain.GameLogic }

func (failingGame) Initialize(map[string]domain.PlayerState, string) error {
	return fmt.Errorf("engine offline")
}

func TestRoom_StartGameInitializeFailure(t *testing.T) {
	r := New("g1", WithGame(func() domain.GameLogic { return failingGame{} }))
	joinAll(t, r, "A", "B", "C", "D")

	err := r.StartGame(nil)

	require.Error(t, err)
	snap := r.Snapshot()
	assert.Equal(t, domain.Waiting, snap.Lifecycle)
	for _, p := range snap.Players {
		assert.Equal(t, domain.RoleNone, p.Role)
	}
}
