package game

import (
	"math/rand/v2"
	"sync"

	"github.com/5h1ro0o/loup-garou/domain"
)

const DefaultWerewolfRatio = 4

// Assigner hands out one werewolf per WerewolfRatio players (at least one),
// a seer when enabled and enough players remain, and villagers otherwise.
type Assigner struct {
	werewolfRatio int
	seer          bool

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewAssigner returns an assigner. A nil src uses a randomly seeded source.
func NewAssigner(werewolfRatio int, seer bool, src rand.Source) *Assigner {
	if werewolfRatio < 1 {
		werewolfRatio = DefaultWerewolfRatio
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Assigner{werewolfRatio: werewolfRatio, seer: seer, rnd: rand.New(src)}
}

func (a *Assigner) Assign(names []string) map[string]domain.Role {
	roles := make(map[string]domain.Role, len(names))
	if len(names) == 0 {
		return roles
	}

	a.mu.Lock()
	order := a.rnd.Perm(len(names))
	a.mu.Unlock()

	wolves := max(1, len(names)/a.werewolfRatio)
	for i, idx := range order {
		name := names[idx]
		switch {
		case i < wolves:
			roles[name] = domain.RoleWerewolf
		case i == wolves && a.seer && len(names)-wolves > 1:
			roles[name] = domain.RoleSeer
		default:
			roles[name] = domain.RoleVillager
		}
	}
	return roles
}
