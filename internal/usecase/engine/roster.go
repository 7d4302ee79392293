package engine

import (
	"time"

	"zappy-ai/internal/domain"
)

// teamTarget is the largest group any elevation needs.
const teamTarget = 6

type teammate struct {
	level    int
	lastSeen time.Time
}

// rally is an elevation call from a teammate.
type rally struct {
	sender    int
	level     int
	direction int
	at        time.Time
}

// roster tracks teammates heard from recently.
type roster struct {
	ttl     time.Duration
	members map[int]teammate
}

func newRoster(ttl time.Duration) *roster {
	return &roster{ttl: ttl, members: make(map[int]teammate)}
}

// touch records a sign of life from id. level 0 keeps the known level.
func (r *roster) touch(id, level int, now time.Time) {
	m := r.members[id]
	m.lastSeen = now
	if level > 0 {
		m.level = level
	}
	r.members[id] = m
}

// expire drops teammates not heard from within ttl and their inventory
// records.
func (r *roster) expire(now time.Time, team *domain.TeamInventory) []int {
	var gone []int
	for id, m := range r.members {
		if r.ttl > 0 && now.Sub(m.lastSeen) > r.ttl {
			delete(r.members, id)
			team.Forget(id)
			gone = append(gone, id)
		}
	}
	return gone
}

func (r *roster) len() int { return len(r.members) }
