package engine

import (
	"math/rand/v2"

	"zappy-ai/internal/domain"
)

var (
	forward = domain.NewCommand(domain.CmdForward)
	right   = domain.NewCommand(domain.CmdRight)
	left    = domain.NewCommand(domain.CmdLeft)
)

// pathTo walks to the vision tile at index: straight ahead to its row,
// then a quarter turn and along the row.
func pathTo(index int) []domain.Command {
	ahead, lateral := domain.TileOffset(index)
	cmds := make([]domain.Command, 0, ahead+abs(lateral)+1)
	for range ahead {
		cmds = append(cmds, forward)
	}
	switch {
	case lateral < 0:
		cmds = append(cmds, left)
	case lateral > 0:
		cmds = append(cmds, right)
	}
	for range abs(lateral) {
		cmds = append(cmds, forward)
	}
	return cmds
}

// fetch walks to the nearest visible item and takes it. ok is false when
// the item is not in sight.
func fetch(v domain.Vision, r domain.Resource) ([]domain.Command, bool) {
	idx := v.Find(r.String())
	if idx < 0 {
		return nil, false
	}
	return append(pathTo(idx), domain.Take(r)), true
}

// towards moves one step in the direction a broadcast came from.
// Direction 1 is straight ahead, then counter-clockwise; 0 means here.
func towards(direction int) []domain.Command {
	switch direction {
	case 1:
		return []domain.Command{forward}
	case 2:
		return []domain.Command{forward, left, forward}
	case 3:
		return []domain.Command{left, forward}
	case 4:
		return []domain.Command{left, forward, left, forward}
	case 5:
		return []domain.Command{left, left, forward}
	case 6:
		return []domain.Command{right, forward, right, forward}
	case 7:
		return []domain.Command{right, forward}
	case 8:
		return []domain.Command{forward, right, forward}
	}
	return nil
}

// wander is one exploration step with an occasional turn.
func wander(rng *rand.Rand) []domain.Command {
	switch rng.IntN(6) {
	case 0:
		return []domain.Command{right, forward}
	case 1:
		return []domain.Command{left, forward}
	}
	return []domain.Command{forward}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
