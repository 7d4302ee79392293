package domain

// MaxLevel is the highest level an agent can reach.
const MaxLevel = 8

// ElevationRequirement is what advancing one level from a given level needs:
// the number of co-located agents and the stones on the shared tile.
type ElevationRequirement struct {
	Players int
	Stones  Inventory
}

func req(players, linemate, deraumere, sibur, mendiane, phiras, thystame int) ElevationRequirement {
	return ElevationRequirement{
		Players: players,
		Stones:  Inventory{0, linemate, deraumere, sibur, mendiane, phiras, thystame},
	}
}

// elevationTable is indexed by current level - 1.
var elevationTable = [MaxLevel - 1]ElevationRequirement{
	req(1, 1, 0, 0, 0, 0, 0),
	req(2, 1, 1, 1, 0, 0, 0),
	req(2, 2, 0, 1, 0, 2, 0),
	req(4, 1, 1, 2, 0, 1, 0),
	req(4, 1, 2, 1, 3, 0, 0),
	req(6, 1, 2, 3, 0, 1, 0),
	req(6, 2, 2, 2, 2, 2, 1),
}

// RequirementFor returns the requirement to leave level, or false when level
// is outside 1..7.
func RequirementFor(level int) (ElevationRequirement, bool) {
	if level < 1 || level >= MaxLevel {
		return ElevationRequirement{}, false
	}
	return elevationTable[level-1], true
}

// Deficits returns, per stone, how many more are needed beyond have.
// Food is never a deficit.
func (r ElevationRequirement) Deficits(have Inventory) Inventory {
	var out Inventory
	for _, s := range Stones {
		if d := r.Stones[s] - have[s]; d > 0 {
			out[s] = d
		}
	}
	return out
}

// Satisfied reports whether have covers every stone in r.
func (r ElevationRequirement) Satisfied(have Inventory) bool {
	return r.Deficits(have) == Inventory{}
}
