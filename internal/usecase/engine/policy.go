package engine

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"zappy-ai/internal/domain"
)

// choose evaluates the policy and applies the state budget: a behaviour
// chosen continuously for longer than the budget is forced once into its
// fallback.
func (e *Engine) choose(now time.Time) State {
	s := e.evaluate()
	if s != e.behaviour {
		e.behaviour, e.behaviourSince = s, now
		return s
	}
	if e.cfg.StateBudget <= 0 || now.Sub(e.behaviourSince) <= e.cfg.StateBudget {
		return s
	}
	forced := s.fallback()
	e.logger.Info("state budget exceeded",
		"state", s.String(), "fallback", forced.String(), "budget", e.cfg.StateBudget)
	if s == StateElevation {
		e.st.Elevating = false
	}
	e.behaviour, e.behaviourSince = forced, now
	return forced
}

// evaluate is the EVALUATION policy, in strict priority order.
func (e *Engine) evaluate() State {
	food := e.st.food()
	if food < e.cfg.FoodCritical {
		return StateSurvival
	}
	if e.st.Elevating {
		return StateElevation
	}
	req, ok := domain.RequirementFor(e.st.Level)
	if ok && e.canCall(req) {
		if e.gathered(req) {
			return StateElevation
		}
		return StateCoordination
	}
	if ok && e.rally != nil {
		return StateCoordination
	}
	if ok && !req.Satisfied(e.st.Team.Total()) && food > e.cfg.FoodSafe {
		return StateCollection
	}
	if food < e.cfg.FoodSafe {
		return StateSurvival
	}
	return StateExploration
}

// canCall reports whether the team holds every stone for the next level and
// has enough members to perform it.
func (e *Engine) canCall(req domain.ElevationRequirement) bool {
	return req.Satisfied(e.st.Team.Total()) && e.enoughPlayers(req)
}

func (e *Engine) enoughPlayers(req domain.ElevationRequirement) bool {
	return e.st.Ready || 1+e.team.len() >= req.Players
}

// gathered reports whether our tile has the players and, counting what we
// carry, the stones the ritual needs.
func (e *Engine) gathered(req domain.ElevationRequirement) bool {
	if e.st.Vision == nil {
		return false
	}
	tile := e.st.Vision.Here()
	if tile.Count("player") < req.Players {
		return false
	}
	for _, s := range domain.Stones {
		if tile.Count(s.String())+e.st.Inventory.Get(s) < req.Stones[s] {
			return false
		}
	}
	return true
}

func (e *Engine) perform(s State) []domain.Command {
	switch s {
	case StateSurvival:
		return e.survive()
	case StateCollection:
		return e.collect()
	case StateCoordination:
		return e.coordinate()
	case StateElevation:
		return e.elevate()
	default:
		return e.explore()
	}
}

func (e *Engine) survive() []domain.Command {
	if cmds, ok := fetch(e.st.Vision, domain.Food); ok {
		return cmds
	}
	return wander(e.rng)
}

// collect fetches the visible stone the team lacks most.
func (e *Engine) collect() []domain.Command {
	req, ok := domain.RequirementFor(e.st.Level)
	if !ok {
		return e.explore()
	}
	deficits := req.Deficits(e.st.Team.Total())
	needed := slices.Clone(domain.Stones)
	slices.SortStableFunc(needed, func(a, b domain.Resource) int {
		return cmp.Compare(deficits[b], deficits[a])
	})
	for _, r := range needed {
		if deficits[r] == 0 {
			break
		}
		if cmds, ok := fetch(e.st.Vision, r); ok {
			return cmds
		}
	}
	return wander(e.rng)
}

func (e *Engine) explore() []domain.Command {
	if e.st.Vision.Here().Count(domain.Food.String()) > 0 {
		return []domain.Command{domain.Take(domain.Food)}
	}
	return wander(e.rng)
}

// coordinate either follows a teammate's elevation call or makes one.
// Between two callers the lower sender id leads.
func (e *Engine) coordinate() []domain.Command {
	req, ok := domain.RequirementFor(e.st.Level)
	if !ok {
		return nil
	}
	if r := e.rally; r != nil && (r.sender < e.cfg.SenderID || !e.canCall(req)) {
		if r.direction != 0 {
			return towards(r.direction)
		}
		return e.dropStones(req)
	}
	if c, ok := e.say(domain.TeamElevationNeeded, strconv.Itoa(e.st.Level)); ok {
		return []domain.Command{c}
	}
	return nil
}

// elevate places the missing stones on the tile and starts the ritual.
// While a ritual is in progress it waits.
func (e *Engine) elevate() []domain.Command {
	if e.st.Elevating {
		return nil
	}
	req, ok := domain.RequirementFor(e.st.Level)
	if !ok {
		return nil
	}
	cmds := append(e.dropStones(req), domain.NewCommand(domain.CmdIncantation))
	e.st.Elevating = true
	return cmds
}

// dropStones emits one Set per unit the tile still lacks, bounded by what
// we carry.
func (e *Engine) dropStones(req domain.ElevationRequirement) []domain.Command {
	tile := e.st.Vision.Here()
	var cmds []domain.Command
	for _, s := range domain.Stones {
		n := min(req.Stones[s]-tile.Count(s.String()), e.st.Inventory.Get(s))
		for range n {
			cmds = append(cmds, domain.Set(s))
		}
	}
	return cmds
}
