package engine

import "zappy-ai/internal/domain"

// State is a behaviour of the decision state machine.
type State int

const (
	StateInitialization State = iota
	StateEvaluation
	StateSurvival
	StateCollection
	StateCoordination
	StateElevation
	StateExploration
)

var stateNames = [...]string{
	"INITIALIZATION", "EVALUATION", "SURVIVAL", "COLLECTION", "COORDINATION", "ELEVATION", "EXPLORATION",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// fallback is the state a behaviour is forced into once it outlives the
// state budget.
func (s State) fallback() State {
	switch s {
	case StateExploration:
		return StateCollection
	default:
		return StateExploration
	}
}

// AgentState is the decision task's view of the agent. Only the engine
// mutates it.
type AgentState struct {
	State     State
	Level     int
	Inventory domain.Inventory
	Team      *domain.TeamInventory
	Slots     int
	Vision    domain.Vision
	Elevating bool
	// Ready is set once a teammate announced the team complete.
	Ready bool
}

func (a AgentState) food() int { return a.Inventory.Get(domain.Food) }
