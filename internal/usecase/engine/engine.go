// Package engine is the decision state machine. Each Step folds the replies
// and teammate broadcasts received since the previous step into the agent
// state and returns the next batch of commands.
package engine

import (
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"zappy-ai/internal/adapter/codec"
	"zappy-ai/internal/domain"
	"zappy-ai/internal/infra/config"
	"zappy-ai/internal/infra/metrics"
)

// Config tunes the engine.
type Config struct {
	SenderID       int
	FoodCritical   int
	FoodSafe       int
	SpawnFood      int
	StateBudget    time.Duration
	LoopHistory    int
	LoopWindow     int
	MaxSpawns      int
	TeammateTTL    time.Duration
	InventoryEvery int
}

// ConfigFrom builds a Config from the engine section of the configuration.
func ConfigFrom(c config.EngineConfig) Config {
	return Config{
		SenderID:       c.SenderID,
		FoodCritical:   c.FoodCritical,
		FoodSafe:       c.FoodSafe,
		SpawnFood:      c.SpawnFood,
		StateBudget:    c.StateBudget,
		LoopHistory:    c.LoopHistory,
		LoopWindow:     c.LoopWindow,
		MaxSpawns:      c.MaxSpawns,
		TeammateTTL:    c.TeammateTTL,
		InventoryEvery: c.InventoryEvery,
	}
}

// LoopEscape describes a detected loop and the command that replaced the
// cycle's output.
type LoopEscape struct {
	Pattern []string
	Escape  domain.Command
}

// Decision is the outcome of one Step.
type Decision struct {
	State    State
	Commands []domain.Command
	// Spawn asks the caller to launch one more agent process.
	Spawn   bool
	Level   int
	LevelUp bool
	Loop    *LoopEscape
}

// Engine owns the AgentState. It is not safe for concurrent use; the
// decision task is its only caller.
type Engine struct {
	cfg     Config
	cipher  *codec.Cipher
	rng     *rand.Rand
	metrics *metrics.Metrics
	logger  *slog.Logger

	st    AgentState
	team  *roster
	loops *LoopDetector
	rally *rally

	behaviour      State
	behaviourSince time.Time
	cycle          int

	inventoryKnown bool
	shared         domain.Inventory
	sharedOnce     bool
	lastHere       time.Time

	spawns      int
	forks       int
	forkPending bool

	notes   []domain.Command
	levelUp bool
}

// New creates an engine for a freshly established session. rng and m may be
// nil.
func New(cfg Config, info domain.SessionInfo, cipher *codec.Cipher, rng *rand.Rand, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if cfg.InventoryEvery <= 0 {
		cfg.InventoryEvery = 5
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	m.SetLevel(1)
	return &Engine{
		cfg:     cfg,
		cipher:  cipher,
		rng:     rng,
		metrics: m,
		logger:  logger,
		st: AgentState{
			State: StateInitialization,
			Level: 1,
			Team:  domain.NewTeamInventory(),
			Slots: info.Slots,
		},
		team:  newRoster(cfg.TeammateTTL),
		loops: NewLoopDetector(cfg.LoopHistory, cfg.LoopWindow),
	}
}

// State returns a snapshot of the agent state. Team is shared with the
// engine and must not be modified.
func (e *Engine) State() AgentState { return e.st }

// Step runs one decision cycle at now.
func (e *Engine) Step(now time.Time, replies []domain.CorrelatedReply, broadcasts []domain.BroadcastEnvelope) Decision {
	e.cycle++
	e.notes = nil
	e.levelUp = false

	for _, r := range replies {
		e.applyReply(r)
	}
	for _, b := range broadcasts {
		e.applyBroadcast(now, b)
	}
	for _, id := range e.team.expire(now, e.st.Team) {
		e.logger.Debug("teammate expired", "sender", id)
	}
	if e.rally != nil && now.Sub(e.rally.at) > e.rallyTTL() {
		e.rally = nil
	}

	if e.st.State == StateInitialization {
		return e.initialize(now)
	}

	cmds := append(e.notes, e.teamUpkeep(now)...)
	state := e.choose(now)
	work := e.perform(state)

	d := Decision{State: state, Level: e.st.Level, LevelUp: e.levelUp}
	e.st.State = StateEvaluation

	if pattern, looped := e.recordActions(work); looped {
		esc := e.escape()
		e.metrics.IncLoop()
		e.logger.Info("command loop detected", "pattern", pattern, "escape", esc.Name, "state", state.String())
		d.Loop = &LoopEscape{Pattern: pattern, Escape: esc}
		d.Commands = append(cmds, esc, domain.NewCommand(domain.CmdLook))
		return d
	}

	cmds = append(cmds, work...)
	if state != StateElevation {
		spawn, extra := e.population()
		d.Spawn = spawn
		cmds = append(cmds, extra...)
	}
	d.Commands = append(cmds, e.observe()...)
	return d
}

func (e *Engine) initialize(now time.Time) Decision {
	e.st.State = StateEvaluation
	e.behaviour, e.behaviourSince = StateEvaluation, now
	e.lastHere = now

	cmds := e.notes
	if c, ok := e.say(domain.TeamHere, ""); ok {
		cmds = append(cmds, c)
	}
	cmds = append(cmds,
		domain.NewCommand(domain.CmdInventory),
		domain.NewCommand(domain.CmdLook),
		domain.NewCommand(domain.CmdConnectNbr),
	)
	return Decision{State: StateInitialization, Commands: cmds, Level: e.st.Level}
}

// applyReply folds one correlated reply into the state.
func (e *Engine) applyReply(r domain.CorrelatedReply) {
	switch r.Command.Name {
	case domain.CmdLook:
		v, err := domain.ParseVision(r.Reply)
		if err != nil {
			e.logger.Warn("unreadable look reply", "reply", r.Reply, "error", err)
			return
		}
		e.st.Vision = v

	case domain.CmdInventory:
		inv, err := domain.ParseInventory(r.Reply)
		if err != nil {
			e.logger.Warn("unreadable inventory reply", "reply", r.Reply, "error", err)
			return
		}
		e.st.Inventory = inv
		e.inventoryKnown = true
		e.syncInventory()

	case domain.CmdConnectNbr:
		if n, err := strconv.Atoi(strings.TrimSpace(r.Reply)); err == nil && n >= 0 {
			e.st.Slots = n
		}

	case domain.CmdTake, domain.CmdSet:
		if r.Reply != domain.ReplyOK {
			return
		}
		res, ok := domain.ParseResource(r.Command.Arg)
		if !ok {
			return
		}
		if r.Command.Name == domain.CmdTake {
			e.st.Inventory.Add(res, 1)
		} else {
			e.st.Inventory.Remove(res, 1)
		}
		e.syncInventory()

	case domain.CmdFork:
		e.forkPending = false

	case domain.CmdIncantation:
		switch {
		case strings.Contains(r.Reply, domain.ReplyElevationUnderway):
			e.st.Elevating = true
		case r.Reply == domain.ReplyKO:
			e.st.Elevating = false
		default:
			if n, ok := domain.ParseLevel(r.Reply); ok {
				e.st.Elevating = false
				e.reachLevel(n)
			}
		}

	case "":
		if dir, ok := domain.ParseEject(r.Reply); ok {
			e.logger.Debug("ejected", "direction", dir)
			e.st.Vision = nil
		}
	}
}

// applyBroadcast decodes a teammate broadcast and applies it. Tokens that do
// not decode with the team key are dropped.
func (e *Engine) applyBroadcast(now time.Time, b domain.BroadcastEnvelope) {
	plain, ok := e.cipher.Open(b.Token)
	if !ok {
		e.metrics.IncDecodeFailure()
		e.logger.Debug("broadcast not for us", "direction", b.Direction)
		return
	}
	msg, ok := domain.ParseTeamMessage(plain)
	if !ok {
		e.logger.Debug("malformed team message", "plaintext", plain)
		return
	}
	if msg.Sender == e.cfg.SenderID {
		return
	}

	level := 0
	switch msg.Kind {
	case domain.TeamReady:
		e.st.Ready = true
	case domain.TeamShareInventory:
		inv, err := domain.ParseInventory(msg.Arg)
		if err != nil {
			e.logger.Debug("malformed teammate inventory", "sender", msg.Sender, "error", err)
			break
		}
		e.st.Team.Set(msg.Sender, inv)
	case domain.TeamElevationNeeded:
		if n, err := strconv.Atoi(msg.Arg); err == nil {
			level = n
			e.offerRally(msg.Sender, n, b.Direction, now)
		}
	case domain.TeamFinished:
		if n, err := strconv.Atoi(msg.Arg); err == nil {
			level = n
		}
		if e.rally != nil && e.rally.sender == msg.Sender {
			e.rally = nil
		}
	case domain.TeamHere, domain.TeamDistress:
	default:
		e.logger.Debug("unknown team message", "sender", msg.Sender, "kind", msg.Kind)
	}
	e.team.touch(msg.Sender, level, now)
}

// offerRally accepts an elevation call for our level. The lowest sender
// wins when several teammates call at once.
func (e *Engine) offerRally(sender, level, direction int, now time.Time) {
	if e.st.Elevating || level != e.st.Level {
		return
	}
	cur := e.rally
	if cur == nil || cur.sender == sender || sender < cur.sender || now.Sub(cur.at) > e.rallyTTL() {
		e.rally = &rally{sender: sender, level: level, direction: direction, at: now}
	}
}

func (e *Engine) rallyTTL() time.Duration {
	if e.cfg.StateBudget > 0 {
		return e.cfg.StateBudget
	}
	return 5 * time.Second
}

func (e *Engine) reachLevel(n int) {
	if n <= e.st.Level {
		return
	}
	e.logger.Info("level reached", "from", e.st.Level, "to", n)
	e.st.Level = n
	e.levelUp = true
	e.rally = nil
	e.metrics.SetLevel(n)
	if c, ok := e.say(domain.TeamFinished, strconv.Itoa(n)); ok {
		e.notes = append(e.notes, c)
	}
}

func (e *Engine) syncInventory() { e.st.Team.Set(e.cfg.SenderID, e.st.Inventory) }

// say seals a team message into a Broadcast command.
func (e *Engine) say(kind, arg string) (domain.Command, bool) {
	msg := domain.TeamMessage{Sender: e.cfg.SenderID, Kind: kind, Arg: arg}
	token, err := e.cipher.Seal(msg.String())
	if err != nil {
		e.logger.Warn("cannot encode team message", "kind", kind, "error", err)
		return domain.Command{}, false
	}
	return domain.Broadcast(token), true
}

// teamUpkeep shares inventory changes, declares the team complete and keeps
// our roster entry alive on teammates.
func (e *Engine) teamUpkeep(now time.Time) []domain.Command {
	var cmds []domain.Command
	if e.inventoryKnown && (!e.sharedOnce || e.st.Inventory != e.shared) {
		if c, ok := e.say(domain.TeamShareInventory, e.st.Inventory.String()); ok {
			cmds = append(cmds, c)
			e.shared, e.sharedOnce = e.st.Inventory, true
		}
	}
	if !e.st.Ready && 1+e.team.len() >= teamTarget {
		if c, ok := e.say(domain.TeamReady, ""); ok {
			cmds = append(cmds, c)
			e.st.Ready = true
		}
	}
	if e.cfg.TeammateTTL > 0 && now.Sub(e.lastHere) >= e.cfg.TeammateTTL/3 {
		if c, ok := e.say(domain.TeamHere, ""); ok {
			cmds = append(cmds, c)
			e.lastHere = now
		}
	}
	return cmds
}

// recordActions feeds world-changing commands to the loop detector.
func (e *Engine) recordActions(work []domain.Command) ([]string, bool) {
	looped := false
	for _, c := range work {
		if c.IsAction() && e.loops.Record(c.String()) {
			looped = true
		}
	}
	if !looped {
		return nil, false
	}
	return e.loops.Pattern(), true
}

func (e *Engine) escape() domain.Command {
	switch e.rng.IntN(4) {
	case 0:
		return forward
	case 1:
		return right
	case 2:
		return left
	}
	if c, ok := e.say(domain.TeamDistress, ""); ok {
		return c
	}
	return forward
}

// population decides whether to grow the team: launch an agent into a free
// slot, or lay an egg with Fork when none is free.
func (e *Engine) population() (bool, []domain.Command) {
	if !e.inventoryKnown || e.st.food() < e.cfg.SpawnFood || e.teamComplete() {
		return false, nil
	}
	switch {
	case e.st.Slots > 0 && e.spawns < e.cfg.MaxSpawns:
		e.spawns++
		e.st.Slots--
		return true, nil
	case e.st.Slots == 0 && !e.forkPending && e.forks < e.cfg.MaxSpawns:
		e.forks++
		e.forkPending = true
		return false, []domain.Command{domain.NewCommand(domain.CmdFork)}
	}
	return false, nil
}

func (e *Engine) teamComplete() bool {
	return e.st.Ready || 1+e.team.len() >= teamTarget
}

// observe ends every cycle with a Look and periodically refreshes inventory
// and slots.
func (e *Engine) observe() []domain.Command {
	cmds := []domain.Command{domain.NewCommand(domain.CmdLook)}
	if !e.inventoryKnown || e.cycle%e.cfg.InventoryEvery == 0 {
		cmds = append(cmds, domain.NewCommand(domain.CmdInventory), domain.NewCommand(domain.CmdConnectNbr))
	}
	return cmds
}
