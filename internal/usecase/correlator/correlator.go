// Package correlator pairs server lines with the commands that caused them.
//
// The protocol carries no message IDs: the server answers commands in the
// order they were sent, interleaved with teammate broadcasts and lifecycle
// events. The Correlator keeps the send order and classifies each incoming
// line in arrival order.
package correlator

import (
	"log/slog"
	"strings"
	"time"

	"zappy-ai/internal/domain"
)

// Kind is the class of a framed line.
type Kind int

const (
	// KindReply is an ordinary reply paired FIFO with a pending command.
	KindReply Kind = iota
	// KindBroadcast is a teammate message, independent of correlation.
	KindBroadcast
	// KindLifecycle is incantation progress or result.
	KindLifecycle
	// KindEject reports that another agent pushed us off our tile.
	KindEject
	// KindDead is the server's death notice.
	KindDead
	// KindDiscarded is a line that could not be attributed.
	KindDiscarded
)

var kindNames = [...]string{"reply", "broadcast", "lifecycle", "eject", "dead", "discarded"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Outcome is the classification of one line.
type Outcome struct {
	Kind      Kind
	Reply     domain.CorrelatedReply
	Broadcast domain.BroadcastEnvelope
	// Probe is set when the reply answered a liveness probe the
	// connection sent on its own; it is not forwarded to the engine.
	Probe bool
}

// Correlator is owned by the connection's I/O task and is not safe for
// concurrent use.
type Correlator struct {
	pending []domain.PendingCommand
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an empty Correlator.
func New(logger *slog.Logger) *Correlator {
	return &Correlator{logger: logger, now: time.Now}
}

// Track records cmd as sent. Call it in the same order the lines are written.
func (c *Correlator) Track(cmd domain.Command, probe bool) {
	c.pending = append(c.pending, domain.PendingCommand{
		Command:    cmd,
		EnqueuedAt: c.now(),
		Probe:      probe,
	})
}

// InFlight returns the number of commands still awaiting a reply.
func (c *Correlator) InFlight() int { return len(c.pending) }

// Pending returns a copy of the pending queue, oldest first.
func (c *Correlator) Pending() []domain.PendingCommand {
	out := make([]domain.PendingCommand, len(c.pending))
	copy(out, c.pending)
	return out
}

// Oldest returns the age of the oldest pending command, or zero.
func (c *Correlator) Oldest() time.Duration {
	if len(c.pending) == 0 {
		return 0
	}
	return c.now().Sub(c.pending[0].EnqueuedAt)
}

// Classify assigns line to exactly one Kind and updates the pending queue.
func (c *Correlator) Classify(line string) Outcome {
	switch {
	case strings.HasPrefix(line, domain.ReplyMessage):
		env, err := domain.ParseBroadcast(line)
		if err != nil {
			c.logger.Warn("malformed broadcast discarded", "line", line, "error", err)
			return Outcome{Kind: KindDiscarded}
		}
		return Outcome{Kind: KindBroadcast, Broadcast: env}

	case line == domain.ReplyDead:
		return Outcome{Kind: KindDead, Reply: domain.CorrelatedReply{Reply: line, Unsolicited: true}}

	case strings.Contains(line, domain.ReplyElevationUnderway):
		return c.underway(line)

	case strings.Contains(line, domain.ReplyCurrentLevel):
		return c.levelReached(line)

	case strings.HasPrefix(line, domain.ReplyEject):
		return Outcome{Kind: KindEject, Reply: domain.CorrelatedReply{Reply: line, Unsolicited: true}}
	}

	if len(c.pending) == 0 {
		c.logger.Warn("reply without pending command discarded", "line", line)
		return Outcome{Kind: KindDiscarded}
	}
	head := c.pending[0]
	c.pending = c.pending[1:]
	return Outcome{
		Kind:  KindReply,
		Probe: head.Probe,
		Reply: domain.CorrelatedReply{Command: head.Command, Reply: line, Answered: true},
	}
}

// underway marks the oldest not yet started Incantation without releasing
// it: the result line follows later.
func (c *Correlator) underway(line string) Outcome {
	incantation := domain.NewCommand(domain.CmdIncantation)
	for i := range c.pending {
		p := &c.pending[i]
		if p.Command.Name == domain.CmdIncantation && !p.Underway {
			p.Underway = true
			return Outcome{Kind: KindLifecycle, Reply: domain.CorrelatedReply{Command: p.Command, Reply: line}}
		}
	}
	// A teammate's incantation includes us.
	return Outcome{Kind: KindLifecycle, Reply: domain.CorrelatedReply{Command: incantation, Reply: line, Unsolicited: true}}
}

// levelReached completes the oldest pending Incantation.
func (c *Correlator) levelReached(line string) Outcome {
	for i, p := range c.pending {
		if p.Command.Name == domain.CmdIncantation {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return Outcome{Kind: KindLifecycle, Reply: domain.CorrelatedReply{Command: p.Command, Reply: line, Answered: true}}
		}
	}
	return Outcome{Kind: KindLifecycle, Reply: domain.CorrelatedReply{
		Command:     domain.NewCommand(domain.CmdIncantation),
		Reply:       line,
		Unsolicited: true,
	}}
}
