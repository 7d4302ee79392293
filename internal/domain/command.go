package domain

import (
	"strconv"
	"strings"
	"time"
)

// Command names understood by the server.
const (
	CmdForward     = "Forward"
	CmdRight       = "Right"
	CmdLeft        = "Left"
	CmdLook        = "Look"
	CmdInventory   = "Inventory"
	CmdBroadcast   = "Broadcast"
	CmdConnectNbr  = "Connect_nbr"
	CmdFork        = "Fork"
	CmdEject       = "Eject"
	CmdTake        = "Take"
	CmdSet         = "Set"
	CmdIncantation = "Incantation"
)

// Command is one outbound protocol command.
type Command struct {
	Name string
	Arg  string
}

// NewCommand returns a command without argument.
func NewCommand(name string) Command { return Command{Name: name} }

// Take returns a Take command for r.
func Take(r Resource) Command { return Command{Name: CmdTake, Arg: r.String()} }

// Set returns a Set command for r.
func Set(r Resource) Command { return Command{Name: CmdSet, Arg: r.String()} }

// Broadcast returns a Broadcast command carrying text.
func Broadcast(text string) Command { return Command{Name: CmdBroadcast, Arg: text} }

// String renders the command as sent on the wire, without the newline.
func (c Command) String() string {
	if c.Arg == "" {
		return c.Name
	}
	return c.Name + " " + c.Arg
}

// IsAction reports whether the command changes the world. Observation
// commands are not counted by loop detection.
func (c Command) IsAction() bool {
	switch c.Name {
	case CmdLook, CmdInventory, CmdConnectNbr:
		return false
	}
	return c.Name != ""
}

// PendingCommand is a sent command still waiting for its reply.
type PendingCommand struct {
	Command    Command
	EnqueuedAt time.Time
	// Probe marks a liveness probe issued by the connection itself.
	Probe bool
	// Underway is set on an Incantation once the server announced it.
	Underway bool
}

// CorrelatedReply is a reply line paired with the command it answers.
// Unsolicited replies arrive without a matching pending command (ejections,
// incantations started by a teammate). Answered is false for interim replies
// that do not release the command's slot.
type CorrelatedReply struct {
	Command     Command
	Reply       string
	Answered    bool
	Unsolicited bool
}

// SessionInfo is what the server told us during the handshake.
type SessionInfo struct {
	Slots  int
	Width  int
	Height int
}

// Reply texts with fixed meaning.
const (
	ReplyOK                = "ok"
	ReplyKO                = "ko"
	ReplyDead              = "dead"
	ReplyElevationUnderway = "Elevation underway"
	ReplyCurrentLevel      = "Current level:"
	ReplyEject             = "eject:"
	ReplyMessage           = "message "
)

// ParseLevel extracts N from "Current level: N".
func ParseLevel(line string) (int, bool) {
	i := strings.Index(line, ReplyCurrentLevel)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[i+len(ReplyCurrentLevel):]))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// ParseEject extracts the direction from "eject: N".
func ParseEject(line string) (int, bool) {
	if !strings.HasPrefix(line, ReplyEject) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ReplyEject)))
	if err != nil || n < 0 || n > 8 {
		return 0, false
	}
	return n, true
}
