package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// BroadcastEnvelope is a teammate broadcast as received: the direction the
// sound came from (0 = same tile, 1..8 counter-clockwise from front) and the
// still-encoded token.
type BroadcastEnvelope struct {
	Direction int
	Token     string
}

// ParseBroadcast parses "message <dir>, <token>". The space after the comma
// is optional.
func ParseBroadcast(line string) (BroadcastEnvelope, error) {
	rest, ok := strings.CutPrefix(line, ReplyMessage)
	if !ok {
		return BroadcastEnvelope{}, NewDomainError("ParseBroadcast", ErrProtocol, "missing message prefix")
	}
	dir, token, ok := strings.Cut(rest, ",")
	if !ok {
		return BroadcastEnvelope{}, NewDomainError("ParseBroadcast", ErrProtocol, fmt.Sprintf("no separator in %q", line))
	}
	d, err := strconv.Atoi(strings.TrimSpace(dir))
	if err != nil || d < 0 || d > 8 {
		return BroadcastEnvelope{}, NewDomainError("ParseBroadcast", ErrProtocol, fmt.Sprintf("bad direction %q", dir))
	}
	return BroadcastEnvelope{Direction: d, Token: strings.TrimSpace(token)}, nil
}

// Team message kinds carried inside encoded broadcasts.
const (
	TeamHere            = "here"
	TeamReady           = "ready"
	TeamShareInventory  = "inventory"
	TeamElevationNeeded = "elevation_needed"
	TeamFinished        = "finished"
	TeamDistress        = "distress"
)

// TeamMessage is the plaintext of a teammate broadcast:
// "<sender>|<kind>[|<arg>]".
type TeamMessage struct {
	Sender int
	Kind   string
	Arg    string
}

func (m TeamMessage) String() string {
	s := strconv.Itoa(m.Sender) + "|" + m.Kind
	if m.Arg != "" {
		s += "|" + m.Arg
	}
	return s
}

// ParseTeamMessage splits a decoded plaintext into its parts.
func ParseTeamMessage(plain string) (TeamMessage, bool) {
	parts := strings.SplitN(plain, "|", 3)
	if len(parts) < 2 || parts[1] == "" {
		return TeamMessage{}, false
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil || id < 0 {
		return TeamMessage{}, false
	}
	m := TeamMessage{Sender: id, Kind: parts[1]}
	if len(parts) == 3 {
		m.Arg = parts[2]
	}
	return m, true
}
