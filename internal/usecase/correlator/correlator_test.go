package correlator

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zappy-ai/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func track(c *Correlator, names ...string) {
	for _, n := range names {
		c.Track(domain.NewCommand(n), false)
	}
}

func TestBroadcastInterleavingKeepsPairing(t *testing.T) {
	c := New(newTestLogger())
	track(c, domain.CmdLook, domain.CmdInventory, domain.CmdForward)

	lines := []string{"[food 3]", "message 2, 0a0b", "ok", "ok"}
	var replies []domain.CorrelatedReply
	var broadcasts []domain.BroadcastEnvelope
	for _, line := range lines {
		out := c.Classify(line)
		switch out.Kind {
		case KindReply:
			replies = append(replies, out.Reply)
		case KindBroadcast:
			broadcasts = append(broadcasts, out.Broadcast)
		default:
			t.Fatalf("unexpected kind %s for %q", out.Kind, line)
		}
	}

	require.Len(t, replies, 3)
	assert.Equal(t, domain.CmdLook, replies[0].Command.Name)
	assert.Equal(t, "[food 3]", replies[0].Reply)
	assert.Equal(t, domain.CmdInventory, replies[1].Command.Name)
	assert.Equal(t, domain.CmdForward, replies[2].Command.Name)
	for _, r := range replies {
		assert.True(t, r.Answered)
	}
	assert.Equal(t, []domain.BroadcastEnvelope{{Direction: 2, Token: "0a0b"}}, broadcasts)
	assert.Zero(t, c.InFlight())
}

func TestReplyWithoutPendingIsDiscarded(t *testing.T) {
	var logs bytes.Buffer
	c := New(slog.New(slog.NewTextHandler(&logs, nil)))

	out := c.Classify("ok")
	assert.Equal(t, KindDiscarded, out.Kind)
	assert.Contains(t, logs.String(), "level=WARN")
}

func TestMalformedBroadcastIsDiscarded(t *testing.T) {
	c := New(newTestLogger())
	track(c, domain.CmdForward)

	out := c.Classify("message nope")
	assert.Equal(t, KindDiscarded, out.Kind)
	assert.Equal(t, 1, c.InFlight(), "pending queue untouched")
}

func TestIncantationLifecycle(t *testing.T) {
	c := New(newTestLogger())
	track(c, domain.CmdIncantation, domain.CmdLook)

	out := c.Classify("Elevation underway")
	require.Equal(t, KindLifecycle, out.Kind)
	assert.Equal(t, domain.CmdIncantation, out.Reply.Command.Name)
	assert.False(t, out.Reply.Answered)
	assert.False(t, out.Reply.Unsolicited)
	assert.Equal(t, 2, c.InFlight(), "underway does not free the slot")
	assert.True(t, c.Pending()[0].Underway)

	// A broadcast during the incantation does not disturb it.
	assert.Equal(t, KindBroadcast, c.Classify("message 0, ab").Kind)

	out = c.Classify("Current level: 3")
	require.Equal(t, KindLifecycle, out.Kind)
	assert.True(t, out.Reply.Answered)
	assert.Equal(t, "Current level: 3", out.Reply.Reply)

	out = c.Classify("[player]")
	require.Equal(t, KindReply, out.Kind)
	assert.Equal(t, domain.CmdLook, out.Reply.Command.Name)
}

func TestIncantationFailureIsFIFO(t *testing.T) {
	c := New(newTestLogger())
	track(c, domain.CmdIncantation)

	c.Classify("Elevation underway")
	out := c.Classify("ko")
	require.Equal(t, KindReply, out.Kind)
	assert.Equal(t, domain.CmdIncantation, out.Reply.Command.Name)
	assert.Equal(t, "ko", out.Reply.Reply)
	assert.Zero(t, c.InFlight())
}

func TestLevelBeforeEarlierReplies(t *testing.T) {
	c := New(newTestLogger())
	track(c, domain.CmdForward, domain.CmdIncantation)

	out := c.Classify("Current level: 2")
	require.Equal(t, KindLifecycle, out.Kind)
	assert.True(t, out.Reply.Answered)

	out = c.Classify("ok")
	assert.Equal(t, domain.CmdForward, out.Reply.Command.Name)
}

func TestTeammateIncantationIsUnsolicited(t *testing.T) {
	c := New(newTestLogger())
	track(c, domain.CmdForward)

	out := c.Classify("Elevation underway")
	require.Equal(t, KindLifecycle, out.Kind)
	assert.True(t, out.Reply.Unsolicited)
	assert.Equal(t, domain.CmdIncantation, out.Reply.Command.Name)

	out = c.Classify("Current level: 4")
	assert.True(t, out.Reply.Unsolicited)
	assert.False(t, out.Reply.Answered)
	assert.Equal(t, 1, c.InFlight())
}

func TestEjectAndDead(t *testing.T) {
	c := New(newTestLogger())
	track(c, domain.CmdLook)

	out := c.Classify("eject: 3")
	assert.Equal(t, KindEject, out.Kind)
	assert.True(t, out.Reply.Unsolicited)
	assert.Equal(t, 1, c.InFlight())

	out = c.Classify("dead")
	assert.Equal(t, KindDead, out.Kind)
}

func TestProbeFlagSurvivesPairing(t *testing.T) {
	c := New(newTestLogger())
	c.Track(domain.NewCommand(domain.CmdConnectNbr), true)
	track(c, domain.CmdForward)

	out := c.Classify("3")
	assert.True(t, out.Probe)
	out = c.Classify("ok")
	assert.False(t, out.Probe)
}
