package wire

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zappy-ai/internal/domain"
)

// scriptedRW replays server lines and records client writes.
type scriptedRW struct {
	lines  []string
	writes []string
}

func (s *scriptedRW) ReadLine(ctx context.Context) (string, error) {
	if len(s.lines) == 0 {
		return "", domain.NewDomainError("scripted", domain.ErrPeerClosed, "EOF")
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedRW) WriteLine(line string) error {
	s.writes = append(s.writes, line)
	return nil
}

func TestHandshakeSuccess(t *testing.T) {
	rw := &scriptedRW{lines: []string{"WELCOME", "2", "10 10"}}
	info, err := Handshake(context.Background(), rw, "red")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionInfo{Slots: 2, Width: 10, Height: 10}, info)
	assert.Equal(t, []string{"red"}, rw.writes)
}

func TestHandshakeFailures(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  error
	}{
		{"bad greeting", []string{"HELLO"}, domain.ErrProtocol},
		{"greeting with suffix", []string{"WELCOME!"}, domain.ErrProtocol},
		{"team full", []string{"WELCOME", "0"}, domain.ErrTeamFull},
		{"negative slots", []string{"WELCOME", "-3"}, domain.ErrTeamFull},
		{"slots not a number", []string{"WELCOME", "ko"}, domain.ErrProtocol},
		{"slots with plus sign", []string{"WELCOME", "+2"}, domain.ErrProtocol},
		{"slots padded", []string{"WELCOME", " 2 "}, domain.ErrProtocol},
		{"slots two numbers", []string{"WELCOME", "2 3"}, domain.ErrProtocol},
		{"map size with sign", []string{"WELCOME", "1", "+10 10"}, domain.ErrProtocol},
		{"map size one field", []string{"WELCOME", "1", "10"}, domain.ErrProtocol},
		{"map size zero", []string{"WELCOME", "1", "0 10"}, domain.ErrProtocol},
		{"closed before size", []string{"WELCOME", "1"}, domain.ErrPeerClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Handshake(context.Background(), &scriptedRW{lines: tt.lines}, "red")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandshakeTeamFullDoesNotReadSize(t *testing.T) {
	rw := &scriptedRW{lines: []string{"WELCOME", "0", "10 10"}}
	_, err := Handshake(context.Background(), rw, "red")
	require.ErrorIs(t, err, domain.ErrTeamFull)
	assert.Equal(t, []string{"10 10"}, rw.lines)
}

func TestHandshakeOverPipe(t *testing.T) {
	lc, server := newPipe(t)
	go func() {
		r := bufio.NewReader(server)
		server.Write([]byte("WELCOME\n"))
		team, _ := r.ReadString('\n')
		if strings.TrimSpace(team) == "blue" {
			server.Write([]byte("2\n10 10\n"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := Handshake(ctx, lc, "blue")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionInfo{Slots: 2, Width: 10, Height: 10}, info)
}

func TestHandshakeTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	lc := NewLineConn(client, Options{ReadTimeout: 10 * time.Millisecond}, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err := Handshake(ctx, lc, "blue")
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.CodeHandshakeTimeout, domain.ErrorCodeOf(err))
}
