package main

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zappy-ai/internal/domain"
)

func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ZAPPY_LOGGER_LEVEL", "error")
	t.Setenv("ZAPPY_LAUNCHER_ENABLED", "false")
	t.Setenv("ZAPPY_CONNECTION_MAX_ATTEMPTS", "1")
	t.Setenv("ZAPPY_CONNECTION_RETRY_DELAY", "1ms")
	t.Setenv("ZAPPY_CONNECTION_RECONNECT", "false")
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// serveGame accepts one client, greets it with slots and answers every
// command; after n commands it reports death.
func serveGame(t *testing.T, slots string, n int) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		conn.Write([]byte("WELCOME\n"))
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		conn.Write([]byte(slots + "\n10 10\n"))
		for i := 1; ; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			reply := "ok"
			switch strings.TrimSpace(line) {
			case "Look":
				reply = "[player]"
			case "Inventory":
				reply = "[food 10]"
			case "Connect_nbr":
				reply = "0"
			}
			if i >= n {
				reply += "\ndead"
			}
			if _, err := conn.Write([]byte(reply + "\n")); err != nil {
				return
			}
		}
	}()
	return strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
}

func TestExecuteUsageErrors(t *testing.T) {
	quietEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing team", []string{"-p", "4242"}, "client.team is required"},
		{"reserved team", []string{"-p", "4242", "-n", "graphic"}, "reserved"},
		{"port out of range", []string{"-p", "70000", "-n", "red"}, "client.port"},
		{"port not a number", []string{"-p", "abc", "-n", "red"}, "invalid argument"},
		{"unknown flag", []string{"--nope"}, "unknown flag"},
		{"stray argument", []string{"-p", "4242", "-n", "red", "extra"}, "unexpected argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, domain.ExitUsage, code)
			assert.Contains(t, stderr, tt.want)
			assert.Contains(t, stderr, "Usage:")
		})
	}
}

func TestExecuteHelp(t *testing.T) {
	code, stdout, _ := runCLI(t, "--help")
	assert.Equal(t, domain.ExitOK, code)
	assert.Contains(t, stdout, "--name")
	assert.Contains(t, stdout, "-h, --host")
}

func TestExecuteBadConfigFile(t *testing.T) {
	quietEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client: [unclosed"), 0o644))

	code, _, stderr := runCLI(t, "--config", path, "-p", "4242", "-n", "red")
	assert.Equal(t, domain.ExitUsage, code)
	assert.Contains(t, stderr, "failed to load configuration")
}

func TestExecuteConnectionRefused(t *testing.T) {
	quietEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	code, _, stderr := runCLI(t, "-p", port, "-n", "red", "-h", "127.0.0.1")
	assert.Equal(t, domain.ExitConnection, code)
	assert.Contains(t, stderr, "127.0.0.1:"+port)
	assert.Contains(t, stderr, "1 attempts")
}

func TestExecuteTeamFull(t *testing.T) {
	quietEnv(t)
	port := serveGame(t, "0", 1)

	code, _, stderr := runCLI(t, "-p", port, "-n", "red", "-h", "127.0.0.1")
	assert.Equal(t, domain.ExitProtocol, code)
	assert.Contains(t, stderr, "team full")
}

func TestExecutePlaysUntilDeath(t *testing.T) {
	quietEnv(t)
	port := serveGame(t, "2", 8)

	code, _, stderr := runCLI(t, "-p", port, "-n", "red", "-h", "127.0.0.1")
	assert.Equal(t, domain.ExitOK, code)
	assert.Empty(t, stderr)
}
