package integration

import (
	"bufio"
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"zappy-ai/internal/domain"
)

// Config holds integration test configuration from environment.
type Config struct {
	ServerAddr  string // host:port of a real game server, if any
	Team        string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment.
func LoadConfig() *Config {
	team := os.Getenv("ZAPPY_E2E_TEAM")
	if team == "" {
		team = "team1"
	}
	return &Config{
		ServerAddr:  os.Getenv("ZAPPY_E2E_SERVER"),
		Team:        team,
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfNoServer skips the test unless a real server address is configured.
func SkipIfNoServer(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.ServerAddr == "" {
		t.Skip("Skipping live server test: ZAPPY_E2E_SERVER not set")
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Arena is a minimal in-process game server. It accepts any number of
// clients, answers every command with a fixed reply, relays broadcasts to
// every other client and kills each client after Lifetime commands.
type Arena struct {
	Slots    int
	Lifetime int
	Food     int

	ln net.Listener

	mu         sync.Mutex
	conns      map[int]net.Conn
	broadcasts []Heard
	teams      []string
	next       int
	wg         sync.WaitGroup
}

// Heard is one Broadcast command the arena received.
type Heard struct {
	Client int
	Token  string
}

// StartArena listens on a loopback port until the test ends.
func StartArena(t *testing.T, slots, lifetime int) *Arena {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := &Arena{Slots: slots, Lifetime: lifetime, Food: 20, ln: ln, conns: make(map[int]net.Conn)}
	a.wg.Add(1)
	go a.accept()
	t.Cleanup(a.close)
	return a
}

// Host and Port address the arena.
func (a *Arena) Host() string { return "127.0.0.1" }

func (a *Arena) Port() int { return a.ln.Addr().(*net.TCPAddr).Port }

// Broadcasts returns every broadcast received so far.
func (a *Arena) Broadcasts() []Heard {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Heard(nil), a.broadcasts...)
}

// Teams returns the team names clients joined with, in arrival order.
func (a *Arena) Teams() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.teams...)
}

func (a *Arena) close() {
	a.ln.Close()
	a.mu.Lock()
	for _, c := range a.conns {
		c.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Arena) accept() {
	defer a.wg.Done()
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		a.mu.Lock()
		id := a.next
		a.next++
		a.conns[id] = conn
		a.mu.Unlock()
		a.wg.Add(1)
		go a.serve(id, conn)
	}
}

func (a *Arena) write(conn net.Conn, lines ...string) bool {
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write([]byte(strings.Join(lines, "\n") + "\n"))
	return err == nil
}

func (a *Arena) serve(id int, conn net.Conn) {
	defer a.wg.Done()
	defer func() {
		a.mu.Lock()
		delete(a.conns, id)
		a.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	if !a.write(conn, "WELCOME") {
		return
	}
	team, err := r.ReadString('\n')
	if err != nil {
		return
	}
	a.mu.Lock()
	a.teams = append(a.teams, strings.TrimSpace(team))
	a.mu.Unlock()
	if !a.write(conn, strconv.Itoa(a.Slots), "10 10") {
		return
	}

	for n := 1; ; n++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		reply := domain.ReplyOK
		switch cmd {
		case domain.CmdLook:
			reply = "[player food, linemate, , ]"
		case domain.CmdInventory:
			reply = "[food " + strconv.Itoa(a.Food) + ", linemate 0, deraumere 0, sibur 0, mendiane 0, phiras 0, thystame 0]"
		case domain.CmdConnectNbr:
			reply = strconv.Itoa(a.Slots)
		case domain.CmdBroadcast:
			a.relay(id, arg)
		}
		if n >= a.Lifetime {
			a.write(conn, reply, domain.ReplyDead)
			return
		}
		if !a.write(conn, reply) {
			return
		}
	}
}

func (a *Arena) relay(from int, token string) {
	a.mu.Lock()
	a.broadcasts = append(a.broadcasts, Heard{Client: from, Token: token})
	peers := make([]net.Conn, 0, len(a.conns))
	for id, c := range a.conns {
		if id != from {
			peers = append(peers, c)
		}
	}
	a.mu.Unlock()
	for _, c := range peers {
		a.write(c, domain.ReplyMessage+"1, "+token)
	}
}
