package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey is a minimal in-memory RESP2 server covering the commands the
// provider sends.
type fakeValkey struct {
	ln       net.Listener
	password string

	mu       sync.Mutex
	store    map[string]string
	commands []string
}

func startFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &fakeValkey{ln: ln, password: password, store: make(map[string]string)}
	go srv.serve()
	t.Cleanup(func() { ln.Close() })
	return srv
}

func (s *fakeValkey) addr() string { return s.ln.Addr().String() }

func (s *fakeValkey) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := s.password == ""
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		cmd := strings.ToUpper(args[0])
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		if cmd == "AUTH" {
			if args[len(args)-1] == s.password {
				authed = true
				io.WriteString(conn, "+OK\r\n")
			} else {
				io.WriteString(conn, "-WRONGPASS invalid password\r\n")
			}
			continue
		}
		if !authed {
			io.WriteString(conn, "-NOAUTH Authentication required.\r\n")
			continue
		}
		io.WriteString(conn, s.exec(cmd, args[1:]))
	}
}

func (s *fakeValkey) exec(cmd string, args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case "PING":
		return "+PONG\r\n"
	case "SELECT":
		return "+OK\r\n"
	case "GET":
		value, ok := s.store[args[0]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(value), value)
	case "SET":
		s.store[args[0]] = args[1]
		return "+OK\r\n"
	case "DEL":
		removed := 0
		for _, key := range args {
			if _, ok := s.store[key]; ok {
				delete(s.store, key)
				removed++
			}
		}
		return fmt.Sprintf(":%d\r\n", removed)
	case "SCAN":
		// returns everything in one page ignoring the cursor
		var keys []string
		for key := range s.store {
			if ok, _ := path.Match(args[2], key); ok {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("*2\r\n$1\r\n0\r\n")
		fmt.Fprintf(&b, "*%d\r\n", len(keys))
		for _, key := range keys {
			fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(key), key)
		}
		return b.String()
	default:
		return "-ERR unknown command '" + cmd + "'\r\n"
	}
}

func (s *fakeValkey) sawCommand(cmd string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(header, "*") {
		return nil, errors.New("expected array")
	}
	count, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(sizeLine[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := startFakeValkey(t, "")
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: srv.addr(), DB: 2})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer provider.Close()
	ctx := context.Background()

	if _, err := provider.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	payload := []byte("binary\r\n\x00payload")
	if err := provider.Set(ctx, "trend:u1:mood:30d", payload, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := provider.Set(ctx, "trend:u1:pain_level:30d", []byte("x"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := provider.Set(ctx, "trend:u2:mood:30d", []byte("y"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := provider.Get(ctx, "trend:u1:mood:30d")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected payload %q", got)
	}

	keys, err := provider.Scan(ctx, "trend:u1:*")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "trend:u1:mood:30d" {
		t.Fatalf("unexpected scan result %v", keys)
	}

	if err := provider.Del(ctx, keys...); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := provider.Get(ctx, "trend:u1:mood:30d"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected deleted key to miss, got %v", err)
	}
	if !srv.sawCommand("SELECT") {
		t.Fatalf("expected SELECT for non-zero db")
	}
}

func TestValkeyProviderAuth(t *testing.T) {
	srv := startFakeValkey(t, "s3cret")

	if _, err := NewValkeyProvider(ValkeyConfig{Addr: srv.addr(), Password: "wrong"}); err == nil {
		t.Fatalf("expected auth failure")
	}

	provider, err := NewValkeyProvider(ValkeyConfig{Addr: srv.addr(), Password: "s3cret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := provider.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestValkeyProviderServerError(t *testing.T) {
	srv := startFakeValkey(t, "")
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: srv.addr(), MaxRetries: 3})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	err = provider.do(context.Background(), func(c *respConn) error {
		_, err := c.call("FLUSHALL")
		return err
	})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) || !strings.Contains(serverErr.Message, "unknown command") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestNewValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestAnalysisCacheOverValkey(t *testing.T) {
	srv := startFakeValkey(t, "")
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: srv.addr()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	writer := NewAnalysisCache(nil, AnalysisCacheOptions{Provider: provider, Retention: time.Hour})
	reader := NewAnalysisCache(nil, AnalysisCacheOptions{Provider: provider})

	writer.SaveResult(ctx, entryFor("u1", "symptom:migraine", "all", cacheNow))
	got, ok := reader.GetResult(ctx, "u1", "symptom:migraine", "all")
	if !ok || got.SampleSize != 21 {
		t.Fatalf("expected shared hit, got %+v ok=%v", got, ok)
	}
	if removed := reader.InvalidateCache(ctx, "u1", "symptom:migraine", ""); removed != 1 {
		t.Fatalf("expected one removed key, got %d", removed)
	}
	if _, ok := NewAnalysisCache(nil, AnalysisCacheOptions{Provider: provider}).GetResult(ctx, "u1", "symptom:migraine", "all"); ok {
		t.Fatalf("expected invalidated entry to be gone from the shared tier")
	}
	if _, ok := writer.GetResult(ctx, "u1", "symptom:migraine", "all"); ok {
		t.Fatalf("writer still serves an entry invalidated by another replica")
	}
}
