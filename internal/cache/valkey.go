package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible server.
// It speaks RESP2 directly and opens one short-lived connection per operation.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider creates a Provider and pings the server so bad addresses or
// credentials fail at startup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyValkeyDefaults(&cfg)

	provider := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := provider.Ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return provider, nil
}

// Ping checks connectivity and authentication.
func (p *ValkeyProvider) Ping(ctx context.Context) error {
	return p.do(ctx, func(c *respConn) error {
		reply, err := c.call("PING")
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING reply %q", reply.data)
		}
		return nil
	})
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(c *respConn) error {
		reply, err := c.call("GET", key)
		if err != nil {
			return err
		}
		switch reply.kind {
		case respNil:
			return ErrCacheMiss
		case respBulk:
			payload = reply.data
			return nil
		default:
			return fmt.Errorf("unexpected GET reply kind %q", reply.kind)
		}
	})
	return payload, err
}

// Set stores bytes, expiring them after ttl when ttl is positive.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(c *respConn) error {
		args := []string{key, string(value)}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		reply, err := c.call("SET", args...)
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET reply %q", reply.data)
		}
		return nil
	})
}

// Del removes keys.
func (p *ValkeyProvider) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return p.do(ctx, func(c *respConn) error {
		_, err := c.call("DEL", keys...)
		return err
	})
}

// Scan walks the keyspace with SCAN and returns the keys matching pattern.
func (p *ValkeyProvider) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := p.do(ctx, func(c *respConn) error {
		keys = keys[:0]
		cursor := "0"
		for {
			reply, err := c.call("SCAN", cursor, "MATCH", pattern, "COUNT", strconv.Itoa(scanBatch))
			if err != nil {
				return err
			}
			if reply.kind != respArray || len(reply.elems) != 2 {
				return fmt.Errorf("unexpected SCAN reply kind %q", reply.kind)
			}
			cursor = string(reply.elems[0].data)
			for _, elem := range reply.elems[1].elems {
				keys = append(keys, string(elem.data))
			}
			if cursor == "0" {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	})
	return keys, err
}

// Close releases nothing: connections are per operation.
func (p *ValkeyProvider) Close() error { return nil }

// do runs fn on a fresh authenticated connection, retrying network timeouts with
// exponential backoff up to MaxRetries attempts.
func (p *ValkeyProvider) do(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p *ValkeyProvider) attempt(ctx context.Context, fn func(*respConn) error) error {
	c, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer c.conn.Close()

	if err := p.handshake(c); err != nil {
		return err
	}
	return fn(c)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout(ctx, p.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(p.cfg.Addr)},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return newRespConn(conn, p.cfg.ReadTimeout, p.cfg.WriteTimeout), nil
}

func (p *ValkeyProvider) handshake(c *respConn) error {
	if p.cfg.Password != "" {
		args := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			args = []string{p.cfg.Username, p.cfg.Password}
		}
		if err := c.expectOK("AUTH", args...); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := c.expectOK("SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return fmt.Errorf("select db %d: %w", p.cfg.DB, err)
		}
	}
	return nil
}

type respKind string

const (
	respSimple  respKind = "+"
	respBulk    respKind = "$"
	respInteger respKind = ":"
	respArray   respKind = "*"
	respNil     respKind = "_"
)

const scanBatch = 200

type respReply struct {
	kind  respKind
	data  []byte
	elems []respReply
}

// respConn wraps a network connection with RESP2 framing.
type respConn struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newRespConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *respConn {
	return &respConn{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (c *respConn) call(command string, args ...string) (respReply, error) {
	if err := c.send(command, args...); err != nil {
		return respReply{}, err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	return c.read()
}

func (c *respConn) expectOK(command string, args ...string) error {
	reply, err := c.call(command, args...)
	if err != nil {
		return err
	}
	if reply.kind != respSimple || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected %s reply %q", command, reply.data)
	}
	return nil
}

func (c *respConn) send(command string, args ...string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.w, "*%d\r\n", len(args)+1)
	for _, part := range append([]string{command}, args...) {
		fmt.Fprintf(c.w, "$%d\r\n%s\r\n", len(part), part)
	}
	return c.w.Flush()
}

func (c *respConn) read() (respReply, error) {
	prefix, err := c.r.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := c.line()
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+':
		return respReply{kind: respSimple, data: line}, nil
	case '-':
		return respReply{}, &ServerError{Message: string(line)}
	case ':':
		return respReply{kind: respInteger, data: line}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("bulk length: %w", err)
		}
		if size < 0 {
			return respReply{kind: respNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk string terminator")
		}
		return respReply{kind: respBulk, data: buf[:size]}, nil
	case '*':
		count, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("array length: %w", err)
		}
		if count < 0 {
			return respReply{kind: respNil}, nil
		}
		elems := make([]respReply, 0, count)
		for i := 0; i < count; i++ {
			elem, err := c.read()
			if err != nil {
				return respReply{}, err
			}
			elems = append(elems, elem)
		}
		return respReply{kind: respArray, elems: elems}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) line() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(string(line), "\r\n")), nil
}

// ServerError is an error reply sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "valkey: " + e.Message }

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func dialTimeout(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			return max(remaining, time.Millisecond)
		}
	}
	return d
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
