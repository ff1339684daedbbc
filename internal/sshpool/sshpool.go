// Package sshpool implements the SSH Connection Pool (C1): a per-target
// bounded pool of authenticated SSH sessions, keyed by (user, host, port).
// The channel-backed free list and Get/Put/Close shape is adapted from the
// teacher's internal/pool.ConnectionPool (a generic Poolable pool keyed by
// target+headers); CWatcher specializes Poolable to an SSH client/session
// pair and adds the dial/auth precedence, health probe, backoff and
// quarantine behavior of spec.md §4.1, which the teacher's HTTP pool has
// no equivalent of.
package sshpool

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cwatcher/cwatcher/internal/cwerrors"
	"github.com/cwatcher/cwatcher/internal/logging"
)

// AuthConfig carries everything needed to dial and authenticate one
// target. Password/PrivateKey/Passphrase are already-decrypted bytes —
// sealing/unsealing is the external collaborator's job (spec.md §1); the
// pool never persists or logs these fields.
type AuthConfig struct {
	User           string
	Host           string
	Port           int
	Password       string
	PrivateKeyPEM  []byte
	KeyPassphrase  string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	PoolCap        int
	RetryCount     int // default 3
}

func (c AuthConfig) key() string {
	return fmt.Sprintf("%s@%s:%d", c.User, c.Host, c.Port)
}

func (c AuthConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c AuthConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 10 * time.Second
}

func (c AuthConfig) commandTimeout() time.Duration {
	if c.CommandTimeout > 0 {
		return c.CommandTimeout
	}
	return 30 * time.Second
}

func (c AuthConfig) poolCap() int {
	if c.PoolCap > 0 {
		return c.PoolCap
	}
	return 3
}

func (c AuthConfig) retryCount() int {
	if c.RetryCount > 0 {
		return c.RetryCount
	}
	return 3
}

// session wraps an authenticated *ssh.Client, released back to its pool
// slot on Close (called by the caller of execute, mirroring
// ConnectionPool.Put).
type session struct {
	client *ssh.Client
}

func (s *session) healthy(ctx context.Context, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		sess, err := s.client.NewSession()
		if err != nil {
			done <- false
			return
		}
		defer sess.Close()
		out, err := sess.Output("echo ok")
		done <- err == nil && len(out) > 0
	}()
	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

// targetPool is the per-(user,host,port) bounded free list plus
// quarantine bookkeeping.
type targetPool struct {
	mu               sync.Mutex
	cfg              AuthConfig
	free             chan *session
	open             int
	consecutiveFails int
	quarantinedUntil time.Time
	totalDials       int64
	totalAuthFails   int64
}

// Stats is the pool's per-target observability snapshot (SPEC_FULL.md §C).
// system_health_check does not read it.
type Stats struct {
	Open             int
	QuarantinedUntil time.Time
	TotalDials       int64
	TotalAuthFails   int64
}

// Pool is the top-level SSH Connection Pool (C1), one process-wide
// instance shared across all targets.
type Pool struct {
	mu     sync.Mutex
	pools  map[string]*targetPool
	dialer Dialer
	log    logging.Logger
}

// Dialer abstracts the actual network dial so tests can substitute a fake
// SSH server without a real TCP connection.
type Dialer interface {
	Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

type netDialer struct{}

func (netDialer) Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// New creates a Pool using real TCP dialing.
func New(log logging.Logger) *Pool {
	if log == nil {
		log = logging.Noop()
	}
	return &Pool{pools: make(map[string]*targetPool), dialer: netDialer{}, log: log}
}

// NewWithDialer creates a Pool using a custom Dialer (tests).
func NewWithDialer(d Dialer, log logging.Logger) *Pool {
	if log == nil {
		log = logging.Noop()
	}
	return &Pool{pools: make(map[string]*targetPool), dialer: d, log: log}
}

const quarantineWindow = 10 * time.Minute

func (p *Pool) poolFor(cfg AuthConfig) *targetPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := cfg.key()
	tp, ok := p.pools[key]
	if !ok {
		tp = &targetPool{cfg: cfg, free: make(chan *session, cfg.poolCap())}
		p.pools[key] = tp
	}
	return tp
}

func authMethods(cfg AuthConfig) (methods []ssh.AuthMethod, authMethod string) {
	if len(cfg.PrivateKeyPEM) > 0 {
		var signer ssh.Signer
		var err error
		if cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKeyPEM, []byte(cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(cfg.PrivateKeyPEM)
		}
		if err == nil {
			return []ssh.AuthMethod{ssh.PublicKeys(signer)}, "publickey"
		}
	}
	if cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, "password"
	}
	return nil, ""
}

// dial performs the §4.1 precedence: try key first (with passphrase),
// fall through to password on failure, else surface the key error.
func (p *Pool) dial(ctx context.Context, cfg AuthConfig) (*ssh.Client, string, error) {
	timeout := cfg.connectTimeout()
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	tried := false

	if len(cfg.PrivateKeyPEM) > 0 {
		tried = true
		methods, name := authMethods(AuthConfig{PrivateKeyPEM: cfg.PrivateKeyPEM, KeyPassphrase: cfg.KeyPassphrase})
		if methods != nil {
			client, err := p.dialWith(dialCtx, cfg, methods, timeout)
			if err == nil {
				return client, name, nil
			}
			lastErr = err
		} else {
			lastErr = fmt.Errorf("invalid private key")
		}
	}

	if cfg.Password != "" {
		tried = true
		methods, name := authMethods(AuthConfig{Password: cfg.Password})
		client, err := p.dialWith(dialCtx, cfg, methods, timeout)
		if err == nil {
			return client, name, nil
		}
		if len(cfg.PrivateKeyPEM) == 0 {
			lastErr = err
		}
	}

	if !tried {
		return nil, "", fmt.Errorf("no auth material configured")
	}
	return nil, "", lastErr
}

func (p *Pool) dialWith(ctx context.Context, cfg AuthConfig, methods []ssh.AuthMethod, timeout time.Duration) (*ssh.Client, error) {
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint: gosec // agentless fleet monitor has no enrolled host key store
		Timeout:         timeout,
	}
	return p.dialer.Dial(ctx, "tcp", cfg.addr(), clientCfg)
}

// backoff returns the exponential delay for attempt n (1-based), capped
// at 30s per §4.1.
func backoff(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<uint(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (p *Pool) connect(ctx context.Context, cfg AuthConfig) (*ssh.Client, error) {
	retries := cfg.retryCount()
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		client, _, err := p.dial(ctx, cfg)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if attempt < retries {
			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// acquire returns a healthy session, reusing an idle one when available
// and under cap otherwise dialing a new one (§4.1).
func (p *Pool) acquire(ctx context.Context, cfg AuthConfig) (*session, error) {
	tp := p.poolFor(cfg)

	tp.mu.Lock()
	if !tp.quarantinedUntil.IsZero() && time.Now().Before(tp.quarantinedUntil) {
		tp.mu.Unlock()
		return nil, cwerrors.Connect("sshpool.acquire", cfg.key(), fmt.Errorf("pool quarantined until %s", tp.quarantinedUntil.Format(time.RFC3339)))
	}
	tp.mu.Unlock()

	select {
	case s := <-tp.free:
		if s.healthy(ctx, 5*time.Second) {
			return s, nil
		}
		s.client.Close()
	default:
	}

	tp.mu.Lock()
	if tp.open >= cfg.poolCap() {
		tp.mu.Unlock()
		// Block until a slot frees or the caller's context ends.
		select {
		case s := <-tp.free:
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	tp.open++
	tp.mu.Unlock()

	tp.mu.Lock()
	tp.totalDials++
	tp.mu.Unlock()

	client, err := p.connect(ctx, cfg)
	if err != nil {
		tp.mu.Lock()
		tp.open--
		tp.consecutiveFails++
		tp.totalAuthFails++
		if tp.consecutiveFails >= 3 {
			tp.quarantinedUntil = time.Now().Add(quarantineWindow)
		}
		tp.mu.Unlock()
		return nil, cwerrors.Connect("sshpool.acquire", cfg.key(), err)
	}

	tp.mu.Lock()
	tp.consecutiveFails = 0
	tp.quarantinedUntil = time.Time{}
	tp.mu.Unlock()

	return &session{client: client}, nil
}

// release returns a session to its pool slot, or closes it if the pool is
// gone/full (mirrors ConnectionPool.Put).
func (p *Pool) release(cfg AuthConfig, s *session, healthy bool) {
	tp := p.poolFor(cfg)
	if !healthy {
		s.client.Close()
		tp.mu.Lock()
		tp.open--
		tp.mu.Unlock()
		return
	}
	select {
	case tp.free <- s:
	default:
		s.client.Close()
		tp.mu.Lock()
		tp.open--
		tp.mu.Unlock()
	}
}

// ExecResult is the outcome of one command execution over SSH.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Execute acquires a session, runs command with the given timeout, and
// releases the session (§4.1's execute()).
func (p *Pool) Execute(ctx context.Context, cfg AuthConfig, command string, timeout time.Duration) (ExecResult, error) {
	if timeout <= 0 {
		timeout = cfg.commandTimeout()
	}

	s, err := p.acquire(ctx, cfg)
	if err != nil {
		return ExecResult{}, err
	}

	sess, err := s.client.NewSession()
	if err != nil {
		p.release(cfg, s, false)
		return ExecResult{}, cwerrors.Session("sshpool.execute", cfg.key(), err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case err := <-done:
		if err == nil {
			p.release(cfg, s, true)
			return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			p.release(cfg, s, true)
			return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitStatus()}, nil
		}
		p.release(cfg, s, false)
		return ExecResult{}, cwerrors.Session("sshpool.execute", cfg.key(), err)
	case <-time.After(timeout):
		sess.Signal(ssh.SIGKILL)
		p.release(cfg, s, false)
		return ExecResult{}, cwerrors.Timeout("sshpool.execute", cfg.key(), fmt.Errorf("command exceeded %s", timeout))
	case <-ctx.Done():
		p.release(cfg, s, false)
		return ExecResult{}, ctx.Err()
	}
}

// TestResult is the synchronous one-shot probe result of §4.1's test().
type TestResult struct {
	OK         bool
	Message    string
	DurationMS int64
	AuthMethod string
}

// Test performs a one-shot connect/probe without populating the pool.
func (p *Pool) Test(ctx context.Context, cfg AuthConfig) TestResult {
	start := time.Now()
	client, method, err := p.dial(ctx, cfg)
	if err != nil {
		return TestResult{OK: false, Message: err.Error(), DurationMS: time.Since(start).Milliseconds()}
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return TestResult{OK: false, Message: err.Error(), DurationMS: time.Since(start).Milliseconds(), AuthMethod: method}
	}
	defer sess.Close()
	if _, err := sess.Output("echo ok"); err != nil {
		return TestResult{OK: false, Message: err.Error(), DurationMS: time.Since(start).Milliseconds(), AuthMethod: method}
	}
	return TestResult{OK: true, Message: "ok", DurationMS: time.Since(start).Milliseconds(), AuthMethod: method}
}

// Stats returns the pool's current observability snapshot for a target.
func (p *Pool) Stats(cfg AuthConfig) Stats {
	tp := p.poolFor(cfg)
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return Stats{
		Open:             tp.open,
		QuarantinedUntil: tp.quarantinedUntil,
		TotalDials:       tp.totalDials,
		TotalAuthFails:   tp.totalAuthFails,
	}
}

// Close closes every pooled session across every target, used during
// graceful shutdown (§6).
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tp := range p.pools {
		close(tp.free)
		for s := range tp.free {
			s.client.Close()
		}
	}
	return nil
}
