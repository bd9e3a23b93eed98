// Package remoteexec maintains a pool of reusable SSH connections to managed
// Nodes and runs shell commands against them with per-command timeouts.
//
// Connections are pooled and keyed by "user@host:port" rather than by Node
// ID, so the same physical target is never dialed twice even if referenced
// by more than one Node record. Each pooled connection is guarded by its own
// mutex so commands against different hosts run fully in parallel while
// commands against the same host serialize — ZFS and Proxmox CLI tools are
// not safe to run concurrently against the same target.
package remoteexec

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Result is the outcome of one command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// connection is one pooled SSH client plus the lock that serializes commands
// against it.
type connection struct {
	mu     sync.Mutex
	client *ssh.Client
	key    string
}

// Pool is the in-memory registry of open SSH connections, safe for
// concurrent use by any number of callers simultaneously.
//
// The zero value is not usable — create instances with New.
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*connection
	logger      *zap.Logger
	dialTimeout time.Duration
	metrics     *metricsSet
}

// New creates a new Pool instance.
func New(logger *zap.Logger) *Pool {
	return &Pool{
		connections: make(map[string]*connection),
		logger:      logger.Named("remoteexec"),
		dialTimeout: 10 * time.Second,
		metrics:     newMetricsSet(),
	}
}

// key builds the pool's connection key for a target.
func key(user, host string, port int) string {
	return fmt.Sprintf("%s@%s:%d", user, host, port)
}

// Endpoint describes a reachable Node for the purposes of establishing an
// SSH connection.
type Endpoint struct {
	Host             string
	Port             int
	User             string
	PrivateKeyPath   string
	PrivateKeyPEM    []byte
}

// getOrDial returns the pooled connection for ep, dialing a new one if none
// exists or the existing one is dead.
func (p *Pool) getOrDial(ctx context.Context, ep Endpoint) (*connection, error) {
	k := key(ep.User, ep.Host, ep.Port)

	p.mu.RLock()
	conn, exists := p.connections[k]
	p.mu.RUnlock()

	if exists && isAlive(conn.client) {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the write lock — another goroutine may have dialed
	// while we were waiting.
	if conn, exists = p.connections[k]; exists && isAlive(conn.client) {
		return conn, nil
	}

	client, err := p.dial(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("remoteexec: dialing %s: %w", k, err)
	}

	conn = &connection{client: client, key: k}
	p.connections[k] = conn

	p.logger.Info("ssh connection established", zap.String("target", k))
	return conn, nil
}

func (p *Pool) dial(ctx context.Context, ep Endpoint) (*ssh.Client, error) {
	signer, err := loadSigner(ep.PrivateKeyPath, ep.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // host keys are not verified; SSH trust setup between hosts is left to the operator, see SPEC_FULL.md §9
		Timeout:         p.dialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, config)
		ch <- dialResult{c, err}
	}()

	select {
	case <-dialCtx.Done():
		return nil, dialCtx.Err()
	case r := <-ch:
		return r.client, r.err
	}
}

func isAlive(client *ssh.Client) bool {
	if client == nil {
		return false
	}
	_, _, err := client.SendRequest("keepalive@zvault", true, nil)
	return err == nil
}

// Run executes cmd on the target described by ep, enforcing timeout as a
// per-command deadline independent of the pooled connection's lifetime: a
// slow or hung command is killed by closing its session, but the underlying
// SSH connection is kept and reused for the next command.
func (p *Pool) Run(ctx context.Context, ep Endpoint, cmd string, timeout time.Duration) (Result, error) {
	start := time.Now()
	p.metrics.inflight.Inc()
	defer p.metrics.inflight.Dec()

	conn, err := p.getOrDial(ctx, ep)
	if err != nil {
		p.metrics.observeDuration(ep.Host, "dial_error", time.Since(start))
		return Result{}, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	session, err := conn.client.NewSession()
	if err != nil {
		p.metrics.observeDuration(ep.Host, "session_error", time.Since(start))
		return Result{}, fmt.Errorf("remoteexec: opening session to %s: %w", conn.key, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(timeout):
		session.Close()
		p.metrics.observeDuration(ep.Host, "timeout", time.Since(start))
		return Result{}, fmt.Errorf("remoteexec: command on %s exceeded %s timeout", conn.key, timeout)
	case <-ctx.Done():
		session.Close()
		p.metrics.observeDuration(ep.Host, "cancelled", time.Since(start))
		return Result{}, ctx.Err()
	}

	exitCode := 0
	status := "ok"
	if runErr != nil {
		status = "exit_error"
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			p.metrics.observeDuration(ep.Host, "transport_error", time.Since(start))
			return Result{}, fmt.Errorf("remoteexec: running command on %s: %w", conn.key, runErr)
		}
	}

	p.metrics.observeDuration(ep.Host, status, time.Since(start))

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// TestConnection dials (or reuses) the pooled connection for ep and runs a
// trivial command, returning an error if the command cannot run or exits
// non-zero.
func (p *Pool) TestConnection(ctx context.Context, ep Endpoint) error {
	res, err := p.Run(ctx, ep, "echo 'OK' && hostname", 10*time.Second)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("remoteexec: connectivity check on %s exited %d: %s", ep.Host, res.ExitCode, res.Stderr)
	}
	return nil
}

// ProbeTool checks for the presence and version of the tool at toolPath on
// ep, in the shape of Node.ToolPresent/ToolVersion. The version is the first
// line of the tool's --version output.
func (p *Pool) ProbeTool(ctx context.Context, ep Endpoint, toolPath string) (present bool, version string, err error) {
	res, err := p.Run(ctx, ep, fmt.Sprintf("which %s && %s --version 2>/dev/null", toolPath, toolPath), 10*time.Second)
	if err != nil {
		return false, "", err
	}
	if res.ExitCode != 0 {
		return false, "", nil
	}
	return true, firstLine(res.Stdout), nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// Close closes every pooled connection. Called during graceful shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, conn := range p.connections {
		conn.mu.Lock()
		if conn.client != nil {
			_ = conn.client.Close()
		}
		conn.mu.Unlock()
		delete(p.connections, k)
	}
}
