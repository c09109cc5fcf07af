package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Runner executes a command on a remote host. The pool implements it with
// real SSH; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, host, command string) (string, error)
}

type pooledConn struct {
	client   Client
	lastUsed time.Time
}

// Pool manages SSH connections keyed by host with idle cleanup and
// command-level retry.
type Pool struct {
	connections map[string]*pooledConn
	mutex       sync.RWMutex
	maxIdle     time.Duration
	user        string
	privateKey  string
	logger      *slog.Logger

	// overridable for tests
	newClient func(host, user, privateKey string) (Client, error)
}

// NewPool creates a new SSH connection pool.
func NewPool(user, privateKey string, logger *slog.Logger, maxIdle time.Duration) *Pool {
	if maxIdle == 0 {
		maxIdle = 5 * time.Minute
	}
	if user == "" {
		user = "root"
	}

	return &Pool{
		connections: make(map[string]*pooledConn),
		maxIdle:     maxIdle,
		user:        user,
		privateKey:  privateKey,
		logger:      logger,
		newClient:   NewClient,
	}
}

// GetConnection retrieves or creates an SSH connection from the pool.
// Refreshing lastUsed mutates the entry, so the write lock is held for the
// whole lookup.
func (p *Pool) GetConnection(host string) (Client, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if conn, exists := p.connections[host]; exists && conn.client != nil {
		conn.lastUsed = time.Now()
		return conn.client, nil
	}

	client, err := p.newClient(host, p.user, p.privateKey)
	if err != nil {
		return nil, err
	}

	p.connections[host] = &pooledConn{client: client, lastUsed: time.Now()}
	p.logger.Debug("established new SSH connection", slog.String("host", host))
	return client, nil
}

// CloseConnection removes a connection from the pool.
func (p *Pool) CloseConnection(host string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, exists := p.connections[host]; exists {
		delete(p.connections, host)
		p.logger.Debug("closed SSH connection", slog.String("host", host))
	}
}

// CleanupIdleConnections removes connections unused for longer than maxIdle.
func (p *Pool) CleanupIdleConnections() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	for host, conn := range p.connections {
		if now.Sub(conn.lastUsed) > p.maxIdle {
			delete(p.connections, host)
			p.logger.Debug("cleaned up idle SSH connection", slog.String("host", host))
		}
	}
}

// CloseAll drops every pooled connection.
func (p *Pool) CloseAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.connections = make(map[string]*pooledConn)
}

// StartCleanupRoutine cleans up idle connections until ctx is cancelled.
func (p *Pool) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CleanupIdleConnections()
			}
		}
	}()
}

// Run executes a command on a host with retry on transient SSH failures.
// Implements Runner.
func (p *Pool) Run(ctx context.Context, host, command string) (string, error) {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		output, err := p.runOnce(ctx, host, command)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if !isRetryableSSHError(err) {
			break
		}

		// Drop the possibly stale connection before the next attempt
		p.CloseConnection(host)

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<attempt) * time.Second
			p.logger.Debug("SSH command failed, retrying",
				slog.String("host", host),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("SSH command failed after %d attempts: %w", maxRetries, lastErr)
}

func (p *Pool) runOnce(ctx context.Context, host, command string) (string, error) {
	client, err := p.GetConnection(host)
	if err != nil {
		return "", fmt.Errorf("failed to get SSH connection: %w", err)
	}
	return client.RunCommand(ctx, command)
}

// isRetryableSSHError determines if an SSH error is worth retrying.
func isRetryableSSHError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"i/o timeout",
		"connection lost",
		"ssh: handshake failed",
		"failed to dial",
	}

	for _, retryableErr := range retryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}
	return false
}

var _ Runner = (*Pool)(nil)
