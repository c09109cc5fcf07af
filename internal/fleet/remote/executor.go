package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vpnfleet/vpnfleet/internal/fleet/wgconf"
)

var (
	// ErrConnectTimeout means the host never became reachable within the
	// readiness window.
	ErrConnectTimeout = errors.New("host not reachable before deadline")
)

// CommandError wraps a failed remote command with its host.
type CommandError struct {
	Host    string
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("remote command on %s failed: %v", e.Host, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Step is one idempotent configuration action. When Check is set and returns
// true the step is already satisfied and Apply is skipped, so a re-run after
// a partial failure converges instead of erroring.
type Step struct {
	Name  string
	Check string // command exiting 0 when the step is already done, optional
	Apply string
}

// Executor drives configuration of a remote WireGuard host over a Runner.
type Executor struct {
	runner Runner
	logger *slog.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor(runner Runner, logger *slog.Logger) *Executor {
	return &Executor{runner: runner, logger: logger}
}

// WaitForReady polls the host until a trivial command succeeds or the
// timeout elapses. Fresh instances take a while to accept SSH.
func (e *Executor) WaitForReady(ctx context.Context, host string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 5 * time.Second

	for attempt := 1; ; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		_, err := e.runner.Run(probeCtx, host, "echo ready")
		cancel()
		if err == nil {
			e.logger.Debug("host is reachable", slog.String("host", host), slog.Int("attempt", attempt))
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectTimeout, host, attempt, err)
		}

		e.logger.Debug("host not ready yet",
			slog.String("host", host),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunSteps executes a sequence of idempotent steps in order, stopping at the
// first failure.
func (e *Executor) RunSteps(ctx context.Context, host string, steps []Step) error {
	for _, step := range steps {
		if step.Check != "" {
			if _, err := e.runner.Run(ctx, host, step.Check); err == nil {
				e.logger.Debug("step already satisfied",
					slog.String("host", host),
					slog.String("step", step.Name))
				continue
			}
		}

		e.logger.Debug("applying step", slog.String("host", host), slog.String("step", step.Name))
		if _, err := e.runner.Run(ctx, host, step.Apply); err != nil {
			return &CommandError{Host: host, Command: step.Name, Err: err}
		}
	}
	return nil
}

// InstallParams carries everything needed to bring up the WireGuard
// interface on a fresh host.
type InstallParams struct {
	ServerConfig string // full wg0.conf content
	ListenPort   int
}

// InstallWireGuard installs the WireGuard tooling, writes the interface
// config and brings the interface up. Safe to re-run on a host where any
// prefix of the steps already succeeded.
func (e *Executor) InstallWireGuard(ctx context.Context, host string, params InstallParams) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(params.ServerConfig))

	steps := []Step{
		{
			Name:  "install-packages",
			Check: "command -v wg",
			Apply: "DEBIAN_FRONTEND=noninteractive apt-get update -q && DEBIAN_FRONTEND=noninteractive apt-get install -q -y wireguard qrencode",
		},
		{
			Name:  "enable-forwarding",
			Check: "sysctl -n net.ipv4.ip_forward | grep -q 1",
			Apply: "echo 'net.ipv4.ip_forward=1' > /etc/sysctl.d/99-wireguard.conf && sysctl -p /etc/sysctl.d/99-wireguard.conf",
		},
		{
			Name:  "write-config",
			Apply: fmt.Sprintf("umask 077 && echo %s | base64 -d > /etc/wireguard/wg0.conf", encoded),
		},
		{
			Name:  "open-firewall",
			Check: fmt.Sprintf("ufw status | grep -q %d/udp", params.ListenPort),
			Apply: fmt.Sprintf("ufw allow %d/udp || true", params.ListenPort),
		},
		{
			Name:  "start-interface",
			Apply: "systemctl enable wg-quick@wg0 && (systemctl restart wg-quick@wg0 || systemctl start wg-quick@wg0)",
		},
	}

	return e.RunSteps(ctx, host, steps)
}

// AddPeer authorizes a peer on the running interface and persists its stanza
// in wg0.conf. Re-adding an existing peer first drops the old stanza, so the
// call converges.
func (e *Executor) AddPeer(ctx context.Context, host string, peer wgconf.PeerStanza) error {
	stanza := wgconf.RenderPeerStanza(peer)
	encoded := base64.StdEncoding.EncodeToString([]byte(stanza))

	steps := []Step{
		{
			Name:  "remove-stale-stanza",
			Apply: fmt.Sprintf("sed -i '/^# BEGIN_PEER %s$/,/^# END_PEER %s$/d' /etc/wireguard/wg0.conf", peer.Name, peer.Name),
		},
		{
			Name:  "persist-stanza",
			Apply: fmt.Sprintf("echo %s | base64 -d >> /etc/wireguard/wg0.conf", encoded),
		},
		{
			Name:  "authorize-peer",
			Apply: fmt.Sprintf("wg set wg0 peer %s allowed-ips %s/32", peer.PublicKey, peer.AssignedAddress),
		},
	}

	return e.RunSteps(ctx, host, steps)
}

// RemovePeer revokes a peer from the running interface and deletes its
// stanza. Removing an unknown peer succeeds.
func (e *Executor) RemovePeer(ctx context.Context, host, name, publicKey string) error {
	steps := []Step{
		{
			Name:  "revoke-peer",
			Apply: fmt.Sprintf("wg set wg0 peer %s remove || true", publicKey),
		},
		{
			Name:  "drop-stanza",
			Apply: fmt.Sprintf("sed -i '/^# BEGIN_PEER %s$/,/^# END_PEER %s$/d' /etc/wireguard/wg0.conf", name, name),
		},
	}

	return e.RunSteps(ctx, host, steps)
}
