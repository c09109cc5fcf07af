package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeerUsage is one peer's traffic counters from the running interface.
type PeerUsage struct {
	PublicKey     string
	Endpoint      string
	LastHandshake time.Time
	RxBytes       int64
	TxBytes       int64
}

// Usage is a snapshot of interface activity on one host.
type Usage struct {
	Peers []PeerUsage
}

// LastActivity returns the most recent handshake across all peers, or the
// zero time when no peer ever completed one.
func (u Usage) LastActivity() time.Time {
	var latest time.Time
	for _, p := range u.Peers {
		if p.LastHandshake.After(latest) {
			latest = p.LastHandshake
		}
	}
	return latest
}

// FetchUsage reads and parses `wg show wg0 dump` from the host.
func (e *Executor) FetchUsage(ctx context.Context, host string) (Usage, error) {
	out, err := e.runner.Run(ctx, host, "wg show wg0 dump")
	if err != nil {
		return Usage{}, &CommandError{Host: host, Command: "wg show", Err: err}
	}
	return parseWgDump(out)
}

// parseWgDump parses the tab-separated dump format. The first line describes
// the interface itself; each following line is one peer:
// pubkey, psk, endpoint, allowed-ips, latest-handshake, rx, tx, keepalive.
func parseWgDump(out string) (Usage, error) {
	var usage Usage

	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			return Usage{}, fmt.Errorf("malformed wg dump line %d: %q", i+1, line)
		}

		peer := PeerUsage{
			PublicKey: fields[0],
			Endpoint:  fields[2],
		}

		handshake, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return Usage{}, fmt.Errorf("malformed handshake time on line %d: %w", i+1, err)
		}
		if handshake > 0 {
			peer.LastHandshake = time.Unix(handshake, 0)
		}

		if peer.RxBytes, err = strconv.ParseInt(fields[5], 10, 64); err != nil {
			return Usage{}, fmt.Errorf("malformed rx bytes on line %d: %w", i+1, err)
		}
		if peer.TxBytes, err = strconv.ParseInt(fields[6], 10, 64); err != nil {
			return Usage{}, fmt.Errorf("malformed tx bytes on line %d: %w", i+1, err)
		}

		usage.Peers = append(usage.Peers, peer)
	}

	return usage, nil
}
