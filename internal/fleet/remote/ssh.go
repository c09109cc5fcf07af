package remote

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Client defines the interface for an SSH client bound to one host.
type Client interface {
	RunCommand(ctx context.Context, command string) (string, error)
}

type client struct {
	config *ssh.ClientConfig
	host   string
}

// NewClient creates a new SSH client for host using key authentication.
func NewClient(host, user, privateKey string) (Client, error) {
	signer, err := ssh.ParsePrivateKey([]byte(privateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// Freshly provisioned hosts have unknown host keys. TOFU would need
		// the provider to report the key out of band.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	return &client{
		config: config,
		host:   fmt.Sprintf("%s:22", host),
	}, nil
}

func (c *client) RunCommand(ctx context.Context, command string) (string, error) {
	conn, err := ssh.Dial("tcp", c.host, c.config)
	if err != nil {
		return "", fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderrBuf.String()))
		}
	}

	return strings.TrimSpace(stdoutBuf.String()), nil
}
