// Package remote runs post-provisioning setup on instances over SSH and
// moves files over SFTP.
package remote

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"cloudforge/internal/logging"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Client is an established SSH+SFTP connection to one instance.
type Client struct {
	client     *ssh.Client
	sftpClient *sftp.Client
	host       string
	user       string
}

// Config holds connection parameters for an instance.
type Config struct {
	Host           string
	User           string
	PrivateKeyPath string

	// WaitTimeout bounds how long to wait for the SSH port to open.
	WaitTimeout time.Duration

	// DialTimeout applies to the SSH handshake itself.
	DialTimeout time.Duration
}

// escapeNewlines escapes newline characters for proper log formatting.
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// WaitForSSH waits for the instance's SSH port to accept connections.
// Cloud-init typically needs a minute or two after the instance reports
// running.
func WaitForSSH(host string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, "22"), 5*time.Second)
		if err == nil {
			safeClose("connection test", conn.Close)
			return nil
		}
		time.Sleep(10 * time.Second)
	}

	return fmt.Errorf("SSH port not available after %v timeout", timeout)
}

// Connect waits for SSH and establishes the session.
func Connect(config Config) (*Client, error) {
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = 5 * time.Minute
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 30 * time.Second
	}

	if err := WaitForSSH(config.Host, config.WaitTimeout); err != nil {
		return nil, err
	}

	keyBytes, err := os.ReadFile(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// Hosts are freshly created from known images; there is nothing
		// to verify the key against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.DialTimeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(config.Host, "22"), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}

	logging.Logger().Info("SSH connection established",
		zap.String("user", config.User),
		zap.String("host", config.Host))

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &Client{
		client:     client,
		sftpClient: sftpClient,
		host:       config.Host,
		user:       config.User,
	}, nil
}

// Close closes the SFTP and SSH connections.
func (c *Client) Close() error {
	if c.sftpClient != nil {
		safeClose("SFTP client", c.sftpClient.Close)
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Run executes a command on the remote host, logging captured output.
func (c *Client) Run(command string) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logging.Logger().Debug("executing command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", c.host))

	err = session.Run(command)

	logging.Logger().Info("command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", c.host),
		zap.String("stdout", escapeNewlines(logging.Truncate(stdout.String()))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderr.String()))),
		zap.Bool("success", err == nil))

	return err
}

// WriteFile writes content to a remote path over SFTP.
func (c *Client) WriteFile(path, content string, mode os.FileMode) error {
	file, err := c.sftpClient.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", path, err)
	}
	defer safeClose("remote file", file.Close)

	if _, err := file.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write remote file %s: %w", path, err)
	}
	if err := c.sftpClient.Chmod(path, mode); err != nil {
		logging.Logger().Warn("failed to set remote file mode",
			zap.String("path", path),
			zap.Error(err))
	}
	return nil
}
