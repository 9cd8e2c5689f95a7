package inspector

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
)

// PassphraseFunc supplies the passphrase of an encrypted private key.
type PassphraseFunc func(keyPath string) ([]byte, error)

// SSHConfig contains SSH transport settings
type SSHConfig struct {
	User           string
	Port           int
	KeyPath        string
	KnownHostsPath string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
	// AgentSocket is the path of a running ssh-agent, usually $SSH_AUTH_SOCK.
	AgentSocket string
	Timeout     time.Duration
	Passphrase  PassphraseFunc
}

// SSHDialer dials hosts over SSH
type SSHDialer struct {
	cfg     SSHConfig
	auth    []ssh.AuthMethod
	hostKey ssh.HostKeyCallback
}

// NewSSHDialer prepares authentication and host key checking once so that
// every host dial reuses them.
func NewSSHDialer(cfg SSHConfig) (*SSHDialer, error) {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := &SSHDialer{cfg: cfg}

	if cfg.KeyPath != "" {
		signer, err := loadSigner(cfg.KeyPath, cfg.Passphrase)
		if err != nil {
			return nil, errors.Config("failed to load SSH key", err)
		}
		d.auth = append(d.auth, ssh.PublicKeys(signer))
	}
	if cfg.AgentSocket != "" {
		d.auth = append(d.auth, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			conn, err := net.Dial("unix", cfg.AgentSocket)
			if err != nil {
				return nil, err
			}
			defer conn.Close()
			return agent.NewClient(conn).Signers()
		}))
	}
	if len(d.auth) == 0 {
		return nil, errors.Config("no SSH authentication method configured", nil)
	}

	if cfg.InsecureIgnoreHostKey {
		d.hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		if cfg.KnownHostsPath == "" {
			return nil, errors.Config("known_hosts path is required unless host key checking is disabled", nil)
		}
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, errors.Config("failed to load known_hosts", err)
		}
		d.hostKey = cb
	}

	return d, nil
}

func loadSigner(path string, passphrase PassphraseFunc) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !stderrors.As(err, &missing) || passphrase == nil {
		return nil, err
	}
	pass, err := passphrase(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKeyWithPassphrase(pem, pass)
}

// Dial connects and authenticates to host.
func (d *SSHDialer) Dial(ctx context.Context, host string) (Runner, error) {
	addr, err := ParseAddress(host, d.cfg.User, d.cfg.Port)
	if err != nil {
		return nil, errors.ConnectionError(host, err)
	}

	dialer := net.Dialer{Timeout: d.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, errors.ConnectionError(host, err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            addr.User,
		Auth:            d.auth,
		HostKeyCallback: d.hostKey,
		Timeout:         d.cfg.Timeout,
	}
	// bound the handshake as well as the TCP connect
	_ = conn.SetDeadline(time.Now().Add(d.cfg.Timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr.String(), clientCfg)
	if err != nil {
		conn.Close()
		return nil, errors.ConnectionError(host, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshRunner{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshRunner struct {
	client *ssh.Client
}

func (r *sshRunner) Run(ctx context.Context, command string) ([]byte, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(stderr.String()))
		}
	}
	return stdout.Bytes(), nil
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}
