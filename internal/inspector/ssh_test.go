package inspector

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
)

// startSSHServer runs a minimal exec-only SSH server accepting one client key.
func startSSHServer(t *testing.T, authorized ssh.PublicKey, handle func(cmd string) (string, uint32)) (string, ssh.PublicKey) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg, handle)
		}
	}()

	return ln.Addr().String(), hostSigner.PublicKey()
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig, handle func(string) (string, uint32)) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				out, status := handle(payload.Command)
				_, _ = ch.Write([]byte(out))
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func writeClientKey(t *testing.T, dir string) ssh.PublicKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id_ed25519"), pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestSSHDialerRunsCommands(t *testing.T) {
	dir := t.TempDir()
	clientPub := writeClientKey(t, dir)

	addr, hostPub := startSSHServer(t, clientPub, func(cmd string) (string, uint32) {
		if cmd == "docker ps -q --no-trunc" {
			return "aaaaaaaaaaaa\n", 0
		}
		return "", 1
	})

	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, hostPub)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	d, err := NewSSHDialer(SSHConfig{
		User:           "deploy",
		KeyPath:        filepath.Join(dir, "id_ed25519"),
		KnownHostsPath: knownHosts,
		Timeout:        5 * time.Second,
	})
	require.NoError(t, err)

	runner, err := d.Dial(context.Background(), "deploy@"+addr)
	require.NoError(t, err)
	defer runner.Close()

	out, err := runner.Run(context.Background(), "docker ps -q --no-trunc")
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaaaa\n", string(out))

	_, err = runner.Run(context.Background(), "docker inspect nope")
	assert.Error(t, err, "non-zero exit status is an error")
}

func TestSSHDialerRejectsUnknownHostKey(t *testing.T) {
	dir := t.TempDir()
	clientPub := writeClientKey(t, dir)
	addr, _ := startSSHServer(t, clientPub, func(string) (string, uint32) { return "", 0 })

	// known_hosts holds a different key for the address
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)
	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, otherSigner.PublicKey())
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	d, err := NewSSHDialer(SSHConfig{KeyPath: filepath.Join(dir, "id_ed25519"), KnownHostsPath: knownHosts, Timeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = d.Dial(context.Background(), addr)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConnection, errors.Kind(err))
}

func TestNewSSHDialerValidation(t *testing.T) {
	_, err := NewSSHDialer(SSHConfig{})
	assert.Equal(t, errors.ErrCodeConfig, errors.Kind(err), "no auth method")

	dir := t.TempDir()
	writeClientKey(t, dir)
	_, err = NewSSHDialer(SSHConfig{KeyPath: filepath.Join(dir, "id_ed25519")})
	assert.Equal(t, errors.ErrCodeConfig, errors.Kind(err), "known_hosts required by default")

	_, err = NewSSHDialer(SSHConfig{KeyPath: filepath.Join(dir, "id_ed25519"), InsecureIgnoreHostKey: true})
	assert.NoError(t, err)
}
