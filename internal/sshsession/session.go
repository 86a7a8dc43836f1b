// Package sshsession builds authenticated SSH sessions and their SFTP
// channels. Structurally grounded on charmer/pkg/charmer/sftp/manager.go
// (connection lifecycle, bounded retry-on-create loop) and
// charmer/pkg/charmer/sftp/client.go (keepalive goroutine), re-targeted from
// password auth to the spec's fixed private-key order with no ssh-agent
// dependency (spec.md §4.2, §9).
package sshsession

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/nitronplus/hostpilot/internal/model"
)

// KeyOrder is the fixed private-key preference order tried during
// authentication. The first that parses and is accepted wins.
var KeyOrder = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultDNSTimeout     = 3 * time.Second
	KeepAliveInterval     = 30 * time.Second
)

// Error tags a session-build failure with the model.FailureVariant the
// caller should record.
type Error struct {
	Variant model.FailureVariant
	Addr    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Variant, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Variant, e.Addr)
}

func (e *Error) Unwrap() error { return e.Err }

// Target names the host to connect to.
type Target struct {
	Host string
	Port int
	User string
}

func (t Target) addr() string { return net.JoinHostPort(t.Host, fmt.Sprintf("%d", t.Port)) }

// Session bundles one authenticated SSH client with one reusable SFTP
// channel — exactly what one WorkerState owns (spec.md §3, §4.4).
type Session struct {
	SSH  *ssh.Client
	SFTP *sftp.Client
	done chan struct{}
}

// Close tears down the SFTP channel and the SSH client.
func (s *Session) Close() {
	if s.done != nil {
		close(s.done)
	}
	if s.SFTP != nil {
		_ = s.SFTP.Close()
	}
	if s.SSH != nil {
		_ = s.SSH.Close()
	}
}

// Connect performs the five-step handshake from spec.md §4.2: bounded DNS
// lookup, TCP dial with timeout, SSH session creation, handshake, and
// key-file authentication in a fixed order.
func Connect(ctx context.Context, t Target, connectTimeout time.Duration) (*Session, error) {
	addr := t.addr()

	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	if err := checkResolvable(ctx, t.Host); err != nil {
		return nil, &Error{Variant: model.SshNoAddress, Addr: addr, Err: err}
	}

	auth, err := keyAuthMethods()
	if err != nil {
		return nil, &Error{Variant: model.SshAuthFailed, Addr: addr, Err: err}
	}

	config := &ssh.ClientConfig{
		User:            t.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, &Error{Variant: model.SshSessionCreateFailed, Addr: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Now().Add(connectTimeout))

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, &Error{Variant: model.SshHandshakeFailed, Addr: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, &Error{Variant: model.SftpCreateFailed, Addr: addr, Err: err}
	}

	sess := &Session{SSH: client, SFTP: sftpClient, done: make(chan struct{})}
	go keepAlive(client, sess.done)
	return sess, nil
}

func checkResolvable(ctx context.Context, host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultDNSTimeout)
	defer cancel()

	resolver := &net.Resolver{}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses found for %q", host)
	}
	return nil
}

// keyAuthMethods tries KeyOrder in turn and returns an auth method per key
// that parses successfully. Authentication itself is deferred to the SSH
// handshake; if every key fails to parse, that is reported as SshAuthFailed
// up front rather than waiting on a handshake with zero auth methods.
func keyAuthMethods() ([]ssh.AuthMethod, error) {
	sshDir := filepath.Join(homeDir(), ".ssh")

	var methods []ssh.AuthMethod
	var lastErr error
	for _, name := range KeyOrder {
		keyPath := filepath.Join(sshDir, name)
		data, err := os.ReadFile(keyPath)
		if err != nil {
			lastErr = err
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			lastErr = err
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if len(methods) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no private key files found under %s", sshDir)
		}
		return nil, lastErr
	}
	return methods, nil
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	if h := os.Getenv("USERPROFILE"); h != "" {
		return h
	}
	return "."
}

func keepAlive(client *ssh.Client, done chan struct{}) {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@hostpilot", true, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// RemoteHome runs a short shell command over a fresh SSH session to obtain
// the user's remote $HOME, used by the resolver for ~ expansion
// (spec.md §4.1).
func RemoteHome(client *ssh.Client) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	out, err := session.Output("echo $HOME")
	if err != nil {
		return "", err
	}
	home := string(out)
	for len(home) > 0 && (home[len(home)-1] == '\n' || home[len(home)-1] == '\r') {
		home = home[:len(home)-1]
	}
	if home == "" {
		return "", fmt.Errorf("remote $HOME is empty")
	}
	return home, nil
}
