package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/charliek/logtap/internal/domain"
)

// SSHDialer implements Dialer with golang.org/x/crypto/ssh
type SSHDialer struct {
	ConnectTimeout time.Duration
	// KnownHostsFile enables host key verification. When empty any host key is accepted.
	KnownHostsFile string
}

// Dial connects and authenticates. Credential problems are reported as
// AuthenticationFailure, everything else as ConnectionError.
func (d *SSHDialer) Dial(ctx context.Context, req domain.RemoteRequest) (ShellClient, error) {
	auth, err := authMethods(req)
	if err != nil {
		return nil, newError(AuthenticationFailure, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if d.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(d.KnownHostsFile)
		if err != nil {
			return nil, newError(ConnectionError, fmt.Errorf("loading known hosts: %w", err))
		}
	}

	config := &ssh.ClientConfig{
		User:            req.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.ConnectTimeout,
	}

	addr := req.Address()
	dialer := net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(ConnectionError, err)
	}

	// Bound the handshake by the context deadline
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshClient{client: ssh.NewClient(c, chans, reqs)}, nil
}

func authMethods(req domain.RemoteRequest) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if req.PrivateKey != "" {
		var signer ssh.Signer
		var err error
		if req.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(req.PrivateKey), []byte(req.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(req.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if req.Password != "" {
		methods = append(methods, ssh.Password(req.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no credentials supplied")
	}
	return methods, nil
}

func classifyHandshakeError(err error) *Error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return newError(AuthenticationFailure, err)
	}
	return newError(ConnectionError, err)
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) OpenShell() (Shell, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 200, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	return &sshShell{session: session, stdin: stdin, stdout: stdout}, nil
}

func (c *sshClient) Wait() error {
	return c.client.Wait()
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

type sshShell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshShell) Output() io.Reader {
	return s.stdout
}

func (s *sshShell) Close() error {
	return s.session.Close()
}
