package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "hublink/internal/errors"
	"hublink/util"
)

// SSHConfig holds everything needed to reach an SSH gateway that sits
// in front of the hub network.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// SSHDialer routes connections through an SSH gateway using
// direct-tcpip channels.  The session is established lazily on the
// first Dial and re-established on a later Dial if the gateway dropped
// it, so a supervisor restart after a gateway bounce just works.
type SSHDialer struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer creates a dialer for the given gateway.  Nothing is
// dialled until the first [SSHDialer.Dial].
func NewSSHDialer(cfg *SSHConfig, logger *util.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHDialer{config: cfg, logger: util.OrDiscard(logger)}
}

// Dial opens a channel to address through the gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.session(ctx)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("ssh: dialing %s %s via %s", network, address, d.gatewayAddr())
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("gateway dial %s: %w", address, err)
	}
	return conn, nil
}

// Alive reports whether a gateway session is currently up.
func (d *SSHDialer) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client != nil
}

// Close shuts down the gateway session, if any.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

func (d *SSHDialer) gatewayAddr() string {
	return net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))
}

// session returns the live client, handshaking a new one if needed.
func (d *SSHDialer) session(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	d.logger.Verbose("establishing SSH session to %s@%s", d.config.User, d.gatewayAddr())
	client, err := d.handshake(ctx)
	if err != nil {
		return nil, err
	}
	d.client = client
	go d.monitor(client)
	d.logger.Verbose("SSH session established")
	return client, nil
}

func (d *SSHDialer) handshake(ctx context.Context) (*ssh.Client, error) {
	authMethods, err := BuildAuthMethods(d.config)
	if err != nil {
		return nil, ncerr.WrapSSH("auth", d.config.Host, d.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(d.config)
	if err != nil {
		return nil, ncerr.WrapSSH("hostkey", d.config.Host, d.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         d.config.ConnTimeout,
	}

	addr := d.gatewayAddr()
	dialer := net.Dialer{Timeout: d.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, ncerr.WrapSSH("handshake", d.config.Host, d.config.Port, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// monitor blocks until client closes and forgets it so the next Dial
// handshakes again.
func (d *SSHDialer) monitor(client *ssh.Client) {
	err := client.Wait()

	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Debug("SSH session closed: %v", err)
	} else {
		d.logger.Debug("SSH session closed")
	}
}
