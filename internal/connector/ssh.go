package connector

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTunnel forwards destination connections through an SSH server
type SSHTunnel struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	KnownHosts string
	Logger     *logrus.Logger

	client *ssh.Client
}

// ClientConfig builds the SSH client configuration from the key file and known_hosts file
func (t *SSHTunnel) ClientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if t.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(t.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("unable to load known hosts: %w", err)
		}
	} else {
		t.Logger.Warning("No SSH known_hosts file configured, host key will not be verified")
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// Open connects to the SSH server
func (t *SSHTunnel) Open() error {
	cfg, err := t.ClientConfig()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("unable to connect to SSH server %s: %w", addr, err)
	}
	t.client = client
	t.Logger.Infof("SSH tunnel open via %s@%s", t.User, addr)
	return nil
}

// DialContext opens a connection to addr from the SSH server's side
func (t *SSHTunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if t.client == nil {
		return nil, fmt.Errorf("ssh tunnel is not open")
	}
	return t.client.DialContext(ctx, network, addr)
}

// Close shuts the SSH connection down
func (t *SSHTunnel) Close() {
	if t.client == nil {
		return
	}
	if err := t.client.Close(); err != nil {
		t.Logger.Errorf("Error closing SSH tunnel: %v", err)
	}
	t.client = nil
}
