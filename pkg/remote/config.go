package remote

import (
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/shellflow/shellflow/pkg/models"
)

// HostKeyPolicy controls how a new connection verifies the remote host key.
type HostKeyPolicy string

const (
	// HostKeyInsecure accepts any host key. Lab use only.
	HostKeyInsecure HostKeyPolicy = "insecure"
	// HostKeyKnownHosts verifies against an OpenSSH known_hosts file.
	HostKeyKnownHosts HostKeyPolicy = "known_hosts"
)

// Credentials is everything needed to open one authenticated session.
// Exactly one of Password or PrivateKey is set.
type Credentials struct {
	Password       string
	PrivateKey     []byte
	Passphrase     string
	HostKeyPolicy  HostKeyPolicy
	KnownHostsPath string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 30 * time.Second
)

func (c *Credentials) authMethods() ([]ssh.AuthMethod, error) {
	if len(c.PrivateKey) > 0 {
		var (
			signer ssh.Signer
			err    error
		)

		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(c.PrivateKey, []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(c.PrivateKey)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	if c.Password != "" {
		return []ssh.AuthMethod{ssh.Password(c.Password)}, nil
	}

	return nil, fmt.Errorf("credentials carry neither password nor private key")
}

func (c *Credentials) hostKeyCallback() (ssh.HostKeyCallback, error) {
	switch c.HostKeyPolicy {
	case HostKeyKnownHosts:
		callback, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", c.KnownHostsPath, err)
		}

		return callback, nil
	case HostKeyInsecure, "":
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit operator opt-in
	default:
		return nil, fmt.Errorf("unknown host key policy %q", c.HostKeyPolicy)
	}
}

// Dial opens an authenticated SSH transport for key using creds.
func Dial(key models.ConnectionKey, creds *Credentials) (Transport, error) {
	auth, err := creds.authMethods()
	if err != nil {
		return nil, models.NewFlowError(models.ErrKindValidation,
			"provide a password or a parseable private key", err)
	}

	hostKeyCallback, err := creds.hostKeyCallback()
	if err != nil {
		return nil, models.NewFlowError(models.ErrKindValidation,
			"check the host key policy and known_hosts path", err)
	}

	connectTimeout := creds.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	config := &ssh.ClientConfig{
		User:            key.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         connectTimeout,
	}

	address := net.JoinHostPort(key.Host, fmt.Sprintf("%d", key.Port))

	client, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return nil, models.NewFlowError(models.ErrKindConnection,
			"verify the host is reachable and the credentials are valid", err)
	}

	return &sshTransport{client: client}, nil
}

// sshTransport adapts an *ssh.Client to the Transport interface.
type sshTransport struct {
	client *ssh.Client
}

func (t *sshTransport) OpenChannel() (CommandChannel, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, err
	}

	return &sshChannel{session: session}, nil
}

func (t *sshTransport) Ping() error {
	_, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil)

	return err
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}

// sshChannel runs exactly one command. No shell state survives between
// channels.
type sshChannel struct {
	session *ssh.Session
}

func (ch *sshChannel) Run(command string, stdout, stderr io.Writer) error {
	ch.session.Stdout = stdout
	ch.session.Stderr = stderr

	return ch.session.Run(command)
}

func (ch *sshChannel) Close() error {
	return ch.session.Close()
}
