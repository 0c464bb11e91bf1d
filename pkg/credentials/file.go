package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/remote"
)

// entry is one credential record in the store file. Exactly one of password
// and private_key_path is expected.
type entry struct {
	Username         string `json:"username"`
	Host             string `json:"host"`
	Port             int    `json:"port,omitempty"`
	Password         string `json:"password,omitempty"`
	PrivateKeyPath   string `json:"private_key_path,omitempty"`
	Passphrase       string `json:"passphrase,omitempty"`
	HostKeyPolicy    string `json:"host_key_policy,omitempty"`
	KnownHostsPath   string `json:"known_hosts_path,omitempty"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms,omitempty"`
}

// FileSource reads credentials from a JSON file: an array of entries matched
// by username, host and port. Key files are read lazily at resolve time so
// rotation does not require a restart.
type FileSource struct {
	entries []entry
}

// NewFileSource parses the credential file at path.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	for i, e := range entries {
		if e.Username == "" || e.Host == "" {
			return nil, fmt.Errorf("credentials entry %d is missing username or host", i)
		}

		if e.Password == "" && e.PrivateKeyPath == "" {
			return nil, fmt.Errorf("credentials entry %d carries neither password nor private key", i)
		}
	}

	return &FileSource{entries: entries}, nil
}

// Resolve finds the first entry matching the key. An entry with port 0
// matches any port.
func (s *FileSource) Resolve(_ context.Context, key models.ConnectionKey) (*remote.Credentials, error) {
	for _, e := range s.entries {
		if e.Username != key.Username || e.Host != key.Host {
			continue
		}

		if e.Port != 0 && e.Port != key.Port {
			continue
		}

		creds := &remote.Credentials{
			Password:       e.Password,
			Passphrase:     e.Passphrase,
			HostKeyPolicy:  remote.HostKeyPolicy(e.HostKeyPolicy),
			KnownHostsPath: e.KnownHostsPath,
			ConnectTimeout: time.Duration(e.ConnectTimeoutMS) * time.Millisecond,
		}

		if e.PrivateKeyPath != "" {
			keyData, err := os.ReadFile(e.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key for %s: %w", key.String(), err)
			}

			creds.PrivateKey = keyData
		}

		return creds, nil
	}

	return nil, models.NewFlowError(models.ErrKindSecurity,
		"add a credentials entry for this user and host", fmt.Errorf("no credentials for %s", key.String()))
}
