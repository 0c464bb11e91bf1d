// Package credentials resolves connection keys to SSH authentication
// material. The pool asks a Source for credentials at dial time and never
// caches them itself.
package credentials

import (
	"context"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/remote"
)

// Source resolves the credentials for a connection key. Implementations must
// never log password or key material.
type Source interface {
	Resolve(ctx context.Context, key models.ConnectionKey) (*remote.Credentials, error)
}
