// Package catalog provides read-only access to the script definitions the
// engine executes. Implementations validate definitions at load time; the
// engine trusts whatever a Reader hands back.
package catalog

import (
	"context"

	"github.com/shellflow/shellflow/pkg/models"
)

// Reader resolves script definitions by ID.
type Reader interface {
	GetAtomicScript(ctx context.Context, id string) (*models.AtomicScript, error)
	GetAggregatedScript(ctx context.Context, id string) (*models.AggregatedScript, error)
	ListAggregatedScripts(ctx context.Context) ([]*models.AggregatedScript, error)
}
