package registry

import (
	"errors"

	"grid-trading-bot-go/internal/models"
)

// ErrNotFound is returned when a pair has no stored config, or no active one
// for GetActive.
var ErrNotFound = errors.New("grid config not found")

// Registry is the durable mapping from trading pair to grid configuration.
// It stores every config ever created (active and stopped) and tracks the
// subset of pairs whose grid is currently active.
//
// The registry is the sole writer of configs: callers read a config, mutate
// their copy, and hand the whole thing back via Upsert. It never returns
// references to shared state.
type Registry interface {
	// Upsert persists the full current state of a config. Last write wins.
	Upsert(cfg *models.GridConfig) error

	// GetActive returns the pair's config if it is active, ErrNotFound otherwise.
	GetActive(pair string) (*models.GridConfig, error)

	// Get returns the pair's config regardless of active state.
	Get(pair string) (*models.GridConfig, error)

	// ListAll returns every stored config, for status reporting.
	ListAll() ([]*models.GridConfig, error)

	// ActivePairs returns the pairs with an active grid.
	ActivePairs() []string

	// Close releases the underlying store.
	Close() error
}
