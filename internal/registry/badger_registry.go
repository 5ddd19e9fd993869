package registry

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"grid-trading-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

var keyPrefix = []byte("grid:")

// badgerRegistry is the BadgerDB implementation of the Registry.
type badgerRegistry struct {
	db     *badger.DB
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	active map[string]struct{}
}

// NewBadgerRegistry opens (or creates) the database at dbPath and rebuilds
// the active-pair index from the persisted configs. Records that fail to
// decode are skipped with a warning rather than failing startup.
func NewBadgerRegistry(dbPath string, logger *zap.SugaredLogger) (Registry, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	r := &badgerRegistry{
		db:     db,
		logger: logger,
		active: make(map[string]struct{}),
	}
	r.load()
	return r, nil
}

// load scans all persisted configs and reconstructs the active set.
func (r *badgerRegistry) load() {
	total := 0
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var cfg models.GridConfig
				if err := json.Unmarshal(val, &cfg); err != nil {
					r.logger.Warnw("skipping unreadable grid record", "key", string(item.Key()), "err", err)
					return nil
				}
				total++
				if cfg.Active {
					r.active[cfg.Pair] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Warnw("grid registry scan failed, starting with empty active set", "err", err)
		return
	}
	r.logger.Infow("grid registry loaded", "configs", total, "active", len(r.active))
}

func keyFor(pair string) []byte {
	return append(append([]byte{}, keyPrefix...), pair...)
}

// Upsert persists the full config and updates the active index.
func (r *badgerRegistry) Upsert(cfg *models.GridConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFor(cfg.Pair), data)
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if cfg.Active {
		r.active[cfg.Pair] = struct{}{}
	} else {
		delete(r.active, cfg.Pair)
	}
	r.mu.Unlock()
	return nil
}

// Get returns the stored config for the pair regardless of active state.
func (r *badgerRegistry) Get(pair string) (*models.GridConfig, error) {
	var cfg models.GridConfig
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFor(pair))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cfg)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetActive returns the config only while it is active.
func (r *badgerRegistry) GetActive(pair string) (*models.GridConfig, error) {
	cfg, err := r.Get(pair)
	if err != nil {
		return nil, err
	}
	if !cfg.Active {
		return nil, ErrNotFound
	}
	return cfg, nil
}

// ListAll returns every stored config, sorted by pair for stable output.
func (r *badgerRegistry) ListAll() ([]*models.GridConfig, error) {
	var configs []*models.GridConfig
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var cfg models.GridConfig
				if err := json.Unmarshal(val, &cfg); err != nil {
					return nil // skipped at load time too
				}
				configs = append(configs, &cfg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Pair < configs[j].Pair })
	return configs, nil
}

// ActivePairs returns a snapshot of the pairs with an active grid.
func (r *badgerRegistry) ActivePairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pairs := make([]string, 0, len(r.active))
	for pair := range r.active {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}

// Close gracefully closes the database.
func (r *badgerRegistry) Close() error {
	return r.db.Close()
}
