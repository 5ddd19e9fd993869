package registry

import (
	"sort"
	"sync"

	"grid-trading-bot-go/internal/models"
)

// memoryRegistry keeps everything in memory. It is the fallback when the
// durable store cannot be opened (the engine must still run, losing only
// restart recovery) and the implementation used by engine tests.
type memoryRegistry struct {
	mu      sync.RWMutex
	configs map[string]*models.GridConfig
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{configs: make(map[string]*models.GridConfig)}
}

func (r *memoryRegistry) Upsert(cfg *models.GridConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Pair] = cfg.Clone()
	return nil
}

func (r *memoryRegistry) Get(pair string) (*models.GridConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[pair]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg.Clone(), nil
}

func (r *memoryRegistry) GetActive(pair string) (*models.GridConfig, error) {
	cfg, err := r.Get(pair)
	if err != nil {
		return nil, err
	}
	if !cfg.Active {
		return nil, ErrNotFound
	}
	return cfg, nil
}

func (r *memoryRegistry) ListAll() ([]*models.GridConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configs := make([]*models.GridConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		configs = append(configs, cfg.Clone())
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Pair < configs[j].Pair })
	return configs, nil
}

func (r *memoryRegistry) ActivePairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pairs []string
	for pair, cfg := range r.configs {
		if cfg.Active {
			pairs = append(pairs, pair)
		}
	}
	sort.Strings(pairs)
	return pairs
}

func (r *memoryRegistry) Close() error { return nil }
