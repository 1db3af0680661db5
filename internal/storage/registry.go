package storage

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kilupskalvis/artvault/internal/models"
)

// DuplicatePolicy decides what Register does with an alias that is already bound.
type DuplicatePolicy int

const (
	// Overwrite replaces the previous binding (last registered wins).
	Overwrite DuplicatePolicy = iota
	// Reject fails with models.ErrConflict.
	Reject
)

// ParseDuplicatePolicy parses "overwrite" or "reject". Empty means Overwrite.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return Overwrite, nil
	case "reject":
		return Reject, nil
	default:
		return 0, fmt.Errorf("%w: unknown duplicate policy %q", models.ErrConfiguration, s)
	}
}

func (p DuplicatePolicy) String() string {
	if p == Reject {
		return "reject"
	}
	return "overwrite"
}

// Registry maps provider aliases to providers. It is built once by the
// composition root. Inserts are serialized; lookups read an immutable
// snapshot and take no lock.
type Registry struct {
	mu        sync.Mutex
	providers atomic.Pointer[map[string]Provider]
	policy    DuplicatePolicy
	logger    *slog.Logger
}

// NewRegistry creates a registry and registers providers under their own aliases.
func NewRegistry(policy DuplicatePolicy, logger *slog.Logger, providers ...Provider) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{policy: policy, logger: logger}
	empty := make(map[string]Provider)
	r.providers.Store(&empty)

	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w: nil storage provider", models.ErrConfiguration)
		}
		if err := r.Register(p.Alias(), p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register binds alias to p according to the registry's duplicate policy.
func (r *Registry) Register(alias string, p Provider) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("%w: storage provider alias is empty", models.ErrConfiguration)
	}
	if p == nil {
		return fmt.Errorf("%w: nil storage provider for alias %q", models.ErrConfiguration, alias)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.providers.Load()
	if _, exists := current[alias]; exists {
		if r.policy == Reject {
			return fmt.Errorf("%w: storage provider alias %q already registered", models.ErrConflict, alias)
		}
		r.logger.Warn("storage provider replaced", "alias", alias, "provider", fmt.Sprintf("%T", p))
	}

	next := make(map[string]Provider, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[alias] = p
	r.providers.Store(&next)

	r.logger.Debug("registered storage provider", "alias", alias, "provider", fmt.Sprintf("%T", p))
	return nil
}

// Resolve returns the provider bound to alias. Surrounding whitespace is
// ignored, as in Register.
func (r *Registry) Resolve(alias string) (Provider, error) {
	alias = strings.TrimSpace(alias)
	p, ok := (*r.providers.Load())[alias]
	if !ok {
		return nil, fmt.Errorf("storage provider %q: %w", alias, models.ErrNotFound)
	}
	return p, nil
}

// ResolveFor returns the provider configured for repo.
func (r *Registry) ResolveFor(repo *models.Repository) (Provider, error) {
	if err := validateRepository(repo); err != nil {
		return nil, err
	}
	p, err := r.Resolve(repo.Provider)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", repo.Key(), err)
	}
	return p, nil
}

// Aliases returns the registered aliases, sorted.
func (r *Registry) Aliases() []string {
	current := *r.providers.Load()
	aliases := make([]string, 0, len(current))
	for a := range current {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return aliases
}

// Policy returns the duplicate policy.
func (r *Registry) Policy() DuplicatePolicy { return r.policy }
