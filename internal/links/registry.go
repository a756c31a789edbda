// Package links keeps the origin → destination chat registry: evidence
// groups registered under a key, and audit groups linked to one of them.
package links

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Sentinel errors returned by the registry.
var (
	ErrUnknownKey = errors.New("links: unknown evidence key")
	ErrNoEvidence = errors.New("links: evidence key has no chat")
)

// Config is the persisted registry: evidence chats by key and destination
// chats by origin chat.
type Config struct {
	Evidence map[string]string
	Links    map[string]string
}

func (c *Config) normalize() {
	if c.Evidence == nil {
		c.Evidence = make(map[string]string)
	}
	if c.Links == nil {
		c.Links = make(map[string]string)
	}
}

func (c Config) clone() Config {
	return Config{Evidence: maps.Clone(c.Evidence), Links: maps.Clone(c.Links)}
}

// Store persists a Config.
type Store interface {
	Load(ctx context.Context) (Config, error)
	Save(ctx context.Context, cfg Config) error
}

// Registry is the in-memory registry backed by a Store. Every mutation is
// saved before it returns.
type Registry struct {
	mu    sync.RWMutex
	store Store
	keys  []string
	cfg   Config
	log   *zap.Logger
}

// RegistryOpts configures a Registry.
type RegistryOpts struct {
	Store  Store
	Keys   []string // accepted evidence keys, in display order
	Logger *zap.Logger
}

// NewRegistry validates opts and creates an empty Registry. Call Load to
// read the stored state.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("links: store is required")
	}
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("links: at least one evidence key is required")
	}
	r := &Registry{
		store: opts.Store,
		keys:  slices.Clone(opts.Keys),
		log:   opts.Logger,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.cfg.normalize()
	return r, nil
}

// Load replaces the in-memory state with the stored one. On error the
// current state is kept.
func (r *Registry) Load(ctx context.Context) error {
	cfg, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("links: load: %w", err)
	}
	cfg.normalize()
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	r.log.Debug("registry loaded", zap.Int("evidence", len(cfg.Evidence)), zap.Int("links", len(cfg.Links)))
	return nil
}

// Resolve returns the destination chat linked to origin.
func (r *Registry) Resolve(origin string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dest, ok := r.cfg.Links[origin]
	return dest, ok && dest != ""
}

// Keys returns the accepted evidence keys.
func (r *Registry) Keys() []string {
	return slices.Clone(r.keys)
}

// HasKey reports whether key is an accepted evidence key.
func (r *Registry) HasKey(key string) bool {
	return slices.Contains(r.keys, key)
}

// SetEvidence registers chat as the evidence group of key.
func (r *Registry) SetEvidence(ctx context.Context, key, chat string) error {
	if !r.HasKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return r.mutate(ctx, func(c *Config) error {
		c.Evidence[key] = chat
		return nil
	})
}

// Link points origin at the evidence group of key and returns that chat.
func (r *Registry) Link(ctx context.Context, origin, key string) (string, error) {
	if !r.HasKey(key) {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	var dest string
	err := r.mutate(ctx, func(c *Config) error {
		dest = c.Evidence[key]
		if dest == "" {
			return fmt.Errorf("%w: %q", ErrNoEvidence, key)
		}
		c.Links[origin] = dest
		return nil
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// mutate applies fn to a copy of the state, saves it, and swaps it in only
// when the save succeeds.
func (r *Registry) mutate(ctx context.Context, fn func(*Config) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cfg.clone()
	next.normalize()
	if err := fn(&next); err != nil {
		return err
	}
	if err := r.store.Save(ctx, next); err != nil {
		return fmt.Errorf("links: save: %w", err)
	}
	r.cfg = next
	return nil
}

// KeyStatus is one evidence key and its registered chat, if any.
type KeyStatus struct {
	Key  string `json:"key"`
	Chat string `json:"chat,omitempty"`
}

// Link is one origin → destination pair.
type Link struct {
	Origin string `json:"origin"`
	Dest   string `json:"dest"`
}

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	Evidence []KeyStatus `json:"evidence"`
	Links    []Link      `json:"links"`
}

// Snapshot returns the keys in configured order and the links sorted by
// origin.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{Evidence: make([]KeyStatus, 0, len(r.keys)), Links: make([]Link, 0, len(r.cfg.Links))}
	for _, k := range r.keys {
		snap.Evidence = append(snap.Evidence, KeyStatus{Key: k, Chat: r.cfg.Evidence[k]})
	}
	for _, origin := range slices.Sorted(maps.Keys(r.cfg.Links)) {
		snap.Links = append(snap.Links, Link{Origin: origin, Dest: r.cfg.Links[origin]})
	}
	return snap
}
