package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/usefultools/backend/internal/metrics"
)

// DefaultScopePrefix is the parent of every per-user subtree.
const DefaultScopePrefix = "users"

const (
	outcomeCached   = "cached"
	outcomeUnscoped = "unscoped"
	outcomeRoot     = "root"
	outcomeScoped   = "scoped"
	outcomeDefault  = "default"
)

type resolverKey struct {
	identity string
	key      string
}

// Resolver maps a logical key to a concrete path for an identity. Shared or
// legacy data at the root wins over the per-user subtree; when neither has
// data, new writes go to the per-user subtree.
//
// Results are cached per (identity, key) for the resolver's lifetime. A
// different identity never sees another identity's entry, so sign-in and
// sign-out need no cache reset.
type Resolver struct {
	store       DocumentStore
	scopePrefix string
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu    sync.RWMutex
	cache map[resolverKey]string
	group singleflight.Group
}

func NewResolver(store DocumentStore, scopePrefix string, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	if scopePrefix == "" {
		scopePrefix = DefaultScopePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:       store,
		scopePrefix: scopePrefix,
		logger:      logger.Named("resolver"),
		metrics:     m,
		cache:       make(map[resolverKey]string),
	}
}

// ScopedPath is where key lives for identity when it is user-scoped.
func (r *Resolver) ScopedPath(identity, key string) string {
	return JoinPath(r.scopePrefix, identity, key)
}

// Resolve returns the concrete path for key. An empty identity resolves to
// the root path without touching the store.
func (r *Resolver) Resolve(ctx context.Context, identity, key string) string {
	ck := resolverKey{identity: identity, key: key}

	r.mu.RLock()
	path, ok := r.cache[ck]
	r.mu.RUnlock()
	if ok {
		r.metrics.ObserveResolution(outcomeCached)
		return path
	}

	v, _, _ := r.group.Do(identity+"\x00"+key, func() (interface{}, error) {
		r.mu.RLock()
		path, ok := r.cache[ck]
		r.mu.RUnlock()
		if ok {
			return path, nil
		}

		path, outcome := r.lookup(ctx, identity, key)
		r.metrics.ObserveResolution(outcome)

		// A cancelled lookup may have skipped existing data; don't remember it.
		if ctx.Err() != nil {
			return path, nil
		}

		r.mu.Lock()
		r.cache[ck] = path
		r.mu.Unlock()
		return path, nil
	})
	return v.(string)
}

func (r *Resolver) lookup(ctx context.Context, identity, key string) (string, string) {
	rootPath := JoinPath(key)
	if identity == "" {
		r.logger.Debug("no identity, using root path", zap.String("key", key))
		return rootPath, outcomeUnscoped
	}

	if r.hasData(ctx, rootPath) {
		r.logger.Debug("resolved to root path", zap.String("key", key), zap.String("path", rootPath))
		return rootPath, outcomeRoot
	}

	scopedPath := r.ScopedPath(identity, key)
	if r.hasData(ctx, scopedPath) {
		r.logger.Debug("resolved to scoped path", zap.String("key", key), zap.String("path", scopedPath))
		return scopedPath, outcomeScoped
	}

	r.logger.Debug("no data found, defaulting to scoped path", zap.String("key", key), zap.String("path", scopedPath))
	return scopedPath, outcomeDefault
}

// hasData treats a failed read as "no data" so one unreadable location does
// not block resolution.
func (r *Resolver) hasData(ctx context.Context, path string) bool {
	snap, err := r.store.Read(ctx, path)
	if err != nil {
		r.logger.Warn("existence check failed", zap.String("path", path), zap.Error(err))
		return false
	}
	return snap.Exists()
}
