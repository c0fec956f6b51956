// Package registry caches decision graphs loaded from the model object store. A Registry is
// passed explicitly to the components that need graphs; there is no process-wide cache.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model-service/internal/cart"
	"github.com/book-expert/voice-model-service/internal/core"
	"github.com/book-expert/voice-model-service/internal/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// maxParallelPreloads bounds concurrent downloads during Preload.
	maxParallelPreloads = 4
	// loadTimeout bounds a shared download, which outlives any single waiting caller.
	loadTimeout = 2 * time.Minute
)

// ErrEmptyKey is returned when a graph is requested without a key.
var ErrEmptyKey = errors.New("graph key cannot be empty")

// Registry loads each graph once and shares it between callers. Loaded graphs are
// immutable, so they are handed out without copying.
type Registry struct {
	store   core.ObjectStore
	log     *logger.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	graphs map[string]*cart.Graph
	loads  singleflight.Group
}

// New creates an empty registry backed by store.
func New(store core.ObjectStore, log *logger.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		store:   store,
		log:     log,
		metrics: m,
		mu:      sync.RWMutex{},
		graphs:  make(map[string]*cart.Graph),
		loads:   singleflight.Group{},
	}
}

// Graph returns the graph stored under key, loading it on first use. Concurrent requests
// for the same missing key share one download. Cancelling ctx abandons the wait but not the
// shared download.
func (r *Registry) Graph(ctx context.Context, key string) (*cart.Graph, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	r.mu.RLock()
	graph, ok := r.graphs[key]
	r.mu.RUnlock()

	if ok {
		return graph, nil
	}

	loaded := r.loads.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		return r.load(loadCtx, key)
	})

	var result singleflight.Result

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("stopped waiting for graph '%s': %w", key, ctx.Err())
	case result = <-loaded:
	}

	if result.Err != nil {
		return nil, result.Err
	}

	graph, ok = result.Val.(*cart.Graph)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T while loading graph '%s'", result.Val, key)
	}

	return graph, nil
}

func (r *Registry) load(ctx context.Context, key string) (*cart.Graph, error) {
	r.mu.RLock()
	cached, ok := r.graphs[key]
	r.mu.RUnlock()

	if ok {
		return cached, nil
	}

	data, err := r.store.Download(ctx, key)
	if err != nil {
		r.metrics.ObserveGraphLoad(err)

		return nil, fmt.Errorf("failed to download graph '%s': %w", key, err)
	}

	graph, err := cart.Read(data)
	r.metrics.ObserveGraphLoad(err)

	if err != nil {
		r.log.Error("Failed to parse decision graph %s: %v", key, err)

		return nil, fmt.Errorf("failed to parse graph '%s': %w", key, err)
	}

	r.mu.Lock()
	r.graphs[key] = graph
	r.metrics.CachedGraphs.Set(float64(len(r.graphs)))
	r.mu.Unlock()

	r.log.Info("Loaded decision graph %s: %d decision nodes, %d leaves, %d graph nodes",
		key, graph.NumDecisionNodes(), graph.NumLeaves(), graph.NumGraphNodes())

	return graph, nil
}

// Preload loads every key, a few at a time. It stops at the first failure.
func (r *Registry) Preload(ctx context.Context, keys []string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelPreloads)

	for _, key := range keys {
		group.Go(func() error {
			_, err := r.Graph(groupCtx, key)

			return err
		})
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("failed to preload graphs: %w", err)
	}

	return nil
}

// Evict drops a cached graph so the next request reloads it. It reports whether the key
// was cached.
func (r *Registry) Evict(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.graphs[key]
	delete(r.graphs, key)
	r.metrics.CachedGraphs.Set(float64(len(r.graphs)))

	return ok
}

// Keys returns the cached keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.graphs))
	for key := range r.graphs {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}
