// Package modelcache lazily constructs and memoizes the classifier and synthesizer
// handles. Concurrent first callers share one in-flight construction, a failed
// construction is forgotten so the next call retries, and a caller that gives up
// waiting does not abort a construction other callers may reuse.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Model names used in logs and observer callbacks.
const (
	ModelClassifier  = "classifier"
	ModelSynthesizer = "synthesizer"
)

// ErrNoLoader indicates that no loader was configured for a model.
var ErrNoLoader = errors.New("no loader configured")

// Loader constructs a model handle. It receives a context that is detached from
// the first caller's cancellation and bounded only by the cache's load timeout.
type Loader[T any] func(ctx context.Context) (T, error)

// LoadObserver is notified after every construction attempt.
type LoadObserver func(model string, elapsed time.Duration, err error)

type slot[T any] struct {
	name  string
	load  Loader[T]
	group singleflight.Group

	mu    sync.RWMutex
	value T
	ready bool
}

func (s *slot[T]) cached() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.value, s.ready
}

func (s *slot[T]) store(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = value
	s.ready = true
}

// Cache owns one classifier and one synthesizer handle.
type Cache struct {
	classifier  *slot[core.Classifier]
	synthesizer *slot[core.Synthesizer]
	loadTimeout time.Duration
	observer    LoadObserver
	log         *logger.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithLoadTimeout bounds each construction attempt. Zero means no bound.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		c.loadTimeout = timeout
	}
}

// WithLoadObserver registers a callback invoked after every construction attempt.
func WithLoadObserver(observer LoadObserver) Option {
	return func(c *Cache) {
		c.observer = observer
	}
}

// New creates a cache around the given loaders. Either loader may be nil when the
// process never needs that model.
func New(
	classifierLoader Loader[core.Classifier],
	synthesizerLoader Loader[core.Synthesizer],
	log *logger.Logger,
	opts ...Option,
) *Cache {
	cache := &Cache{
		classifier:  &slot[core.Classifier]{name: ModelClassifier, load: classifierLoader},
		synthesizer: &slot[core.Synthesizer]{name: ModelSynthesizer, load: synthesizerLoader},
		log:         log,
	}

	for _, opt := range opts {
		opt(cache)
	}

	return cache
}

// Classifier returns the classifier, constructing it on first use.
func (c *Cache) Classifier(ctx context.Context) (core.Classifier, error) {
	return get(ctx, c, c.classifier)
}

// Synthesizer returns the synthesizer, constructing it on first use.
func (c *Cache) Synthesizer(ctx context.Context) (core.Synthesizer, error) {
	return get(ctx, c, c.synthesizer)
}

// Preload constructs every configured model concurrently.
func (c *Cache) Preload(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	if c.classifier.load != nil {
		group.Go(func() error {
			_, err := c.Classifier(groupCtx)

			return err
		})
	}

	if c.synthesizer.load != nil {
		group.Go(func() error {
			_, err := c.Synthesizer(groupCtx)

			return err
		})
	}

	return group.Wait()
}

// Ready reports which handles have been constructed.
func (c *Cache) Ready() (classifier, synthesizer bool) {
	_, classifier = c.classifier.cached()
	_, synthesizer = c.synthesizer.cached()

	return classifier, synthesizer
}

func get[T any](ctx context.Context, cache *Cache, target *slot[T]) (T, error) {
	var zero T

	value, ready := target.cached()
	if ready {
		return value, nil
	}

	if target.load == nil {
		return zero, fmt.Errorf("%w: %s: %w", core.ErrModelUnavailable, target.name, ErrNoLoader)
	}

	results := target.group.DoChan(target.name, func() (any, error) {
		return cache.construct(ctx, target.name, func(buildCtx context.Context) (any, error) {
			// A previous flight may have finished between the fast path and DoChan.
			existing, done := target.cached()
			if done {
				return existing, nil
			}

			built, err := target.load(buildCtx)
			if err != nil {
				return nil, err
			}

			target.store(built)

			return built, nil
		})
	})

	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("waiting for %s model: %w", target.name, ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return zero, fmt.Errorf("%w: failed to load %s model: %w", core.ErrModelUnavailable, target.name, result.Err)
		}

		handle, ok := result.Val.(T)
		if !ok {
			return zero, fmt.Errorf("%w: %s loader returned %T", core.ErrModelUnavailable, target.name, result.Val)
		}

		return handle, nil
	}
}

// construct runs one load attempt detached from the caller's cancellation.
func (c *Cache) construct(ctx context.Context, name string, build func(context.Context) (any, error)) (any, error) {
	buildCtx := context.WithoutCancel(ctx)

	if c.loadTimeout > 0 {
		var cancel context.CancelFunc

		buildCtx, cancel = context.WithTimeout(buildCtx, c.loadTimeout)
		defer cancel()
	}

	c.log.Info("Loading %s model...", name)

	start := time.Now()
	value, err := build(buildCtx)
	elapsed := time.Since(start)

	if c.observer != nil {
		c.observer(name, elapsed, err)
	}

	if err != nil {
		c.log.Error("Failed to load %s model after %s: %v", name, elapsed, err)

		return nil, err
	}

	c.log.Info("%s model ready in %s", name, elapsed)

	return value, nil
}
