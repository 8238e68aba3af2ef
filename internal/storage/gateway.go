package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultDeleteBackoff is the wait before each retry of a failed delete.
var DefaultDeleteBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}

const deleteConcurrency = 8

// Object addresses one blob. A non-empty UploadID marks an unfinished
// multipart upload that is aborted before the key is deleted.
type Object struct {
	Region   string
	Key      string
	UploadID string
}

// Gateway routes storage calls to the bucket of a region.
type Gateway struct {
	mu      sync.RWMutex
	regions map[string]Storage

	backoff []time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

type GatewayOption func(*Gateway)

func WithDeleteBackoff(backoff []time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.backoff = backoff
	}
}

// WithSleep replaces the wait between delete retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) GatewayOption {
	return func(g *Gateway) {
		g.sleep = sleep
	}
}

func NewGateway(opts ...GatewayOption) *Gateway {
	g := &Gateway{
		regions: make(map[string]Storage),
		backoff: DefaultDeleteBackoff,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Register binds a region to its storage. A region can be registered once.
func (g *Gateway) Register(region string, s Storage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.regions[region]; ok {
		return fmt.Errorf("%w: %s", ErrRegionRegistered, region)
	}
	g.regions[region] = s
	return nil
}

func (g *Gateway) Region(region string) (Storage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.regions[region]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	return s, nil
}

func (g *Gateway) Has(region string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.regions[region]
	return ok
}

// Regions returns the registered region names sorted.
func (g *Gateway) Regions() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.regions))
	for name := range g.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck checks every region and returns the first failure.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	for _, name := range g.Regions() {
		s, err := g.Region(name)
		if err != nil {
			return err
		}
		if err := s.HealthCheck(ctx); err != nil {
			return fmt.Errorf("region %s: %w", name, err)
		}
	}
	return nil
}

// DeleteWithRetry deletes obj, retrying on failure after each backoff step.
// A missing blob counts as deleted.
func (g *Gateway) DeleteWithRetry(ctx context.Context, obj Object) error {
	s, err := g.Region(obj.Region)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx).With("region", obj.Region, "key", obj.Key)

	for attempt := 0; ; attempt++ {
		err = deleteObject(ctx, s, obj)
		if err == nil {
			return nil
		}
		if attempt >= len(g.backoff) {
			break
		}
		log.Warn("storage delete failed, retrying", "attempt", attempt+1, "error", err)
		if serr := g.sleep(ctx, g.backoff[attempt]); serr != nil {
			return serr
		}
	}

	return fmt.Errorf("delete %s after %d attempts: %w", obj.Key, len(g.backoff)+1, err)
}

func deleteObject(ctx context.Context, s Storage, obj Object) error {
	if obj.UploadID != "" {
		if err := s.AbortMultipartUpload(ctx, obj.Key, obj.UploadID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if err := s.Delete(ctx, obj.Key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// DeleteAll deletes objs in parallel on a best-effort basis and returns the
// number that could not be deleted. Failures are logged, never returned.
func (g *Gateway) DeleteAll(ctx context.Context, objs []Object) int {
	if len(objs) == 0 {
		return 0
	}

	log := logger.FromContext(ctx)

	var (
		mu     sync.Mutex
		failed int
	)

	var eg errgroup.Group
	eg.SetLimit(deleteConcurrency)
	for _, obj := range objs {
		eg.Go(func() error {
			if err := g.DeleteWithRetry(ctx, obj); err != nil {
				log.Error("failed to delete object", "region", obj.Region, "key", obj.Key, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	return failed
}
