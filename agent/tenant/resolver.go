package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	metricsx "github.com/tanpawarit/Grace-Conversational-Commerce/pkg/metrics"
)

// Loader reads the full tenant set from its source of truth.
type Loader interface {
	Load(ctx context.Context) ([]Tenant, error)
}

// StaticLoader serves a fixed tenant list.
type StaticLoader []Tenant

func (s StaticLoader) Load(context.Context) ([]Tenant, error) {
	return append([]Tenant(nil), s...), nil
}

// Snapshot is an immutable routing table. It is never mutated after publication.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time

	byChannel    map[string]Tenant
	byID         map[string]Tenant
	byAccountant map[string]Tenant
}

func buildSnapshot(version int64, tenants []Tenant, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Version:      version,
		LoadedAt:     now.UTC(),
		byChannel:    make(map[string]Tenant, len(tenants)),
		byID:         make(map[string]Tenant, len(tenants)),
		byAccountant: make(map[string]Tenant),
	}
	for _, t := range tenants {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := snap.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate tenant id %s", ErrInvalidTenant, t.ID)
		}
		snap.byID[t.ID] = t
		for _, ch := range t.Channels {
			key := NormalizeChannel(ch)
			if other, dup := snap.byChannel[key]; dup {
				return nil, fmt.Errorf("%w: channel %s mapped to %s and %s", ErrInvalidTenant, ch, other.ID, t.ID)
			}
			snap.byChannel[key] = t
		}
		if t.AccountantContact != "" {
			snap.byAccountant[NormalizeChannel(t.AccountantContact)] = t
		}
	}
	return snap, nil
}

func (s *Snapshot) Len() int {
	return len(s.byID)
}

// Resolver maps channel identities to tenants using copy-and-swap snapshots.
// Readers never block; Reload publishes a new snapshot atomically.
type Resolver struct {
	loader  Loader
	current atomic.Pointer[Snapshot]
	reload  sync.Mutex
	now     func() time.Time
}

func NewResolver(ctx context.Context, loader Loader) (*Resolver, error) {
	if loader == nil {
		return nil, errors.New("tenant loader is required")
	}
	r := &Resolver{loader: loader, now: time.Now}
	if _, err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve returns the tenant that owns channel.
func (r *Resolver) Resolve(channel string) (Tenant, error) {
	snap := r.current.Load()
	if snap == nil {
		return Tenant{}, fmt.Errorf("%w: no tenants loaded", ErrUnknownTenant)
	}
	t, ok := snap.byChannel[NormalizeChannel(channel)]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: channel=%q", ErrUnknownTenant, channel)
	}
	return t, nil
}

func (r *Resolver) ByID(id string) (Tenant, error) {
	snap := r.current.Load()
	if snap == nil {
		return Tenant{}, fmt.Errorf("%w: no tenants loaded", ErrUnknownTenant)
	}
	t, ok := snap.byID[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: id=%q", ErrUnknownTenant, id)
	}
	return t, nil
}

// AccountantFor reports the tenant whose accountant writes from sender.
func (r *Resolver) AccountantFor(sender string) (Tenant, bool) {
	snap := r.current.Load()
	if snap == nil {
		return Tenant{}, false
	}
	t, ok := snap.byAccountant[NormalizeChannel(sender)]
	return t, ok
}

func (r *Resolver) Snapshot() *Snapshot {
	return r.current.Load()
}

// Reload rebuilds the routing table from the loader and swaps it in.
// On failure the previous snapshot stays active.
func (r *Resolver) Reload(ctx context.Context) (int64, error) {
	r.reload.Lock()
	defer r.reload.Unlock()

	tenants, err := r.loader.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tenants: %w", err)
	}

	var version int64 = 1
	if prev := r.current.Load(); prev != nil {
		version = prev.Version + 1
	}

	snap, err := buildSnapshot(version, tenants, r.now())
	if err != nil {
		return 0, err
	}
	r.current.Store(snap)
	metricsx.TenantSnapshotVersion.Set(float64(snap.Version))

	log.Info().
		Int64("version", snap.Version).
		Int("tenants", snap.Len()).
		Msg("tenant routing table reloaded")
	return snap.Version, nil
}
