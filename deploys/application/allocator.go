package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ci-deploys/deploys/domain"
)

// Allocator concentra a regra de alocação de targets para branches.
//
// Todas as mutações passam pelo mesmo lock, então "varrer pool, escolher
// target, gravar" é atômico em relação a outras mutações deste processo.
type Allocator struct {
	store  domain.Store
	source domain.PoolSource
	log    *slog.Logger

	mu sync.RWMutex
}

type Option func(*Allocator)

func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithPoolSource define de onde o reset re-deriva a composição do pool.
func WithPoolSource(src domain.PoolSource) Option {
	return func(a *Allocator) { a.source = src }
}

func NewAllocator(store domain.Store, opts ...Option) *Allocator {
	a := &Allocator{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ReserveNext devolve o target já atribuído a branch ou, se não houver, o
// primeiro target livre na ordem do pool. Pool esgotado retorna OK=false.
func (a *Allocator) ReserveNext(ctx context.Context, branch domain.Branch) (domain.Reservation, error) {
	if branch == domain.Free {
		return domain.Reservation{}, domain.ErrEmptyBranch
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := a.store.List(ctx)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("reserve %q: %w", branch, err)
	}

	for _, as := range snap {
		if as.Branch == branch {
			a.log.Info("slot reused", "branch", branch, "target", as.Target)
			return domain.Reservation{Target: as.Target, OK: true, Reused: true}, nil
		}
	}

	for _, as := range snap {
		if !as.IsFree() {
			continue
		}
		if err := a.store.Set(ctx, as.Target, branch); err != nil {
			return domain.Reservation{}, fmt.Errorf("reserve %q on %q: %w", branch, as.Target, err)
		}
		a.log.Info("slot reserved", "branch", branch, "target", as.Target)
		return domain.Reservation{Target: as.Target, OK: true}, nil
	}

	a.log.Warn("no available slots", "branch", branch, "pool_size", len(snap))
	return domain.Reservation{}, nil
}

// ReleaseForBranch libera o primeiro target (ordem do pool) atribuído a branch.
// Branch sem slot é no-op.
func (a *Allocator) ReleaseForBranch(ctx context.Context, branch domain.Branch) (domain.Release, error) {
	if branch == domain.Free {
		a.log.Info("release ignored: empty branch")
		return domain.Release{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := a.store.List(ctx)
	if err != nil {
		return domain.Release{}, fmt.Errorf("release %q: %w", branch, err)
	}

	for _, as := range snap {
		if as.Branch != branch {
			continue
		}
		if err := a.store.Set(ctx, as.Target, domain.Free); err != nil {
			return domain.Release{}, fmt.Errorf("release %q on %q: %w", branch, as.Target, err)
		}
		a.log.Info("slot released", "branch", branch, "target", as.Target)
		return domain.Release{Target: as.Target, Released: true}, nil
	}

	a.log.Info("release no-op: branch holds no slot", "branch", branch)
	return domain.Release{}, nil
}

// ResetAll libera todo o pool e retorna o snapshot resultante.
func (a *Allocator) ResetAll(ctx context.Context) (domain.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.ResetAll(ctx, a.source); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	snap, err := a.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	a.log.Info("pool reset", "pool_size", len(snap))
	return snap, nil
}

func (a *Allocator) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.List(ctx)
}
