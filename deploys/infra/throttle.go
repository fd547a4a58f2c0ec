package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle é um token bucket por chave (x/time/rate) com limpeza de chaves
// inativas. Usado para limitar tentativas de senha no reset.
type Throttle struct {
	rps   rate.Limit
	burst int

	idleTTL      time.Duration
	cleanupEvery time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	seen    map[string]time.Time
}

type ThrottleOption func(*Throttle)

func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.cleanupEvery = d }
}

func NewThrottle(rps float64, burst int, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		buckets:      make(map[string]*rate.Limiter),
		seen:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allow consome um token da chave. Retorna false e o tempo sugerido de espera
// quando o bucket está vazio.
func (t *Throttle) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	r := t.bucket(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (t *Throttle) bucket(key string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen[key] = now
	lim := t.buckets[key]
	if lim == nil {
		lim = rate.NewLimiter(t.rps, t.burst)
		t.buckets[key] = lim
	}
	return lim
}

func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// Cleanup remove as chaves sem uso há mais de idleTTL.
func (t *Throttle) Cleanup() { t.sweep(time.Now()) }

func (t *Throttle) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, last := range t.seen {
		if now.Sub(last) > t.idleTTL {
			delete(t.seen, k)
			delete(t.buckets, k)
			removed++
		}
	}
	return removed
}

// StartJanitor roda sweep a cada cleanupEvery até ctx encerrar.
func (t *Throttle) StartJanitor(ctx context.Context) {
	if t.cleanupEvery <= 0 {
		return
	}

	go func() {
		tk := time.NewTicker(t.cleanupEvery)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tk.C:
				if n := t.sweep(now); n > 0 {
					slog.Debug("throttle: idle keys removed", "count", n)
				}
			}
		}
	}()
}
