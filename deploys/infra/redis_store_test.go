package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"ci-deploys/deploys/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore_MissingKeyReadsAsFree(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, []domain.Target{"app-a", "app-b"})

	b, err := s.Get(context.Background(), "app-a")
	if err != nil || b != domain.Free {
		t.Fatalf("expected free, got (%q, %v)", b, err)
	}

	snap, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snap) != 2 || !snap[0].IsFree() || !snap[1].IsFree() {
		t.Fatalf("expected two free targets, got %+v", snap)
	}
}

func TestRedisStore_InitializeDoesNotClobber(t *testing.T) {
	mr, rdb := newTestRedis(t)
	if err := mr.Set("app-b", "feature-x"); err != nil {
		t.Fatal(err)
	}
	s := NewRedisStore(rdb, []domain.Target{"app-a", "app-b"})

	if err := s.InitializeIfAbsent(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	if got, _ := mr.Get("app-b"); got != "feature-x" {
		t.Fatalf("expected app-b kept, got %q", got)
	}
	if !mr.Exists("app-a") {
		t.Fatalf("expected app-a to be created")
	}
}

func TestRedisStore_SetListInPoolOrder(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, []domain.Target{"zeta", "alpha"}, WithKeyPrefix("ci:"))
	ctx := context.Background()

	if err := s.Set(ctx, "alpha", "feature-y"); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := domain.Snapshot{{Target: "zeta"}, {Target: "alpha", Branch: "feature-y"}}
	if len(snap) != 2 || snap[0] != want[0] || snap[1] != want[1] {
		t.Fatalf("expected %+v, got %+v", want, snap)
	}
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, []domain.Target{"app-a"}, WithKeyPrefix("ci-deploys"))

	if err := s.Set(context.Background(), "app-a", "b"); err != nil {
		t.Fatal(err)
	}
	if got, err := mr.Get("ci-deploys:app-a"); err != nil || got != "b" {
		t.Fatalf("expected prefixed key, got (%q, %v)", got, err)
	}
}

func TestRedisStore_ResetAllFreesEveryTarget(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, []domain.Target{"app-a", "app-b"})
	ctx := context.Background()
	_ = s.Set(ctx, "app-a", "x")
	_ = s.Set(ctx, "app-b", "y")

	if err := s.ResetAll(ctx, StaticPool{"other"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for _, k := range []string{"app-a", "app-b"} {
		if got, _ := mr.Get(k); got != "" {
			t.Fatalf("expected %s free, got %q", k, got)
		}
	}
	if mr.Exists("other") {
		t.Fatalf("expected membership to stay fixed")
	}
}

func TestRedisStore_PersistsAcrossNewStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	targets := []domain.Target{"app-a", "app-b"}
	ctx := context.Background()

	s1 := NewRedisStore(rdb, targets)
	_ = s1.InitializeIfAbsent(ctx)
	_ = s1.Set(ctx, "app-b", "feature-x")

	s2 := NewRedisStore(rdb, targets)
	if err := s2.InitializeIfAbsent(ctx); err != nil {
		t.Fatal(err)
	}
	if b, _ := s2.Get(ctx, "app-b"); b != "feature-x" {
		t.Fatalf("expected feature-x after restart, got %q", b)
	}
}

func TestRedisStore_UnavailableBackend(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, []domain.Target{"app-a"}, WithOpTimeout(200*time.Millisecond))
	mr.Close()

	ctx := context.Background()
	if _, err := s.Get(ctx, "app-a"); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("get: expected ErrBackendUnavailable, got %v", err)
	}
	if err := s.Set(ctx, "app-a", "b"); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("set: expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := s.List(ctx); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("list: expected ErrBackendUnavailable, got %v", err)
	}
	if err := s.ResetAll(ctx, nil); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("reset: expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRedisStore_EmptyPool(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, nil)
	ctx := context.Background()

	if err := s.InitializeIfAbsent(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	snap, err := s.List(ctx)
	if err != nil || len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got (%+v, %v)", snap, err)
	}
}

func TestRedisStore_SetUnknownTargetFails(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, []domain.Target{"app-a"})

	if err := s.Set(context.Background(), "nope", "b"); !errors.Is(err, domain.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
	if mr.Exists("nope") {
		t.Fatalf("expected no key written for unknown target")
	}
	if b, err := s.Get(context.Background(), "nope"); err != nil || b != domain.Free {
		t.Fatalf("expected unknown target to read free, got (%q, %v)", b, err)
	}
}

func TestRedisStore_WrongTypeKeyIsCorrupt(t *testing.T) {
	mr, rdb := newTestRedis(t)
	if _, err := mr.Lpush("app-b", "x"); err != nil {
		t.Fatal(err)
	}
	s := NewRedisStore(rdb, []domain.Target{"app-a", "app-b"})
	ctx := context.Background()

	if err := s.InitializeIfAbsent(ctx); !errors.Is(err, domain.ErrPersistenceCorrupt) {
		t.Fatalf("init: expected ErrPersistenceCorrupt, got %v", err)
	}
	if mr.Exists("app-a") {
		t.Fatalf("expected init to stop before writing any key")
	}
	_, err := s.Get(ctx, "app-b")
	if !errors.Is(err, domain.ErrPersistenceCorrupt) {
		t.Fatalf("get: expected ErrPersistenceCorrupt, got %v", err)
	}
	if errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("get: wrong type must not be reported as unavailable")
	}
}
