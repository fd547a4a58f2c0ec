package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ci-deploys/deploys/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore guarda cada target em uma chave independente.
// Chave ausente é lida como livre.
type RedisStore struct {
	rdb *redis.Client

	targets []domain.Target
	members map[domain.Target]struct{}
	prefix  string
	// timeout limita cada operação; o chamador recebe ErrBackendUnavailable
	// em vez de ficar pendurado.
	timeout time.Duration
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix separa as chaves do pool (ex: "ci-deploys" => "ci-deploys:app-a").
// Sem prefixo as chaves são os próprios nomes dos targets.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithOpTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.timeout = d }
}

func NewRedisStore(rdb *redis.Client, targets []domain.Target, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		targets: append([]domain.Target(nil), targets...),
		timeout: 2 * time.Second,
	}
	s.members = make(map[domain.Target]struct{}, len(s.targets))
	for _, t := range s.targets {
		s.members[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) isMember(t domain.Target) bool {
	_, ok := s.members[t]
	return ok
}

func (s *RedisStore) key(t domain.Target) string {
	if s.prefix == "" {
		return string(t)
	}
	return s.prefix + ":" + string(t)
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrBackendUnavailable, err)
}

// isWrongType reconhece o erro WRONGTYPE do Redis (chave com tipo diferente de string).
func isWrongType(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "WRONGTYPE")
}

func (s *RedisStore) Get(ctx context.Context, t domain.Target) (domain.Branch, error) {
	if !s.isMember(t) {
		return domain.Free, nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	v, err := s.rdb.Get(ctx, s.key(t)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Free, nil
	}
	if isWrongType(err) {
		return domain.Free, fmt.Errorf("redis key %q: %w: %w", s.key(t), domain.ErrPersistenceCorrupt, err)
	}
	if err != nil {
		return domain.Free, unavailable("get "+string(t), err)
	}
	return domain.Branch(v), nil
}

func (s *RedisStore) Set(ctx context.Context, t domain.Target, b domain.Branch) error {
	if !s.isMember(t) {
		return fmt.Errorf("set %q: %w", t, domain.ErrUnknownTarget)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.rdb.Set(ctx, s.key(t), string(b), 0).Err(); err != nil {
		return unavailable("set "+string(t), err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) (domain.Snapshot, error) {
	out := make(domain.Snapshot, 0, len(s.targets))
	if len(s.targets) == 0 {
		return out, nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	keys := make([]string, len(s.targets))
	for i, t := range s.targets {
		keys[i] = s.key(t)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("mget", err)
	}

	// MGET devolve nil tanto para chave ausente quanto para tipo errado;
	// tipo errado é barrado no InitializeIfAbsent.
	for i, t := range s.targets {
		label := domain.Free
		if v, ok := vals[i].(string); ok {
			label = domain.Branch(v)
		}
		out = append(out, domain.Assignment{Target: t, Branch: label})
	}
	return out, nil
}

// InitializeIfAbsent usa SETNX, então reinícios não apagam atribuições.
// Chave existente com tipo diferente de string é ErrPersistenceCorrupt.
func (s *RedisStore) InitializeIfAbsent(ctx context.Context) error {
	if len(s.targets) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.checkTypes(ctx); err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	for _, t := range s.targets {
		pipe.SetNX(ctx, s.key(t), string(domain.Free), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("init", err)
	}
	return nil
}

func (s *RedisStore) checkTypes(ctx context.Context) error {
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StatusCmd, len(s.targets))
	for i, t := range s.targets {
		cmds[i] = pipe.Type(ctx, s.key(t))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("type", err)
	}

	for i, cmd := range cmds {
		switch typ := cmd.Val(); typ {
		case "string", "none":
		default:
			return fmt.Errorf("redis key %q holds a %s: %w", s.key(s.targets[i]), typ, domain.ErrPersistenceCorrupt)
		}
	}
	return nil
}

// ResetAll grava todos os targets como livres em um MULTI/EXEC.
// A composição do pool é fixa neste backend; src é ignorado.
func (s *RedisStore) ResetAll(ctx context.Context, _ domain.PoolSource) error {
	if len(s.targets) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range s.targets {
			pipe.Set(ctx, s.key(t), string(domain.Free), 0)
		}
		return nil
	})
	if err != nil {
		return unavailable("reset", err)
	}
	return nil
}
