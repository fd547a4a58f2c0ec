package domain

import (
	"context"
	"errors"
)

var (
	// ErrPersistenceCorrupt indica estado persistido ilegível. Fatal no startup.
	ErrPersistenceCorrupt = errors.New("persisted pool state is corrupt")
	// ErrBackendUnavailable indica falha de I/O com o backend (ex: Redis fora).
	// O chamador pode tentar de novo.
	ErrBackendUnavailable = errors.New("pool backend unavailable")
	ErrUnknownTarget      = errors.New("unknown target")
	ErrEmptyBranch        = errors.New("branch must not be empty")
)

// PoolSource fornece a composição do pool (configuração ou manifesto de secrets).
type PoolSource interface {
	Targets() ([]Target, error)
}

// Store é a persistência do pool.
//
// Implementações devem ser seguras para uso concorrente, mas a atomicidade de
// "ler pool, escolher target, gravar" é responsabilidade do alocador.
type Store interface {
	// Get retorna o rótulo atual do target; Free se nunca foi gravado.
	Get(ctx context.Context, t Target) (Branch, error)
	// Set grava o rótulo; deve ser durável antes de retornar.
	Set(ctx context.Context, t Target, b Branch) error
	// List retorna o pool completo na ordem do pool.
	List(ctx context.Context) (Snapshot, error)
	// InitializeIfAbsent cria o estado com todos os targets livres se ainda não
	// existir. Nunca sobrescreve atribuições existentes.
	InitializeIfAbsent(ctx context.Context) error
	// ResetAll libera todos os targets. src pode redefinir a composição do pool
	// (backends que não suportam isso o ignoram); nil mantém a composição.
	ResetAll(ctx context.Context, src PoolSource) error
}
