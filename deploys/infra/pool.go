package infra

import (
	"errors"
	"io/fs"

	"ci-deploys/deploys/domain"
)

// StaticPool é a lista de targets da configuração (DEPLOY_URLS).
type StaticPool []domain.Target

func (p StaticPool) Targets() ([]domain.Target, error) {
	return append([]domain.Target(nil), p...), nil
}

// ManifestPool relê o manifesto a cada chamada. Sem manifesto (ou sem a chave
// de targets), usa Fallback.
type ManifestPool struct {
	Path     string
	Fallback []domain.Target
}

func (p ManifestPool) Targets() ([]domain.Target, error) {
	m, err := LoadManifest(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return StaticPool(p.Fallback).Targets()
	}
	if err != nil {
		return nil, err
	}
	if len(m.Targets) == 0 {
		return StaticPool(p.Fallback).Targets()
	}
	return m.Targets, nil
}
