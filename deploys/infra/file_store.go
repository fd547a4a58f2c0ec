package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"ci-deploys/deploys/domain"
)

// FileStore mantém o pool inteiro em um único documento JSON {target: branch}.
//
// O documento é lido por completo no primeiro acesso e reescrito por completo
// (arquivo temporário + rename) a cada mutação. A ordem das chaves no documento
// é a ordem do pool.
type FileStore struct {
	path   string
	source domain.PoolSource

	mu     sync.Mutex
	loaded bool
	exists bool
	doc    domain.Snapshot
}

// NewFileStore não toca no disco; source define o pool quando o documento
// ainda não existe.
func NewFileStore(path string, source domain.PoolSource) *FileStore {
	return &FileStore{path: path, source: source}
}

// load deve ser chamado com s.mu travado.
func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		s.exists = false
		s.doc = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %q: %w", s.path, err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return fmt.Errorf("parse %q: %w: %w", s.path, domain.ErrPersistenceCorrupt, err)
	}
	s.loaded = true
	s.exists = true
	s.doc = doc
	return nil
}

// commit grava doc no disco e só então o adota em memória.
func (s *FileStore) commit(doc domain.Snapshot) error {
	if err := writeDocument(s.path, doc); err != nil {
		return err
	}
	s.doc = doc
	s.exists = true
	s.loaded = true
	return nil
}

func (s *FileStore) Get(_ context.Context, t domain.Target) (domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return domain.Free, err
	}
	b, _ := s.doc.Lookup(t)
	return b, nil
}

func (s *FileStore) Set(_ context.Context, t domain.Target, b domain.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	next := append(domain.Snapshot(nil), s.doc...)
	found := false
	for i := range next {
		if next[i].Target == t {
			next[i].Branch = b
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("set %q: %w", t, domain.ErrUnknownTarget)
	}
	return s.commit(next)
}

func (s *FileStore) List(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	return append(domain.Snapshot{}, s.doc...), nil
}

// InitializeIfAbsent cria o documento com todos os targets do source configurado
// livres. Documento existente não é alterado.
func (s *FileStore) InitializeIfAbsent(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	if s.exists {
		return nil
	}
	// o documento só aparece no disco já com o pool completo; falha do source
	// não deixa um documento vazio que seria adotado no próximo start.
	return s.resetLocked(s.source)
}

func (s *FileStore) ResetAll(_ context.Context, src domain.PoolSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked(src)
}

func (s *FileStore) resetLocked(src domain.PoolSource) error {
	var targets []domain.Target
	if src != nil {
		ts, err := src.Targets()
		if err != nil {
			return fmt.Errorf("reset %q: pool source: %w", s.path, err)
		}
		targets = ts
	} else {
		if err := s.load(); err != nil {
			return err
		}
		targets = s.doc.Targets()
	}

	next := make(domain.Snapshot, 0, len(targets))
	for _, t := range domain.NormalizeTargets(targetStrings(targets)) {
		next = append(next, domain.Assignment{Target: t, Branch: domain.Free})
	}
	return s.commit(next)
}

func targetStrings(ts []domain.Target) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

// decodeDocument lê o objeto token a token para preservar a ordem das chaves.
func decodeDocument(data []byte) (domain.Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	doc := domain.Snapshot{}
	seen := make(map[domain.Target]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		t := domain.Target(key)
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("duplicate target %q", key)
		}
		seen[t] = struct{}{}

		var label string
		if err := dec.Decode(&label); err != nil {
			return nil, fmt.Errorf("target %q: %w", key, err)
		}
		doc = append(doc, domain.Assignment{Target: t, Branch: domain.Branch(label)})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON object")
	}
	return doc, nil
}

// writeDocument faz a troca atômica: escreve num temporário no mesmo diretório,
// fsync, e renomeia por cima do destino.
func writeDocument(path string, doc domain.Snapshot) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode pool: %w", err)
	}
	data = append(data, '\n')

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
