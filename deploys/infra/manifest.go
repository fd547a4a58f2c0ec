package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ci-deploys/deploys/domain"

	"gopkg.in/yaml.v3"
)

// ManifestTargetsKey é a chave do secrets.yml que lista os targets do pool.
const ManifestTargetsKey = "deploy_urls"

// Manifest é o conteúdo do secrets.yml: a lista de targets e credenciais
// arbitrárias (chave/valor) a exportar para o ambiente do processo.
type Manifest struct {
	Targets     []domain.Target
	Credentials map[string]string
}

// LoadManifest lê o manifesto em path. O erro envolve fs.ErrNotExist quando
// o arquivo não existe.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets manifest: read %q: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("secrets manifest: parse yaml: %w", err)
	}

	m := &Manifest{Credentials: make(map[string]string, len(raw))}
	for k, v := range raw {
		if k == ManifestTargetsKey {
			ts, err := parseManifestTargets(v)
			if err != nil {
				return nil, fmt.Errorf("secrets manifest: %s: %w", k, err)
			}
			m.Targets = ts
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			// só valores escalares viram variáveis de ambiente
			continue
		case nil:
			m.Credentials[k] = ""
		default:
			m.Credentials[k] = fmt.Sprint(v)
		}
	}
	return m, nil
}

// aceita tanto uma sequência YAML quanto a forma "a,b,c" do DEPLOY_URLS.
func parseManifestTargets(v any) ([]domain.Target, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return domain.ParseTargets(x), nil
	case []any:
		names := make([]string, 0, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: expected string, got %T", i, item)
			}
			names = append(names, s)
		}
		return domain.NormalizeTargets(names), nil
	default:
		return nil, fmt.Errorf("expected list or comma-separated string, got %T", v)
	}
}

// ApplyEnv exporta as credenciais para o ambiente do processo.
func (m *Manifest) ApplyEnv() error {
	var errs []error
	for k, v := range m.Credentials {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			errs = append(errs, fmt.Errorf("setenv %q: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
