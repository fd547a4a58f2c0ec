package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Target é um destino de deploy (ex: um app no Heroku). É único dentro do pool
// e a ordem no pool define o desempate na alocação.
type Target string

// Branch é um identificador opaco (ref do VCS). Só é comparado por igualdade exata.
type Branch string

// Free é o rótulo de um target livre.
const Free Branch = ""

type Assignment struct {
	Target Target
	Branch Branch
}

func (a Assignment) IsFree() bool { return a.Branch == Free }

// Snapshot é o estado completo do pool na ordem do pool.
type Snapshot []Assignment

// Lookup retorna o rótulo de t e se t faz parte do snapshot.
func (s Snapshot) Lookup(t Target) (Branch, bool) {
	for _, a := range s {
		if a.Target == t {
			return a.Branch, true
		}
	}
	return Free, false
}

func (s Snapshot) Targets() []Target {
	out := make([]Target, len(s))
	for i, a := range s {
		out[i] = a.Target
	}
	return out
}

// MarshalJSON codifica como objeto {target: branch} preservando a ordem do pool
// (encoding/json ordenaria as chaves de um map).
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(string(a.Target))
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(string(a.Branch))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Reservation é o resultado de uma reserva.
// OK=false significa que não há slot disponível (não é erro).
type Reservation struct {
	Target Target
	OK     bool
	// Reused indica que o branch já era dono do target (nenhuma escrita feita).
	Reused bool
}

// Release é o resultado de uma liberação.
// Released=false significa que o branch não tinha slot (no-op).
type Release struct {
	Target   Target
	Released bool
}

// ParseTargets interpreta a lista separada por vírgula da configuração.
// Entradas vazias e duplicadas são descartadas, mantendo a primeira ocorrência.
func ParseTargets(csv string) []Target {
	return NormalizeTargets(strings.Split(csv, ","))
}

func NormalizeTargets(names []string) []Target {
	out := make([]Target, 0, len(names))
	seen := make(map[Target]struct{}, len(names))
	for _, n := range names {
		t := Target(strings.TrimSpace(n))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
