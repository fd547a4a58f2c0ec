package deploys

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ci-deploys/deploys/domain"
)

// MsgNoAvailableApps é a mensagem devolvida quando o pool está esgotado.
const MsgNoAvailableApps = "No available apps"

const maxWebhookBody = 1 << 20

// Allocator é o que as rotas precisam da camada application.
type Allocator interface {
	ReserveNext(ctx context.Context, branch domain.Branch) (domain.Reservation, error)
	ReleaseForBranch(ctx context.Context, branch domain.Branch) (domain.Release, error)
	ResetAll(ctx context.Context) (domain.Snapshot, error)
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

type Options struct {
	Allocator     Allocator
	ResetPassword string
	// ResetGuard envolve apenas a rota de reset (ex: ThrottleMiddleware).
	ResetGuard func(next http.Handler) http.Handler
	Logger     *slog.Logger
}

type reserveResponse struct {
	Success bool          `json:"success"`
	App     domain.Target `json:"app,omitempty"`
	Message string        `json:"message,omitempty"`
}

type webhookPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

type server struct {
	alloc    Allocator
	password string
	log      *slog.Logger
}

func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ResetGuard == nil {
		opts.ResetGuard = func(next http.Handler) http.Handler { return next }
	}

	s := &server{alloc: opts.Allocator, password: opts.ResetPassword, log: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /reserve_next_app/{branch...}", s.reserve)
	mux.HandleFunc("GET /config", s.config)
	mux.Handle("GET /reset_config/{password}", opts.ResetGuard(http.HandlerFunc(s.reset)))
	mux.HandleFunc("POST /pr_webhook", s.webhook)
	return mux
}

func (s *server) reserve(w http.ResponseWriter, r *http.Request) {
	branch := domain.Branch(r.PathValue("branch"))

	res, err := s.alloc.ReserveNext(r.Context(), branch)
	if err != nil {
		status := s.errorStatus(err)
		s.log.Error("reserve failed", "branch", branch, "err", err)
		writeJSON(w, status, reserveResponse{Success: false, Message: http.StatusText(status)})
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusOK, reserveResponse{Success: false, Message: MsgNoAvailableApps})
		return
	}
	writeJSON(w, http.StatusOK, reserveResponse{Success: true, App: res.Target})
}

func (s *server) config(w http.ResponseWriter, r *http.Request) {
	snap, err := s.alloc.Snapshot(r.Context())
	if err != nil {
		status := s.errorStatus(err)
		s.log.Error("config snapshot failed", "err", err)
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) reset(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r.PathValue("password")) {
		s.log.Warn("reset rejected: wrong password", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"nope": "wrong"})
		return
	}

	snap, err := s.alloc.ResetAll(r.Context())
	if err != nil {
		status := s.errorStatus(err)
		s.log.Error("reset failed", "err", err)
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// senha vazia na configuração desabilita o reset.
func (s *server) authorized(given string) bool {
	if s.password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.password)) == 1
}

func (s *server) webhook(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&p); err != nil {
		s.log.Warn("webhook: invalid payload", "err", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if p.Action != "closed" {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.log.Info("detected PR closed", "number", p.Number, "ref", p.PullRequest.Head.Ref)
	if _, err := s.alloc.ReleaseForBranch(r.Context(), domain.Branch(p.PullRequest.Head.Ref)); err != nil {
		status := s.errorStatus(err)
		s.log.Error("webhook release failed", "number", p.Number, "err", err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyBranch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
