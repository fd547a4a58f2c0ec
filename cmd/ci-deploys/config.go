package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ci-deploys/deploys/domain"

	"github.com/spf13/pflag"
)

const (
	backendRedis = "redis"
	backendFile  = "file"
)

type config struct {
	listenAddr    string
	backend       string
	targets       []domain.Target
	resetPassword string
	configPath    string

	redisURL       string
	redisAddr      string
	redisPassword  string
	redisDB        int
	redisKeyPrefix string
	redisTimeout   time.Duration

	resetRPS   float64
	resetBurst int
	trustXFF   bool
}

// cliFlags sobrescrevem a configuração do ambiente apenas quando passadas.
type cliFlags struct {
	set        *pflag.FlagSet
	secrets    *string
	listen     *string
	backend    *string
	configPath *string
}

func newCLIFlags() *cliFlags {
	fs := pflag.NewFlagSet("ci-deploys", pflag.ExitOnError)
	return &cliFlags{
		set:        fs,
		secrets:    fs.String("secrets", getenvDefault("SECRETS_PATH", "secrets.yml"), "secrets manifest (credentials + deploy_urls)"),
		listen:     fs.String("listen", "", "listen address (overrides LISTEN_ADDR)"),
		backend:    fs.String("backend", "", "pool backend: redis|file (overrides STORE_BACKEND)"),
		configPath: fs.String("config", "", "pool document for the file backend (overrides CONFIG_PATH)"),
	}
}

func (f *cliFlags) apply(cfg *config) {
	if f.set.Changed("listen") {
		cfg.listenAddr = *f.listen
	}
	if f.set.Changed("backend") {
		cfg.backend = normalizeBackend(*f.backend)
	}
	if f.set.Changed("config") {
		cfg.configPath = *f.configPath
	}
}

func normalizeBackend(v string) string { return strings.ToLower(strings.TrimSpace(v)) }

// readConfig só lê o ambiente; validate roda depois das flags.
func readConfig() config {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.backend = normalizeBackend(getenvDefault("STORE_BACKEND", backendRedis))
	cfg.targets = domain.ParseTargets(os.Getenv("DEPLOY_URLS"))
	cfg.resetPassword = os.Getenv("RESET_PASSWORD")
	cfg.configPath = getenvDefault("CONFIG_PATH", "ci-deploys.json")

	// REDISTOGO_URL é o nome usado pelo add-on do Heroku.
	cfg.redisURL = getenvDefault("REDIS_URL", os.Getenv("REDISTOGO_URL"))
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisKeyPrefix = os.Getenv("REDIS_KEY_PREFIX")
	cfg.redisTimeout = getenvDurationDefault("REDIS_TIMEOUT", 2*time.Second)

	cfg.resetRPS = getenvFloatDefault("RESET_RPS", 0.2)
	cfg.resetBurst = getenvIntDefault("RESET_BURST", 5)
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	return cfg
}

func (cfg config) validate() error {
	switch cfg.backend {
	case backendRedis, backendFile:
	default:
		return fmt.Errorf("STORE_BACKEND %q unknown: want %s|%s", cfg.backend, backendRedis, backendFile)
	}
	if cfg.backend == backendFile && strings.TrimSpace(cfg.configPath) == "" {
		return errors.New("CONFIG_PATH is required when STORE_BACKEND=file")
	}
	if cfg.redisTimeout <= 0 {
		return errors.New("REDIS_TIMEOUT must be > 0")
	}
	if cfg.resetRPS <= 0 {
		return errors.New("RESET_RPS must be > 0")
	}
	if cfg.resetBurst <= 0 {
		return errors.New("RESET_BURST must be > 0")
	}
	return nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
