package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/duel-engine/internal/engine"
	"github.com/DoyleJ11/duel-engine/internal/match"
)

var ErrMissing = errors.New("required setting missing")

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	JWTSecret      string
	AllowedOrigins []string

	Match         match.Options
	SendQueueSize int

	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ResultsChannel string
	RateLimit      int
	RateWindow     time.Duration
}

// Load reads .env (if present) and the environment. Every invalid value is
// reported, not just the first.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from any key lookup.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	opts := match.DefaultOptions()
	s := engine.DefaultSettings()
	s.Start = r.duration("PHASE_START_DURATION", s.Start)
	s.Main = r.duration("PHASE_MAIN_DURATION", s.Main)
	s.Attack = r.duration("PHASE_ATTACK_DURATION", s.Attack)
	s.End = r.duration("PHASE_END_DURATION", s.End)
	s.MainWindow = r.duration("MAIN_WINDOW_DURATION", 0)
	s.AttackWindow = r.duration("ATTACK_WINDOW_DURATION", 0)
	s.QuickBonus = r.duration("QUICK_BONUS_DURATION", s.QuickBonus)
	s.Rules.StartingHealth = r.integer("STARTING_HEALTH", s.Rules.StartingHealth)
	s.Rules.MaxEnergy = r.integer("MAX_ENERGY", s.Rules.MaxEnergy)
	s.Rules.ManaPerTurn = r.integer("MANA_PER_TURN", s.Rules.ManaPerTurn)
	opts.Settings = s

	opts.ReadyGrace = r.duration("READY_GRACE", opts.ReadyGrace)
	opts.ReconnectGrace = r.duration("RECONNECT_GRACE", opts.ReconnectGrace)
	opts.TeardownGrace = r.duration("TEARDOWN_GRACE", opts.TeardownGrace)
	opts.ResultRetryInterval = r.duration("RESULT_RETRY_INTERVAL", opts.ResultRetryInterval)
	opts.TickInterval = r.duration("TIMER_TICK_INTERVAL", opts.TickInterval)
	opts.IntentQueueSize = r.integer("INTENT_QUEUE_SIZE", opts.IntentQueueSize)

	cfg := &Config{
		HTTPAddr:       r.str("HTTP_ADDR", ":8080"),
		LogLevel:       r.str("LOG_LEVEL", "info"),
		LogFormat:      r.str("LOG_FORMAT", "json"),
		JWTSecret:      r.str("JWT_SECRET", ""),
		AllowedOrigins: r.list("ALLOWED_ORIGINS"),
		Match:          opts,
		SendQueueSize:  r.integer("SEND_QUEUE_SIZE", 64),
		DatabaseURL:    r.str("DATABASE_URL", ""),
		RedisAddr:      r.str("REDIS_ADDR", ""),
		RedisPassword:  r.str("REDIS_PASSWORD", ""),
		RedisDB:        r.integer("REDIS_DB", 0),
		ResultsChannel: r.str("RESULTS_CHANNEL", "match-results"),
		RateLimit:      r.integer("RATE_LIMIT", 30),
		RateWindow:     r.duration("RATE_WINDOW", time.Minute),
	}

	if cfg.JWTSecret == "" {
		r.fail(fmt.Errorf("%w: JWT_SECRET", ErrMissing))
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"PHASE_START_DURATION", s.Start},
		{"PHASE_MAIN_DURATION", s.Main},
		{"PHASE_ATTACK_DURATION", s.Attack},
		{"PHASE_END_DURATION", s.End},
		{"TIMER_TICK_INTERVAL", opts.TickInterval},
		{"RESULT_RETRY_INTERVAL", opts.ResultRetryInterval},
	} {
		if d.v <= 0 {
			r.fail(fmt.Errorf("%s must be positive", d.key))
		}
	}
	if cfg.SendQueueSize <= 0 {
		r.fail(errors.New("SEND_QUEUE_SIZE must be positive"))
	}

	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) fail(err error) { r.err = multierr.Append(r.err, err) }

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
