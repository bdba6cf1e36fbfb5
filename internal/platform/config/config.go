package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultSecurityIAPIssuer   = "https://cloud.google.com/iap"
	defaultDecisionTopic       = "decision-completed"
	defaultRedisTTL            = 5 * time.Minute
	defaultDecayPerSelection   = 0.05
	defaultRecencyWindowDays   = 30
	defaultMinWeight           = 0.1
	defaultMaxWeight           = 1.0
	defaultTabulationMethod    = "borda"
	defaultDecisionDeadline    = 24 * time.Hour
	defaultMaxDecisionDeadline = 14 * 24 * time.Hour
	defaultHistoryScanLimit    = 500
	defaultPageSize            = 20
	defaultMaxPageSize         = 100
	defaultBreakerThreshold    = 5
	defaultBreakerOpenTimeout  = 30 * time.Second
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultTxAttempts          = 5
	defaultTxTimeout           = 15 * time.Second
)

// Config is the runtime configuration of the decision API, grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	Decisions   DecisionConfig
	Breaker     BreakerConfig
	Idempotency IdempotencyConfig
	Security    SecurityConfig
	Release     ReleaseConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings. CheckRevoked makes every ID token check also
// consult Firebase for revoked sessions.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CheckRevoked    bool
}

// FirestoreConfig points at the decision store. TxAttempts and TxTimeout bound each read-modify-write
// transaction.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	TxAttempts   int
	TxTimeout    time.Duration
}

// PubSubConfig names the topic receiving decision.completed events. An empty topic disables
// publishing.
type PubSubConfig struct {
	ProjectID     string
	DecisionTopic string
	EmulatorHost  string
}

// RedisConfig configures the optional collection cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DecisionConfig tunes weighting, tabulation, deadlines and history paging.
type DecisionConfig struct {
	DecayPerSelection float64
	RecencyWindowDays float64
	MinWeight         float64
	MaxWeight         float64
	TabulationMethod  string
	DefaultDeadline   time.Duration
	MaxDeadline       time.Duration
	HistoryScanLimit  int
	DefaultPageSize   int
	MaxPageSize       int
}

// BreakerConfig controls the circuit breaker in front of the decision store.
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// IdempotencyConfig controls response replay for retried decision creation.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler routes. Principals, when
// set, lists the service account emails allowed to call them.
type OIDCConfig struct {
	JWKSURL    string
	Audience   string
	Audiences  map[string]string
	Issuers    []string
	Principals []string
}

// ReleaseConfig surfaces build metadata on health endpoints.
type ReleaseConfig struct {
	Version   string
	CommitSHA string
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile sets the dotenv file consulted last. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret-backed fields (for example "Redis.Password") that must resolve to
// a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment Load would read, so dependencies needed by Load
// itself (the secret fetcher) can be configured from the same sources.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := openSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.merged(), nil
}

// Load reads configuration from an explicit map, the process environment and a dotenv file, in
// that order of precedence, then resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := openSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    src.boolean("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
			TxAttempts:   src.integer("API_FIRESTORE_TX_ATTEMPTS", defaultTxAttempts),
			TxTimeout:    src.duration("API_FIRESTORE_TX_TIMEOUT", defaultTxTimeout),
		},
		PubSub: PubSubConfig{
			ProjectID:     src.str("API_PUBSUB_PROJECT_ID", ""),
			DecisionTopic: src.str("API_PUBSUB_DECISION_TOPIC", defaultDecisionTopic),
			EmulatorHost:  src.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:     src.str("API_REDIS_ADDR", ""),
			Password: src.str("API_REDIS_PASSWORD", ""),
			DB:       src.integer("API_REDIS_DB", 0),
			TTL:      src.duration("API_REDIS_TTL", defaultRedisTTL),
		},
		Decisions: DecisionConfig{
			DecayPerSelection: src.decimal("API_DECISIONS_DECAY_PER_SELECTION", defaultDecayPerSelection),
			RecencyWindowDays: src.decimal("API_DECISIONS_RECENCY_WINDOW_DAYS", defaultRecencyWindowDays),
			MinWeight:         src.decimal("API_DECISIONS_MIN_WEIGHT", defaultMinWeight),
			MaxWeight:         src.decimal("API_DECISIONS_MAX_WEIGHT", defaultMaxWeight),
			TabulationMethod:  strings.ToLower(src.str("API_DECISIONS_TABULATION", defaultTabulationMethod)),
			DefaultDeadline:   src.duration("API_DECISIONS_DEFAULT_DEADLINE", defaultDecisionDeadline),
			MaxDeadline:       src.duration("API_DECISIONS_MAX_DEADLINE", defaultMaxDecisionDeadline),
			HistoryScanLimit:  src.integer("API_DECISIONS_HISTORY_SCAN_LIMIT", defaultHistoryScanLimit),
			DefaultPageSize:   src.integer("API_DECISIONS_PAGE_SIZE", defaultPageSize),
			MaxPageSize:       src.integer("API_DECISIONS_MAX_PAGE_SIZE", defaultMaxPageSize),
		},
		Breaker: BreakerConfig{
			FailureThreshold: src.integer("API_BREAKER_FAILURE_THRESHOLD", defaultBreakerThreshold),
			OpenTimeout:      src.duration("API_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header: src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:    src.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:   src.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:  src.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:    src.list("API_SECURITY_OIDC_ISSUERS"),
				Principals: src.list("API_SECURITY_OIDC_PRINCIPALS"),
			},
		},
		Release: ReleaseConfig{
			Version:   src.str("API_RELEASE_VERSION", "dev"),
			CommitSHA: src.str("API_RELEASE_COMMIT_SHA", ""),
		},
	}
	applyDerivedDefaults(&cfg)

	resolver := options.secret
	if resolver == nil {
		resolver = unconfiguredResolver
	}
	resolved, err := resolveSecretFields(ctx, resolver, map[string]*string{
		"Redis.Password": &cfg.Redis.Password,
	})
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerivedDefaults fills fields that default to other fields: Firestore follows Firebase,
// Pub/Sub follows Firestore, and the OIDC audience is picked from the per-environment map.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}
}

// ValidationError lists every field that is missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

func (cfg Config) validate() error {
	var bad []string
	check := func(ok bool, fields ...string) {
		if !ok {
			bad = append(bad, fields...)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(cfg.Firestore.TxAttempts > 0, "Firestore.TxAttempts")

	d := cfg.Decisions
	check(d.DecayPerSelection >= 0, "Decisions.DecayPerSelection")
	check(d.RecencyWindowDays > 0, "Decisions.RecencyWindowDays")
	check(d.MinWeight > 0 && d.MinWeight <= d.MaxWeight && d.MaxWeight <= 1, "Decisions.MinWeight", "Decisions.MaxWeight")
	check(d.TabulationMethod == "borda" || d.TabulationMethod == "irv", "Decisions.TabulationMethod")
	check(d.DefaultDeadline > 0 && d.MaxDeadline >= d.DefaultDeadline, "Decisions.DefaultDeadline")
	check(d.HistoryScanLimit > 0, "Decisions.HistoryScanLimit")
	check(d.DefaultPageSize > 0 && d.MaxPageSize >= d.DefaultPageSize, "Decisions.DefaultPageSize")

	check(cfg.Breaker.FailureThreshold > 0, "Breaker.FailureThreshold")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Redis.Addr == "" || cfg.Redis.TTL > 0, "Redis.TTL")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
