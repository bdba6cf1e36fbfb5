package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "forkcast-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "forkcast-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "forkcast-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.DecisionTopic != defaultDecisionTopic {
		t.Errorf("unexpected decision topic %s", cfg.PubSub.DecisionTopic)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis cache disabled by default, got %s", cfg.Redis.Addr)
	}
	if cfg.Firestore.TxAttempts != 5 || cfg.Firestore.TxTimeout != 15*time.Second {
		t.Errorf("unexpected transaction limits: %+v", cfg.Firestore)
	}

	d := cfg.Decisions
	if d.DecayPerSelection != 0.05 || d.RecencyWindowDays != 30 || d.MinWeight != 0.1 || d.MaxWeight != 1.0 {
		t.Errorf("unexpected weighting defaults: %+v", d)
	}
	if d.TabulationMethod != "borda" {
		t.Errorf("expected borda by default, got %s", d.TabulationMethod)
	}
	if d.DefaultDeadline != 24*time.Hour || d.MaxDeadline != 14*24*time.Hour {
		t.Errorf("unexpected deadline defaults %s %s", d.DefaultDeadline, d.MaxDeadline)
	}
	if d.HistoryScanLimit != 500 || d.DefaultPageSize != 20 || d.MaxPageSize != 100 {
		t.Errorf("unexpected paging defaults: %+v", d)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.OpenTimeout != 30*time.Second {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" || cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Release.Version != "dev" {
		t.Errorf("expected dev release, got %s", cfg.Release.Version)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_IDLE_TIMEOUT":           "2m",
		"API_FIREBASE_PROJECT_ID":           "forkcast-prod",
		"API_FIRESTORE_PROJECT_ID":          "forkcast-data",
		"API_PUBSUB_DECISION_TOPIC":         "decisions",
		"API_REDIS_ADDR":                    "10.0.0.5:6379",
		"API_REDIS_PASSWORD":                "secret://redis/password",
		"API_REDIS_DB":                      "2",
		"API_REDIS_TTL":                     "90s",
		"API_DECISIONS_DECAY_PER_SELECTION": "0.1",
		"API_DECISIONS_RECENCY_WINDOW_DAYS": "14",
		"API_DECISIONS_MIN_WEIGHT":          "0.2",
		"API_DECISIONS_TABULATION":          "IRV",
		"API_DECISIONS_DEFAULT_DEADLINE":    "12h",
		"API_BREAKER_FAILURE_THRESHOLD":     "3",
		"API_SECURITY_ENVIRONMENT":          "prod",
		"API_SECURITY_OIDC_AUDIENCES":       "prod=https://decisions.example.com,stg=https://stg.example.com",
		"API_SECURITY_OIDC_ISSUERS":         "https://accounts.google.com",
		"API_RELEASE_VERSION":               "1.4.2",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://redis/password" {
			return "hunter2", nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.PubSub.ProjectID != "forkcast-data" {
		t.Errorf("expected pubsub project to follow firestore, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Errorf("expected resolved redis password, got %s", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 2 || cfg.Redis.TTL != 90*time.Second {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Decisions.DecayPerSelection != 0.1 || cfg.Decisions.RecencyWindowDays != 14 || cfg.Decisions.MinWeight != 0.2 {
		t.Errorf("unexpected weighting overrides %+v", cfg.Decisions)
	}
	if cfg.Decisions.TabulationMethod != "irv" {
		t.Errorf("expected irv, got %s", cfg.Decisions.TabulationMethod)
	}
	if cfg.Decisions.DefaultDeadline != 12*time.Hour {
		t.Errorf("unexpected default deadline %s", cfg.Decisions.DefaultDeadline)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("unexpected breaker threshold %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Security.OIDC.Audience != "https://decisions.example.com" {
		t.Errorf("expected audience resolved for environment, got %s", cfg.Security.OIDC.Audience)
	}
	if !slices.Equal(cfg.Security.OIDC.Issuers, []string{"https://accounts.google.com"}) {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Release.Version != "1.4.2" {
		t.Errorf("unexpected release version %s", cfg.Release.Version)
	}
}

func TestLoadRejectsInvalidDecisionSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"min above max":      {"API_DECISIONS_MIN_WEIGHT": "0.9", "API_DECISIONS_MAX_WEIGHT": "0.5"},
		"zero window":        {"API_DECISIONS_RECENCY_WINDOW_DAYS": "0"},
		"unknown tabulation": {"API_DECISIONS_TABULATION": "plurality"},
		"max below default":  {"API_DECISIONS_MAX_DEADLINE": "1h"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			env := map[string]string{"API_FIREBASE_PROJECT_ID": "forkcast-dev"}
			for k, v := range overrides {
				env[k] = v
			}
			_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"forkcast-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "forkcast-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !slices.Contains(validation.Fields(), "Firebase.ProjectID") {
		t.Fatalf("expected Firebase.ProjectID in %v", validation.Fields())
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "forkcast-dev",
		"API_REDIS_PASSWORD":      "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://redis/password=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "forkcast-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Redis.Password"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Redis.Password")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "forkcast-dev",
	}

	defer func() {
		rec := recover()
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Redis.Password" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Redis.Password"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "forkcast-dev",
		"API_REDIS_PASSWORD":      "sm://redis/password",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://redis/password" {
			return "legacy-secret", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Redis.Password != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Redis.Password)
	}
}

func TestSourceParsesListsAndPairs(t *testing.T) {
	src := source{explicit: map[string]string{
		"LIST":  " a, ,b ,",
		"PAIRS": "Prod=https://a, stg=,=x,dev=https://d",
		"BAD":   "ten",
	}}

	if got := src.list("LIST"); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("unexpected list %v", got)
	}
	if got := src.list("MISSING"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
	pairs := src.pairs("PAIRS")
	if len(pairs) != 2 || pairs["prod"] != "https://a" || pairs["dev"] != "https://d" {
		t.Fatalf("unexpected pairs %v", pairs)
	}
	if src.boolean("BAD", true) != true {
		t.Fatalf("expected fallback for unparseable bool")
	}
	if got := src.integer("BAD", 7); got != 7 {
		t.Fatalf("expected fallback for unparseable int, got %d", got)
	}
}

func TestEnvMapWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# local\n\nAPI_FIRESTORE_TX_ATTEMPTS=9\nAPI_SERVER_PORT='6060'\nbroken line\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(envPath),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_SERVER_PORT": "5050"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "5050" {
		t.Fatalf("expected explicit port to win, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.TxAttempts != 9 {
		t.Fatalf("expected tx attempts from dotenv, got %d", cfg.Firestore.TxAttempts)
	}
}
