package main

import (
	"testing"
	"time"

	"github.com/forkcast/api/internal/platform/config"
)

func TestRequiredSecretNames(t *testing.T) {
	if got := requiredSecretNames(nil); len(got) != 0 {
		t.Fatalf("expected no required secrets, got %v", got)
	}
	if got := requiredSecretNames(map[string]string{"API_REDIS_PASSWORD": "plain"}); len(got) != 0 {
		t.Fatalf("expected literal password not to be required, got %v", got)
	}
	got := requiredSecretNames(map[string]string{"API_REDIS_PASSWORD": "sm://redis-password"})
	if len(got) != 1 || got[0] != "Redis.Password" {
		t.Fatalf("expected Redis.Password, got %v", got)
	}
}

func TestSecretProjectMapFromEnv(t *testing.T) {
	got := secretProjectMapFromEnv(map[string]string{
		"API_SECRET_PROJECT_IDS": "Prod=forkcast-prod, stg=forkcast-stg, broken, =missing",
	})
	if len(got) != 2 || got["prod"] != "forkcast-prod" || got["stg"] != "forkcast-stg" {
		t.Fatalf("unexpected project map %v", got)
	}
}

func TestSecretVersionPinsFromEnv(t *testing.T) {
	got := secretVersionPinsFromEnv(map[string]string{
		"API_SECRET_VERSION_PINS": "sm://redis-password=3,prod:secret://oidc=7,plain=1",
	})
	want := map[string]string{
		"secret://redis-password": "3",
		"prod:secret://oidc":      "7",
		"secret://plain":          "1",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d pins, got %v", len(want), got)
	}
	for ref, version := range want {
		if got[ref] != version {
			t.Fatalf("expected %s pinned to %s, got %v", ref, version, got)
		}
	}
}

func TestBuildInfoFromConfigDefaults(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	info := buildInfoFromConfig(config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}
	if !info.StartedAt.Equal(started) {
		t.Fatalf("expected started at %v, got %v", started, info.StartedAt)
	}
}

func TestPubSubClientOptions(t *testing.T) {
	if opts := pubsubClientOptions(config.PubSubConfig{}); opts != nil {
		t.Fatalf("expected no options without emulator, got %d", len(opts))
	}
	if opts := pubsubClientOptions(config.PubSubConfig{EmulatorHost: "localhost:8085"}); len(opts) != 3 {
		t.Fatalf("expected emulator options, got %d", len(opts))
	}
}

func TestTraceProjectID(t *testing.T) {
	cfg := config.Config{}
	cfg.Firestore.ProjectID = "fs-project"
	if got := traceProjectID(cfg); got != "fs-project" {
		t.Fatalf("expected firestore project fallback, got %q", got)
	}
	cfg.Firebase.ProjectID = "fb-project"
	if got := traceProjectID(cfg); got != "fb-project" {
		t.Fatalf("expected firebase project, got %q", got)
	}
}
