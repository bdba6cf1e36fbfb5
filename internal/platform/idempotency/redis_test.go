package idempotency

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failSet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return goredis.NewStatusResult("", f.failSet)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil, ""); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisStoreLifecycle(t *testing.T) {
	client := newFakeRedis()
	store, err := NewRedisStore(client, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	res, err := store.Reserve(ctx, "user_1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v %v", res.State, err)
	}
	for key, ttl := range client.ttls {
		if !strings.HasPrefix(key, defaultRedisPrefix) {
			t.Fatalf("expected prefixed key, got %s", key)
		}
		if ttl != time.Hour {
			t.Fatalf("expected ttl 1h, got %v", ttl)
		}
	}

	res, err = store.Reserve(ctx, "user_1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %v %v", res.State, err)
	}
	if _, err := store.Reserve(ctx, "user_1|k", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	headers := http.Header{"Content-Type": {"application/json"}, "X-Request-Id": {"req-1"}}
	if err := store.SaveResponse(ctx, "user_1|k", "fp", Response{Status: http.StatusCreated, Headers: headers, Body: []byte(`{"ok":true}`)}, fixedTime, time.Hour); err != nil {
		t.Fatalf("save response: %v", err)
	}
	res, err = store.Reserve(ctx, "user_1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %v %v", res.State, err)
	}
	if res.Record.ResponseStatus != http.StatusCreated || string(res.Record.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected stored record %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["X-Request-Id"]; ok {
		t.Fatalf("expected request id header to be dropped")
	}

	if err := store.Release(ctx, "user_1|k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = store.Reserve(ctx, "user_1|k", "other", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected released key to be reusable, got %v %v", res.State, err)
	}
}

func TestRedisStoreSaveFailure(t *testing.T) {
	client := newFakeRedis()
	client.failSet = errors.New("readonly replica")
	store, _ := NewRedisStore(client, "test:")

	err := store.SaveResponse(context.Background(), "k", "fp", Response{Status: http.StatusOK}, fixedTime, 0)
	if err == nil || !strings.Contains(err.Error(), "readonly replica") {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
}
