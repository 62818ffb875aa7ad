package passcode

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/avelldahl/passcode/jwt"
	"github.com/avelldahl/passcode/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// captureNotifier records the last delivered code per address so tests can
// submit it back.
type captureNotifier struct {
	mu        sync.Mutex
	codes     map[string]string
	delivered int
	fail      bool
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{
		codes: make(map[string]string),
	}
}

func (n *captureNotifier) Deliver(_ context.Context, address, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("transport down")
	}
	n.codes[address] = code
	n.delivered++
	return nil
}

func (n *captureNotifier) code(address string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[address]
}

func (n *captureNotifier) deliveredCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testEngineConfig() Config {
	cfg := defaultConfig()
	cfg.Session.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func newTestEngine(t *testing.T, rdb *redis.Client, cfg Config) (*Engine, *captureNotifier) {
	t.Helper()

	jm, err := jwt.NewManager(jwt.Config{
		TTL:        cfg.Session.TTL,
		SigningKey: cfg.Session.SigningKey,
		Issuer:     cfg.Session.Issuer,
		Leeway:     cfg.Session.Leeway,
	})
	if err != nil {
		t.Fatalf("jwt.NewManager failed: %v", err)
	}

	notifier := newCaptureNotifier()

	return &Engine{
		config:       cfg,
		records:      NewRedisRecordStore(rdb, cfg.Challenge.RedisPrefix),
		notifier:     notifier,
		sessionStore: session.NewStore(rdb, cfg.Session.RedisPrefix),
		jwtManager:   jm,
		metrics:      NewMetrics(cfg.Metrics),
	}, notifier
}

func TestBuilderBuildsEngine(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if engine.records == nil || engine.sessionStore == nil || engine.jwtManager == nil {
		t.Fatal("expected all engine dependencies to be wired")
	}
}

func TestBuilderRejectsMissingRedis(t *testing.T) {
	if _, err := New().WithConfig(testEngineConfig()).Build(); err == nil {
		t.Fatal("expected error without redis client")
	}
}

func TestBuilderRejectsSecondBuild(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	builder := New().WithConfig(testEngineConfig()).WithRedis(rdb)
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := builder.Build(); err == nil {
		t.Fatal("expected error on second Build")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testEngineConfig()
	cfg.Session.SigningKey = nil

	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error for missing signing key")
	}
}

func TestValidateReturnsAuthResult(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	result, err := engine.SubmitCode(ctx, "alice@example.com", notifier.code("alice@example.com"))
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	auth, err := engine.Validate(ctx, result.Token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if auth.IdentityID != result.IdentityID {
		t.Fatalf("expected identity %q, got %q", result.IdentityID, auth.IdentityID)
	}
	if auth.Address != "alice@example.com" {
		t.Fatalf("expected address alice@example.com, got %q", auth.Address)
	}
	if auth.SessionID != result.SessionID {
		t.Fatalf("expected session %q, got %q", result.SessionID, auth.SessionID)
	}
}

func TestValidateRejectsGarbageToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())

	if _, err := engine.Validate(context.Background(), "not-a-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	result, err := engine.SubmitCode(ctx, "alice@example.com", notifier.code("alice@example.com"))
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if err := engine.Logout(ctx, result.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := engine.Validate(ctx, result.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestLogoutByTokenInvalidatesSession(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	result, err := engine.SubmitCode(ctx, "alice@example.com", notifier.code("alice@example.com"))
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if err := engine.LogoutByToken(ctx, result.Token); err != nil {
		t.Fatalf("LogoutByToken failed: %v", err)
	}
	if _, err := engine.Validate(ctx, result.Token); err == nil {
		t.Fatal("expected validation to fail after logout")
	}

	if err := engine.LogoutByToken(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestLogoutAllInvalidatesEverySession(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testEngineConfig()
	cfg.Session.RotateOnLogin = false
	engine, notifier := newTestEngine(t, rdb, cfg)
	ctx := context.Background()

	tokens := make([]string, 0, 3)
	var identityID string
	for i := 0; i < 3; i++ {
		if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
			t.Fatalf("RequestChallenge failed: %v", err)
		}
		result, err := engine.SubmitCode(ctx, "alice@example.com", notifier.code("alice@example.com"))
		if err != nil {
			t.Fatalf("SubmitCode failed: %v", err)
		}
		tokens = append(tokens, result.Token)
		identityID = result.IdentityID
	}

	if err := engine.LogoutAll(ctx, identityID); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	for i, token := range tokens {
		if _, err := engine.Validate(ctx, token); err == nil {
			t.Fatalf("expected session %d to be invalidated", i)
		}
	}
}

func TestEngineNotReadyGuards(t *testing.T) {
	var engine *Engine

	if _, err := engine.RequestChallenge(context.Background(), "a@b.c"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.SubmitCode(context.Background(), "a@b.c", "123456"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.Validate(context.Background(), "token"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
