package passcode

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRequestChallengeCreatesIdentityOnFirstRequest(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	result, err := engine.RequestChallenge(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	if !result.Dispatched {
		t.Fatal("expected challenge to be dispatched")
	}
	if result.Address != "alice@example.com" {
		t.Fatalf("expected echoed address, got %q", result.Address)
	}

	identity, err := engine.records.FindIdentity(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindIdentity failed: %v", err)
	}
	if identity == nil {
		t.Fatal("expected identity to exist after first request")
	}
	if notifier.code("alice@example.com") == "" {
		t.Fatal("expected a code to be delivered")
	}
}

func TestRequestChallengeReusesExistingIdentity(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("first RequestChallenge failed: %v", err)
	}
	first, err := engine.records.FindIdentity(ctx, "alice@example.com")
	if err != nil || first == nil {
		t.Fatalf("FindIdentity failed: %v", err)
	}

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second RequestChallenge failed: %v", err)
	}
	second, err := engine.records.FindIdentity(ctx, "alice@example.com")
	if err != nil || second == nil {
		t.Fatalf("FindIdentity failed: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected one identity per address, got %q and %q", first.ID, second.ID)
	}
}

func TestRequestChallengeRejectsEmptyAddress(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())

	if _, err := engine.RequestChallenge(context.Background(), "   "); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestRequestChallengeDeliveryFailurePropagates(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	notifier.fail = true

	if _, err := engine.RequestChallenge(context.Background(), "alice@example.com"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestSubmitCodeAuthenticatesWithLatestCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	firstCode := notifier.code("alice@example.com")

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	secondCode := notifier.code("alice@example.com")

	// The earlier code is superseded even before anyone submits anything.
	if firstCode != secondCode {
		result, err := engine.SubmitCode(ctx, "alice@example.com", firstCode)
		if err != nil {
			t.Fatalf("SubmitCode failed: %v", err)
		}
		if result.Outcome != OutcomeInvalidCode {
			t.Fatalf("expected superseded code to be rejected, got %s", result.Outcome)
		}
	}

	result, err := engine.SubmitCode(ctx, "alice@example.com", secondCode)
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if result.Outcome != OutcomeAuthenticated {
		t.Fatalf("expected OutcomeAuthenticated, got %s", result.Outcome)
	}
	if result.Token == "" || result.SessionID == "" || result.IdentityID == "" {
		t.Fatalf("expected populated session fields, got %+v", result)
	}
}

func TestSubmitCodeIsSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	code := notifier.code("alice@example.com")

	first, err := engine.SubmitCode(ctx, "alice@example.com", code)
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if first.Outcome != OutcomeAuthenticated {
		t.Fatalf("expected OutcomeAuthenticated, got %s", first.Outcome)
	}

	replay, err := engine.SubmitCode(ctx, "alice@example.com", code)
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if replay.Outcome != OutcomeInvalidCode {
		t.Fatalf("expected replay to be rejected, got %s", replay.Outcome)
	}
}

func TestSubmitCodeWrongCodeLeavesChallengeMatchable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	code := notifier.code("alice@example.com")

	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	miss, err := engine.SubmitCode(ctx, "alice@example.com", wrong)
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if miss.Outcome != OutcomeInvalidCode {
		t.Fatalf("expected OutcomeInvalidCode, got %s", miss.Outcome)
	}

	// The rejected attempt must not consume the challenge.
	hit, err := engine.SubmitCode(ctx, "alice@example.com", code)
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if hit.Outcome != OutcomeAuthenticated {
		t.Fatalf("expected correct code to still authenticate, got %s", hit.Outcome)
	}
}

func TestSubmitCodeExpiredChallengeStaysExpired(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	identity, err := engine.records.CreateIdentity(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}

	// Backdate past the expiry window.
	stale := time.Now().Add(-engine.config.Challenge.ExpiryWindow - time.Minute)
	if _, err := engine.records.CreateChallenge(ctx, identity.ID, "424242", stale); err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		result, err := engine.SubmitCode(ctx, "alice@example.com", "424242")
		if err != nil {
			t.Fatalf("SubmitCode failed: %v", err)
		}
		if result.Outcome != OutcomeExpired {
			t.Fatalf("attempt %d: expected OutcomeExpired, got %s", i, result.Outcome)
		}
	}
}

func TestSubmitCodeUnknownIdentityDoesNotCreateOne(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	result, err := engine.SubmitCode(ctx, "nobody@example.com", "123456")
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if result.Outcome != OutcomeUnknownIdentity {
		t.Fatalf("expected OutcomeUnknownIdentity, got %s", result.Outcome)
	}

	identity, err := engine.records.FindIdentity(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("FindIdentity failed: %v", err)
	}
	if identity != nil {
		t.Fatal("submit must not register unknown addresses")
	}
}

func TestSubmitCodeNoChallengePendingIsInvalidCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.records.CreateIdentity(ctx, "alice@example.com"); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}

	result, err := engine.SubmitCode(ctx, "alice@example.com", "123456")
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if result.Outcome != OutcomeInvalidCode {
		t.Fatalf("expected OutcomeInvalidCode, got %s", result.Outcome)
	}
}

func TestSubmitCodeRejectsMalformedCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	cases := []string{"", "12345", "1234567", "12a456", "  1234"}
	for _, code := range cases {
		if _, err := engine.SubmitCode(ctx, "alice@example.com", code); !errors.Is(err, ErrInvalidCodeFormat) {
			t.Fatalf("code %q: expected ErrInvalidCodeFormat, got %v", code, err)
		}
	}
}

func TestSubmitCodeInactiveIdentityIsUnknown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, _ := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	store := engine.records.(*RedisRecordStore)
	identity, err := store.CreateIdentity(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}

	identity.Active = false
	encoded, err := encodeIdentityRecord(identity)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := rdb.Set(ctx, store.identityKey(identity.ID), encoded, 0).Err(); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	result, err := engine.SubmitCode(ctx, "alice@example.com", "123456")
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if result.Outcome != OutcomeUnknownIdentity {
		t.Fatalf("expected OutcomeUnknownIdentity for inactive identity, got %s", result.Outcome)
	}
}

func TestSubmitCodeRotatesPriorSessions(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testEngineConfig()
	cfg.Session.RotateOnLogin = true
	engine, notifier := newTestEngine(t, rdb, cfg)
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	first, err := engine.SubmitCode(ctx, "alice@example.com", notifier.code("alice@example.com"))
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	second, err := engine.SubmitCode(ctx, "alice@example.com", notifier.code("alice@example.com"))
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if _, err := engine.Validate(ctx, first.Token); err == nil {
		t.Fatal("expected first session to be rotated out")
	}
	if _, err := engine.Validate(ctx, second.Token); err != nil {
		t.Fatalf("expected second session to remain valid: %v", err)
	}
}

func TestSubmitCodeStoreFailureIsError(t *testing.T) {
	mr, rdb := newTestRedis(t)

	engine, notifier := newTestEngine(t, rdb, testEngineConfig())
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	code := notifier.code("alice@example.com")

	mr.Close()

	if _, err := engine.SubmitCode(ctx, "alice@example.com", code); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRequestChallengeCountsMetrics(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testEngineConfig()
	cfg.Metrics.Enabled = true
	engine, notifier := newTestEngine(t, rdb, cfg)
	ctx := context.Background()

	if _, err := engine.RequestChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	if _, err := engine.SubmitCode(ctx, "alice@example.com", notifier.code("alice@example.com")); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricChallengeRequested] != 1 {
		t.Fatalf("expected 1 challenge requested, got %d", snap.Counters[MetricChallengeRequested])
	}
	if snap.Counters[MetricIdentityCreated] != 1 {
		t.Fatalf("expected 1 identity created, got %d", snap.Counters[MetricIdentityCreated])
	}
	if snap.Counters[MetricSubmitAuthenticated] != 1 {
		t.Fatalf("expected 1 authenticated submit, got %d", snap.Counters[MetricSubmitAuthenticated])
	}
}
