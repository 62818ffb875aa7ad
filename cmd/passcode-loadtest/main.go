package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	passcode "github.com/avelldahl/passcode"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// captureNotifier records the last code per address so the round-trip phase
// can submit it back.
type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *captureNotifier) Deliver(_ context.Context, address, code string) error {
	n.mu.Lock()
	n.codes[address] = code
	n.mu.Unlock()
	return nil
}

func (n *captureNotifier) code(address string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[address]
}

func main() {
	var (
		identities  = flag.Int("identities", 10000, "number of identities to exercise")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (round-trip + validate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := passcode.DefaultConfig()
	cfg.Session.SigningKey = []byte("loadtest-signing-key-0123456789abcdef")
	// Rotation would invalidate tokens held by other workers mid-phase.
	cfg.Session.RotateOnLogin = false

	notifier := &captureNotifier{codes: make(map[string]string, *identities)}

	engine, err := passcode.New().
		WithConfig(cfg).
		WithRedis(client).
		WithNotifier(notifier).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	addresses := make([]string, *identities)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("load-%d@example.com", i)
	}

	fmt.Printf("seeding %d authenticated sessions...\n", *identities)
	startSeed := time.Now()
	tokens := make([]string, *identities)
	for i, address := range addresses {
		if _, err := engine.RequestChallenge(ctx, address); err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}
		result, err := engine.SubmitCode(ctx, address, notifier.code(address))
		if err != nil || result.Outcome != passcode.OutcomeAuthenticated {
			fmt.Fprintf(os.Stderr, "seed submit failed: outcome=%v err=%v\n", result, err)
			os.Exit(1)
		}
		tokens[i] = result.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	roundTripStats := runRoundTripPhase(ctx, engine, notifier, addresses, *ops, *concurrency)
	validateStats := runValidatePhase(ctx, engine, tokens, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("round-trip", roundTripStats)
	printStats("validate", validateStats)
}

// runRoundTripPhase measures a full challenge cycle: request a code for an
// address, then submit the captured code. Addresses are partitioned across
// workers so one worker's new challenge cannot supersede another's.
func runRoundTripPhase(ctx context.Context, engine *passcode.Engine, notifier *captureNotifier, addresses []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				stride := (len(addresses) + concurrency - 1) / concurrency
				idx := worker*stride + (i % stride)
				if idx >= len(addresses) {
					idx = worker % len(addresses)
				}
				address := addresses[idx]

				t0 := time.Now()
				_, err := engine.RequestChallenge(ctx, address)
				if err == nil {
					var result *passcode.SubmitResult
					result, err = engine.SubmitCode(ctx, address, notifier.code(address))
					if err == nil && result.Outcome != passcode.OutcomeAuthenticated {
						err = fmt.Errorf("outcome %s", result.Outcome)
					}
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runValidatePhase(ctx context.Context, engine *passcode.Engine, tokens []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(tokens))
				t0 := time.Now()
				_, err := engine.Validate(ctx, tokens[idx])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
