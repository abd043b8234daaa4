package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"graphauth/go-backend/internal/crypto"
	"graphauth/go-backend/internal/domains/contracts"
	"graphauth/go-backend/internal/graph"
	"graphauth/go-backend/internal/graph/memgraph"
)

type recordingObserver struct {
	mu   sync.Mutex
	hits map[string]int
	miss map[string]int
}

func (o *recordingObserver) StrategyResult(strategy string, hit bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hits == nil {
		o.hits, o.miss = map[string]int{}, map[string]int{}
	}
	if hit {
		o.hits[strategy]++
	} else {
		o.miss[strategy]++
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.FrozenTimeout = 80 * time.Millisecond
	cfg.DirectTimeout = 50 * time.Millisecond
	cfg.AlternateTimeout = 50 * time.Millisecond
	cfg.ScanTimeout = 80 * time.Millisecond
	cfg.EnrichTimeout = 50 * time.Millisecond
	cfg.AvailabilityTimeout = 50 * time.Millisecond
	return cfg
}

func newTestRegistry(t *testing.T, cfg Config, storeOpts ...memgraph.Option) (*Registry, *memgraph.Store, *graph.Client) {
	t.Helper()
	store := memgraph.New(crypto.NewSEA(), storeOpts...)
	client := graph.NewClient(store)
	return New(client, cfg), store, client
}

func TestRegisterThenResolveFromFrozenSpace(t *testing.T) {
	r, _, _ := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	if err := r.Register(ctx, "Alice", "P1", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.SaveProfile(ctx, Profile{Username: "alice", Pub: "P1", EPub: "E1"}); err != nil {
		t.Fatalf("save profile failed: %v", err)
	}

	res, ok, err := r.Resolve(ctx, " ALICE ")
	if err != nil || !ok {
		t.Fatalf("expected resolution, ok=%v err=%v", ok, err)
	}
	if res.Pub != "P1" || res.Source != SourceFrozen || !res.Immutable {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if res.Profile == nil || res.Profile.EPub != "E1" {
		t.Fatalf("expected enriched profile, got %+v", res.Profile)
	}
	if !r.Exists(ctx, "alice") {
		t.Fatal("alias must exist")
	}
}

func TestRegisterIsIdempotentAndRejectsOtherOwner(t *testing.T) {
	r, _, _ := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	if err := r.Register(ctx, "alice", "P1", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(ctx, "alice", "P1", 0); err != nil {
		t.Fatalf("re-register with same pub must succeed: %v", err)
	}
	err := r.Register(ctx, "alice", "P2", 0)
	if !errors.Is(err, contracts.ErrAliasUnavailable) {
		t.Fatalf("expected alias unavailable, got %v", err)
	}
}

func TestRegisterBacksOffForEarlierReservation(t *testing.T) {
	r, _, client := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	earlier := r.newReservationID(time.Now().Add(-time.Second))
	if err := client.Write(ctx, graph.Join(ReservationsPath("bob"), earlier), graph.Node{
		"alias":     "bob",
		"pub":       "OTHER",
		"expiresAt": time.Now().Add(time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}
	if err := r.Register(ctx, "bob", "P1", 0); !errors.Is(err, contracts.ErrAliasUnavailable) {
		t.Fatalf("expected alias unavailable, got %v", err)
	}
	if _, found, _ := client.Read(ctx, DirectPath("bob")); found {
		t.Fatal("losing writer must not write the mapping")
	}
}

func TestRegisterIgnoresExpiredReservation(t *testing.T) {
	r, _, client := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	earlier := r.newReservationID(time.Now().Add(-time.Hour))
	if err := client.Write(ctx, graph.Join(ReservationsPath("bob"), earlier), graph.Node{
		"pub":       "OTHER",
		"expiresAt": time.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}
	if err := r.Register(ctx, "bob", "P1", 0); err != nil {
		t.Fatalf("expired reservation must not block: %v", err)
	}
}

func TestResolveFallsBackToAlternateKeyWithinBudget(t *testing.T) {
	obs := &recordingObserver{}
	store := memgraph.New(crypto.NewSEA(), memgraph.WithSilentMisses())
	client := graph.NewClient(store)
	cfg := fastConfig()
	r := New(client, cfg, WithObserver(obs))
	ctx := context.Background()

	if err := client.Write(ctx, AlternatePath("carol"), graph.Node{"pub": "P3"}); err != nil {
		t.Fatalf("seed mapping failed: %v", err)
	}

	started := time.Now()
	res, ok, err := r.Resolve(ctx, "carol")
	elapsed := time.Since(started)
	if err != nil || !ok {
		t.Fatalf("expected resolution, ok=%v err=%v", ok, err)
	}
	if res.Pub != "P3" || res.Source != SourceAlternate || res.Username != "carol" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if res.Profile != nil {
		t.Fatal("missing profile must leave the bare result")
	}
	if budget := cfg.Budget() + cfg.EnrichTimeout; elapsed > budget {
		t.Fatalf("resolution took %v, budget %v", elapsed, budget)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.miss[string(SourceFrozen)] != 1 || obs.miss[string(SourceDirect)] != 1 || obs.hits[string(SourceAlternate)] != 1 {
		t.Fatalf("unexpected strategy outcomes: hits=%v miss=%v", obs.hits, obs.miss)
	}
}

func TestResolveComprehensiveScanMatchesUsernameField(t *testing.T) {
	r, store, client := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	if err := client.Write(ctx, graph.Join(UsernamesSpace, "legacy-entry"), graph.Node{"pub": "P4", "username": "Dave"}); err != nil {
		t.Fatalf("seed mapping failed: %v", err)
	}
	store.Hang(FrozenSpace)

	res, ok, err := r.Resolve(ctx, "dave")
	if err != nil || !ok {
		t.Fatalf("expected resolution, ok=%v err=%v", ok, err)
	}
	if res.Pub != "P4" || res.Source != SourceScan {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolvePrefersEarliestFrozenRecord(t *testing.T) {
	r, _, client := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	for pub, at := range map[string]int64{"LATE": 2000, "EARLY": 1000} {
		if err := client.Write(ctx, FrozenPath("erin", pub), graph.Node{
			"alias": "erin", "pub": pub, "immutable": true, "registeredAt": at,
		}); err != nil {
			t.Fatalf("seed frozen failed: %v", err)
		}
	}
	res, ok, _ := r.Resolve(ctx, "erin")
	if !ok || res.Pub != "EARLY" {
		t.Fatalf("expected earliest frozen record, got %+v", res)
	}
}

func TestRegisterRefusesAliasHeldUnderLegacyOrFrozenKey(t *testing.T) {
	r, _, client := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	if err := client.Write(ctx, AlternatePath("kate"), graph.Node{"pub": "LEGACY"}); err != nil {
		t.Fatalf("seed legacy mapping failed: %v", err)
	}
	if err := client.Write(ctx, FrozenPath("liam", "OLD"), graph.Node{
		"alias":        "liam",
		"pub":          "OLD",
		"immutable":    true,
		"registeredAt": int64(1),
	}); err != nil {
		t.Fatalf("seed frozen record failed: %v", err)
	}

	for alias, owner := range map[string]string{"kate": "LEGACY", "liam": "OLD"} {
		if got, err := r.CheckAvailability(ctx, alias, 0); err != nil || got != Taken {
			t.Fatalf("%s: expected taken, got %v err=%v", alias, got, err)
		}
		if err := r.Register(ctx, alias, "P1", 0); !errors.Is(err, contracts.ErrAliasUnavailable) {
			t.Fatalf("%s: expected alias unavailable, got %v", alias, err)
		}
		res, ok, err := r.Resolve(ctx, alias)
		if err != nil || !ok || res.Pub != owner {
			t.Fatalf("%s: expected %s to keep the alias, got %+v ok=%v err=%v", alias, owner, res, ok, err)
		}
		if _, found, _ := client.Read(ctx, FrozenPath(alias, "P1")); found {
			t.Fatalf("%s: refused registration must not write a frozen record", alias)
		}
	}
	if _, found, _ := client.Read(ctx, DirectPath("kate")); found {
		t.Fatal("refused registration must not write the direct mapping")
	}
}

func TestInterleavedRegistrationsLeaveAtMostOneOwner(t *testing.T) {
	r, _, client := newTestRegistry(t, fastConfig(), memgraph.WithLatency(2*time.Millisecond))
	ctx := context.Background()

	for i := range 20 {
		alias := fmt.Sprintf("race%d", i)
		pubs := []string{"PA", "PB"}
		errs := make([]error, len(pubs))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for j, pub := range pubs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs[j] = r.Register(ctx, alias, pub, 0)
			}()
		}
		close(start)
		wg.Wait()

		winner := ""
		for j, err := range errs {
			switch {
			case err == nil:
				if winner != "" {
					t.Fatalf("%s: both writers registered", alias)
				}
				winner = pubs[j]
			case !errors.Is(err, contracts.ErrAliasUnavailable):
				t.Fatalf("%s: unexpected error %v", alias, err)
			}
		}

		res, ok, err := r.Resolve(ctx, alias)
		if err != nil {
			t.Fatalf("%s: resolve failed: %v", alias, err)
		}
		if winner == "" {
			if ok {
				t.Fatalf("%s: no writer won but %s holds a mapping", alias, res.Pub)
			}
			continue
		}
		if !ok || res.Pub != winner {
			t.Fatalf("%s: expected winner %s, got %+v ok=%v", alias, winner, res, ok)
		}
		for _, path := range []string{DirectPath(alias), AlternatePath(alias)} {
			node, found, _ := client.Read(ctx, path)
			if found && node.String("pub") != "" && node.String("pub") != winner {
				t.Fatalf("%s: %s names the losing writer %s", alias, path, node.String("pub"))
			}
		}
	}
}

func TestLaggedRegistrationsConvergeOnEarliestFrozenRecord(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.UnixMilli(1_700_000_000_000)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := memgraph.New(crypto.NewSEA(), memgraph.WithClock(clock), memgraph.WithLag(time.Second))
	r := New(graph.NewClient(store), fastConfig(), WithClock(clock))
	ctx := context.Background()

	// Neither writer can see the other inside the replication window, so
	// both complete.
	var wg sync.WaitGroup
	errs := make(map[string]error)
	var errsMu sync.Mutex
	for _, pub := range []string{"PB", "PA"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Register(ctx, "nora", pub, 0)
			errsMu.Lock()
			errs[pub] = err
			errsMu.Unlock()
		}()
	}
	wg.Wait()
	for pub, err := range errs {
		if err != nil {
			t.Fatalf("%s: register inside the lag window failed: %v", pub, err)
		}
	}

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	for range 3 {
		res, ok, err := r.Resolve(ctx, "nora")
		if err != nil || !ok {
			t.Fatalf("expected resolution, ok=%v err=%v", ok, err)
		}
		if res.Pub != "PA" || res.Source != SourceFrozen {
			t.Fatalf("readers must agree on the earliest frozen record, got %+v", res)
		}
	}
	if err := r.Register(ctx, "nora", "PC", 0); !errors.Is(err, contracts.ErrAliasUnavailable) {
		t.Fatalf("late writer must be refused, got %v", err)
	}
}

func TestRegisterDefaultsToRegisterTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.AvailabilityTimeout = time.Second
	cfg.RegisterTimeout = 20 * time.Millisecond
	r, _, _ := newTestRegistry(t, cfg, memgraph.WithLatency(60*time.Millisecond))
	ctx := context.Background()

	if err := r.Register(ctx, "mona", "P1", 0); !errors.Is(err, contracts.ErrTimeout) {
		t.Fatalf("expected register timeout, got %v", err)
	}
	if err := r.Register(ctx, "nina", "P2", 500*time.Millisecond); err != nil {
		t.Fatalf("explicit timeout must override the default: %v", err)
	}
}

func TestResolveMissingAliasIsNotAnError(t *testing.T) {
	r, _, _ := newTestRegistry(t, fastConfig())
	res, ok, err := r.Resolve(context.Background(), "nobody")
	if err != nil || ok || res.Pub != "" {
		t.Fatalf("expected clean miss, got res=%+v ok=%v err=%v", res, ok, err)
	}
}

func TestCheckAvailabilityStates(t *testing.T) {
	r, store, _ := newTestRegistry(t, fastConfig())
	ctx := context.Background()

	if got, err := r.CheckAvailability(ctx, "frank", 0); err != nil || got != Available {
		t.Fatalf("expected available, got %v err=%v", got, err)
	}
	if err := r.Register(ctx, "frank", "P5", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if got, _ := r.CheckAvailability(ctx, "frank", 0); got != Taken {
		t.Fatalf("expected taken, got %v", got)
	}

	store.Hang(UsernamesSpace)
	if got, err := r.CheckAvailability(ctx, "grace", 20*time.Millisecond); err != nil || got != AvailabilityUnknown {
		t.Fatalf("expected unknown, got %v err=%v", got, err)
	}
	if r.IsAliasAvailable(ctx, "grace", 20*time.Millisecond) {
		t.Fatal("pessimistic policy must treat unknown as unavailable")
	}

	optimistic := fastConfig()
	optimistic.UnknownPolicy = UnknownOptimistic
	r2 := New(graph.NewClient(store), optimistic)
	if !r2.IsAliasAvailable(ctx, "grace", 20*time.Millisecond) {
		t.Fatal("optimistic policy must treat unknown as available")
	}
	if _, err := r.CheckAvailability(ctx, " ", 0); !errors.Is(err, contracts.ErrInvalidFormat) {
		t.Fatalf("expected invalid format, got %v", err)
	}
}

func TestRegisterIsThrottledPerAlias(t *testing.T) {
	cfg := fastConfig()
	cfg.WritesPerMinute = 1
	cfg.WriteBurst = 1
	r, _, _ := newTestRegistry(t, cfg)
	ctx := context.Background()

	if err := r.Register(ctx, "heidi", "P6", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	err := r.Register(ctx, "heidi", "P6", 0)
	if !errors.Is(err, contracts.ErrRateLimited) {
		t.Fatalf("expected throttling, got %v", err)
	}
	if err := r.Register(ctx, "ivan", "P7", 0); err != nil {
		t.Fatalf("other aliases must not be throttled: %v", err)
	}
}

func TestTouchLastLoginUpdatesProfile(t *testing.T) {
	r, _, _ := newTestRegistry(t, fastConfig())
	ctx := context.Background()
	created := time.UnixMilli(1_700_000_000_000).UTC()
	if err := r.SaveProfile(ctx, Profile{Username: "judy", Pub: "P8", CreatedAt: created}); err != nil {
		t.Fatalf("save profile failed: %v", err)
	}
	at := created.Add(time.Hour)
	if err := r.TouchLastLogin(ctx, "P8", at); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	p, ok, err := r.Profile(ctx, "P8")
	if err != nil || !ok {
		t.Fatalf("expected profile, ok=%v err=%v", ok, err)
	}
	if !p.CreatedAt.Equal(created) || !p.LastLogin.Equal(at) || p.Username != "judy" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
