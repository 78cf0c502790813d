package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
)

type fakeFetcher struct {
	throwsFn   func(ctx context.Context, address string) ([]domain.Throw, error)
	harvestsFn func(ctx context.Context, address string) ([]domain.Harvest, error)
}

func (f *fakeFetcher) FetchThrows(ctx context.Context, address string) ([]domain.Throw, error) {
	if f.throwsFn == nil {
		return []domain.Throw{}, nil
	}
	return f.throwsFn(ctx, address)
}

func (f *fakeFetcher) FetchHarvests(ctx context.Context, address string) ([]domain.Harvest, error) {
	if f.harvestsFn == nil {
		return []domain.Harvest{}, nil
	}
	return f.harvestsFn(ctx, address)
}

// remote is a settable indexer answer.
type remote struct {
	mu     sync.Mutex
	throws []domain.Throw
	err    error
}

func (r *remote) set(throws []domain.Throw, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throws, r.err = throws, err
}

func (r *remote) fetch(context.Context, string) ([]domain.Throw, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]domain.Throw, len(r.throws))
	copy(out, r.throws)
	return out, nil
}

type fakeStore struct {
	mu        sync.Mutex
	confirmed map[string][]domain.Throw
	pending   map[string][]domain.Throw
}

func newFakeStore() *fakeStore {
	return &fakeStore{confirmed: map[string][]domain.Throw{}, pending: map[string][]domain.Throw{}}
}

func (s *fakeStore) LoadConfirmed(_ context.Context, address string) []domain.Throw {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Throw(nil), s.confirmed[address]...)
}

func (s *fakeStore) SaveConfirmed(_ context.Context, address string, throws []domain.Throw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed[address] = append([]domain.Throw(nil), throws...)
}

func (s *fakeStore) LoadPending(_ context.Context, address string) []domain.Throw {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Throw(nil), s.pending[address]...)
}

func (s *fakeStore) SavePending(_ context.Context, address string, throws []domain.Throw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(throws) == 0 {
		delete(s.pending, address)
		return
	}
	s.pending[address] = append([]domain.Throw(nil), throws...)
}

func (s *fakeStore) hasPending(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[address]
	return ok
}

type fakeSeeder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSeeder) Seed(_ context.Context, recordID string, _ time.Time, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordID)
	return 1, nil
}

func (f *fakeSeeder) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type manualTicker struct {
	ch chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type harness struct {
	engine *Engine
	store  *fakeStore
	ticked chan int

	mu    sync.Mutex
	ticks chan time.Time
}

func newHarness(t *testing.T, f Fetcher, seeder Seeder, opts Options) *harness {
	t.Helper()

	store := newFakeStore()
	e, err := NewEngine(f, store, seeder, opts, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	h := &harness{
		engine: e,
		store:  store,
		ticked: make(chan int, 64),
	}
	e.newTicker = func(time.Duration) ticker {
		ch := make(chan time.Time)
		h.mu.Lock()
		h.ticks = ch
		h.mu.Unlock()
		return &manualTicker{ch: ch}
	}
	e.afterTick = func(n int) { h.ticked <- n }
	t.Cleanup(e.Close)
	return h
}

// tick fires one poll tick on the newest poller and waits until it has been
// handled.
func (h *harness) tick(t *testing.T) int {
	t.Helper()

	h.mu.Lock()
	ch := h.ticks
	h.mu.Unlock()
	if ch == nil {
		t.Fatal("no poller was started")
	}

	select {
	case ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("no poller is listening for ticks")
	}
	select {
	case n := <-h.ticked:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("poll tick was not processed")
	}
	return 0
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func (h *harness) connect(t *testing.T, address string) {
	t.Helper()

	h.engine.SetAddress(context.Background(), address)
	eventually(t, func() bool {
		s := h.engine.Snapshot()
		return s.Phase == PhaseLive && !s.Loading
	})
}

func localIDs(throws []domain.Throw) []string {
	out := make([]string, 0, len(throws))
	for _, th := range throws {
		out = append(out, th.LocalID)
	}
	return out
}

func TestEngineUnrelatedConfirmationKeepsPending(t *testing.T) {
	t.Parallel()

	r := &remote{}
	h := newHarness(t, &fakeFetcher{throwsFn: r.fetch}, nil, Options{})
	h.connect(t, "X")
	ctx := context.Background()

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	s := h.engine.Snapshot()
	if len(s.Throws) != 1 || s.Throws[0].LocalID != "a" || !s.Throws[0].IsPending {
		t.Fatalf("Throws = %+v, want [a(pending)]", s.Throws)
	}

	r.set([]domain.Throw{confirmedThrow(7)}, nil)
	h.tick(t)

	s = h.engine.Snapshot()
	got := localIDs(s.Throws)
	if len(got) != 2 || got[0] != "a" || got[1] != "chain-7" {
		t.Fatalf("Throws = %v, want [a chain-7]", got)
	}
	if !s.Throws[0].IsPending || s.Throws[1].IsPending {
		t.Fatalf("pending flags = %v, %v", s.Throws[0].IsPending, s.Throws[1].IsPending)
	}
	if !s.Polling {
		t.Fatal("polling stopped while a throw is still pending")
	}
}

func TestEngineResolvesPendingByAssignedAssetID(t *testing.T) {
	t.Parallel()

	r := &remote{}
	h := newHarness(t, &fakeFetcher{throwsFn: r.fetch}, nil, Options{})
	h.connect(t, "X")
	ctx := context.Background()

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	if err := h.engine.AssignAssetID(ctx, "a", 42); err != nil {
		t.Fatalf("AssignAssetID() error = %v", err)
	}

	r.set([]domain.Throw{confirmedThrow(42)}, nil)
	h.tick(t)

	s := h.engine.Snapshot()
	if len(s.Throws) != 1 || s.Throws[0].AssetID != 42 || s.Throws[0].IsPending {
		t.Fatalf("Throws = %+v, want [confirmed#42]", s.Throws)
	}
	if s.Polling {
		t.Fatal("polling should stop once nothing is pending")
	}
	if h.store.hasPending("X") {
		t.Fatal("pending cache key should be deleted")
	}
}

func TestEngineHardCapClearsPending(t *testing.T) {
	t.Parallel()

	r := &remote{}
	h := newHarness(t, &fakeFetcher{throwsFn: r.fetch}, nil, Options{MaxPollTicks: 3})
	h.connect(t, "X")

	if _, err := h.engine.AddPending(context.Background(), domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	for i := 1; i <= 3; i++ {
		h.tick(t)
		if s := h.engine.Snapshot(); s.PendingCount != 1 || !s.Polling {
			t.Fatalf("after tick %d: pending=%d polling=%v", i, s.PendingCount, s.Polling)
		}
	}

	h.tick(t)
	s := h.engine.Snapshot()
	if s.PendingCount != 0 || len(s.Throws) != 0 {
		t.Fatalf("after cap: %+v, want nothing pending", s)
	}
	if s.Polling {
		t.Fatal("polling should stop at the cap")
	}
	if h.store.hasPending("X") {
		t.Fatal("pending cache key should be deleted at the cap")
	}
}

func TestEnginePollFailureKeepsPolling(t *testing.T) {
	t.Parallel()

	r := &remote{}
	h := newHarness(t, &fakeFetcher{throwsFn: r.fetch}, nil, Options{})
	h.connect(t, "X")
	ctx := context.Background()

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	if err := h.engine.AssignAssetID(ctx, "a", 5); err != nil {
		t.Fatalf("AssignAssetID() error = %v", err)
	}

	r.set(nil, errors.New("indexer unreachable"))
	h.tick(t)
	s := h.engine.Snapshot()
	if !s.Polling || s.PendingCount != 1 {
		t.Fatalf("after failed tick: polling=%v pending=%d", s.Polling, s.PendingCount)
	}
	if s.Error != "" {
		t.Fatalf("background failure surfaced as %q", s.Error)
	}

	r.set([]domain.Throw{confirmedThrow(5)}, nil)
	h.tick(t)
	if s := h.engine.Snapshot(); s.Polling || s.PendingCount != 0 {
		t.Fatalf("after recovery: polling=%v pending=%d", s.Polling, s.PendingCount)
	}
}

func TestEngineSecondPendingRestartsPoller(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{}, nil, Options{MaxPollTicks: 2})
	h.connect(t, "X")
	ctx := context.Background()

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	h.tick(t)
	h.tick(t)

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "b"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	if n := h.tick(t); n != 1 {
		t.Fatalf("tick count after restart = %d, want 1", n)
	}

	got := localIDs(h.engine.Snapshot().Throws)
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("Throws = %v, want [b a]", got)
	}
}

func TestEngineRefreshRecordsAndClearsError(t *testing.T) {
	t.Parallel()

	r := &remote{}
	h := newHarness(t, &fakeFetcher{throwsFn: r.fetch}, nil, Options{})
	h.connect(t, "X")

	r.set(nil, errors.New("indexer unreachable"))
	s := h.engine.Refresh(context.Background())
	if s.Error == "" {
		t.Fatal("Refresh() should record the failure")
	}
	if s.Loading {
		t.Fatal("Loading should be false after Refresh() returns")
	}

	r.set([]domain.Throw{confirmedThrow(3)}, nil)
	s = h.engine.Refresh(context.Background())
	if s.Error != "" || len(s.Throws) != 1 {
		t.Fatalf("Refresh() = %+v, want cleared error and one throw", s)
	}
}

func TestEngineHydratesFromCache(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := &fakeFetcher{throwsFn: func(ctx context.Context, _ string) ([]domain.Throw, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []domain.Throw{confirmedThrow(1)}, nil
	}}
	h := newHarness(t, f, nil, Options{})
	defer close(release)

	h.store.SaveConfirmed(context.Background(), "X", []domain.Throw{confirmedThrow(1)})
	h.store.SavePending(context.Background(), "X", []domain.Throw{pendingThrow("p", 0, time.Now())})

	h.engine.SetAddress(context.Background(), "X")
	s := h.engine.Snapshot()
	if s.Phase != PhaseHydrated {
		t.Fatalf("Phase = %s, want hydrated", s.Phase)
	}
	got := localIDs(s.Throws)
	if len(got) != 2 || got[0] != "p" || got[1] != "chain-1" {
		t.Fatalf("Throws = %v, want [p chain-1]", got)
	}
	if !s.Polling {
		t.Fatal("restored pending throw should start polling")
	}
}

func TestEngineHydrationNeverRepeatsAssetID(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := &fakeFetcher{throwsFn: func(ctx context.Context, _ string) ([]domain.Throw, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []domain.Throw{}, nil
	}}
	h := newHarness(t, f, nil, Options{})
	defer close(release)

	h.store.SaveConfirmed(context.Background(), "X", []domain.Throw{confirmedThrow(7), confirmedThrow(7)})

	h.engine.SetAddress(context.Background(), "X")
	got := localIDs(h.engine.Snapshot().Throws)
	if len(got) != 1 || got[0] != "chain-7" {
		t.Fatalf("Throws = %v, want [chain-7]", got)
	}
}

func TestEngineIgnoresFetchForPreviousAddress(t *testing.T) {
	t.Parallel()

	releaseA := make(chan struct{})
	enteredA := make(chan struct{})
	var once sync.Once
	f := &fakeFetcher{throwsFn: func(_ context.Context, address string) ([]domain.Throw, error) {
		if address == "A" {
			once.Do(func() { close(enteredA) })
			<-releaseA
			return []domain.Throw{confirmedThrow(100)}, nil
		}
		return []domain.Throw{confirmedThrow(200)}, nil
	}}
	h := newHarness(t, f, nil, Options{})

	h.engine.SetAddress(context.Background(), "A")
	<-enteredA
	h.connect(t, "B")
	close(releaseA)

	// Let A's fetch complete before asserting.
	time.Sleep(20 * time.Millisecond)
	s := h.engine.Snapshot()
	if s.Address != "B" || len(s.Throws) != 1 || s.Throws[0].AssetID != 200 {
		t.Fatalf("Snapshot() = %+v, want only B's throw", s)
	}
	if got := h.store.LoadConfirmed(context.Background(), "B"); len(got) != 1 || got[0].AssetID != 200 {
		t.Fatalf("B cache = %+v", got)
	}
}

func TestEngineDropsOutOfOrderResults(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFetcher{throwsFn: func(context.Context, string) ([]domain.Throw, error) {
		switch calls.Add(1) {
		case 1:
			return []domain.Throw{}, nil
		case 2:
			close(entered)
			<-release
			return []domain.Throw{confirmedThrow(1)}, nil
		default:
			return []domain.Throw{confirmedThrow(2), confirmedThrow(1)}, nil
		}
	}}
	h := newHarness(t, f, nil, Options{})
	h.connect(t, "X")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.Refresh(context.Background())
	}()
	<-entered

	if s := h.engine.Refresh(context.Background()); len(s.Throws) != 2 {
		t.Fatalf("newer Refresh() throws = %d, want 2", len(s.Throws))
	}
	close(release)
	<-done

	if s := h.engine.Snapshot(); len(s.Throws) != 2 {
		t.Fatalf("older result overwrote newer state: %+v", s.Throws)
	}
}

func TestEngineDisconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{}, nil, Options{})
	h.connect(t, "X")
	ctx := context.Background()

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	h.engine.SetAddress(ctx, "")
	s := h.engine.Snapshot()
	if s.Phase != PhaseIdle || s.Polling || len(s.Throws) != 0 {
		t.Fatalf("after disconnect: %+v", s)
	}

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "b"}); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("AddPending() error = %v, want ErrNoSession", err)
	}

	// The pending throw stays cached for the address.
	if !h.store.hasPending("X") {
		t.Fatal("disconnect should not wipe the pending cache")
	}
}

func TestEngineDiscardPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{}, nil, Options{})
	h.connect(t, "X")
	ctx := context.Background()

	added, err := h.engine.AddPending(ctx, domain.Throw{})
	if err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	if added.LocalID == "" || added.ThrownBy != "X" || added.CreatedAt == 0 {
		t.Fatalf("AddPending() = %+v, want generated id and stamps", added)
	}

	if err := h.engine.DiscardPending(ctx, added.LocalID); err != nil {
		t.Fatalf("DiscardPending() error = %v", err)
	}
	if s := h.engine.Snapshot(); s.Polling || s.PendingCount != 0 {
		t.Fatalf("after discard: %+v", s)
	}
	if err := h.engine.DiscardPending(ctx, added.LocalID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second DiscardPending() error = %v, want ErrNotFound", err)
	}
}

func TestEngineAssignAssetIDRejectsDuplicateAsset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{}, nil, Options{})
	h.connect(t, "X")
	ctx := context.Background()

	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending(a) error = %v", err)
	}
	if _, err := h.engine.AddPending(ctx, domain.Throw{LocalID: "b"}); err != nil {
		t.Fatalf("AddPending(b) error = %v", err)
	}
	if err := h.engine.AssignAssetID(ctx, "a", 42); err != nil {
		t.Fatalf("AssignAssetID(a) error = %v", err)
	}
	if err := h.engine.AssignAssetID(ctx, "b", 42); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("AssignAssetID(b) error = %v, want ErrConflict", err)
	}
	if err := h.engine.AssignAssetID(ctx, "a", 42); err != nil {
		t.Fatalf("reassigning the same asset error = %v", err)
	}
	if err := h.engine.AssignAssetID(ctx, "b", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("AssignAssetID(0) error = %v, want ErrValidation", err)
	}
}

func TestEngineAgeOutHidesStalePending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{}, nil, Options{PendingTimeout: time.Minute})
	now := t0
	var mu sync.Mutex
	h.engine.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h.connect(t, "X")

	if _, err := h.engine.AddPending(context.Background(), domain.Throw{LocalID: "a"}); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if s := h.engine.Snapshot(); len(s.Throws) != 0 || s.PendingCount != 0 {
		t.Fatalf("Snapshot() = %+v, want stale pending hidden", s)
	}
}

func TestEngineSeedsConfirmedThrowsOnce(t *testing.T) {
	t.Parallel()

	r := &remote{}
	r.set([]domain.Throw{confirmedThrow(5)}, nil)
	seeder := &fakeSeeder{}
	h := newHarness(t, &fakeFetcher{throwsFn: r.fetch}, seeder, Options{})
	h.connect(t, "X")

	eventually(t, func() bool { return len(seeder.seen()) == 1 })

	h.engine.Refresh(context.Background())
	r.set([]domain.Throw{confirmedThrow(6), confirmedThrow(5)}, nil)
	h.engine.Refresh(context.Background())

	got := seeder.seen()
	if len(got) != 2 || got[0] != "chain-5" || got[1] != "chain-6" {
		t.Fatalf("seeded = %v, want [chain-5 chain-6]", got)
	}
}

func TestEngineKeepsHarvestsWhenHarvestFetchFails(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	f := &fakeFetcher{harvestsFn: func(context.Context, string) ([]domain.Harvest, error) {
		if fail.Load() {
			return nil, errors.New("payments search failed")
		}
		return []domain.Harvest{{TxID: "h1"}}, nil
	}}
	h := newHarness(t, f, nil, Options{})
	h.connect(t, "X")

	fail.Store(true)
	s := h.engine.Refresh(context.Background())
	if len(s.Harvests) != 1 || s.Harvests[0].TxID != "h1" {
		t.Fatalf("Harvests = %+v, want previous harvests kept", s.Harvests)
	}
	if s.Error != "" {
		t.Fatalf("harvest failure surfaced as %q", s.Error)
	}
}
