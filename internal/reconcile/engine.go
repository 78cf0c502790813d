// Package reconcile merges optimistic pending throws with what the indexer
// reports, and keeps polling until every pending throw is confirmed or has
// timed out.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultMaxPollTicks   = 36
	DefaultPendingTimeout = 3 * time.Minute
	DefaultFetchTimeout   = 30 * time.Second
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseHydrated Phase = "hydrated"
	PhaseLive     Phase = "live"
)

var errStale = errors.New("address changed during fetch")

type Fetcher interface {
	FetchThrows(ctx context.Context, address string) ([]domain.Throw, error)
	FetchHarvests(ctx context.Context, address string) ([]domain.Harvest, error)
}

// Store is the per-address cache. Its methods never fail.
type Store interface {
	LoadConfirmed(ctx context.Context, address string) []domain.Throw
	SaveConfirmed(ctx context.Context, address string, throws []domain.Throw)
	LoadPending(ctx context.Context, address string) []domain.Throw
	SavePending(ctx context.Context, address string, throws []domain.Throw)
}

// Seeder schedules stage notifications for a confirmed throw and reports how
// many it created.
type Seeder interface {
	Seed(ctx context.Context, recordID string, eventTime time.Time, modelID string) (int, error)
}

type Options struct {
	PollInterval   time.Duration
	MaxPollTicks   int
	PendingTimeout time.Duration
	FetchTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxPollTicks <= 0 {
		o.MaxPollTicks = DefaultMaxPollTicks
	}
	if o.PendingTimeout <= 0 {
		o.PendingTimeout = DefaultPendingTimeout
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	return o
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	Address      string           `json:"address"`
	Phase        Phase            `json:"phase"`
	Loading      bool             `json:"loading"`
	Polling      bool             `json:"polling"`
	Error        string           `json:"error,omitempty"`
	Throws       []domain.Throw   `json:"throws"`
	PendingCount int              `json:"pendingCount"`
	Harvests     []domain.Harvest `json:"harvests"`
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ *time.Ticker }

func (t stdTicker) C() <-chan time.Time { return t.Ticker.C }

// Engine owns the state of one address session. All methods are safe for
// concurrent use and none of them return fetch failures: those become state.
type Engine struct {
	fetcher Fetcher
	store   Store
	seeder  Seeder
	opts    Options
	metrics *observability.Metrics
	logger  *zap.Logger

	now       func() time.Time
	newTicker func(time.Duration) ticker
	afterTick func(tick int)

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	address    string
	generation uint64
	phase      Phase
	confirmed  []domain.Throw
	pending    []domain.Throw
	harvests   []domain.Harvest
	inflight   int
	lastErr    string
	fetchSeq   uint64
	appliedSeq uint64
	pollerID   uint64
	stopPoll   context.CancelFunc
	seeded     map[string]struct{}
}

func NewEngine(
	fetcher Fetcher,
	store Store,
	seeder Seeder,
	opts Options,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Engine, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		fetcher:    fetcher,
		store:      store,
		seeder:     seeder,
		opts:       opts.withDefaults(),
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		newTicker:  func(d time.Duration) ticker { return stdTicker{time.NewTicker(d)} },
		baseCtx:    ctx,
		cancelBase: cancel,
		phase:      PhaseIdle,
		seeded:     make(map[string]struct{}),
	}, nil
}

func (e *Engine) Address() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.address
}

// SetAddress switches the session to address; an empty address disconnects.
// The cached snapshots are loaded synchronously and a background fetch is
// started. Results of fetches begun for a previous address are discarded.
func (e *Engine) SetAddress(ctx context.Context, address string) {
	address = strings.TrimSpace(address)

	e.mu.Lock()
	if e.closed || address == e.address {
		e.mu.Unlock()
		return
	}

	e.stopPollerLocked()
	e.generation++
	e.address = address
	e.phase = PhaseIdle
	e.confirmed, e.pending, e.harvests = nil, nil, nil
	e.inflight = 0
	e.lastErr = ""

	if address == "" {
		e.metrics.SetPendingThrows(0)
		e.mu.Unlock()
		e.logger.Info("session address cleared")
		return
	}

	e.confirmed = e.store.LoadConfirmed(ctx, address)
	e.pending = e.store.LoadPending(ctx, address)
	e.phase = PhaseHydrated
	if len(e.pending) > 0 {
		e.startPollerLocked()
	}
	e.metrics.SetPendingThrows(len(e.pending))
	confirmed, pending := len(e.confirmed), len(e.pending)
	e.mu.Unlock()

	e.logger.Info("session address set",
		zap.String("address", address),
		zap.Int("cached_confirmed", confirmed),
		zap.Int("cached_pending", pending),
	)
	e.RequestRefresh()
}

// Refresh fetches immediately. A failure is recorded in the snapshot's Error
// and cleared by the next successful fetch.
func (e *Engine) Refresh(ctx context.Context) Snapshot {
	e.mu.Lock()
	if e.address == "" || e.closed {
		e.mu.Unlock()
		return e.Snapshot()
	}
	e.inflight++
	gen, address := e.generation, e.address
	e.mu.Unlock()

	if _, err := e.fetchAndApply(ctx, gen, address, "refresh", true); err != nil && !errors.Is(err, errStale) {
		e.logger.Warn("refresh failed", zap.String("address", address), zap.Error(err))
	}
	return e.Snapshot()
}

// RequestRefresh starts Refresh in the background.
func (e *Engine) RequestRefresh() {
	e.mu.Lock()
	if e.closed || e.address == "" {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.Refresh(e.baseCtx)
	}()
}

// AddPending records an optimistic throw and (re)starts polling.
func (e *Engine) AddPending(ctx context.Context, t domain.Throw) (domain.Throw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.address == "" {
		return domain.Throw{}, domain.ErrNoSession
	}
	if t.LocalID == "" {
		t.LocalID = uuid.NewString()
	}
	if t.ThrownBy == "" {
		t.ThrownBy = e.address
	}
	t = Stamp(t, e.now())

	e.pending = Prepend(e.pending, t)
	e.store.SavePending(ctx, e.address, e.pending)
	e.metrics.SetPendingThrows(len(e.pending))
	e.startPollerLocked()

	e.logger.Debug("pending throw added", zap.String("local_id", t.LocalID))
	return t, nil
}

// AssignAssetID tells the engine which asset a pending throw became, so the
// indexer result can resolve it by identity.
func (e *Engine) AssignAssetID(ctx context.Context, localID string, assetID uint64) error {
	if assetID == 0 {
		return fmt.Errorf("%w: asset id is required", domain.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.address == "" {
		return domain.ErrNoSession
	}
	for _, p := range e.pending {
		if p.AssetID == assetID && p.LocalID != localID {
			return fmt.Errorf("%w: asset %d already belongs to pending throw %s", domain.ErrConflict, assetID, p.LocalID)
		}
	}
	pending, ok := AssignAssetID(e.pending, localID, assetID)
	if !ok {
		return fmt.Errorf("%w: pending throw %s", domain.ErrNotFound, localID)
	}

	remaining, resolved := ResolvePending(pending, e.confirmed)
	e.pending = remaining
	e.store.SavePending(ctx, e.address, e.pending)
	e.metrics.AddPendingResolved(len(resolved))
	e.metrics.SetPendingThrows(len(e.pending))
	if len(e.pending) == 0 {
		e.stopPollerLocked()
	}
	return nil
}

// DiscardPending drops a pending throw whose submission failed.
func (e *Engine) DiscardPending(ctx context.Context, localID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.address == "" {
		return domain.ErrNoSession
	}
	remaining, ok := Remove(e.pending, localID)
	if !ok {
		return fmt.Errorf("%w: pending throw %s", domain.ErrNotFound, localID)
	}

	e.pending = remaining
	e.store.SavePending(ctx, e.address, e.pending)
	e.metrics.SetPendingThrows(len(e.pending))
	if len(e.pending) == 0 {
		e.stopPollerLocked()
	}
	return nil
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	harvests := make([]domain.Harvest, len(e.harvests))
	copy(harvests, e.harvests)

	return Snapshot{
		Address:      e.address,
		Phase:        e.phase,
		Loading:      e.inflight > 0,
		Polling:      e.stopPoll != nil,
		Error:        e.lastErr,
		Throws:       Merge(e.confirmed, e.pending, now, e.opts.PendingTimeout),
		PendingCount: len(AgeOut(e.pending, now, e.opts.PendingTimeout)),
		Harvests:     harvests,
	}
}

// Find looks a throw up in the merged view by local id or record id.
func (e *Engine) Find(id string) (domain.Throw, bool) {
	for _, t := range e.Snapshot().Throws {
		if t.LocalID == id || t.RecordID() == id {
			return t, true
		}
	}
	return domain.Throw{}, false
}

// Close stops polling and waits for background work to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.stopPollerLocked()
	e.mu.Unlock()

	e.cancelBase()
	e.wg.Wait()
}

func (e *Engine) fetchAndApply(ctx context.Context, gen uint64, address, trigger string, manual bool) (int, error) {
	e.mu.Lock()
	e.fetchSeq++
	seq := e.fetchSeq
	e.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	throws, err := e.fetcher.FetchThrows(fctx, address)
	var (
		harvests   []domain.Harvest
		harvestErr error
	)
	if err == nil {
		harvests, harvestErr = e.fetcher.FetchHarvests(fctx, address)
	}
	e.metrics.ObserveFetch(trigger, err, time.Since(start))

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return 0, errStale
	}
	if manual {
		e.inflight--
	}
	if err != nil {
		if manual {
			e.lastErr = err.Error()
		}
		left := len(e.pending)
		e.mu.Unlock()
		return left, err
	}
	if harvestErr != nil {
		e.logger.Warn("harvest fetch failed, keeping previous harvests",
			zap.String("address", address), zap.Error(harvestErr))
	}
	toSeed := e.applyLocked(ctx, seq, throws, harvests, harvestErr == nil)
	left := len(e.pending)
	e.mu.Unlock()

	e.seed(ctx, toSeed)
	return left, nil
}

// applyLocked installs a successful fetch. A result older than the last one
// applied is ignored so an out-of-order response cannot roll state back.
func (e *Engine) applyLocked(
	ctx context.Context,
	seq uint64,
	throws []domain.Throw,
	harvests []domain.Harvest,
	harvestsOK bool,
) []domain.Throw {
	if seq <= e.appliedSeq {
		e.logger.Debug("dropping out-of-order fetch result", zap.Uint64("seq", seq), zap.Uint64("applied", e.appliedSeq))
		return nil
	}
	e.appliedSeq = seq

	e.confirmed = throws
	e.phase = PhaseLive
	e.lastErr = ""
	if harvestsOK {
		e.harvests = harvests
	}
	e.store.SaveConfirmed(ctx, e.address, throws)

	remaining, resolved := ResolvePending(e.pending, throws)
	remaining = AgeOut(remaining, e.now(), e.opts.PendingTimeout)
	if len(remaining) != len(e.pending) {
		e.pending = remaining
		e.store.SavePending(ctx, e.address, remaining)
		e.metrics.AddPendingResolved(len(resolved))
		e.metrics.SetPendingThrows(len(remaining))
	}
	if len(e.pending) == 0 {
		e.stopPollerLocked()
	}

	var toSeed []domain.Throw
	for _, t := range throws {
		if _, ok := e.seeded[t.RecordID()]; !ok {
			e.seeded[t.RecordID()] = struct{}{}
			toSeed = append(toSeed, t)
		}
	}
	return toSeed
}

func (e *Engine) seed(ctx context.Context, throws []domain.Throw) {
	if e.seeder == nil {
		return
	}
	for _, t := range throws {
		n, err := e.seeder.Seed(ctx, t.RecordID(), t.ThrowDate, t.GrowthModelID)
		if err != nil {
			// Retried on the next successful fetch.
			e.mu.Lock()
			delete(e.seeded, t.RecordID())
			e.mu.Unlock()
			e.logger.Warn("failed to seed notifications", zap.String("record_id", t.RecordID()), zap.Error(err))
			continue
		}
		e.metrics.AddNotificationsSeeded(n)
	}
}

// startPollerLocked replaces any running poller, which also resets the tick
// count.
func (e *Engine) startPollerLocked() {
	e.stopPollerLocked()
	if e.closed {
		return
	}

	ctx, cancel := context.WithCancel(e.baseCtx)
	e.pollerID++
	e.stopPoll = cancel
	gen, id := e.generation, e.pollerID
	t := e.newTicker(e.opts.PollInterval)

	e.wg.Add(1)
	go e.poll(ctx, t, gen, id)
}

func (e *Engine) stopPollerLocked() {
	if e.stopPoll != nil {
		e.stopPoll()
		e.stopPoll = nil
	}
}

func (e *Engine) poll(ctx context.Context, t ticker, gen, id uint64) {
	defer e.wg.Done()
	defer t.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
		}

		done := e.pollTick(ctx, gen, id, tick)
		if e.afterTick != nil {
			e.afterTick(tick)
		}
		if done {
			return
		}
	}
}

// pollTick runs one poll and reports whether the poller should exit.
func (e *Engine) pollTick(ctx context.Context, gen, id uint64, tick int) bool {
	if tick > e.opts.MaxPollTicks {
		e.expirePending(ctx, gen, id, tick)
		return true
	}

	e.mu.Lock()
	if gen != e.generation || id != e.pollerID || e.stopPoll == nil {
		e.mu.Unlock()
		return true
	}
	address := e.address
	e.mu.Unlock()

	left, err := e.fetchAndApply(ctx, gen, address, "poll", false)
	switch {
	case errors.Is(err, errStale):
		return true
	case err != nil:
		e.metrics.IncPollTick("failed")
		e.logger.Warn("poll fetch failed, will retry",
			zap.String("address", address), zap.Int("tick", tick), zap.Error(err))
		return false
	case left == 0:
		e.metrics.IncPollTick("resolved")
		e.logger.Debug("all pending throws resolved", zap.Int("tick", tick))
		return true
	default:
		e.metrics.IncPollTick("waiting")
		e.logger.Debug("pending throws still unconfirmed", zap.Int("tick", tick), zap.Int("pending", left))
		return false
	}
}

// expirePending is the backstop: when the tick cap is hit every pending throw
// is dropped, in memory and in the cache.
func (e *Engine) expirePending(ctx context.Context, gen, id uint64, tick int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation || id != e.pollerID {
		return
	}
	n := len(e.pending)
	e.pending = nil
	e.store.SavePending(ctx, e.address, nil)
	e.stopPollerLocked()

	e.metrics.IncPollTick("expired")
	e.metrics.AddPendingExpired(n)
	e.metrics.SetPendingThrows(0)
	e.logger.Info("poll cap reached, dropping pending throws",
		zap.String("address", e.address), zap.Int("ticks", tick-1), zap.Int("dropped", n))
}
