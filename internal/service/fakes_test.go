package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/market"
)

// memStore implements the market, ledger, position and trade stores.
type memStore struct {
	mu        sync.Mutex
	markets   map[string]domain.Market
	positions map[string]float64
	trades    []domain.Trade
	commits   int
	// beforeCommit runs inside CommitTrade before the supply check.
	beforeCommit func(m *domain.Market)
	events       *eventLog
}

func newMemStore(events *eventLog) *memStore {
	return &memStore{
		markets:   map[string]domain.Market{},
		positions: map[string]float64{},
		events:    events,
	}
}

func posKey(wallet, marketID, outcomeID string) string {
	return wallet + "|" + marketID + "|" + outcomeID
}

func cloneMarket(m domain.Market) domain.Market {
	m.Outcomes = append([]domain.OutcomeState(nil), m.Outcomes...)
	return m
}

func (s *memStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.markets {
		if existing.Slug == m.Slug {
			return domain.ErrAlreadyExists
		}
	}
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.add("get")
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return cloneMarket(m), nil
}

func (s *memStore) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.Slug == slug {
			return cloneMarket(m), nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, cloneMarket(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) Resolve(_ context.Context, id, winning string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusActive {
		return domain.ErrConflict
	}
	m.Status = domain.MarketStatusResolved
	m.WinningOutcome = winning
	m.ResolvedAt = &at
	s.markets[id] = m
	return nil
}

func (s *memStore) CommitTrade(_ context.Context, c domain.TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.add("commit")
	t := c.Trade
	m, ok := s.markets[t.MarketID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.beforeCommit != nil {
		s.beforeCommit(&m)
	}
	if m.Status != domain.MarketStatusActive {
		return domain.ErrMarketFrozen
	}
	idx := -1
	for i, o := range m.Outcomes {
		if o.OutcomeID == t.OutcomeID {
			idx = i
		}
	}
	if idx < 0 {
		return domain.ErrNotFound
	}
	if m.Outcomes[idx].Supply != c.ExpectedSupply {
		return fmt.Errorf("supply moved: %w", domain.ErrConflict)
	}
	k := posKey(t.Wallet, t.MarketID, t.OutcomeID)
	next := s.positions[k] + c.PositionDelta
	if next < -1e-9 {
		return domain.ErrInsufficientShares
	}
	m.Outcomes[idx].Supply = c.NewSupply
	m.Outcomes[idx].Reserve = c.NewReserve
	s.markets[t.MarketID] = m
	s.positions[k] = math.Max(0, next)
	s.trades = append(s.trades, t)
	s.commits++
	return nil
}

func (s *memStore) Get(_ context.Context, wallet, marketID, outcomeID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shares, ok := s.positions[posKey(wallet, marketID, outcomeID)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return domain.Position{Wallet: wallet, MarketID: marketID, OutcomeID: outcomeID, Shares: shares}, nil
}

func (s *memStore) ListByWallet(_ context.Context, wallet string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for m, mk := range s.markets {
		for _, o := range mk.Outcomes {
			if sh := s.positions[posKey(wallet, m, o.OutcomeID)]; sh > 0 {
				out = append(out, domain.Position{Wallet: wallet, MarketID: m, OutcomeID: o.OutcomeID, Shares: sh})
			}
		}
	}
	return out, nil
}

func (s *memStore) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].MarketID == marketID {
			out = append(out, s.trades[i])
		}
	}
	return out, nil
}

func (s *memStore) outcome(t *testing.T, marketID, outcomeID string) domain.OutcomeState {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.markets[marketID].Outcome(outcomeID)
	require.True(t, ok)
	return o
}

type tradeLister struct{ *memStore }

func (l tradeLister) ListByWallet(_ context.Context, wallet string, _ domain.ListOpts) ([]domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Trade
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].Wallet == wallet {
			out = append(out, l.trades[i])
		}
	}
	return out, nil
}

func (tradeLister) OldestBefore(context.Context, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (tradeLister) ListBetween(context.Context, time.Time, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

// eventLog records the order of lock, load and commit steps.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// memLocks blocks like the Redis lock and reports ErrLockHeld when the
// context ends first.
type memLocks struct {
	mu     sync.Mutex
	keys   map[string]chan struct{}
	events *eventLog
}

func newMemLocks(events *eventLog) *memLocks {
	return &memLocks{keys: map[string]chan struct{}{}, events: events}
}

func (l *memLocks) ch(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.keys[key]
	if !ok {
		c = make(chan struct{}, 1)
		l.keys[key] = c
	}
	return c
}

func (l *memLocks) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	c := l.ch(key)
	select {
	case c <- struct{}{}:
	case <-ctx.Done():
		return nil, domain.ErrLockHeld
	}
	l.events.add("lock")
	var once sync.Once
	return func() {
		once.Do(func() {
			l.events.add("unlock")
			<-c
		})
	}, nil
}

type memLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *memLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

type memPrices struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (p *memPrices) SetPrice(_ context.Context, key string, price float64, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.prices[key] = price
	return nil
}

func (p *memPrices) GetPrice(_ context.Context, key string) (float64, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, time.Time{}, p.err
	}
	v, ok := p.prices[key]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v, time.Time{}, nil
}

func (p *memPrices) GetPrices(ctx context.Context, keys []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, k := range keys {
		if v, _, err := p.GetPrice(ctx, k); err == nil {
			out[k] = v
		}
	}
	return out, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  [][]byte
	err       error
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type harness struct {
	curve   *curve.Curve
	store   *memStore
	locks   *memLocks
	limiter *memLimiter
	prices  *memPrices
	bus     *memBus
	audit   *memAudit
	events  *eventLog
	trades  *TradeService
	markets *MarketService
	logger  *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := curve.New(curve.DefaultConfig())
	require.NoError(t, err)

	h := &harness{
		curve:   c,
		events:  &eventLog{},
		limiter: &memLimiter{allow: true},
		prices:  &memPrices{prices: map[string]float64{}},
		bus:     &memBus{published: map[string][][]byte{}},
		audit:   &memAudit{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.store = newMemStore(h.events)
	h.locks = newMemLocks(h.events)

	h.trades = h.tradeService(c)
	h.markets = h.marketService(c)
	return h
}

// tradeService builds a TradeService over the harness state that prices with
// c.
func (h *harness) tradeService(c *curve.Curve) *TradeService {
	return NewTradeService(TradeDeps{
		Executor:  market.NewExecutor(c),
		Markets:   h.store,
		Ledger:    h.store,
		Positions: h.store,
		Trades:    tradeLister{h.store},
		Locks:     h.locks,
		Limiter:   h.limiter,
		Prices:    h.prices,
		Bus:       h.bus,
		Audit:     h.audit,
	}, TradeConfig{LockTTL: time.Second, RateLimit: 100, RateWindow: time.Minute}, h.logger)
}

func (h *harness) marketService(c *curve.Curve) *MarketService {
	return NewMarketService(c, h.store, h.prices, h.bus, h.audit, h.logger)
}

func (h *harness) createMarket(t *testing.T, slug string) domain.Market {
	t.Helper()
	m, err := h.markets.Create(context.Background(), CreateMarketRequest{Title: "Will it rain", Slug: slug, Creator: "alice"})
	require.NoError(t, err)
	return m
}
