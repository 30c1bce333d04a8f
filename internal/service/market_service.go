package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

const maxOutcomes = 16

var (
	defaultOutcomes = []string{"YES", "NO"}
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	nonSlugChars    = regexp.MustCompile(`[^a-z0-9]+`)
)

// CreateMarketRequest describes a new market. Slug is derived from Title
// when empty; Outcomes defaults to YES and NO.
type CreateMarketRequest struct {
	Slug     string   `json:"slug"`
	Title    string   `json:"title"`
	Creator  string   `json:"creator"`
	Outcomes []string `json:"outcomes"`
}

// OutcomeSnapshot is the live view of one outcome.
type OutcomeSnapshot struct {
	OutcomeID string  `json:"outcome_id"`
	Label     string  `json:"label"`
	Supply    float64 `json:"supply"`
	Reserve   float64 `json:"reserve"`
	Price     float64 `json:"price"`
	// Probability is this outcome's share of the summed spot prices.
	Probability float64 `json:"probability"`
	// PriceSource is "cache" or "curve".
	PriceSource string `json:"price_source"`
}

// MarketSnapshot is a market with the live view of every outcome.
type MarketSnapshot struct {
	ID             string            `json:"id"`
	Slug           string            `json:"slug"`
	Title          string            `json:"title"`
	Creator        string            `json:"creator"`
	Status         string            `json:"status"`
	WinningOutcome string            `json:"winning_outcome,omitempty"`
	Outcomes       []OutcomeSnapshot `json:"outcomes"`
	TakenAt        time.Time         `json:"taken_at"`
	// CurveMismatch is set when the market was created under other curve
	// constants than the running ones. Such a market cannot be traded.
	CurveMismatch bool `json:"curve_mismatch,omitempty"`
}

// CurveInfo is the operator view of the calibrated curve.
type CurveInfo struct {
	Config      curve.Config   `json:"config"`
	Fingerprint string         `json:"fingerprint"`
	Anchors     []curve.Anchor `json:"anchors"`
}

// MarketService creates, reads and freezes markets.
type MarketService struct {
	curve   *curve.Curve
	markets domain.MarketStore
	prices  domain.PriceCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewMarketService creates a MarketService.
func NewMarketService(
	c *curve.Curve,
	markets domain.MarketStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		curve:   c,
		markets: markets,
		prices:  prices,
		bus:     bus,
		audit:   audit,
		logger:  logger.With(slog.String("component", "market_service")),
		now:     time.Now,
	}
}

// Create validates req and stores a market whose outcomes all start at zero
// supply.
func (s *MarketService) Create(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Market{}, fmt.Errorf("market_service: title is required: %w", domain.ErrInvalidRequest)
	}
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = Slugify(title)
	}
	if !slugPattern.MatchString(slug) {
		return domain.Market{}, fmt.Errorf("market_service: slug %q must be lowercase words joined by '-': %w", slug, domain.ErrInvalidRequest)
	}

	labels := req.Outcomes
	if len(labels) == 0 {
		labels = defaultOutcomes
	}
	if len(labels) < 2 || len(labels) > maxOutcomes {
		return domain.Market{}, fmt.Errorf("market_service: need 2 to %d outcomes, got %d: %w", maxOutcomes, len(labels), domain.ErrInvalidRequest)
	}

	now := s.now().UTC()
	m := domain.Market{
		ID:        uuid.NewString(),
		Slug:      slug,
		Title:     title,
		Creator:   strings.TrimSpace(req.Creator),
		Status:    domain.MarketStatusActive,
		CreatedAt: now,
		UpdatedAt: now,

		CurveFingerprint: s.curve.Fingerprint(),
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		label := strings.TrimSpace(l)
		id := Slugify(label)
		if id == "" {
			return domain.Market{}, fmt.Errorf("market_service: outcome label %q is empty: %w", l, domain.ErrInvalidRequest)
		}
		if seen[id] {
			return domain.Market{}, fmt.Errorf("market_service: duplicate outcome %q: %w", label, domain.ErrInvalidRequest)
		}
		seen[id] = true
		m.Outcomes = append(m.Outcomes, domain.OutcomeState{
			MarketID:  m.ID,
			OutcomeID: id,
			Label:     label,
			UpdatedAt: now,
		})
	}

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("slug", m.Slug),
		slog.Int("outcomes", len(m.Outcomes)),
	)
	s.notify(ctx, "market.created", domain.MarketEvent{
		Type: "created", MarketID: m.ID, Slug: m.Slug, Timestamp: now,
	})
	return m, nil
}

// Get returns a market by ID, or by slug when no market has that ID.
func (s *MarketService) Get(ctx context.Context, idOrSlug string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, idOrSlug)
	if errors.Is(err, domain.ErrNotFound) {
		m, err = s.markets.GetBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", idOrSlug, err)
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Snapshot returns the market with a spot price and implied probability for
// every outcome. Prices come from the price cache, read concurrently, and
// fall back to the curve when an entry is missing.
func (s *MarketService) Snapshot(ctx context.Context, idOrSlug string) (MarketSnapshot, error) {
	m, err := s.Get(ctx, idOrSlug)
	if err != nil {
		return MarketSnapshot{}, err
	}

	outs := make([]OutcomeSnapshot, len(m.Outcomes))
	g, gctx := errgroup.WithContext(ctx)
	for i, o := range m.Outcomes {
		g.Go(func() error {
			snap := OutcomeSnapshot{
				OutcomeID:   o.OutcomeID,
				Label:       o.Label,
				Supply:      o.Supply,
				Reserve:     o.Reserve,
				Price:       s.curve.SpotPrice(o.Supply),
				PriceSource: "curve",
			}
			price, _, err := s.prices.GetPrice(gctx, domain.PriceKey(m.ID, o.OutcomeID))
			switch {
			case err == nil:
				snap.Price = price
				snap.PriceSource = "cache"
			case errors.Is(err, domain.ErrNotFound):
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				s.logger.WarnContext(gctx, "price cache read failed",
					slog.String("market_id", m.ID),
					slog.String("outcome_id", o.OutcomeID),
					slog.String("error", err.Error()),
				)
			}
			outs[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MarketSnapshot{}, fmt.Errorf("market_service: snapshot %s: %w", m.ID, err)
	}

	var total float64
	for _, o := range outs {
		total += o.Price
	}
	if total > 0 {
		for i := range outs {
			outs[i].Probability = outs[i].Price / total
		}
	}

	return MarketSnapshot{
		ID:             m.ID,
		Slug:           m.Slug,
		Title:          m.Title,
		Creator:        m.Creator,
		Status:         string(m.Status),
		WinningOutcome: m.WinningOutcome,
		Outcomes:       outs,
		TakenAt:        s.now().UTC(),
		CurveMismatch:  m.CurveFingerprint != s.curve.Fingerprint(),
	}, nil
}

// Freeze records an externally decided resolution. Every outcome of the
// market rejects trades from then on.
func (s *MarketService) Freeze(ctx context.Context, id, winningOutcome string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: freeze: %w", err)
	}
	if _, ok := m.Outcome(winningOutcome); !ok {
		return domain.Market{}, fmt.Errorf("market_service: market %s has no outcome %q: %w", id, winningOutcome, domain.ErrInvalidRequest)
	}

	at := s.now().UTC()
	if err := s.markets.Resolve(ctx, id, winningOutcome, at); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: freeze: %w", err)
	}
	m.Status = domain.MarketStatusResolved
	m.WinningOutcome = winningOutcome
	m.ResolvedAt = &at

	s.logger.InfoContext(ctx, "market frozen",
		slog.String("market_id", id),
		slog.String("winning_outcome", winningOutcome),
	)
	s.notify(ctx, "market.resolved", domain.MarketEvent{
		Type: "resolved", MarketID: m.ID, Slug: m.Slug, WinningOutcome: winningOutcome, Timestamp: at,
	})
	return m, nil
}

// Curve returns the curve constants and anchor table.
func (s *MarketService) Curve() CurveInfo {
	return CurveInfo{Config: s.curve.Config(), Fingerprint: s.curve.Fingerprint(), Anchors: s.curve.Anchors()}
}

func (s *MarketService) notify(ctx context.Context, event string, evt domain.MarketEvent) {
	if err := s.audit.Log(ctx, event, map[string]any{
		"market_id":       evt.MarketID,
		"slug":            evt.Slug,
		"winning_outcome": evt.WinningOutcome,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
	payload, err := json.Marshal(evt)
	if err == nil {
		err = s.bus.Publish(ctx, domain.ChannelMarkets, payload)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "publish market event failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// Slugify lowercases s and joins its alphanumeric runs with '-'.
func Slugify(s string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
