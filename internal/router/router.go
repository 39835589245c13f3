package router

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"overlord/internal/schema"
)

// Score weights. Priority dominates, then spread, liquidity and fees;
// an unhealthy venue is penalized hard enough to lose to any healthy one.
const (
	scoreSpreadTight   = 30
	scoreSpreadNarrow  = 20
	scoreSpreadWide    = 10
	scoreLiquidityX2   = 20
	scoreLiquidityX1   = 10
	scoreLiquidityThin = -10
	scoreNoQuote       = -20
	scoreFeeLow        = 10
	scoreFeeMid        = 5
	scoreUnhealthy     = -50
)

// Candidate is a scored venue.
type Candidate struct {
	Venue string
	Score int
}

// Router ranks venues for order execution. Quotes are a last-write-wins
// cache per (symbol, venue); profiles and health flags are mutable at
// runtime.
type Router struct {
	mu       sync.RWMutex
	profiles map[string]schema.VenueProfile
	health   map[string]bool
	quotes   map[string]map[string]schema.Quote
}

// New creates a router with the given venue profiles.
func New(profiles []schema.VenueProfile) *Router {
	r := &Router{
		profiles: make(map[string]schema.VenueProfile, len(profiles)),
		health:   make(map[string]bool),
		quotes:   make(map[string]map[string]schema.Quote),
	}
	for _, profile := range profiles {
		r.profiles[profile.Name] = profile
	}
	return r
}

// UpdateProfile inserts or replaces a venue profile.
func (r *Router) UpdateProfile(profile schema.VenueProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.Name] = profile
	logs.Infof("venue profile updated: %s", profile.Name)
}

// SetHealth flips the live health flag for a venue.
func (r *Router) SetHealth(venue string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[venue] = healthy
	logs.Infof("venue health updated: %s = %t", venue, healthy)
}

// UpdateQuote stores the latest quote for routing decisions.
func (r *Router) UpdateQuote(quote schema.Quote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byVenue, ok := r.quotes[quote.Symbol]
	if !ok {
		byVenue = make(map[string]schema.Quote)
		r.quotes[quote.Symbol] = byVenue
	}
	byVenue[quote.Venue] = quote
}

// Quote returns the cached quote for (symbol, venue).
func (r *Router) Quote(symbol, venue string) (schema.Quote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	quote, ok := r.quotes[symbol][venue]
	return quote, ok
}

// Route returns the best venue for the order, or "" when none qualifies.
// An order that already names a venue uses it directly when it is enabled
// and healthy.
func (r *Router) Route(order *schema.Order) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if order.Venue != "" {
		if r.availableLocked(order.Venue) {
			return order.Venue
		}
		logs.Warnf("specified venue unavailable: %s", order.Venue)
		return ""
	}

	ranked := r.rankLocked(order)
	if len(ranked) == 0 {
		logs.Errorf("no available venue: symbol=%s qty=%s", order.Symbol, order.Quantity)
		return ""
	}

	best := ranked[0]
	logs.Infof("order routed: id=%s symbol=%s venue=%s score=%d candidates=%d",
		order.ID, order.Symbol, best.Venue, best.Score, len(ranked))
	return best.Venue
}

// Rank returns all qualifying venues ordered by descending score. Equal
// scores break by venue name for deterministic results.
func (r *Router) Rank(order *schema.Order) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rankLocked(order)
}

func (r *Router) rankLocked(order *schema.Order) []Candidate {
	candidates := make([]Candidate, 0, len(r.profiles))
	for name := range r.profiles {
		if !r.availableLocked(name) {
			continue
		}
		score, ok := r.scoreLocked(order, name)
		if !ok || score <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{Venue: name, Score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Venue < candidates[j].Venue
	})
	return candidates
}

func (r *Router) scoreLocked(order *schema.Order, venue string) (int, bool) {
	profile, ok := r.profiles[venue]
	if !ok {
		return 0, false
	}

	// A venue whose size window cannot hold the order is out, regardless
	// of any other score.
	if !profile.AcceptsQuantity(order.Quantity) {
		return 0, false
	}

	score := (10 - profile.Priority) * 10

	quote, hasQuote := r.quotes[order.Symbol][venue]
	if hasQuote {
		spreadBps := quote.SpreadBps()
		switch {
		case spreadBps.LessThan(decimal.NewFromInt(5)):
			score += scoreSpreadTight
		case spreadBps.LessThan(decimal.NewFromInt(10)):
			score += scoreSpreadNarrow
		case spreadBps.LessThan(decimal.NewFromInt(20)):
			score += scoreSpreadWide
		}

		available := quote.AskSize
		if order.Side == schema.OrderSideSell {
			available = quote.BidSize
		}
		switch {
		case available.GreaterThanOrEqual(order.Quantity.Mul(decimal.NewFromInt(2))):
			score += scoreLiquidityX2
		case available.GreaterThanOrEqual(order.Quantity):
			score += scoreLiquidityX1
		default:
			score += scoreLiquidityThin
		}
	} else {
		score += scoreNoQuote
	}

	feeBps := profile.TakerFee.Mul(decimal.NewFromInt(10000))
	switch {
	case feeBps.LessThan(decimal.NewFromInt(5)):
		score += scoreFeeLow
	case feeBps.LessThan(decimal.NewFromInt(10)):
		score += scoreFeeMid
	}

	if healthy, known := r.health[venue]; known && !healthy {
		score += scoreUnhealthy
	}

	if score < 0 {
		score = 0
	}
	return score, true
}

func (r *Router) availableLocked(venue string) bool {
	profile, ok := r.profiles[venue]
	if !ok || !profile.Enabled {
		return false
	}
	if healthy, known := r.health[venue]; known && !healthy {
		return false
	}
	return true
}
