package fraud

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// History capacities. Small enough to bound memory, large enough for the
// statistical features to stabilize.
const (
	priceHistoryCap = 100  // most recent prices per token
	tradeHistoryCap = 1000 // most recent trade events, all tokens

	counterpartyWindow = 100 // trades scanned for repeat counterparties
	manipWindow        = 20  // trades scanned for one-sided flow
	manipSideLimit     = 10  // max appearances on one side within manipWindow

	trendObservations = 10 // minimum prices before a trend is reported
	coldStartVol      = 0.1
)

var (
	ErrMissingParty   = errors.New("fraud: trade event missing party identifier")
	ErrBadNumeric     = errors.New("fraud: trade event has non-finite numeric field")
	ErrNegativeAmount = errors.New("fraud: trade event has negative size or price")
)

// histTrade is one recorded trade in the global rolling history.
type histTrade struct {
	timestamp time.Time
	token     string
	buyer     string
	seller    string
	size      float64
	price     float64
}

// Extractor derives feature vectors from raw trades while maintaining
// bounded rolling histories. Safe for concurrent use; each extraction
// (feature computation plus history append) is atomic.
type Extractor struct {
	mu           sync.Mutex
	prices       map[string][]float64 // token → recent prices, oldest first
	trades       []histTrade          // oldest first
	traderCounts map[string]int       // party → trades participated in
}

// NewExtractor creates an extractor with empty histories.
func NewExtractor() *Extractor {
	return &Extractor{
		prices:       make(map[string][]float64),
		traderCounts: make(map[string]int),
	}
}

// Extract builds the feature vector for a trade and, on success, appends
// the trade to the rolling histories. A failed extraction leaves all
// histories untouched.
func (e *Extractor) Extract(ev TradeEvent) (*FeatureVector, error) {
	if ev.BuyerID == "" || ev.SellerID == "" {
		return nil, ErrMissingParty
	}
	for _, v := range []float64{ev.TradeSize, ev.TradePrice, ev.MarketPrice, ev.BuyerBalance, ev.SellerBalance} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrBadNumeric
		}
	}
	if ev.TradeSize < 0 || ev.TradePrice < 0 {
		return nil, fmt.Errorf("%w: size=%f price=%f", ErrNegativeAmount, ev.TradeSize, ev.TradePrice)
	}

	marketPrice := ev.MarketPrice
	if marketPrice <= 0 {
		marketPrice = ev.TradePrice
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Record the price first: volatility and trend include the current trade.
	e.appendPrice(ev.Token, ev.TradePrice)

	deviation := 0.0
	if marketPrice > 0 {
		deviation = (ev.TradePrice - marketPrice) / marketPrice * 100
	}

	vol := e.rollingVolatility(ev.Token)
	trend := e.marketTrend(ev.Token)

	// Pattern features look at history before this trade is recorded.
	repeat := e.counterpartyRepeat(ev.BuyerID, ev.SellerID)
	manip := e.manipulationFlag(deviation, vol, ev.BuyerID, ev.SellerID)
	frequency := float64(e.traderCounts[ev.BuyerID])

	fv := &FeatureVector{
		TradeSize:          ev.TradeSize,
		TradePrice:         ev.TradePrice,
		TradeValue:         ev.TradeSize * ev.TradePrice,
		MarketPrice:        marketPrice,
		PriceDeviationPct:  deviation,
		RollingVolatility:  vol,
		MarketTrend:        trend,
		BuyerBalanceRatio:  balanceRatio(ev.BuyerBalance),
		SellerBalanceRatio: balanceRatio(ev.SellerBalance),
		TradeFrequency:     frequency,
		AttemptedManip:     manip,
		Hour:               float64(ts.Hour()),
		Weekday:            float64(mondayWeekday(ts)),
		CounterpartyRepeat: repeat,
	}

	// Side effect: the trade becomes history for every later extraction.
	e.appendTrade(histTrade{
		timestamp: ts,
		token:     ev.Token,
		buyer:     ev.BuyerID,
		seller:    ev.SellerID,
		size:      ev.TradeSize,
		price:     ev.TradePrice,
	})

	return fv, nil
}

// LastPrice returns the most recent recorded price for a token.
func (e *Extractor) LastPrice(token string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.prices[token]
	if len(h) == 0 {
		return 0, false
	}
	return h[len(h)-1], true
}

// HistoryLen returns the number of trades currently held in the global history.
func (e *Extractor) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.trades)
}

// appendPrice records a price, evicting the oldest past capacity.
// Caller holds e.mu.
func (e *Extractor) appendPrice(token string, price float64) {
	h := append(e.prices[token], price)
	if len(h) > priceHistoryCap {
		h = h[len(h)-priceHistoryCap:]
	}
	e.prices[token] = h
}

// appendTrade records a trade, evicting the oldest past capacity.
// Caller holds e.mu.
func (e *Extractor) appendTrade(t histTrade) {
	e.trades = append(e.trades, t)
	if len(e.trades) > tradeHistoryCap {
		e.trades = e.trades[len(e.trades)-tradeHistoryCap:]
	}
	e.traderCounts[t.buyer]++
	e.traderCounts[t.seller]++
}

// rollingVolatility is the population standard deviation of simple returns
// over the held price window. Cold-start convention: 0.1 with fewer than
// two observations. Caller holds e.mu.
func (e *Extractor) rollingVolatility(token string) float64 {
	prices := e.prices[token]
	if len(prices) < 2 {
		return coldStartVol
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) == 0 {
		return coldStartVol
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

// marketTrend compares the mean of the last 5 prices to the mean of the
// preceding 5. Requires at least 10 observations. Caller holds e.mu.
func (e *Extractor) marketTrend(token string) float64 {
	prices := e.prices[token]
	if len(prices) < trendObservations {
		return 0
	}

	recent := mean(prices[len(prices)-5:])
	older := mean(prices[len(prices)-10 : len(prices)-5])

	switch {
	case recent > older*1.02:
		return 1
	case recent < older*0.98:
		return -1
	default:
		return 0
	}
}

// counterpartyRepeat reports whether the pair has traded (either direction)
// within the last counterpartyWindow trades. Caller holds e.mu.
func (e *Extractor) counterpartyRepeat(buyer, seller string) float64 {
	recent := tail(e.trades, counterpartyWindow)
	for _, t := range recent {
		if (t.buyer == buyer && t.seller == seller) || (t.buyer == seller && t.seller == buyer) {
			return 1
		}
	}
	return 0
}

// manipulationFlag flags a large price deviation during an abnormally calm
// market, or one party dominating recent flow. Caller holds e.mu.
func (e *Extractor) manipulationFlag(deviation, volatility float64, buyer, seller string) float64 {
	if math.Abs(deviation) > 5.0 && volatility < 0.1 {
		return 1
	}

	recent := tail(e.trades, manipWindow)
	buyerSide, sellerSide := 0, 0
	for _, t := range recent {
		if t.buyer == buyer {
			buyerSide++
		}
		if t.seller == seller {
			sellerSide++
		}
	}
	if buyerSide > manipSideLimit || sellerSide > manipSideLimit {
		return 1
	}
	return 0
}

// balanceRatio is balance / (balance + 1000), a squashed proxy for how much
// of the visible market the party holds. Matches the trained model's input.
func balanceRatio(balance float64) float64 {
	total := balance + 1000
	if total == 0 {
		return 0.5
	}
	return math.Min(balance/total, 1.0)
}

// mondayWeekday maps time.Weekday (Sunday=0) to the model's Monday=0 scheme.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func tail(ts []histTrade, n int) []histTrade {
	if len(ts) <= n {
		return ts
	}
	return ts[len(ts)-n:]
}
