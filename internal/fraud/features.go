package fraud

// FeatureVector is the fixed, ordered set of numeric features consumed by
// the classifier. Immutable once built.
type FeatureVector struct {
	TradeSize          float64
	TradePrice         float64
	TradeValue         float64
	MarketPrice        float64
	PriceDeviationPct  float64
	RollingVolatility  float64
	MarketTrend        float64 // -1 down, 0 flat, +1 up
	BuyerBalanceRatio  float64
	SellerBalanceRatio float64
	TradeFrequency     float64
	AttemptedManip     float64 // 0 or 1
	Hour               float64 // 0-23
	Weekday            float64 // 0 (Monday) - 6 (Sunday)
	CounterpartyRepeat float64 // 0 or 1
}

// featureOrder is the canonical feature ordering. Model artifacts declare
// their own ordering and must match this set exactly.
var featureOrder = []string{
	"trade_size",
	"trade_price",
	"trade_value",
	"market_price",
	"price_deviation_pct",
	"rolling_volatility",
	"market_trend",
	"buyer_balance_ratio",
	"seller_balance_ratio",
	"trade_frequency",
	"attempted_manip",
	"hour",
	"weekday",
	"counterparty_repeat",
}

// FeatureNames returns the canonical feature ordering.
func FeatureNames() []string {
	out := make([]string, len(featureOrder))
	copy(out, featureOrder)
	return out
}

// Get returns the named feature value. Unknown names return (0, false).
func (v *FeatureVector) Get(name string) (float64, bool) {
	switch name {
	case "trade_size":
		return v.TradeSize, true
	case "trade_price":
		return v.TradePrice, true
	case "trade_value":
		return v.TradeValue, true
	case "market_price":
		return v.MarketPrice, true
	case "price_deviation_pct":
		return v.PriceDeviationPct, true
	case "rolling_volatility":
		return v.RollingVolatility, true
	case "market_trend":
		return v.MarketTrend, true
	case "buyer_balance_ratio":
		return v.BuyerBalanceRatio, true
	case "seller_balance_ratio":
		return v.SellerBalanceRatio, true
	case "trade_frequency":
		return v.TradeFrequency, true
	case "attempted_manip":
		return v.AttemptedManip, true
	case "hour":
		return v.Hour, true
	case "weekday":
		return v.Weekday, true
	case "counterparty_repeat":
		return v.CounterpartyRepeat, true
	default:
		return 0, false
	}
}

// Map returns the features as a name→value map (for logging and API echo).
func (v *FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(featureOrder))
	for _, name := range featureOrder {
		val, _ := v.Get(name)
		m[name] = val
	}
	return m
}
