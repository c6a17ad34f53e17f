package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order: Bid buys base with quote,
// Ask sells base for quote. The two cases are closed — settlement and
// fee conversion dispatch on exactly these.
type OrderSide string

const (
	Bid OrderSide = "Bid"
	Ask OrderSide = "Ask"
)

// Other returns the opposite side.
func (s OrderSide) Other() OrderSide {
	if s == Bid {
		return Ask
	}
	return Bid
}

// TradingPair identifies a market as base/quote assets.
type TradingPair struct {
	Base  AssetID `json:"base"`
	Quote AssetID `json:"quote"`
}

func (p TradingPair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}

func (p TradingPair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *TradingPair) UnmarshalText(data []byte) error {
	parts := strings.SplitN(string(data), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("trading pair %q: want base/quote", string(data))
	}
	p.Base, p.Quote = AssetID(parts[0]), AssetID(parts[1])
	return nil
}

// TradingPairConfig is the on-chain market configuration consulted
// during settlement. Fee fractions are charged on the asset each party
// receives.
type TradingPairConfig struct {
	BaseAsset  AssetID         `json:"base_asset"`
	QuoteAsset AssetID         `json:"quote_asset"`
	MinVolume  decimal.Decimal `json:"min_volume"`
	MakerFee   decimal.Decimal `json:"maker_fee"`
	TakerFee   decimal.Decimal `json:"taker_fee"`
}

// Pair returns the trading pair this config describes.
func (c TradingPairConfig) Pair() TradingPair {
	return TradingPair{Base: c.BaseAsset, Quote: c.QuoteAsset}
}

// Order is one side of a matched trade as emitted by the aggregator.
type Order struct {
	MainAccount AccountID   `json:"main_account"`
	Proxy       AccountID   `json:"proxy"`
	Pair        TradingPair `json:"pair"`
	Side        OrderSide   `json:"side"`
}

// Trade is a matched maker/taker pair settled at a single price and
// amount (amount in base terms).
type Trade struct {
	Maker  Order           `json:"maker"`
	Taker  Order           `json:"taker"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Time   int64           `json:"time"`
}

// Volume returns price*amount, the trade's quote-denominated volume.
func (t *Trade) Volume() decimal.Decimal {
	return t.Price.Mul(t.Amount)
}

// Verify checks the trade's internal consistency against the market
// config. A failing trade aborts the whole batch before commit.
func (t *Trade) Verify(config TradingPairConfig) bool {
	if !t.Price.IsPositive() || !t.Amount.IsPositive() {
		return false
	}
	if t.Maker.Pair != config.Pair() || t.Taker.Pair != config.Pair() {
		return false
	}
	if t.Maker.Side == t.Taker.Side {
		return false
	}
	if t.Maker.Side != Bid && t.Maker.Side != Ask {
		return false
	}
	return t.Volume().GreaterThanOrEqual(config.MinVolume)
}
