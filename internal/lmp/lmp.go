// Package lmp keeps the per-epoch liquidity-mining accumulators:
// trading volume, maker volume and fees paid in quote terms, keyed by
// (epoch, trading pair, metric, main account) inside the ledger trie.
// Accumulators only ever grow within an epoch; rollover is driven by
// the chain, not by this worker.
package lmp

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"ObSync/internal/trie"
	"ObSync/internal/types"
)

const (
	MetricTradingVolume = "trading_volume"
	MetricMakerVolume   = "maker_volume"
	MetricFeesPaid      = "fees_paid"
)

// maxAccumulator is the saturation ceiling of every accumulator,
// mirroring the 96-bit decimal maximum of the settlement arithmetic.
var maxAccumulator = decimal.RequireFromString("79228162514264337593543950335")

func key(epoch uint32, pair types.TradingPair, metric string, main types.AccountID) []byte {
	return []byte(fmt.Sprintf("lmp:%d:%s:%s:%s", epoch, pair, metric, main))
}

// Read returns the current accumulator value, zero when unset.
func Read(state *trie.State, epoch uint32, pair types.TradingPair, metric string, main types.AccountID) (decimal.Decimal, error) {
	raw, err := state.Get(key(epoch, pair, metric, main))
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	var value decimal.Decimal
	if err := json.Unmarshal(raw, &value); err != nil {
		return decimal.Zero, fmt.Errorf("decode %s accumulator: %w", metric, err)
	}
	return value, nil
}

// accumulate read-add-writes one accumulator, saturating at the
// ceiling instead of overflowing.
func accumulate(state *trie.State, epoch uint32, pair types.TradingPair, metric string, main types.AccountID, delta decimal.Decimal) error {
	current, err := Read(state, epoch, pair, metric, main)
	if err != nil {
		return err
	}
	next := current.Add(delta)
	if next.GreaterThan(maxAccumulator) {
		next = maxAccumulator
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s accumulator: %w", metric, err)
	}
	return state.Insert(key(epoch, pair, metric, main), data)
}

// RecordTrade feeds one settled trade into the epoch accumulators:
// quote volume for both mains, maker volume for the maker only, and
// each party's fee converted to quote terms. An Ask-side fee is
// already quote-denominated; a Bid-side fee is base-denominated and
// converts at the trade price.
func RecordTrade(state *trie.State, epoch uint32, config types.TradingPairConfig, t *types.Trade, makerFee, takerFee decimal.Decimal) error {
	pair := config.Pair()
	volume := t.Volume()

	if err := accumulate(state, epoch, pair, MetricTradingVolume, t.Maker.MainAccount, volume); err != nil {
		return err
	}
	if err := accumulate(state, epoch, pair, MetricTradingVolume, t.Taker.MainAccount, volume); err != nil {
		return err
	}
	if err := accumulate(state, epoch, pair, MetricMakerVolume, t.Maker.MainAccount, volume); err != nil {
		return err
	}

	if err := accumulate(state, epoch, pair, MetricFeesPaid, t.Maker.MainAccount,
		FeeInQuote(t.Maker.Side, makerFee, t.Price)); err != nil {
		return err
	}
	return accumulate(state, epoch, pair, MetricFeesPaid, t.Taker.MainAccount,
		FeeInQuote(t.Taker.Side, takerFee, t.Price))
}

// FeeInQuote converts a settlement fee to quote terms for reporting.
func FeeInQuote(side types.OrderSide, fee, price decimal.Decimal) decimal.Decimal {
	if side == types.Ask {
		return fee
	}
	return fee.Mul(price)
}
