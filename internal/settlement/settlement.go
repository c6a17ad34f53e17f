// Package settlement contains the pure ledger mutations of the replay
// pipeline: deposits, trades and withdrawals against the trie-backed
// balance map, plus the on-chain account registry mirror consulted by
// withdrawal authorization.
package settlement

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ObSync/internal/lmp"
	"ObSync/internal/trie"
	"ObSync/internal/types"
)

var (
	// ErrInsufficientBalance rejects a debit that would go negative.
	// Nothing is mutated on rejection.
	ErrInsufficientBalance = errors.New("settlement: insufficient balance")
	// ErrInvalidAmount rejects a negative credit or debit. Amounts are
	// attacker-controlled input; a negative debit would mint balance.
	ErrInvalidAmount = errors.New("settlement: invalid amount")
	// ErrInvalidTrade rejects a trade failing verification against its
	// market config.
	ErrInvalidTrade = errors.New("settlement: invalid trade")
	// ErrAccountNotFound rejects an operation on an unregistered main
	// account.
	ErrAccountNotFound = errors.New("settlement: main account not found")
	// ErrProxyNotFound rejects a proxy operation for an unauthorized
	// delegate key.
	ErrProxyNotFound = errors.New("settlement: proxy not found")
	// ErrProxyLimitReached rejects proxy registration past the cap.
	ErrProxyLimitReached = errors.New("settlement: proxy limit reached")
)

// Trie key prefixes. Balances and registry entries share the trie with
// the reserved state-info key; prefixes keep the namespaces disjoint.
var (
	balancePrefix = []byte("b:")
	accountPrefix = []byte("a:")
)

func balanceKey(main types.AccountID) []byte {
	return append(append([]byte{}, balancePrefix...), main.Bytes()...)
}

func accountKey(main types.AccountID) []byte {
	return append(append([]byte{}, accountPrefix...), main.Bytes()...)
}

// Balances returns the asset balance map of a main account. Accounts
// with no ledger entry have all-zero balances.
func Balances(state *trie.State, main types.AccountID) (map[types.AssetID]decimal.Decimal, error) {
	raw, err := state.Get(balanceKey(main))
	if err != nil {
		return nil, err
	}
	balances := make(map[types.AssetID]decimal.Decimal)
	if raw == nil {
		return balances, nil
	}
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, fmt.Errorf("decode balances for %s: %w", main, err)
	}
	return balances, nil
}

func storeBalances(state *trie.State, main types.AccountID, balances map[types.AssetID]decimal.Decimal) error {
	data, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("encode balances for %s: %w", main, err)
	}
	return state.Insert(balanceKey(main), data)
}

// AddBalance credits amount of asset to the main account. Negative
// credits are rejected with ErrInvalidAmount.
func AddBalance(state *trie.State, main types.AccountID, asset types.AssetID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: credit %s %s to %s", ErrInvalidAmount, amount, asset, main)
	}
	balances, err := Balances(state, main)
	if err != nil {
		return err
	}
	balances[asset] = balances[asset].Add(amount)
	return storeBalances(state, main, balances)
}

// SubBalance debits amount of asset from the main account. The debit
// fails atomically with ErrInsufficientBalance when amount exceeds the
// current balance; no partial mutation reaches the overlay.
func SubBalance(state *trie.State, main types.AccountID, asset types.AssetID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: debit %s %s from %s", ErrInvalidAmount, amount, asset, main)
	}
	balances, err := Balances(state, main)
	if err != nil {
		return err
	}
	current := balances[asset]
	if current.LessThan(amount) {
		return fmt.Errorf("%w: account %s asset %s has %s, needs %s",
			ErrInsufficientBalance, main, asset, current, amount)
	}
	balances[asset] = current.Sub(amount)
	return storeBalances(state, main, balances)
}

// ProcessTrade settles a matched trade: each party debits the asset it
// gives and credits the asset it receives minus its fee, and the trade
// feeds the epoch volume accumulators. The returned fees are the
// maker's and taker's, denominated in the asset each received.
//
// All mutations land in the cycle's overlay; the caller commits the
// trie only after the whole batch succeeded, so a failing trade leaves
// nothing behind.
func ProcessTrade(state *trie.State, t *types.Trade, config types.TradingPairConfig, epoch uint32) (makerFee, takerFee decimal.Decimal, err error) {
	if !t.Verify(config) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s %s@%s", ErrInvalidTrade, t.Maker.Pair, t.Amount, t.Price)
	}

	if makerFee, err = settleSide(state, &t.Maker, t, config.MakerFee, config); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if takerFee, err = settleSide(state, &t.Taker, t, config.TakerFee, config); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if err = lmp.RecordTrade(state, epoch, config, t, makerFee, takerFee); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return makerFee, takerFee, nil
}

// settleSide applies one party's legs. Bid buys base with quote, Ask
// sells base for quote; the fee comes out of the received asset.
func settleSide(state *trie.State, order *types.Order, t *types.Trade, feeFraction decimal.Decimal, config types.TradingPairConfig) (decimal.Decimal, error) {
	base := t.Amount
	quote := t.Volume()

	switch order.Side {
	case types.Bid:
		fee := base.Mul(feeFraction)
		if err := SubBalance(state, order.MainAccount, config.QuoteAsset, quote); err != nil {
			return decimal.Zero, err
		}
		if err := AddBalance(state, order.MainAccount, config.BaseAsset, base.Sub(fee)); err != nil {
			return decimal.Zero, err
		}
		return fee, nil
	case types.Ask:
		fee := quote.Mul(feeFraction)
		if err := SubBalance(state, order.MainAccount, config.BaseAsset, base); err != nil {
			return decimal.Zero, err
		}
		if err := AddBalance(state, order.MainAccount, config.QuoteAsset, quote.Sub(fee)); err != nil {
			return decimal.Zero, err
		}
		return fee, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: side %q", ErrInvalidTrade, order.Side)
	}
}

// Account returns the registry entry for a main account, or nil when
// the account was never registered.
func Account(state *trie.State, main types.AccountID) (*types.AccountInfo, error) {
	raw, err := state.Get(accountKey(main))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var info types.AccountInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", main, err)
	}
	return &info, nil
}

func storeAccount(state *trie.State, main types.AccountID, info *types.AccountInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", main, err)
	}
	return state.Insert(accountKey(main), data)
}

// RegisterAccount mirrors an on-chain account registration. Replayed
// registrations are a no-op; the chain already enforced uniqueness.
func RegisterAccount(state *trie.State, main types.AccountID) error {
	existing, err := Account(state, main)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return storeAccount(state, main, &types.AccountInfo{Proxies: []types.AccountID{}})
}

// AddProxy mirrors an on-chain proxy registration.
func AddProxy(state *trie.State, main, proxy types.AccountID) error {
	info, err := Account(state, main)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, main)
	}
	if info.HasProxy(proxy) {
		return nil
	}
	if len(info.Proxies) >= types.ProxyLimit {
		return fmt.Errorf("%w: %s", ErrProxyLimitReached, main)
	}
	info.Proxies = append(info.Proxies, proxy)
	return storeAccount(state, main, info)
}

// RemoveProxy mirrors an on-chain proxy removal.
func RemoveProxy(state *trie.State, main, proxy types.AccountID) error {
	info, err := Account(state, main)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, main)
	}
	for i, p := range info.Proxies {
		if p == proxy {
			info.Proxies = append(info.Proxies[:i], info.Proxies[i+1:]...)
			return storeAccount(state, main, info)
		}
	}
	return fmt.Errorf("%w: %s on %s", ErrProxyNotFound, proxy, main)
}
