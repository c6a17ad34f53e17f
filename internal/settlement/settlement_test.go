package settlement_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ObSync/internal/settlement"
	"ObSync/internal/store"
	"ObSync/internal/trie"
	"ObSync/internal/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func account(b byte) types.AccountID {
	var a types.AccountID
	a[0] = b
	return a
}

func btcUsdtConfig() types.TradingPairConfig {
	return types.TradingPairConfig{
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		MinVolume:  dec("1"),
		MakerFee:   dec("0.001"),
		TakerFee:   dec("0.002"),
	}
}

func newState(t *testing.T) *trie.State {
	t.Helper()
	return trie.Load(store.NewMemDB(), store.SentinelRoot)
}

// ============================================================================
// Test: Balances
// ============================================================================

func TestAddBalance_NewAccount(t *testing.T) {
	state := newState(t)
	main := account(1)

	if err := settlement.AddBalance(state, main, "USDT", dec("100")); err != nil {
		t.Fatalf("add balance: %v", err)
	}

	balances, err := settlement.Balances(state, main)
	if err != nil {
		t.Fatalf("read balances: %v", err)
	}
	if !balances["USDT"].Equal(dec("100")) {
		t.Errorf("got %s, want 100", balances["USDT"])
	}
}

func TestSubBalance_Insufficient(t *testing.T) {
	state := newState(t)
	main := account(1)
	settlement.AddBalance(state, main, "USDT", dec("50"))

	err := settlement.SubBalance(state, main, "USDT", dec("50.01"))
	if !errors.Is(err, settlement.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	// Rejection must leave the balance untouched.
	balances, _ := settlement.Balances(state, main)
	if !balances["USDT"].Equal(dec("50")) {
		t.Errorf("balance mutated on rejection: got %s, want 50", balances["USDT"])
	}
}

func TestBalances_NegativeAmountsRejected(t *testing.T) {
	state := newState(t)
	main := account(1)
	settlement.AddBalance(state, main, "USDT", dec("50"))

	// A negative debit would mint balance out of thin air.
	err := settlement.SubBalance(state, main, "USDT", dec("-30"))
	if !errors.Is(err, settlement.ErrInvalidAmount) {
		t.Fatalf("negative debit: got %v, want ErrInvalidAmount", err)
	}
	err = settlement.AddBalance(state, main, "USDT", dec("-30"))
	if !errors.Is(err, settlement.ErrInvalidAmount) {
		t.Fatalf("negative credit: got %v, want ErrInvalidAmount", err)
	}

	balances, _ := settlement.Balances(state, main)
	if !balances["USDT"].Equal(dec("50")) {
		t.Errorf("balance mutated on rejection: got %s, want 50", balances["USDT"])
	}
}

func TestSubBalance_ExactDrain(t *testing.T) {
	state := newState(t)
	main := account(1)
	settlement.AddBalance(state, main, "USDT", dec("50"))

	if err := settlement.SubBalance(state, main, "USDT", dec("50")); err != nil {
		t.Fatalf("exact drain: %v", err)
	}
	balances, _ := settlement.Balances(state, main)
	if !balances["USDT"].IsZero() {
		t.Errorf("got %s, want 0", balances["USDT"])
	}
}

// ============================================================================
// Test: ProcessTrade
// ============================================================================

// Taker bids 10 BTC at price 2 against the maker's ask. The maker
// gives 10 BTC and receives 20 USDT minus a 0.1% quote fee; the taker
// gives 20 USDT and receives 10 BTC minus a 0.2% base fee.
func TestProcessTrade_Settlement(t *testing.T) {
	state := newState(t)
	config := btcUsdtConfig()
	maker, taker := account(1), account(2)

	settlement.AddBalance(state, maker, "BTC", dec("10"))
	settlement.AddBalance(state, taker, "USDT", dec("20"))

	trade := &types.Trade{
		Maker:  types.Order{MainAccount: maker, Pair: config.Pair(), Side: types.Ask},
		Taker:  types.Order{MainAccount: taker, Pair: config.Pair(), Side: types.Bid},
		Price:  dec("2"),
		Amount: dec("10"),
	}

	makerFee, takerFee, err := settlement.ProcessTrade(state, trade, config, 1)
	if err != nil {
		t.Fatalf("process trade: %v", err)
	}
	if !makerFee.Equal(dec("0.02")) {
		t.Errorf("maker fee: got %s, want 0.02", makerFee)
	}
	if !takerFee.Equal(dec("0.02")) {
		t.Errorf("taker fee: got %s, want 0.02", takerFee)
	}

	makerBal, _ := settlement.Balances(state, maker)
	if !makerBal["BTC"].IsZero() {
		t.Errorf("maker BTC: got %s, want 0", makerBal["BTC"])
	}
	if !makerBal["USDT"].Equal(dec("19.98")) {
		t.Errorf("maker USDT: got %s, want 19.98", makerBal["USDT"])
	}

	takerBal, _ := settlement.Balances(state, taker)
	if !takerBal["USDT"].IsZero() {
		t.Errorf("taker USDT: got %s, want 0", takerBal["USDT"])
	}
	if !takerBal["BTC"].Equal(dec("9.98")) {
		t.Errorf("taker BTC: got %s, want 9.98", takerBal["BTC"])
	}
}

// Credited amounts plus fees must equal debited amounts per asset.
func TestProcessTrade_Conservation(t *testing.T) {
	state := newState(t)
	config := btcUsdtConfig()
	maker, taker := account(1), account(2)

	settlement.AddBalance(state, maker, "BTC", dec("10"))
	settlement.AddBalance(state, taker, "USDT", dec("20"))

	trade := &types.Trade{
		Maker:  types.Order{MainAccount: maker, Pair: config.Pair(), Side: types.Ask},
		Taker:  types.Order{MainAccount: taker, Pair: config.Pair(), Side: types.Bid},
		Price:  dec("2"),
		Amount: dec("10"),
	}
	makerFee, takerFee, err := settlement.ProcessTrade(state, trade, config, 1)
	if err != nil {
		t.Fatalf("process trade: %v", err)
	}

	makerBal, _ := settlement.Balances(state, maker)
	takerBal, _ := settlement.Balances(state, taker)

	// 10 BTC entered the trade: taker holds 9.98, taker fee burned 0.02.
	totalBTC := makerBal["BTC"].Add(takerBal["BTC"]).Add(takerFee)
	if !totalBTC.Equal(dec("10")) {
		t.Errorf("BTC not conserved: got %s, want 10", totalBTC)
	}
	// 20 USDT entered the trade: maker holds 19.98, maker fee burned 0.02.
	totalUSDT := makerBal["USDT"].Add(takerBal["USDT"]).Add(makerFee)
	if !totalUSDT.Equal(dec("20")) {
		t.Errorf("USDT not conserved: got %s, want 20", totalUSDT)
	}
}

func TestProcessTrade_InsufficientMakerBalance(t *testing.T) {
	state := newState(t)
	config := btcUsdtConfig()
	maker, taker := account(1), account(2)

	settlement.AddBalance(state, maker, "BTC", dec("5")) // needs 10
	settlement.AddBalance(state, taker, "USDT", dec("20"))

	trade := &types.Trade{
		Maker:  types.Order{MainAccount: maker, Pair: config.Pair(), Side: types.Ask},
		Taker:  types.Order{MainAccount: taker, Pair: config.Pair(), Side: types.Bid},
		Price:  dec("2"),
		Amount: dec("10"),
	}
	_, _, err := settlement.ProcessTrade(state, trade, config, 1)
	if !errors.Is(err, settlement.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestProcessTrade_BelowMinVolume(t *testing.T) {
	state := newState(t)
	config := btcUsdtConfig() // min volume 1

	trade := &types.Trade{
		Maker:  types.Order{MainAccount: account(1), Pair: config.Pair(), Side: types.Ask},
		Taker:  types.Order{MainAccount: account(2), Pair: config.Pair(), Side: types.Bid},
		Price:  dec("0.1"),
		Amount: dec("0.5"), // volume 0.05
	}
	_, _, err := settlement.ProcessTrade(state, trade, config, 1)
	if !errors.Is(err, settlement.ErrInvalidTrade) {
		t.Errorf("got %v, want ErrInvalidTrade", err)
	}
}

func TestProcessTrade_SameSideRejected(t *testing.T) {
	state := newState(t)
	config := btcUsdtConfig()

	trade := &types.Trade{
		Maker:  types.Order{MainAccount: account(1), Pair: config.Pair(), Side: types.Bid},
		Taker:  types.Order{MainAccount: account(2), Pair: config.Pair(), Side: types.Bid},
		Price:  dec("2"),
		Amount: dec("10"),
	}
	_, _, err := settlement.ProcessTrade(state, trade, config, 1)
	if !errors.Is(err, settlement.ErrInvalidTrade) {
		t.Errorf("got %v, want ErrInvalidTrade", err)
	}
}

// ============================================================================
// Test: Account registry
// ============================================================================

func TestRegisterAccount_Idempotent(t *testing.T) {
	state := newState(t)
	main := account(1)

	if err := settlement.RegisterAccount(state, main); err != nil {
		t.Fatalf("register: %v", err)
	}
	settlement.AddProxy(state, main, account(2))
	if err := settlement.RegisterAccount(state, main); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	// Replayed registration must not clobber existing proxies.
	info, _ := settlement.Account(state, main)
	if !info.HasProxy(account(2)) {
		t.Error("re-registration dropped an existing proxy")
	}
}

func TestAddProxy_UnregisteredAccount(t *testing.T) {
	state := newState(t)
	err := settlement.AddProxy(state, account(1), account(2))
	if !errors.Is(err, settlement.ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

func TestAddProxy_Limit(t *testing.T) {
	state := newState(t)
	main := account(1)
	settlement.RegisterAccount(state, main)

	for i := byte(0); i < types.ProxyLimit; i++ {
		if err := settlement.AddProxy(state, main, account(10+i)); err != nil {
			t.Fatalf("add proxy %d: %v", i, err)
		}
	}
	err := settlement.AddProxy(state, main, account(99))
	if !errors.Is(err, settlement.ErrProxyLimitReached) {
		t.Errorf("got %v, want ErrProxyLimitReached", err)
	}

	// Re-adding an existing proxy at the cap is still a no-op.
	if err := settlement.AddProxy(state, main, account(10)); err != nil {
		t.Errorf("duplicate add at cap: %v", err)
	}
}

func TestRemoveProxy(t *testing.T) {
	state := newState(t)
	main := account(1)
	settlement.RegisterAccount(state, main)
	settlement.AddProxy(state, main, account(2))

	if err := settlement.RemoveProxy(state, main, account(2)); err != nil {
		t.Fatalf("remove proxy: %v", err)
	}
	err := settlement.RemoveProxy(state, main, account(2))
	if !errors.Is(err, settlement.ErrProxyNotFound) {
		t.Errorf("got %v, want ErrProxyNotFound", err)
	}
}
