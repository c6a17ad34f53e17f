package types_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"ObSync/internal/crypto"
	"ObSync/internal/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================================================
// Test: TradingPair
// ============================================================================

func TestTradingPair_TextRoundTrip(t *testing.T) {
	pair := types.TradingPair{Base: "BTC", Quote: "USDT"}
	text, err := pair.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "BTC/USDT" {
		t.Errorf("got %q, want BTC/USDT", text)
	}

	var back types.TradingPair
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != pair {
		t.Errorf("got %+v, want %+v", back, pair)
	}
}

func TestTradingPair_Malformed(t *testing.T) {
	var pair types.TradingPair
	for _, bad := range []string{"BTCUSDT", "/USDT", "BTC/"} {
		if err := pair.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("%q should be rejected", bad)
		}
	}
}

// ============================================================================
// Test: Trade.Verify
// ============================================================================

func TestTrade_Verify(t *testing.T) {
	config := types.TradingPairConfig{
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		MinVolume:  dec("1"),
	}
	valid := types.Trade{
		Maker:  types.Order{Pair: config.Pair(), Side: types.Ask},
		Taker:  types.Order{Pair: config.Pair(), Side: types.Bid},
		Price:  dec("2"),
		Amount: dec("10"),
	}
	if !valid.Verify(config) {
		t.Error("valid trade rejected")
	}

	negative := valid
	negative.Amount = dec("-1")
	if negative.Verify(config) {
		t.Error("negative amount accepted")
	}

	wrongPair := valid
	wrongPair.Maker.Pair = types.TradingPair{Base: "ETH", Quote: "USDT"}
	if wrongPair.Verify(config) {
		t.Error("pair mismatch accepted")
	}
}

// ============================================================================
// Test: WithdrawalRequest
// ============================================================================

func TestWithdrawalRequest_Verify(t *testing.T) {
	proxyKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var main types.AccountID
	main[0] = 1

	request := types.WithdrawalRequest{
		Main:      main,
		Proxy:     types.AccountFromKey(proxyKey.Public()),
		Asset:     "USDT",
		Amount:    dec("5"),
		Timestamp: 1700000000,
	}
	request.Signature = proxyKey.Sign(request.SigningPayload())

	if !request.Verify() {
		t.Error("valid request rejected")
	}

	// Any field change invalidates the signature.
	tampered := request
	tampered.Amount = dec("500")
	if tampered.Verify() {
		t.Error("tampered amount accepted")
	}
}

func TestWithdrawalRequest_Convert(t *testing.T) {
	var main types.AccountID
	main[0] = 1
	request := types.WithdrawalRequest{Main: main, Asset: "USDT", Amount: dec("5")}

	w := request.Convert(42)
	if w.MainAccount != main || w.Asset != "USDT" || !w.Amount.Equal(dec("5")) || w.Stid != 42 {
		t.Errorf("got %+v", w)
	}
	if !w.Fees.IsZero() {
		t.Errorf("fees: got %s, want 0", w.Fees)
	}
}

// ============================================================================
// Test: SnapshotSummary encoding
// ============================================================================

func TestSnapshotSummary_EncodeDeterministic(t *testing.T) {
	summary := types.SnapshotSummary{
		ValidatorSetID: 1,
		SnapshotID:     2,
		StateChangeID:  3,
		TraderMetrics: types.TraderMetrics{
			"BTC/USDT": {TotalVolume: dec("10")},
			"ETH/USDT": {TotalVolume: dec("20")},
		},
	}
	first := summary.Encode()
	second := summary.Encode()
	if string(first) != string(second) {
		t.Error("encoding is not stable")
	}

	var back types.SnapshotSummary
	if err := json.Unmarshal(first, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.SnapshotID != 2 || !back.TraderMetrics["ETH/USDT"].TotalVolume.Equal(dec("20")) {
		t.Errorf("got %+v", back)
	}
}

// ============================================================================
// Test: UserAction validation
// ============================================================================

func TestUserAction_Validate(t *testing.T) {
	empty := types.UserAction{Type: types.ActionTrade}
	if err := empty.Validate(); err == nil {
		t.Error("trade action without trades accepted")
	}

	missing := types.UserAction{Type: types.ActionWithdraw}
	if err := missing.Validate(); err == nil {
		t.Error("withdraw action without request accepted")
	}

	negative := types.UserAction{
		Type:     types.ActionWithdraw,
		Withdraw: &types.WithdrawalRequest{Asset: "USDT", Amount: dec("-30")},
	}
	if err := negative.Validate(); err == nil {
		t.Error("withdraw action with negative amount accepted")
	}

	zero := types.UserAction{
		Type:     types.ActionWithdrawV1,
		Withdraw: &types.WithdrawalRequest{Asset: "USDT", Amount: dec("0")},
	}
	if err := zero.Validate(); err == nil {
		t.Error("withdraw action with zero amount accepted")
	}

	unknown := types.UserAction{Type: "defragment"}
	if err := unknown.Validate(); err == nil {
		t.Error("unknown action type accepted")
	}

	reset := types.UserAction{Type: types.ActionReset}
	if err := reset.Validate(); err != nil {
		t.Errorf("reset action rejected: %v", err)
	}
}
