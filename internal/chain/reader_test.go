package chain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"ObSync/internal/chain"
	"ObSync/internal/crypto"
	"ObSync/internal/store"
	"ObSync/internal/types"
)

// ============================================================================
// Test: Reader
// ============================================================================

func TestReader_ColdMirrorDefaults(t *testing.T) {
	reader := chain.NewReader(store.NewMemDB())

	nonce, err := reader.SnapshotNonce()
	if err != nil || nonce != 0 {
		t.Errorf("nonce: got %d, %v; want 0, nil", nonce, err)
	}
	epoch, err := reader.LMPEpoch()
	if err != nil || epoch != 0 {
		t.Errorf("epoch: got %d, %v; want 0, nil", epoch, err)
	}
	set, err := reader.ValidatorSet()
	if err != nil || set.SetID != 0 || len(set.Validators) != 0 {
		t.Errorf("validator set: got %+v, %v; want empty", set, err)
	}
	msgs, err := reader.IngressMessages(1)
	if err != nil || msgs != nil {
		t.Errorf("ingress: got %v, %v; want nil, nil", msgs, err)
	}
}

func TestReader_SnapshotNonceRoundTrip(t *testing.T) {
	db := store.NewMemDB()
	if err := chain.StoreSnapshotNonce(db, 12345); err != nil {
		t.Fatalf("store: %v", err)
	}
	nonce, err := chain.NewReader(db).SnapshotNonce()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if nonce != 12345 {
		t.Errorf("got %d, want 12345", nonce)
	}
}

func TestReader_ValidatorSetRoundTrip(t *testing.T) {
	db := store.NewMemDB()
	key, _ := crypto.GeneratePrivateKey()
	set := types.ValidatorSet{SetID: 3, Validators: []crypto.PublicKey{key.Public()}}
	if err := chain.StoreValidatorSet(db, set); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := chain.NewReader(db).ValidatorSet()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SetID != 3 || len(got.Validators) != 1 || got.Validators[0] != key.Public() {
		t.Errorf("got %+v", got)
	}
}

func TestReader_TradingPairConfig(t *testing.T) {
	db := store.NewMemDB()
	config := types.TradingPairConfig{
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		MinVolume:  decimal.RequireFromString("1"),
		MakerFee:   decimal.RequireFromString("0.001"),
		TakerFee:   decimal.RequireFromString("0.002"),
	}
	if err := chain.StoreTradingPairs(db, []types.TradingPairConfig{config}); err != nil {
		t.Fatalf("store: %v", err)
	}
	reader := chain.NewReader(db)

	got, err := reader.TradingPairConfig(types.TradingPair{Base: "BTC", Quote: "USDT"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.BaseAsset != "BTC" || !got.TakerFee.Equal(config.TakerFee) {
		t.Errorf("got %+v", got)
	}

	if _, err := reader.TradingPairConfig(types.TradingPair{Base: "ETH", Quote: "USDT"}); err == nil {
		t.Error("unregistered pair should error")
	}
}

func TestReader_IngressMessagesRoundTrip(t *testing.T) {
	db := store.NewMemDB()
	var main types.AccountID
	main[0] = 9
	msgs := []types.IngressMessage{
		{Type: types.IngressDeposit, Main: main, Asset: "USDT", Amount: decimal.RequireFromString("5")},
	}
	if err := store.StoreIngressMessages(db, 77, msgs); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := chain.NewReader(db).IngressMessages(77)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Type != types.IngressDeposit || !got[0].Amount.Equal(msgs[0].Amount) {
		t.Errorf("got %+v", got)
	}
}
