package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"ObSync/internal/crypto"
)

// WithdrawalRequest is a client's signed intent to withdraw funds from
// the off-chain ledger. The proxy key signs the canonical payload; the
// worker verifies it before any balance is touched.
type WithdrawalRequest struct {
	Main      AccountID       `json:"main"`
	Proxy     AccountID       `json:"proxy"`
	Asset     AssetID         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
	Signature []byte          `json:"signature"`
}

// SigningPayload returns the canonical bytes covered by Signature.
func (r *WithdrawalRequest) SigningPayload() []byte {
	payload, _ := json.Marshal(struct {
		Main      AccountID       `json:"main"`
		Proxy     AccountID       `json:"proxy"`
		Asset     AssetID         `json:"asset"`
		Amount    decimal.Decimal `json:"amount"`
		Timestamp int64           `json:"timestamp"`
	}{r.Main, r.Proxy, r.Asset, r.Amount, r.Timestamp})
	return payload
}

// Verify checks the proxy's signature over the request payload.
func (r *WithdrawalRequest) Verify() bool {
	return crypto.Verify(r.Proxy.Key(), r.SigningPayload(), r.Signature)
}

// Convert produces the settled withdrawal record included in the next
// snapshot for on-chain claim processing.
func (r *WithdrawalRequest) Convert(stid uint64) Withdrawal {
	return Withdrawal{
		MainAccount: r.Main,
		Asset:       r.Asset,
		Amount:      r.Amount,
		Fees:        decimal.Zero,
		Stid:        stid,
	}
}

// Withdrawal is the ledger-debited commitment carried in a snapshot.
// It is never mutated after creation.
type Withdrawal struct {
	MainAccount AccountID       `json:"main_account"`
	Asset       AssetID         `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Fees        decimal.Decimal `json:"fees"`
	Stid        uint64          `json:"stid"`
}
