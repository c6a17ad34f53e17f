package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ActionType discriminates the closed set of user actions a batch can
// carry.
type ActionType string

const (
	ActionTrade       ActionType = "trade"
	ActionWithdraw    ActionType = "withdraw"
	ActionWithdrawV1  ActionType = "withdraw_v1"
	ActionBlockImport ActionType = "block_import"
	ActionReset       ActionType = "reset"
)

// UserAction is one entry of a batch. Exactly the fields for its Type
// are populated; anything else is a malformed action.
type UserAction struct {
	Type ActionType `json:"type"`

	// ActionTrade
	Trades []Trade `json:"trades,omitempty"`

	// ActionWithdraw / ActionWithdrawV1
	Withdraw *WithdrawalRequest `json:"withdraw,omitempty"`
	// Stid stamped on the withdrawal for ActionWithdrawV1.
	Stid uint64 `json:"stid,omitempty"`

	// ActionBlockImport
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// Validate rejects structurally malformed actions before settlement
// ever sees them.
func (a *UserAction) Validate() error {
	switch a.Type {
	case ActionTrade:
		if len(a.Trades) == 0 {
			return fmt.Errorf("trade action without trades")
		}
	case ActionWithdraw, ActionWithdrawV1:
		if a.Withdraw == nil {
			return fmt.Errorf("%s action without request", a.Type)
		}
		if !a.Withdraw.Amount.IsPositive() {
			return fmt.Errorf("%s action with non-positive amount %s", a.Type, a.Withdraw.Amount)
		}
	case ActionBlockImport, ActionReset:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// UserActionBatch is a numbered, ordered set of user actions produced
// by the aggregator. SnapshotID is the batch's own sequence number and
// Stid the last global sequence id inside it; both must advance
// strictly or the batch is rejected as stale.
type UserActionBatch struct {
	Actions    []UserAction `json:"actions"`
	Stid       uint64       `json:"stid"`
	SnapshotID uint64       `json:"snapshot_id"`
	Signature  []byte       `json:"signature,omitempty"`
}

// IngressType discriminates on-chain events folded into the off-chain
// ledger during block import.
type IngressType string

const (
	IngressDeposit         IngressType = "deposit"
	IngressRegisterAccount IngressType = "register_account"
	IngressAddProxy        IngressType = "add_proxy"
	IngressRemoveProxy     IngressType = "remove_proxy"
)

// IngressMessage is one queued on-chain event for a block. Only the
// fields for its Type are set.
type IngressMessage struct {
	Type   IngressType     `json:"type"`
	Main   AccountID       `json:"main"`
	Proxy  AccountID       `json:"proxy,omitempty"`
	Asset  AssetID         `json:"asset,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
}

// EgressMessage is an opaque outbound message queued by the bridge
// collaborator for inclusion in a snapshot. The worker only carries
// it; it never interprets the payload.
type EgressMessage struct {
	Nonce   uint64 `json:"nonce"`
	Payload []byte `json:"payload"`
}
