package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"ObSync/internal/crypto"
)

// StateInfo is the replay cursor, persisted inside the ledger trie
// under a reserved key so it commits atomically with balances.
type StateInfo struct {
	// LastBlock is the last on-chain block whose deposit events were
	// folded in.
	LastBlock uint64 `json:"last_block"`
	// WorkerNonce counts completed worker cycles.
	WorkerNonce uint64 `json:"worker_nonce"`
	// Stid is the last applied global sequence id.
	Stid uint64 `json:"stid"`
	// SnapshotID is the last fully processed batch number.
	SnapshotID uint64 `json:"snapshot_id"`
}

// ValidatorSet is the active set mirrored from the chain. Validators
// are kept sorted so a signer's index is its binary-search position.
type ValidatorSet struct {
	SetID      uint64             `json:"set_id"`
	Validators []crypto.PublicKey `json:"validators"`
}

// Sort orders the validators lexicographically. Signer indices are
// positions in this order, so it must run before any index lookup.
func (v *ValidatorSet) Sort() {
	crypto.SortKeys(v.Validators)
}

// SignerIndex returns the position of key in the sorted set.
func (v *ValidatorSet) SignerIndex(key crypto.PublicKey) (uint16, bool) {
	i, ok := crypto.FindKey(v.Validators, key)
	return uint16(i), ok
}

// PairMetrics aggregates the trading activity a single batch
// contributed to one market.
type PairMetrics struct {
	TotalVolume decimal.Decimal `json:"total_volume"`
	MakerVolume decimal.Decimal `json:"maker_volume"`
	FeesPaid    decimal.Decimal `json:"fees_paid"`
}

// TraderMetrics maps markets to their per-batch aggregates, keyed by
// the pair's base/quote string form.
type TraderMetrics map[string]PairMetrics

// SnapshotSummary is the externally anchored artifact: a signed
// commitment of the full ledger state plus pending withdrawals.
// StateHash is the trie commit root after applying everything up to
// and including SnapshotID.
type SnapshotSummary struct {
	ValidatorSetID   uint64          `json:"validator_set_id"`
	SnapshotID       uint64          `json:"snapshot_id"`
	StateHash        [32]byte        `json:"state_hash"`
	StateChangeID    uint64          `json:"state_change_id"`
	LastProcessedBlk uint64          `json:"last_processed_blk"`
	Withdrawals      []Withdrawal    `json:"withdrawals"`
	EgressMessages   []EgressMessage `json:"egress_messages"`
	TraderMetrics    TraderMetrics   `json:"trader_metrics"`
}

// Encode returns the canonical bytes that validators sign. Map keys
// are emitted in sorted order by encoding/json, so equal summaries
// always encode identically.
func (s *SnapshotSummary) Encode() []byte {
	data, _ := json.Marshal(s)
	return data
}

// ApprovedSnapshot is the submission body sent to the aggregator.
type ApprovedSnapshot struct {
	Summary   []byte `json:"summary"`
	Index     uint16 `json:"index"`
	Signature []byte `json:"signature"`
}

// SignedSnapshot is the locally retained record for resubmission,
// keyed by snapshot id. Created once, never mutated.
type SignedSnapshot struct {
	Summary   SnapshotSummary `json:"summary"`
	Signature []byte          `json:"signature"`
	Index     uint16          `json:"index"`
}
