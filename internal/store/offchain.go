package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"ObSync/internal/types"
)

// Reserved offchain keys. These live next to the hash-addressed trie
// nodes in the same Database but under a distinct namespace, so they
// never collide with node keys.
const (
	KeyTrieRoot     = "obsync::trie_root"
	KeyWorkerStatus = "obsync::worker_status"
	KeyStateInfo    = "obsync::state_info" // reserved key INSIDE the trie

	keySnapshotPrefix = "obsync::snapshot::"
	keyIngressPrefix  = "obsync::ingress::"
	keyEgressPrefix   = "obsync::egress::"

	KeySnapshotNonce = "obsync::snapshot_nonce"
	KeyValidatorSet  = "obsync::validator_set"
	KeyLMPEpoch      = "obsync::lmp_epoch"
	KeyTradingPairs  = "obsync::trading_pairs"
)

// SentinelRoot is the empty-trie root. Storing it forces a full resync
// on the next cycle.
var SentinelRoot [32]byte

// LoadTrieRoot returns the persisted trie root pointer; a missing
// pointer means a cold start at the sentinel.
func LoadTrieRoot(db Database) ([32]byte, error) {
	raw, err := db.Get([]byte(KeyTrieRoot))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SentinelRoot, nil
		}
		return SentinelRoot, err
	}
	var root [32]byte
	if len(raw) != len(root) {
		return SentinelRoot, fmt.Errorf("trie root pointer has %d bytes, want %d", len(raw), len(root))
	}
	copy(root[:], raw)
	return root, nil
}

// StoreTrieRoot persists the trie root pointer.
func StoreTrieRoot(db Database, root [32]byte) error {
	return db.Put([]byte(KeyTrieRoot), root[:])
}

func snapshotKey(nonce uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", keySnapshotPrefix, nonce))
}

// StoreSignedSnapshot retains a signed snapshot for resubmission.
func StoreSignedSnapshot(db Database, snap *types.SignedSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal signed snapshot: %w", err)
	}
	return db.Put(snapshotKey(snap.Summary.SnapshotID), data)
}

// LoadSignedSnapshot returns the retained snapshot for nonce, or nil
// when none was stored.
func LoadSignedSnapshot(db Database, nonce uint64) (*types.SignedSnapshot, error) {
	raw, err := db.Get(snapshotKey(nonce))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var snap types.SignedSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal signed snapshot %d: %w", nonce, err)
	}
	return &snap, nil
}

func ingressKey(blk uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", keyIngressPrefix, blk))
}

// StoreIngressMessages persists the queued on-chain events for a block.
func StoreIngressMessages(db Database, blk uint64, msgs []types.IngressMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal ingress messages: %w", err)
	}
	return db.Put(ingressKey(blk), data)
}

// LoadIngressMessages returns the queued events for a block; a missing
// queue is an empty block.
func LoadIngressMessages(db Database, blk uint64) ([]types.IngressMessage, error) {
	raw, err := db.Get(ingressKey(blk))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []types.IngressMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal ingress messages for block %d: %w", blk, err)
	}
	return msgs, nil
}

func egressKey(nonce uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", keyEgressPrefix, nonce))
}

// StoreEgressMessages persists bridge egress queued for a snapshot.
func StoreEgressMessages(db Database, nonce uint64, msgs []types.EgressMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal egress messages: %w", err)
	}
	return db.Put(egressKey(nonce), data)
}

// LoadEgressMessages returns bridge egress queued for a snapshot.
func LoadEgressMessages(db Database, nonce uint64) ([]types.EgressMessage, error) {
	raw, err := db.Get(egressKey(nonce))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []types.EgressMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal egress messages for nonce %d: %w", nonce, err)
	}
	return msgs, nil
}
