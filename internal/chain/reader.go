// Package chain exposes the locally mirrored on-chain state. The
// ingress subscriber copies finalized chain values into the node-local
// store; the sync worker only ever reads that mirror, so a chain feed
// outage degrades into stale reads instead of failed cycles.
package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"ObSync/internal/store"
	"ObSync/internal/types"
)

// Reader reads the mirrored chain state out of the node-local store.
type Reader struct {
	db store.Database
}

func NewReader(db store.Database) *Reader {
	return &Reader{db: db}
}

// SnapshotNonce returns the nonce of the last snapshot accepted
// on-chain. A cold mirror reads as nonce zero.
func (r *Reader) SnapshotNonce() (uint64, error) {
	raw, err := r.db.Get([]byte(store.KeySnapshotNonce))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("snapshot nonce has %d bytes, want 8", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// StoreSnapshotNonce mirrors the on-chain snapshot nonce locally.
func StoreSnapshotNonce(db store.Database, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return db.Put([]byte(store.KeySnapshotNonce), buf[:])
}

// ValidatorSet returns the mirrored active validator set. An empty set
// with id zero means the mirror has not seen one yet.
func (r *Reader) ValidatorSet() (types.ValidatorSet, error) {
	var set types.ValidatorSet
	raw, err := r.db.Get([]byte(store.KeyValidatorSet))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return set, nil
		}
		return set, err
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return types.ValidatorSet{}, fmt.Errorf("decode validator set: %w", err)
	}
	return set, nil
}

// StoreValidatorSet mirrors the active validator set locally.
func StoreValidatorSet(db store.Database, set types.ValidatorSet) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode validator set: %w", err)
	}
	return db.Put([]byte(store.KeyValidatorSet), raw)
}

// IngressMessages returns the queued on-chain events for a block.
func (r *Reader) IngressMessages(blk uint64) ([]types.IngressMessage, error) {
	return store.LoadIngressMessages(r.db, blk)
}

// EgressMessages returns the bridge egress queued for a snapshot.
func (r *Reader) EgressMessages(nonce uint64) ([]types.EgressMessage, error) {
	return store.LoadEgressMessages(r.db, nonce)
}

// LMPEpoch returns the mirrored liquidity-mining epoch, zero on a cold
// mirror.
func (r *Reader) LMPEpoch() (uint32, error) {
	raw, err := r.db.Get([]byte(store.KeyLMPEpoch))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("lmp epoch has %d bytes, want 4", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// StoreLMPEpoch mirrors the liquidity-mining epoch locally.
func StoreLMPEpoch(db store.Database, epoch uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], epoch)
	return db.Put([]byte(store.KeyLMPEpoch), buf[:])
}

// TradingPairConfig returns the mirrored config for pair, or an error
// when the pair was never registered on-chain.
func (r *Reader) TradingPairConfig(pair types.TradingPair) (types.TradingPairConfig, error) {
	configs, err := r.tradingPairs()
	if err != nil {
		return types.TradingPairConfig{}, err
	}
	config, ok := configs[pair.String()]
	if !ok {
		return types.TradingPairConfig{}, fmt.Errorf("trading pair %s not registered", pair)
	}
	return config, nil
}

func (r *Reader) tradingPairs() (map[string]types.TradingPairConfig, error) {
	raw, err := r.db.Get([]byte(store.KeyTradingPairs))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return map[string]types.TradingPairConfig{}, nil
		}
		return nil, err
	}
	configs := make(map[string]types.TradingPairConfig)
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("decode trading pairs: %w", err)
	}
	return configs, nil
}

// StoreTradingPairs mirrors the registered trading pairs locally,
// keyed by their BASE/QUOTE name.
func StoreTradingPairs(db store.Database, configs []types.TradingPairConfig) error {
	byName := make(map[string]types.TradingPairConfig, len(configs))
	for _, c := range configs {
		byName[c.Pair().String()] = c
	}
	raw, err := json.Marshal(byName)
	if err != nil {
		return fmt.Errorf("encode trading pairs: %w", err)
	}
	return db.Put([]byte(store.KeyTradingPairs), raw)
}
