// Package worker drives the sync cycle: every finalized block it
// acquires the single-worker lease, replays the next user-action batch
// against the ledger trie, and, when the node carries an active
// validator key, signs and submits the resulting snapshot summary.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ObSync/internal/crypto"
	"ObSync/internal/observability"
	"ObSync/internal/store"
	"ObSync/internal/trie"
	"ObSync/internal/types"
)

var (
	ErrNoActiveKeys       = errors.New("no active keys available")
	ErrInvalidStid        = errors.New("invalid stid")
	ErrBlockOutOfSequence = errors.New("block out of sequence")
	ErrInvalidSignature   = errors.New("signature verification failed")
	ErrProxyNotAuthorized = errors.New("proxy not authorized for main account")
)

// BatchSource serves numbered user-action batches and accepts signed
// snapshot submissions.
type BatchSource interface {
	GetUserActionBatch(nonce uint64) (*types.UserActionBatch, error)
	SubmitSnapshot(approved types.ApprovedSnapshot) error
}

// ChainReader reads the mirrored on-chain state the worker depends on.
type ChainReader interface {
	SnapshotNonce() (uint64, error)
	ValidatorSet() (types.ValidatorSet, error)
	IngressMessages(blk uint64) ([]types.IngressMessage, error)
	EgressMessages(nonce uint64) ([]types.EgressMessage, error)
	LMPEpoch() (uint32, error)
	TradingPairConfig(pair types.TradingPair) (types.TradingPairConfig, error)
}

// Config carries the static knobs of one worker instance.
type Config struct {
	// StartBlock seeds the block cursor on a cold ledger: the first
	// imported block must be StartBlock+1.
	StartBlock uint64
	// Validator enables snapshot signing. A non-validator node still
	// replays batches to keep a queryable local ledger.
	Validator bool
	// LeaseBlocks is how many blocks a worker lease stays valid.
	LeaseBlocks uint64
}

// Worker replays batches into the trie-backed ledger. Not thread-safe;
// the cycle loop is the only caller.
type Worker struct {
	cfg     Config
	db      store.Database
	batches BatchSource
	chain   ChainReader
	keys    []crypto.PrivateKey
	id      string
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(cfg Config, db store.Database, batches BatchSource, chain ChainReader, keys []crypto.PrivateKey, id string, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	if cfg.LeaseBlocks == 0 {
		cfg.LeaseBlocks = defaultLeaseBlocks
	}
	return &Worker{
		cfg:     cfg,
		db:      db,
		batches: batches,
		chain:   chain,
		keys:    keys,
		id:      id,
		log:     log.With().Str("component", "worker").Logger(),
		metrics: metrics,
	}
}

// Run executes one sync cycle at blockNum. It returns false when the
// cycle was skipped because another worker holds the lease.
func (w *Worker) Run(blockNum uint64) (bool, error) {
	w.metrics.CyclesRun.Inc()
	started := time.Now()
	defer func() {
		w.metrics.CycleDuration.Observe(time.Since(started).Seconds())
	}()

	set, err := w.chain.ValidatorSet()
	if err != nil {
		return false, fmt.Errorf("read validator set: %w", err)
	}
	signingKey, signerIndex, err := w.selectSigningKey(set)
	if err != nil {
		return false, err
	}

	ok, err := w.acquireLease(blockNum)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		w.metrics.CyclesSkipped.Inc()
		return false, nil
	}
	defer w.releaseLease(blockNum)

	nonce, err := w.chain.SnapshotNonce()
	if err != nil {
		return false, fmt.Errorf("read snapshot nonce: %w", err)
	}
	nextNonce := nonce + 1

	root, err := store.LoadTrieRoot(w.db)
	if err != nil {
		return false, fmt.Errorf("load trie root: %w", err)
	}
	w.log.Info().Uint64("block", blockNum).Hex("state_root", root[:]).Msg("starting sync cycle")

	state := trie.Load(w.db, root)
	stateInfo, err := w.loadStateInfo(state)
	if err != nil {
		// Unreadable state forces a full resync from the sentinel.
		w.log.Error().Err(err).Msg("state info unreadable, resetting trie root")
		w.metrics.TrieResets.Inc()
		if serr := store.StoreTrieRoot(w.db, store.SentinelRoot); serr != nil {
			return false, fmt.Errorf("reset trie root: %w", serr)
		}
		return false, fmt.Errorf("load state info: %w", err)
	}

	lastProcessed := stateInfo.SnapshotID

	// Chain has not accepted our snapshot yet: resubmit and wait.
	if lastProcessed == nextNonce {
		w.log.Debug().Uint64("nonce", nextNonce).Msg("resubmitting processed snapshot")
		w.resubmitSnapshot(nextNonce)
		return true, nil
	}

	w.log.Info().
		Uint64("last_processed_nonce", lastProcessed).
		Uint64("next_nonce", nextNonce).
		Msg("syncing")

	// Cold ledger: the block cursor starts at the configured deployment
	// block, so the first import must be StartBlock+1.
	if stateInfo.LastBlock == 0 {
		stateInfo.LastBlock = w.cfg.StartBlock
	}

	if nextNonce-lastProcessed >= 2 {
		done, err := w.catchUp(state, &stateInfo, lastProcessed+1, nextNonce)
		if err != nil {
			return w.failCycle(err)
		}
		if !done {
			// A batch is missing upstream; try again next cycle.
			return true, nil
		}
	}

	w.log.Info().Uint64("nonce", nextNonce).Msg("loading user actions")
	batch, err := w.batches.GetUserActionBatch(nextNonce)
	if err != nil {
		return false, fmt.Errorf("fetch batch %d: %w", nextNonce, err)
	}
	if batch == nil {
		// Nothing to process yet. Record progress up to nextNonce-1 so
		// the resubmission check stays accurate.
		w.log.Debug().Uint64("nonce", nextNonce).Msg("no user actions yet")
		stateInfo.SnapshotID = nextNonce - 1
		if err := w.storeStateInfo(state, stateInfo); err != nil {
			return w.failCycle(err)
		}
		if _, err := w.commit(state); err != nil {
			return w.failCycle(err)
		}
		return true, nil
	}

	withdrawals, traderMetrics, err := w.processBatch(state, batch, &stateInfo)
	if err != nil {
		return w.failCycle(fmt.Errorf("process batch %d: %w", batch.SnapshotID, err))
	}
	w.metrics.BatchesProcessed.Inc()

	stateInfo.Stid = batch.Stid
	stateInfo.SnapshotID = batch.SnapshotID
	if err := w.storeStateInfo(state, stateInfo); err != nil {
		return w.failCycle(err)
	}
	stateHash, err := w.commit(state)
	if err != nil {
		return w.failCycle(err)
	}
	w.log.Info().Hex("state_root", stateHash[:]).Msg("updated trie root")
	w.metrics.LastBatchNonce.Set(float64(stateInfo.SnapshotID))
	w.metrics.LastStid.Set(float64(stateInfo.Stid))
	w.metrics.LastBlock.Set(float64(stateInfo.LastBlock))

	if w.cfg.Validator {
		if err := w.signAndSubmit(set, signingKey, signerIndex, nextNonce, stateHash, batch.Stid, stateInfo.LastBlock, withdrawals, traderMetrics); err != nil {
			return false, err
		}
	}

	return true, nil
}

// selectSigningKey intersects the local keystore with the active
// validator set. A validator node with no usable key is a hard error.
func (w *Worker) selectSigningKey(set types.ValidatorSet) (crypto.PrivateKey, uint16, error) {
	available := make([]crypto.PrivateKey, 0, len(w.keys))
	for _, key := range w.keys {
		if _, ok := crypto.FindKey(set.Validators, key.Public()); ok {
			available = append(available, key)
		}
	}
	crypto.SortPrivateKeys(available)

	if len(available) == 0 {
		if w.cfg.Validator {
			return crypto.PrivateKey{}, 0, ErrNoActiveKeys
		}
		return crypto.PrivateKey{}, 0, nil
	}

	key := available[0]
	index, ok := set.SignerIndex(key.Public())
	if !ok {
		return crypto.PrivateKey{}, 0, fmt.Errorf("signer %s not in validator set", key.Public())
	}
	return key, index, nil
}

// catchUp replays batches [from, to) committing after each one, so an
// interrupted catch-up resumes where it stopped. Returns false when a
// batch is not yet available upstream.
func (w *Worker) catchUp(state *trie.State, stateInfo *types.StateInfo, from, to uint64) (bool, error) {
	for nonce := from; nonce < to; nonce++ {
		w.log.Info().Uint64("nonce", nonce).Msg("syncing batch")
		batch, err := w.batches.GetUserActionBatch(nonce)
		if err != nil {
			return false, fmt.Errorf("fetch batch %d: %w", nonce, err)
		}
		if batch == nil {
			w.log.Error().Uint64("nonce", nonce).Msg("no user actions found during catch-up")
			return false, nil
		}
		if _, _, err := w.processBatch(state, batch, stateInfo); err != nil {
			w.log.Error().Err(err).Uint64("nonce", batch.SnapshotID).Msg("catch-up batch failed")
			return false, fmt.Errorf("sync failed at batch %d: %w", batch.SnapshotID, err)
		}
		stateInfo.Stid = batch.Stid
		stateInfo.SnapshotID = batch.SnapshotID
		if err := w.storeStateInfo(state, *stateInfo); err != nil {
			return false, err
		}
		if _, err := w.commit(state); err != nil {
			return false, err
		}
		w.metrics.BatchesCaughtUp.Inc()
	}
	return true, nil
}

// failCycle aborts the cycle. A corruption error additionally resets
// the stored root to the sentinel so the next cycle resyncs from
// scratch instead of re-failing on the same missing node.
func (w *Worker) failCycle(err error) (bool, error) {
	if trie.IsCorruption(err) {
		w.log.Error().Err(err).Msg("trie corruption, resetting root for full resync")
		w.metrics.TrieResets.Inc()
		if serr := store.StoreTrieRoot(w.db, store.SentinelRoot); serr != nil {
			return false, fmt.Errorf("reset trie root: %w", serr)
		}
	}
	return false, err
}

func (w *Worker) commit(state *trie.State) ([32]byte, error) {
	started := time.Now()
	root, err := state.Commit()
	if err != nil {
		return root, fmt.Errorf("commit trie: %w", err)
	}
	w.metrics.TrieCommitDuration.Observe(time.Since(started).Seconds())
	if err := store.StoreTrieRoot(w.db, root); err != nil {
		return root, fmt.Errorf("store trie root: %w", err)
	}
	return root, nil
}

// loadStateInfo reads the replay cursor from its reserved trie key. A
// missing cursor is a cold start; an undecodable one is corruption.
func (w *Worker) loadStateInfo(state *trie.State) (types.StateInfo, error) {
	var info types.StateInfo
	raw, err := state.Get([]byte(store.KeyStateInfo))
	if err != nil {
		return info, err
	}
	if raw == nil {
		return info, nil
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("decode state info: %w", err)
	}
	return info, nil
}

func (w *Worker) storeStateInfo(state *trie.State, info types.StateInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode state info: %w", err)
	}
	return state.Insert([]byte(store.KeyStateInfo), raw)
}
