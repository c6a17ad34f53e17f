package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"ObSync/internal/store"
)

const defaultLeaseBlocks = 3

// lease is the single-worker guard persisted under the worker status
// key. A lease expires by block height, so a crashed worker is taken
// over after LeaseBlocks without any explicit cleanup.
type lease struct {
	WorkerID  string `json:"worker_id"`
	ExpiresAt uint64 `json:"expires_at"`
}

// acquireLease claims the worker slot for this cycle. It returns false
// when a live lease belongs to another worker.
func (w *Worker) acquireLease(blockNum uint64) (bool, error) {
	raw, err := w.db.Get([]byte(store.KeyWorkerStatus))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if raw != nil {
		var current lease
		if err := json.Unmarshal(raw, &current); err == nil {
			if current.WorkerID != w.id && current.ExpiresAt >= blockNum {
				w.log.Info().
					Str("holder", current.WorkerID).
					Uint64("expires_at", current.ExpiresAt).
					Msg("another worker holds the lease")
				return false, nil
			}
		}
		// Undecodable or expired leases are claimable.
	}
	return true, w.writeLease(lease{WorkerID: w.id, ExpiresAt: blockNum + w.cfg.LeaseBlocks})
}

// releaseLease expires our own lease immediately so the next cycle
// does not wait out the block expiry.
func (w *Worker) releaseLease(blockNum uint64) {
	if blockNum == 0 {
		blockNum = 1
	}
	if err := w.writeLease(lease{WorkerID: w.id, ExpiresAt: blockNum - 1}); err != nil {
		w.log.Warn().Err(err).Msg("release lease failed")
	}
}

func (w *Worker) writeLease(l lease) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	return w.db.Put([]byte(store.KeyWorkerStatus), raw)
}
