package worker

import (
	"fmt"

	"ObSync/internal/crypto"
	"ObSync/internal/store"
	"ObSync/internal/types"
)

// signAndSubmit builds the snapshot summary for nextNonce, signs its
// canonical encoding, submits it to the aggregator and retains the
// signed copy for resubmission. A failed submission is not fatal; the
// retained copy is resubmitted on a later cycle.
func (w *Worker) signAndSubmit(
	set types.ValidatorSet,
	key crypto.PrivateKey,
	index uint16,
	nextNonce uint64,
	stateHash [32]byte,
	stid uint64,
	lastBlock uint64,
	withdrawals []types.Withdrawal,
	traderMetrics types.TraderMetrics,
) error {
	egress, err := w.chain.EgressMessages(nextNonce)
	if err != nil {
		return fmt.Errorf("read egress for nonce %d: %w", nextNonce, err)
	}

	summary := types.SnapshotSummary{
		ValidatorSetID:   set.SetID,
		SnapshotID:       nextNonce,
		StateHash:        stateHash,
		StateChangeID:    stid,
		LastProcessedBlk: lastBlock,
		Withdrawals:      withdrawals,
		EgressMessages:   egress,
		TraderMetrics:    traderMetrics,
	}
	encoded := summary.Encode()
	signature := key.Sign(encoded)
	w.log.Debug().Uint16("signer_index", index).Msg("summary signed")
	w.metrics.SnapshotsSigned.Inc()

	approved := types.ApprovedSnapshot{
		Summary:   encoded,
		Index:     index,
		Signature: signature,
	}
	if err := w.batches.SubmitSnapshot(approved); err != nil {
		w.log.Error().Err(err).Msg("snapshot submission failed")
		w.metrics.SubmissionFailures.Inc()
	}

	signed := &types.SignedSnapshot{
		Summary:   summary,
		Signature: signature,
		Index:     index,
	}
	if err := store.StoreSignedSnapshot(w.db, signed); err != nil {
		return fmt.Errorf("retain signed snapshot %d: %w", nextNonce, err)
	}
	return nil
}

// resubmitSnapshot replays the retained signed snapshot for nonce, if
// the node signed one.
func (w *Worker) resubmitSnapshot(nonce uint64) {
	if !w.cfg.Validator {
		return
	}
	signed, err := store.LoadSignedSnapshot(w.db, nonce)
	if err != nil {
		w.log.Error().Err(err).Uint64("nonce", nonce).Msg("load retained snapshot failed")
		return
	}
	if signed == nil {
		w.log.Debug().Uint64("nonce", nonce).Msg("no retained snapshot to resubmit")
		return
	}
	approved := types.ApprovedSnapshot{
		Summary:   signed.Summary.Encode(),
		Index:     signed.Index,
		Signature: signed.Signature,
	}
	if err := w.batches.SubmitSnapshot(approved); err != nil {
		w.log.Error().Err(err).Uint64("nonce", nonce).Msg("resubmission failed")
		w.metrics.SubmissionFailures.Inc()
		return
	}
	w.metrics.SnapshotsResubmitted.Inc()
}
