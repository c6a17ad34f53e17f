package worker

import (
	"fmt"
	"time"

	"ObSync/internal/lmp"
	"ObSync/internal/settlement"
	"ObSync/internal/trie"
	"ObSync/internal/types"
)

// processBatch applies every action of one batch to the trie. The
// batch's stid must advance past the stored cursor or the whole batch
// is rejected as stale. Returns the withdrawals released by the batch
// and the per-pair trading aggregates for the snapshot summary.
func (w *Worker) processBatch(state *trie.State, batch *types.UserActionBatch, stateInfo *types.StateInfo) ([]types.Withdrawal, types.TraderMetrics, error) {
	if stateInfo.Stid >= batch.Stid {
		return nil, nil, fmt.Errorf("%w: stored %d, batch %d", ErrInvalidStid, stateInfo.Stid, batch.Stid)
	}

	started := time.Now()
	defer func() {
		w.metrics.BatchDuration.Observe(time.Since(started).Seconds())
	}()

	withdrawals := make([]types.Withdrawal, 0)
	metrics := make(types.TraderMetrics)

	for i := range batch.Actions {
		action := &batch.Actions[i]
		if err := action.Validate(); err != nil {
			w.metrics.ActionsRejected.WithLabelValues(string(action.Type), "malformed").Inc()
			return nil, nil, err
		}

		switch action.Type {
		case types.ActionTrade:
			if err := w.trades(state, action.Trades, metrics); err != nil {
				w.metrics.ActionsRejected.WithLabelValues(string(action.Type), "settlement").Inc()
				return nil, nil, err
			}
		case types.ActionWithdraw:
			withdrawal, err := w.withdraw(state, action.Withdraw, 0)
			if err != nil {
				w.metrics.ActionsRejected.WithLabelValues(string(action.Type), "withdraw").Inc()
				return nil, nil, err
			}
			withdrawals = append(withdrawals, withdrawal)
		case types.ActionWithdrawV1:
			withdrawal, err := w.withdraw(state, action.Withdraw, action.Stid)
			if err != nil {
				w.metrics.ActionsRejected.WithLabelValues(string(action.Type), "withdraw").Inc()
				return nil, nil, err
			}
			withdrawals = append(withdrawals, withdrawal)
		case types.ActionBlockImport:
			if err := w.importBlock(state, action.BlockNumber, stateInfo); err != nil {
				w.metrics.ActionsRejected.WithLabelValues(string(action.Type), "sequence").Inc()
				return nil, nil, err
			}
		case types.ActionReset:
			// Chain-side only; the worker ignores it.
		}
		w.metrics.ActionsApplied.WithLabelValues(string(action.Type)).Inc()
	}

	w.metrics.WithdrawalsQueued.Add(float64(len(withdrawals)))
	return withdrawals, metrics, nil
}

// trades settles each trade and folds its volume and fees into the
// batch's per-pair aggregates.
func (w *Worker) trades(state *trie.State, trades []types.Trade, metrics types.TraderMetrics) error {
	w.log.Info().Int("count", len(trades)).Msg("settling trades")
	epoch, err := w.chain.LMPEpoch()
	if err != nil {
		return fmt.Errorf("read lmp epoch: %w", err)
	}
	for i := range trades {
		t := &trades[i]
		config, err := w.chain.TradingPairConfig(t.Maker.Pair)
		if err != nil {
			return err
		}
		makerFee, takerFee, err := settlement.ProcessTrade(state, t, config, epoch)
		if err != nil {
			return err
		}

		pair := config.Pair().String()
		agg := metrics[pair]
		volume := t.Volume()
		agg.TotalVolume = agg.TotalVolume.Add(volume)
		agg.MakerVolume = agg.MakerVolume.Add(volume)
		agg.FeesPaid = agg.FeesPaid.
			Add(lmp.FeeInQuote(t.Maker.Side, makerFee, t.Price)).
			Add(lmp.FeeInQuote(t.Taker.Side, takerFee, t.Price))
		metrics[pair] = agg
	}
	return nil
}

// withdraw verifies and debits one withdrawal. The proxy must be
// registered to the main account and the request signed by that proxy.
func (w *Worker) withdraw(state *trie.State, request *types.WithdrawalRequest, stid uint64) (types.Withdrawal, error) {
	w.log.Info().Str("main", request.Main.String()).Msg("settling withdraw request")

	info, err := settlement.Account(state, request.Main)
	if err != nil {
		return types.Withdrawal{}, err
	}
	if info == nil {
		return types.Withdrawal{}, fmt.Errorf("%w: %s", settlement.ErrAccountNotFound, request.Main)
	}
	if !info.HasProxy(request.Proxy) {
		return types.Withdrawal{}, ErrProxyNotAuthorized
	}
	if !request.Verify() {
		return types.Withdrawal{}, ErrInvalidSignature
	}
	if err := settlement.SubBalance(state, request.Main, request.Asset, request.Amount); err != nil {
		return types.Withdrawal{}, err
	}
	return request.Convert(stid), nil
}

// importBlock folds one finalized block's ingress queue into the
// ledger. Blocks must arrive in strict sequence.
func (w *Worker) importBlock(state *trie.State, blk uint64, stateInfo *types.StateInfo) error {
	w.log.Debug().Uint64("block", blk).Msg("importing block")

	if blk != stateInfo.LastBlock+1 {
		w.log.Error().
			Uint64("last_block", stateInfo.LastBlock).
			Uint64("given", blk).
			Msg("block out of sequence")
		return fmt.Errorf("%w: last %d, given %d", ErrBlockOutOfSequence, stateInfo.LastBlock, blk)
	}

	messages, err := w.chain.IngressMessages(blk)
	if err != nil {
		return fmt.Errorf("read ingress for block %d: %w", blk, err)
	}
	for i := range messages {
		msg := &messages[i]
		switch msg.Type {
		case types.IngressDeposit:
			if err := settlement.AddBalance(state, msg.Main, msg.Asset, msg.Amount); err != nil {
				return err
			}
		case types.IngressRegisterAccount:
			if err := settlement.RegisterAccount(state, msg.Main); err != nil {
				return err
			}
		case types.IngressAddProxy:
			if err := settlement.AddProxy(state, msg.Main, msg.Proxy); err != nil {
				return err
			}
		case types.IngressRemoveProxy:
			if err := settlement.RemoveProxy(state, msg.Main, msg.Proxy); err != nil {
				return err
			}
		}
	}

	stateInfo.LastBlock = blk
	return nil
}
