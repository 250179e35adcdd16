package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/activation"
	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/fairness"
	"stakeplay-backend/internal/incentive"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/outcome"
	"stakeplay-backend/internal/store"
)

// Deposit credits the game wallet, raises the cumulative total and advances
// the activation tier. A txHash is accepted once. The claim and the pending
// deposit commission walk are saved with the credit.
func (e *Engine) Deposit(ctx context.Context, userID string, amount decimal.Decimal, txHash string) (*models.DepositResponse, error) {
	snap := e.policy.Current()
	if snap.Pause.Deposits {
		return nil, apperr.New(apperr.CodeOperationPaused, "deposits are paused")
	}
	if txHash == "" {
		return nil, apperr.New(apperr.CodeValidation, "txHash is required")
	}
	if err := models.ValidateAmount(amount); err != nil {
		return nil, apperr.New(apperr.CodeValidation, "%v", err)
	}

	var (
		resp       *models.DepositResponse
		becameLive bool
		referrer   string
	)
	ev := incentive.DepositEvent(userID, txHash, amount)
	_, err := e.ledger.Update(ctx, userID, func(tx *ledger.Tx) error {
		claimed, err := e.store.DepositClaimed(ctx, txHash)
		if err != nil {
			return fmt.Errorf("check deposit claim: %w", err)
		}
		if claimed {
			return store.DuplicateDeposit(txHash)
		}
		tx.ClaimDeposit(txHash)

		if err := tx.Credit(models.WalletGame, amount, models.TransactionTypeDeposit, txHash); err != nil {
			return err
		}

		acct := tx.Account()
		prev := acct.Activation
		acct.CumulativeDeposits = acct.CumulativeDeposits.Add(amount)
		next, unlocked := activation.Advance(prev, acct.CumulativeDeposits, snap.Activation)
		acct.Activation = next
		tx.Touch()

		becameLive = prev.Tier.Rank() < models.TierOne.Rank() && next.Tier.Rank() >= models.TierOne.Rank()
		referrer = acct.ReferredBy

		if len(unlocked) > 0 {
			tx.Publish(events.New(events.TypeActivationUpdate, userID, models.ActivationUpdate{
				Tier:       next.Tier,
				Unlocked:   unlocked,
				Cumulative: acct.CumulativeDeposits.String(),
			}))
		}
		resp = &models.DepositResponse{
			Tier:        next.Tier,
			Unlocked:    unlocked,
			GameBalance: tx.Balance(models.WalletGame),
		}
		tx.ScheduleDistribution(ev.Pending(tx.Now()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if becameLive && referrer != "" {
		if _, err := e.ledger.Update(ctx, referrer, func(tx *ledger.Tx) error {
			tx.Account().ActiveDirects++
			tx.Touch()
			return nil
		}); err != nil {
			e.log.Error("Failed to count active direct", "referrer", referrer, "user", userID, "error", err)
		}
	}

	e.dispatch(ev.ID, func(ctx context.Context) error {
		_, err := e.incentives.Distribute(ctx, ev)
		return err
	})

	e.log.Info("Deposit credited", "user", userID, "amount", amount.String(), "tier", resp.Tier)
	return resp, nil
}

// Withdraw debits a withdrawable wallet whose capability is unlocked and
// records the request for payout.
func (e *Engine) Withdraw(ctx context.Context, userID string, wallet models.WalletType, amount decimal.Decimal) (*models.Withdrawal, error) {
	if e.policy.Current().Pause.Withdrawals {
		return nil, apperr.New(apperr.CodeOperationPaused, "withdrawals are paused")
	}
	if !wallet.Valid() {
		return nil, apperr.New(apperr.CodeValidation, "unknown wallet %q", wallet)
	}
	if err := models.ValidateAmount(amount); err != nil {
		return nil, apperr.New(apperr.CodeValidation, "%v", err)
	}

	var w *models.Withdrawal
	_, err := e.ledger.Update(ctx, userID, func(tx *ledger.Tx) error {
		if !activation.CanWithdraw(tx.Account().Activation, wallet) {
			return apperr.New(apperr.CodeCapabilityLocked, "withdrawing from %s is locked", wallet)
		}

		w = &models.Withdrawal{
			ID:        models.GenerateTransactionID(),
			UserID:    userID,
			Wallet:    wallet,
			Amount:    amount,
			Status:    models.WithdrawalRequested,
			CreatedAt: tx.Now(),
		}
		if err := tx.Debit(wallet, amount, models.TransactionTypeWithdraw, w.ID); err != nil {
			return err
		}
		tx.SaveWithdrawal(w)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Withdrawal requested", "user", userID, "wallet", wallet, "amount", amount.String())
	return w, nil
}

// Transfer moves funds from an income wallet into the game or cash wallet.
func (e *Engine) Transfer(ctx context.Context, userID string, from, to models.WalletType, amount decimal.Decimal) (*models.BalanceResponse, error) {
	if !from.Valid() || !to.Valid() || from == to {
		return nil, apperr.New(apperr.CodeValidation, "invalid transfer from %q to %q", from, to)
	}
	if err := models.ValidateAmount(amount); err != nil {
		return nil, apperr.New(apperr.CodeValidation, "%v", err)
	}

	acct, err := e.ledger.Update(ctx, userID, func(tx *ledger.Tx) error {
		if !activation.CanTransfer(tx.Account().Activation, from, to) {
			return apperr.New(apperr.CodeCapabilityLocked, "transfer from %s to %s is locked", from, to)
		}
		ref := models.GenerateTransactionID()
		if err := tx.Debit(from, amount, models.TransactionTypeTransfer, ref); err != nil {
			return err
		}
		return tx.Credit(to, amount, models.TransactionTypeTransfer, ref)
	})
	if err != nil {
		return nil, err
	}
	return acct.Balance(), nil
}

func (e *Engine) Balance(ctx context.Context, userID string) (*models.BalanceResponse, error) {
	acct, err := e.ledger.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	return acct.Balance(), nil
}

type History struct {
	Games        []*models.GameRecord  `json:"games"`
	Transactions []*models.Transaction `json:"transactions"`
}

// History returns the newest games and ledger entries, newest first.
func (e *Engine) History(ctx context.Context, userID string, limit int) (*History, error) {
	if limit <= 0 || limit > store.HistoryLimit {
		limit = store.HistoryLimit
	}
	games, err := e.store.GameHistory(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	txs, err := e.store.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return &History{Games: games, Transactions: txs}, nil
}

type VerifyResult struct {
	Valid       bool            `json:"valid"`
	Hash        string          `json:"hash"`
	LuckyNumber decimal.Decimal `json:"luckyNumber"`
	IsWin       *bool           `json:"isWin,omitempty"`
	Multiplier  decimal.Decimal `json:"multiplier"`
}

// Verify recomputes a game from its published inputs. It needs no account
// and touches no state.
func (e *Engine) Verify(req *models.VerifyRequest) (*VerifyResult, error) {
	if !req.GameVariant.Valid() {
		return nil, apperr.New(apperr.CodeValidation, "invalid game variant: %s", req.GameVariant)
	}
	snap := e.policy.Current()

	draw := fairness.Reveal(fairness.Input{
		ServerSeed: req.ServerSeed,
		ClientSeed: req.ClientSeed,
		Nonce:      req.Nonce,
		Sequence:   req.Sequence,
		Variant:    string(req.GameVariant),
	})
	lucky, err := outcome.Roll(req.GameVariant, draw.Float, snap.Spin)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "roll")
	}

	res := &VerifyResult{
		Valid:       fairness.Verify(req.ServerSeed, req.ServerSeedHash),
		Hash:        draw.Hash,
		LuckyNumber: lucky,
		Multiplier:  decimal.Zero,
	}
	if len(req.PickedNumber) > 0 {
		pick, err := models.ParsePick(req.GameVariant, req.PickedNumber, len(snap.Spin.Slots))
		if err != nil {
			return nil, apperr.New(apperr.CodeValidation, "%v", err)
		}
		out, err := outcome.Evaluate(pick, lucky, decimal.NewFromInt(1), snap.Spin)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "evaluate")
		}
		res.IsWin = &out.IsWin
		res.Multiplier = out.Multiplier
	}
	return res, nil
}

// OnSignup dispatches the signup bonus walk for a newly referred user.
func (e *Engine) OnSignup(ctx context.Context, userID string) {
	ev := incentive.SignupEvent(userID)
	e.dispatch(ev.ID, func(ctx context.Context) error {
		_, err := e.incentives.Distribute(ctx, ev)
		return err
	})
}
