package app

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-reward-service/internal/domain"
)

// TransferOutcome tags what the external ledger reported for a transfer.
// A bare "submitted without error" is never treated as success; only a
// confirmed receipt moves an attempt to credited.
type TransferOutcome string

const (
	TransferConfirmed     TransferOutcome = "confirmed"
	TransferRejected      TransferOutcome = "rejected"
	TransferIndeterminate TransferOutcome = "indeterminate"
)

// TransferHandle identifies a submitted transfer.
type TransferHandle struct {
	TxHash string
}

// Confirmation is the ledger's verdict on a submitted transfer.
type Confirmation struct {
	Outcome TransferOutcome
	TxHash  string
}

// TransferRecord is one past transfer from the ledger's history, used by
// reconciliation to decide whether an indeterminate settlement actually paid.
type TransferRecord struct {
	AttemptID string
	Amount    int64
	TxHash    string
	Confirmed bool
}

// LedgerClient talks to the external token ledger. Implementations return
// domain.ErrLedgerUnavailable when the ledger cannot be reached, which is
// distinct from an on-chain rejection.
type LedgerClient interface {
	SubmitTransfer(ctx context.Context, destination string, amount int64, attemptID string) (TransferHandle, error)
	AwaitConfirmation(ctx context.Context, handle TransferHandle) (Confirmation, error)
	QueryHistory(ctx context.Context, destination string) ([]TransferRecord, error)
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
}

// SettlementResult reports the reward outcome for an attempt.
type SettlementResult struct {
	AttemptID      string             `json:"attemptId"`
	State          domain.RewardState `json:"state"`
	CreditedAmount int64              `json:"creditedAmount"`
	TransactionID  string             `json:"transactionId,omitempty"`
}

// SettlementService drives the reward state machine for attempts:
// unrewarded -> pending -> credited | failed. The begin transition is a
// compare-and-set in the attempt ledger, which is the single control point
// that prevents a double payment.
type SettlementService struct {
	attempts       AttemptLedger
	users          UserStore
	ledger         LedgerClient
	notifier       Notifier
	log            *logrus.Entry
	ratePerPoint   int64
	confirmTimeout time.Duration
}

func NewSettlementService(attempts AttemptLedger, users UserStore, ledger LedgerClient, notifier Notifier, log *logrus.Entry, ratePerPoint int64, confirmTimeout time.Duration) *SettlementService {
	if ratePerPoint <= 0 {
		ratePerPoint = 10
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}
	return &SettlementService{
		attempts:       attempts,
		users:          users,
		ledger:         ledger,
		notifier:       notifier,
		log:            log,
		ratePerPoint:   ratePerPoint,
		confirmTimeout: confirmTimeout,
	}
}

// Settle pays the token reward for one attempt. The requesting user must
// own the attempt. Calling it twice yields exactly one credit: the second
// call fails with domain.ErrAlreadySettled.
func (s *SettlementService) Settle(ctx context.Context, attemptID, requestingUserID string) (SettlementResult, error) {
	attempt, user, err := s.loadOwned(ctx, attemptID, requestingUserID)
	if err != nil {
		return SettlementResult{}, err
	}
	if user.WalletAddress == "" {
		return SettlementResult{}, domain.ErrMissingWallet
	}

	// Amount is fixed here, before any transition; it is stamped once at
	// the credited transition and never recomputed.
	amount := int64(attempt.Score) * s.ratePerPoint

	if err := s.attempts.BeginSettlement(ctx, attemptID); err != nil {
		return SettlementResult{}, err
	}

	handle, err := s.ledger.SubmitTransfer(ctx, user.WalletAddress, amount, attemptID)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerUnavailable) {
			// The transfer never left this process, so releasing the
			// pending reservation cannot lose a payment.
			if relErr := s.attempts.ReleaseSettlement(ctx, attemptID); relErr != nil {
				s.log.WithError(relErr).WithField("attempt_id", attemptID).Error("release pending reservation")
			}
			return SettlementResult{}, domain.ErrLedgerUnavailable
		}
		if failErr := s.attempts.FailSettlement(ctx, attemptID); failErr != nil {
			s.log.WithError(failErr).WithField("attempt_id", attemptID).Error("mark settlement failed")
		}
		return SettlementResult{AttemptID: attemptID, State: domain.RewardFailed}, domain.ErrLedgerRejected
	}

	// Keep the in-flight hash on the attempt: if we crash past this point
	// reconciliation can poll the receipt instead of guessing.
	if err := s.attempts.MarkTransferSubmitted(ctx, attemptID, handle.TxHash); err != nil {
		s.log.WithError(err).WithField("attempt_id", attemptID).Warn("store pending tx hash")
	}

	cctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	conf, err := s.ledger.AwaitConfirmation(cctx, handle)
	if err != nil {
		// The transfer is in flight with an unknown outcome. Leave the
		// attempt pending; retrying here could pay twice.
		s.log.WithError(err).WithFields(logrus.Fields{
			"attempt_id": attemptID,
			"tx_hash":    handle.TxHash,
		}).Warn("confirmation not observed, settlement pending reconciliation")
		return SettlementResult{AttemptID: attemptID, State: domain.RewardPending, TransactionID: handle.TxHash},
			domain.ErrSettlementIndeterminate
	}
	return s.applyConfirmation(ctx, attemptID, amount, conf)
}

// Reconcile resolves an attempt stuck in pending. If the attempt carries an
// in-flight hash the receipt is polled; otherwise the ledger's history for
// the user's wallet is searched for a transfer tagged with this attempt.
// Only when no outstanding transfer exists is the attempt marked failed:
// failing blindly could lose a transfer that succeeded on-chain, and
// retrying blindly could pay twice.
func (s *SettlementService) Reconcile(ctx context.Context, attemptID, requestingUserID string) (SettlementResult, error) {
	attempt, user, err := s.loadOwned(ctx, attemptID, requestingUserID)
	if err != nil {
		return SettlementResult{}, err
	}
	if attempt.RewardState != domain.RewardPending {
		if attempt.RewardState == domain.RewardCredited {
			return SettlementResult{
				AttemptID:      attemptID,
				State:          domain.RewardCredited,
				CreditedAmount: attempt.RewardedAmount,
				TransactionID:  attempt.TxHash,
			}, nil
		}
		return SettlementResult{}, domain.ErrNotPending
	}

	amount := int64(attempt.Score) * s.ratePerPoint

	if attempt.TxHash != "" {
		cctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
		defer cancel()
		conf, err := s.ledger.AwaitConfirmation(cctx, TransferHandle{TxHash: attempt.TxHash})
		if err != nil {
			return SettlementResult{AttemptID: attemptID, State: domain.RewardPending, TransactionID: attempt.TxHash},
				domain.ErrSettlementIndeterminate
		}
		return s.applyConfirmation(ctx, attemptID, amount, conf)
	}

	records, err := s.ledger.QueryHistory(ctx, user.WalletAddress)
	if err != nil {
		return SettlementResult{}, domain.ErrLedgerUnavailable
	}
	for _, rec := range records {
		if rec.AttemptID != attemptID {
			continue
		}
		if rec.Confirmed {
			return s.applyConfirmation(ctx, attemptID, amount, Confirmation{Outcome: TransferConfirmed, TxHash: rec.TxHash})
		}
		// A matching transfer exists but is not yet final; keep waiting.
		return SettlementResult{AttemptID: attemptID, State: domain.RewardPending, TransactionID: rec.TxHash},
			domain.ErrSettlementIndeterminate
	}

	// No transfer reached the chain. Nothing is lost by failing, and an
	// explicit new settlement request can re-enter pending.
	if err := s.attempts.FailSettlement(ctx, attemptID); err != nil {
		return SettlementResult{}, err
	}
	s.log.WithField("attempt_id", attemptID).Info("reconciled pending settlement to failed, no transfer on ledger")
	return SettlementResult{AttemptID: attemptID, State: domain.RewardFailed}, nil
}

// Balance reads a wallet's token balance straight from the external ledger.
func (s *SettlementService) Balance(ctx context.Context, address string) (*big.Int, error) {
	return s.ledger.BalanceOf(ctx, address)
}

func (s *SettlementService) applyConfirmation(ctx context.Context, attemptID string, amount int64, conf Confirmation) (SettlementResult, error) {
	switch conf.Outcome {
	case TransferConfirmed:
		if err := s.attempts.CompleteSettlement(ctx, attemptID, conf.TxHash, amount); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// A concurrent settle or reconcile moved the attempt
				// first. The credit already happened exactly once;
				// report whatever the winner recorded.
				return s.recordedOutcome(ctx, attemptID)
			}
			return SettlementResult{}, err
		}
		s.log.WithFields(logrus.Fields{
			"attempt_id": attemptID,
			"tx_hash":    conf.TxHash,
			"amount":     amount,
		}).Info("reward credited")
		if s.notifier != nil {
			s.notifier.Broadcast(ctx)
		}
		return SettlementResult{
			AttemptID:      attemptID,
			State:          domain.RewardCredited,
			CreditedAmount: amount,
			TransactionID:  conf.TxHash,
		}, nil
	case TransferRejected:
		if err := s.attempts.FailSettlement(ctx, attemptID); err != nil {
			s.log.WithError(err).WithField("attempt_id", attemptID).Error("mark settlement failed")
		}
		return SettlementResult{AttemptID: attemptID, State: domain.RewardFailed}, domain.ErrLedgerRejected
	default:
		return SettlementResult{AttemptID: attemptID, State: domain.RewardPending, TransactionID: conf.TxHash},
			domain.ErrSettlementIndeterminate
	}
}

// recordedOutcome re-reads an attempt after a lost transition race.
func (s *SettlementService) recordedOutcome(ctx context.Context, attemptID string) (SettlementResult, error) {
	attempt, err := s.attempts.Find(ctx, attemptID)
	if err != nil {
		return SettlementResult{}, err
	}
	if attempt.RewardState == domain.RewardCredited {
		return SettlementResult{
			AttemptID:      attemptID,
			State:          domain.RewardCredited,
			CreditedAmount: attempt.RewardedAmount,
			TransactionID:  attempt.TxHash,
		}, nil
	}
	return SettlementResult{}, domain.ErrAlreadySettled
}

func (s *SettlementService) loadOwned(ctx context.Context, attemptID, requestingUserID string) (domain.Attempt, domain.UserAggregate, error) {
	attempt, err := s.attempts.Find(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, domain.UserAggregate{}, err
	}
	if attempt.UserID != requestingUserID {
		return domain.Attempt{}, domain.UserAggregate{}, domain.ErrAttemptNotFound
	}
	user, err := s.users.Get(ctx, attempt.UserID)
	if err != nil {
		return domain.Attempt{}, domain.UserAggregate{}, err
	}
	return attempt, user, nil
}
