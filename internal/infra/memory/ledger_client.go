package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

// LedgerClient simulates the external token ledger. Transfers confirm
// instantly and balances live in a map. It backs local development when no
// RPC endpoint is configured, and tests drive its failure knobs to exercise
// every branch of the settlement state machine.
type LedgerClient struct {
	mu       sync.Mutex
	seq      int
	balances map[string]*big.Int
	history  map[string][]app.TransferRecord

	// Failure knobs, checked in order on the next matching call.
	SubmitUnavailable  bool // SubmitTransfer returns ErrLedgerUnavailable
	ConfirmUnavailable bool // AwaitConfirmation returns ErrLedgerUnavailable
	RejectNext         bool // AwaitConfirmation reports a rejection
	HoldConfirmation   bool // transfers submit but never confirm
}

func NewLedgerClient() *LedgerClient {
	return &LedgerClient{
		balances: make(map[string]*big.Int),
		history:  make(map[string][]app.TransferRecord),
	}
}

func (c *LedgerClient) SubmitTransfer(_ context.Context, destination string, amount int64, attemptID string) (app.TransferHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitUnavailable {
		return app.TransferHandle{}, domain.ErrLedgerUnavailable
	}
	c.seq++
	hash := fmt.Sprintf("0xsim%08d", c.seq)
	confirmed := !c.HoldConfirmation && !c.RejectNext
	c.history[destination] = append(c.history[destination], app.TransferRecord{
		AttemptID: attemptID,
		Amount:    amount,
		TxHash:    hash,
		Confirmed: confirmed,
	})
	if confirmed {
		balance, ok := c.balances[destination]
		if !ok {
			balance = big.NewInt(0)
			c.balances[destination] = balance
		}
		balance.Add(balance, big.NewInt(amount))
	}
	return app.TransferHandle{TxHash: hash}, nil
}

func (c *LedgerClient) AwaitConfirmation(ctx context.Context, handle app.TransferHandle) (app.Confirmation, error) {
	c.mu.Lock()
	if c.ConfirmUnavailable {
		c.mu.Unlock()
		return app.Confirmation{}, domain.ErrLedgerUnavailable
	}
	if c.RejectNext {
		c.RejectNext = false
		c.mu.Unlock()
		return app.Confirmation{Outcome: app.TransferRejected, TxHash: handle.TxHash}, nil
	}
	hold := c.HoldConfirmation
	c.mu.Unlock()
	if hold {
		<-ctx.Done()
		return app.Confirmation{}, ctx.Err()
	}
	return app.Confirmation{Outcome: app.TransferConfirmed, TxHash: handle.TxHash}, nil
}

func (c *LedgerClient) QueryHistory(_ context.Context, destination string) ([]app.TransferRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	records := make([]app.TransferRecord, len(c.history[destination]))
	copy(records, c.history[destination])
	return records, nil
}

func (c *LedgerClient) BalanceOf(_ context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if balance, ok := c.balances[address]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

// ConfirmHeld marks every held transfer for destination as confirmed and
// credits the balance, emulating a transfer that landed on-chain after the
// caller stopped watching.
func (c *LedgerClient) ConfirmHeld(destination string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, rec := range c.history[destination] {
		if rec.Confirmed {
			continue
		}
		c.history[destination][i].Confirmed = true
		balance, ok := c.balances[destination]
		if !ok {
			balance = big.NewInt(0)
			c.balances[destination] = balance
		}
		balance.Add(balance, big.NewInt(rec.Amount))
	}
}
