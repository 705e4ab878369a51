// Package eth implements the external ledger client against an Ethereum
// JSON-RPC endpoint and the quiz token contract.
package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
)

// rewardABI covers the three contract surfaces the service touches: paying
// a reward, reading a balance, and the event used for reconciliation.
const rewardABI = `[
	{"type":"function","name":"rewardUser","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"attemptId","type":"string"}],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"RewardPaid","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"attemptId","type":"string","indexed":false}]}
]`

// Config carries the chain connection settings.
type Config struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ChainID         int64
	PollInterval    time.Duration
}

// Client signs and submits reward transfers and polls for their receipts.
// A mined receipt is the only signal treated as success: a transaction that
// was merely accepted by the node proves nothing about the final outcome.
type Client struct {
	eth          *ethclient.Client
	abi          abi.ABI
	contract     common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(rewardABI))
	if err != nil {
		return nil, fmt.Errorf("parse reward abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Client{
		eth:          client,
		abi:          parsed,
		contract:     common.HexToAddress(cfg.ContractAddress),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		pollInterval: pollInterval,
	}, nil
}

func (c *Client) SubmitTransfer(ctx context.Context, destination string, amount int64, attemptID string) (app.TransferHandle, error) {
	input, err := c.abi.Pack("rewardUser", common.HexToAddress(destination), big.NewInt(amount), attemptID)
	if err != nil {
		return app.TransferHandle{}, fmt.Errorf("pack rewardUser: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return app.TransferHandle{}, fmt.Errorf("pending nonce: %w: %v", domain.ErrLedgerUnavailable, err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return app.TransferHandle{}, fmt.Errorf("suggest gas price: %w: %v", domain.ErrLedgerUnavailable, err)
	}
	// An estimate failure means the node evaluated the call and it
	// reverts: an explicit rejection, not an outage.
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: input})
	if err != nil {
		if ctx.Err() != nil {
			return app.TransferHandle{}, fmt.Errorf("estimate gas: %w: %v", domain.ErrLedgerUnavailable, err)
		}
		return app.TransferHandle{}, fmt.Errorf("estimate gas: %w: %v", domain.ErrLedgerRejected, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return app.TransferHandle{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		if ctx.Err() != nil {
			return app.TransferHandle{}, fmt.Errorf("send tx: %w: %v", domain.ErrLedgerUnavailable, err)
		}
		return app.TransferHandle{}, fmt.Errorf("send tx: %w: %v", domain.ErrLedgerRejected, err)
	}
	return app.TransferHandle{TxHash: signed.Hash().Hex()}, nil
}

// AwaitConfirmation polls for the transaction receipt until the context
// expires. Returning an error leaves the outcome undecided; the caller must
// reconcile, never resubmit.
func (c *Client) AwaitConfirmation(ctx context.Context, handle app.TransferHandle) (app.Confirmation, error) {
	hash := common.HexToHash(handle.TxHash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return app.Confirmation{Outcome: app.TransferConfirmed, TxHash: handle.TxHash}, nil
			}
			return app.Confirmation{Outcome: app.TransferRejected, TxHash: handle.TxHash}, nil
		}
		select {
		case <-ctx.Done():
			return app.Confirmation{}, fmt.Errorf("confirmation not observed: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// QueryHistory filters RewardPaid events for a destination wallet so
// reconciliation can tell whether an in-doubt transfer actually landed.
func (c *Client) QueryHistory(ctx context.Context, destination string) ([]app.TransferRecord, error) {
	event := c.abi.Events["RewardPaid"]
	userTopic := common.BytesToHash(common.HexToAddress(destination).Bytes())

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{event.ID}, {userTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w: %v", domain.ErrLedgerUnavailable, err)
	}

	records := make([]app.TransferRecord, 0, len(logs))
	for _, lg := range logs {
		values, err := c.abi.Unpack("RewardPaid", lg.Data)
		if err != nil || len(values) != 2 {
			continue
		}
		amount, _ := values[0].(*big.Int)
		attemptID, _ := values[1].(string)
		if amount == nil {
			continue
		}
		records = append(records, app.TransferRecord{
			AttemptID: attemptID,
			Amount:    amount.Int64(),
			TxHash:    lg.TxHash.Hex(),
			Confirmed: !lg.Removed,
		})
	}
	return records, nil
}

func (c *Client) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	input, err := c.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w: %v", domain.ErrLedgerUnavailable, err)
	}
	values, err := c.abi.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("unpack balanceOf: %v", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type")
	}
	return balance, nil
}
