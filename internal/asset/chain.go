package asset

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ChainClient is the subset of ethclient.Client used for transfers.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainTransferer pays prizes from a custody wallet on an EVM chain.
//
// Native pools are funded by topping up the custody wallet out of band; Pull
// only reserves against its balance. ERC-20 pools are pulled with
// transferFrom, so the funder must have approved the custody wallet.
type ChainTransferer struct {
	client       ChainClient
	key          *ecdsa.PrivateKey
	custody      common.Address
	chainID      *big.Int
	pollInterval time.Duration
	confirmWait  time.Duration

	mu       sync.Mutex
	reserved *big.Int                 // native value promised to escrows
	inflight map[common.Hash]*big.Int // native payouts broadcast but unconfirmed
}

// NewChainTransferer creates a ChainTransferer signing with the custody key.
func NewChainTransferer(client ChainClient, chainID *big.Int, custodyKey *ecdsa.PrivateKey) *ChainTransferer {
	return &ChainTransferer{
		client:       client,
		key:          custodyKey,
		custody:      crypto.PubkeyToAddress(custodyKey.PublicKey),
		chainID:      new(big.Int).Set(chainID),
		pollInterval: 2 * time.Second,
		confirmWait:  2 * time.Minute,
		reserved:     new(big.Int),
		inflight:     make(map[common.Hash]*big.Int),
	}
}

// SetConfirmation sets how often receipts are polled and how long a
// transaction may stay unmined before the transfer is reported pending.
// Zero values keep the current setting.
func (c *ChainTransferer) SetConfirmation(poll, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if poll > 0 {
		c.pollInterval = poll
	}
	if timeout > 0 {
		c.confirmWait = timeout
	}
}

// Reserve adds amount to the native value already promised to escrows.
// It restores the reservation of escrows funded before a restart.
func (c *ChainTransferer) Reserve(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved.Add(c.reserved, amount)
}

// Track reserves amount for a native payout reported pending before a
// restart, so Confirm releases it once mined.
func (c *ChainTransferer) Track(ref string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := common.HexToHash(ref)
	if _, ok := c.inflight[hash]; ok {
		return
	}
	c.inflight[hash] = new(big.Int).Set(amount)
	c.reserved.Add(c.reserved, amount)
}

// Reserved is the native value currently promised to escrows.
func (c *ChainTransferer) Reserved() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.reserved)
}

// Custody is the custody wallet address.
func (c *ChainTransferer) Custody() common.Address { return c.custody }

func (c *ChainTransferer) Pull(ctx context.Context, token, from common.Address, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if token == (common.Address{}) {
		bal, err := c.client.BalanceAt(ctx, c.custody, nil)
		if err != nil {
			return "", fmt.Errorf("custody balance: %w", err)
		}
		need := new(big.Int).Add(c.reserved, amount)
		if bal.Cmp(need) < 0 {
			return "", fmt.Errorf("%w: custody holds %s, needs %s", ErrInsufficientFunds, bal, need)
		}
		c.reserved.Set(need)
		return "reserve:" + c.custody.Hex(), nil
	}

	allowance, err := c.callUint(ctx, token, "allowance", from, c.custody)
	if err != nil {
		return "", fmt.Errorf("allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		return "", fmt.Errorf("%w: allowance %s < %s", ErrInsufficientFunds, allowance, amount)
	}
	data, err := erc20ABI.Pack("transferFrom", from, c.custody, amount)
	if err != nil {
		return "", err
	}
	return c.sendTx(ctx, token, nil, data)
}

func (c *ChainTransferer) Send(ctx context.Context, token, to common.Address, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if token == (common.Address{}) {
		ref, err := c.sendTx(ctx, to, amount, nil)
		switch {
		case errors.Is(err, ErrPending):
			// Stays reserved until Confirm sees it mined.
			c.inflight[common.HexToHash(ref)] = new(big.Int).Set(amount)
			return ref, err
		case err != nil:
			return "", err
		}
		c.release(amount)
		return ref, nil
	}

	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return "", err
	}
	return c.sendTx(ctx, token, nil, data)
}

func (c *ChainTransferer) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{From: c.custody, To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("%s: unexpected output", method)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", method, vals[0])
	}
	return v, nil
}

// sendTx signs, submits and waits for an EIP-1559 transaction. Caller must hold c.mu.
func (c *ChainTransferer) sendTx(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := c.client.PendingNonceAt(ctx, c.custody)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("gas tip: %w", err)
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	feeCap := new(big.Int).Mul(tip, big.NewInt(2))
	if head.BaseFee != nil {
		feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: c.custody, To: &to, Value: value, Data: data})
	if err != nil {
		return "", fmt.Errorf("%w: estimate gas: %v", ErrRejected, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	// Once broadcast the tx may mine regardless of the caller, so the wait
	// ignores cancellation and only confirmWait bounds it.
	hash := signed.Hash()
	receipt, err := c.waitMined(context.WithoutCancel(ctx), hash)
	if err != nil {
		return hash.Hex(), fmt.Errorf("%w: tx %s: %v", ErrPending, hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: tx %s reverted", ErrRejected, hash.Hex())
	}
	return hash.Hex(), nil
}

// Confirm looks up the receipt of a transfer previously reported pending.
func (c *ChainTransferer) Confirm(ctx context.Context, ref string) error {
	if !strings.HasPrefix(ref, "0x") || len(ref) != 2+2*common.HashLength {
		return fmt.Errorf("bad tx ref %q", ref)
	}
	hash := common.HexToHash(ref)
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: tx %s not mined", ErrPending, ref)
	}
	if err != nil {
		return fmt.Errorf("%w: receipt %s: %v", ErrPending, ref, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	amount := c.inflight[hash]
	delete(c.inflight, hash)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s reverted", ErrRejected, ref)
	}
	if amount != nil {
		c.release(amount)
	}
	return nil
}

// release drops paid-out native value from the reservation. Caller must hold c.mu.
func (c *ChainTransferer) release(amount *big.Int) {
	c.reserved.Sub(c.reserved, amount)
	if c.reserved.Sign() < 0 {
		c.reserved.SetInt64(0)
	}
}

func (c *ChainTransferer) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.confirmWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.confirmWait)
		defer cancel()
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
