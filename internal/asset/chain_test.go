package asset

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeChain struct {
	balance   *big.Int
	allowance *big.Int
	status    uint64
	pending   int // receipts reported as not found before mining
	sent      []*types.Transaction
	onSend    func()
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}
func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}
func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 21000, nil }
func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	if f.onSend != nil {
		f.onSend()
	}
	return nil
}
func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: h, Status: f.status}, nil
}
func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return erc20ABI.Methods["allowance"].Outputs.Pack(f.allowance)
}

func newChainTransferer(t *testing.T, f *fakeChain) *ChainTransferer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c := NewChainTransferer(f, big.NewInt(8453), key)
	c.pollInterval = time.Millisecond
	return c
}

func TestChainSendNative(t *testing.T) {
	f := &fakeChain{status: types.ReceiptStatusSuccessful, pending: 2}
	c := newChainTransferer(t, f)

	ref, err := c.Send(context.Background(), native, winner, big.NewInt(7))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("expected 1 tx, got %d", len(f.sent))
	}
	tx := f.sent[0]
	if *tx.To() != winner || tx.Value().Int64() != 7 || len(tx.Data()) != 0 {
		t.Fatalf("unexpected native tx: to=%s value=%s data=%x", tx.To().Hex(), tx.Value(), tx.Data())
	}
	if ref != tx.Hash().Hex() {
		t.Fatalf("ref %s, want tx hash %s", ref, tx.Hash().Hex())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), tx)
	if err != nil || sender != c.Custody() {
		t.Fatalf("tx not signed by custody: %s %v", sender.Hex(), err)
	}
}

func TestChainSendTokenPacksTransfer(t *testing.T) {
	f := &fakeChain{status: types.ReceiptStatusSuccessful}
	c := newChainTransferer(t, f)

	if _, err := c.Send(context.Background(), usdc, winner, big.NewInt(3)); err != nil {
		t.Fatalf("send: %v", err)
	}
	tx := f.sent[0]
	if *tx.To() != usdc || tx.Value().Sign() != 0 {
		t.Fatalf("token transfer must call the token contract with zero value")
	}
	want, _ := erc20ABI.Pack("transfer", winner, big.NewInt(3))
	if common.Bytes2Hex(tx.Data()) != common.Bytes2Hex(want) {
		t.Fatalf("calldata mismatch")
	}
}

func TestChainSendReverted(t *testing.T) {
	f := &fakeChain{status: types.ReceiptStatusFailed}
	c := newChainTransferer(t, f)
	if _, err := c.Send(context.Background(), usdc, winner, big.NewInt(3)); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestChainPullNativeReserves(t *testing.T) {
	f := &fakeChain{balance: big.NewInt(10), status: types.ReceiptStatusSuccessful}
	c := newChainTransferer(t, f)
	ctx := context.Background()

	if _, err := c.Pull(ctx, native, admin, big.NewInt(6)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if _, err := c.Pull(ctx, native, admin, big.NewInt(6)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected second pull to exceed reserve, got %v", err)
	}
	if _, err := c.Send(ctx, native, winner, big.NewInt(6)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := c.Pull(ctx, native, admin, big.NewInt(6)); err != nil {
		t.Fatalf("pull after release: %v", err)
	}
}

func TestChainPullTokenRequiresAllowance(t *testing.T) {
	f := &fakeChain{allowance: big.NewInt(5), status: types.ReceiptStatusSuccessful}
	c := newChainTransferer(t, f)
	ctx := context.Background()

	if _, err := c.Pull(ctx, usdc, admin, big.NewInt(6)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if len(f.sent) != 0 {
		t.Fatal("no tx should be sent without allowance")
	}
	if _, err := c.Pull(ctx, usdc, admin, big.NewInt(5)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	want, _ := erc20ABI.Pack("transferFrom", admin, c.Custody(), big.NewInt(5))
	if common.Bytes2Hex(f.sent[0].Data()) != common.Bytes2Hex(want) {
		t.Fatal("transferFrom calldata mismatch")
	}
}

func TestChainSendUnminedIsPending(t *testing.T) {
	f := &fakeChain{balance: big.NewInt(10), status: types.ReceiptStatusSuccessful, pending: 1 << 30}
	c := newChainTransferer(t, f)
	c.SetConfirmation(time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	if _, err := c.Pull(ctx, native, admin, big.NewInt(6)); err != nil {
		t.Fatal(err)
	}
	ref, err := c.Send(ctx, native, winner, big.NewInt(6))
	if !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}
	if len(f.sent) != 1 || ref != f.sent[0].Hash().Hex() {
		t.Fatalf("pending send must report its tx hash, got %q", ref)
	}
	if got := c.Reserved().Int64(); got != 6 {
		t.Fatalf("unmined value must stay reserved, got %d", got)
	}
	if err := c.Confirm(ctx, ref); !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending before mining, got %v", err)
	}

	f.pending = 0
	if err := c.Confirm(ctx, ref); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatal("confirm must not broadcast")
	}
	if c.Reserved().Sign() != 0 {
		t.Fatalf("mined value still reserved: %s", c.Reserved())
	}
}

func TestChainConfirmRevertedKeepsReserve(t *testing.T) {
	f := &fakeChain{balance: big.NewInt(10), status: types.ReceiptStatusSuccessful, pending: 1 << 30}
	c := newChainTransferer(t, f)
	c.SetConfirmation(time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	if _, err := c.Pull(ctx, native, admin, big.NewInt(6)); err != nil {
		t.Fatal(err)
	}
	ref, err := c.Send(ctx, native, winner, big.NewInt(6))
	if !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}
	f.pending, f.status = 0, types.ReceiptStatusFailed
	if err := c.Confirm(ctx, ref); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if got := c.Reserved().Int64(); got != 6 {
		t.Fatalf("reserved %d, want 6 after revert", got)
	}
	if _, err := c.Pull(ctx, native, admin, big.NewInt(5)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("reverted payout must stay owed, got %v", err)
	}
	if err := c.Confirm(ctx, "reserve:"+c.Custody().Hex()); err == nil || errors.Is(err, ErrPending) {
		t.Fatalf("expected bad ref error, got %v", err)
	}
}

func TestChainReceiptWaitOutlivesCaller(t *testing.T) {
	f := &fakeChain{status: types.ReceiptStatusSuccessful, pending: 3}
	c := newChainTransferer(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onSend = cancel

	ref, err := c.Send(ctx, usdc, winner, big.NewInt(3))
	if err != nil {
		t.Fatalf("send after caller cancel: %v", err)
	}
	if ref != f.sent[0].Hash().Hex() {
		t.Fatalf("ref %s, want %s", ref, f.sent[0].Hash().Hex())
	}
}

func TestChainReserveRestoresCommitments(t *testing.T) {
	f := &fakeChain{balance: big.NewInt(10), status: types.ReceiptStatusSuccessful}
	c := newChainTransferer(t, f)
	ctx := context.Background()

	c.Reserve(big.NewInt(8))
	c.Reserve(nil)
	if got := c.Reserved().Int64(); got != 8 {
		t.Fatalf("reserved %d, want 8", got)
	}
	if _, err := c.Pull(ctx, native, admin, big.NewInt(3)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected restored reservation to block the pull, got %v", err)
	}
	if _, err := c.Pull(ctx, native, admin, big.NewInt(2)); err != nil {
		t.Fatalf("pull within free balance: %v", err)
	}
}

func TestChainTrackReleasesOnConfirm(t *testing.T) {
	f := &fakeChain{balance: big.NewInt(10), status: types.ReceiptStatusSuccessful}
	c := newChainTransferer(t, f)
	ref := common.HexToHash("0xabc").Hex()

	c.Track(ref, big.NewInt(4))
	c.Track(ref, big.NewInt(4))
	if got := c.Reserved().Int64(); got != 4 {
		t.Fatalf("reserved %d, want 4", got)
	}
	if err := c.Confirm(context.Background(), ref); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if c.Reserved().Sign() != 0 {
		t.Fatalf("confirmed payout still reserved: %s", c.Reserved())
	}
}
