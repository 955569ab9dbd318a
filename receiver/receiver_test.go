package receiver

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContractLabs/payment-gateway/authorize"
	"github.com/ContractLabs/payment-gateway/backends"
	"github.com/ContractLabs/payment-gateway/dispatch"
	"github.com/ContractLabs/payment-gateway/settlement"
	"github.com/ContractLabs/payment-gateway/types"
	"github.com/ContractLabs/payment-gateway/utils"
)

var (
	self      = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	depositor = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	payee     = common.HexToAddress("0x00000000000000000000000000000000000000C1")
)

type fixture struct {
	mem  *backends.Memory
	orch *settlement.Orchestrator
	recv *Receiver

	actions int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{mem: backends.NewMemory(self)}
	d := dispatch.NewDispatcher()
	d.Register(dispatch.HandlerFunc{Action: "unlock", Fn: func(context.Context, dispatch.Invocation) error {
		f.actions++
		return nil
	}})

	classifier := settlement.NewClassifier(f.mem)
	resolver := authorize.NewResolver(f.mem, f.mem.NFT(), f.mem.Registry(), f.mem, self, nil)
	executor := settlement.NewExecutor(f.mem, f.mem.NFT(), f.mem, f.mem, f.mem.Registry(), self, nil)
	f.orch = settlement.NewOrchestrator(classifier, resolver, executor, d, f.mem, nil, nil, nil, nil, nil)
	f.recv = NewReceiver(f.orch, classifier, nil)
	return f
}

func instruction(t *testing.T) []byte {
	t.Helper()
	data, err := utils.EncodeDepositInstruction(payee, types.Request{Action: "unlock"})
	require.NoError(t, err)
	return data
}

func TestNonFungibleDeposit(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewNonFungible(false)
	tokenID := big.NewInt(9)
	// The backend has already moved the instance into custody when it
	// notifies.
	f.mem.MintNFT(asset, self, tokenID)

	ack, err := f.recv.OnNonFungibleReceived(context.Background(), asset, depositor, depositor, tokenID, instruction(t))
	require.NoError(t, err)
	assert.Equal(t, AckNonFungible, ack)
	assert.Equal(t, payee, f.mem.OwnerOf(asset, tokenID))
	assert.Equal(t, 1, f.actions)
}

func TestSemiFungibleDeposit(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewSemiFungible()
	f.mem.MintSemiFungible(asset, self, big.NewInt(3), big.NewInt(20))

	ack, err := f.recv.OnSemiFungibleReceived(context.Background(), asset, depositor, depositor,
		big.NewInt(3), big.NewInt(20), instruction(t))
	require.NoError(t, err)
	assert.Equal(t, AckSemiFungible, ack)
	assert.EqualValues(t, 20, f.mem.SemiFungibleBalance(asset, payee, big.NewInt(3)).Int64())
}

func TestSemiFungibleBatchDeposit(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewSemiFungible()
	f.mem.MintSemiFungible(asset, self, big.NewInt(1), big.NewInt(5))
	f.mem.MintSemiFungible(asset, self, big.NewInt(2), big.NewInt(7))

	ack, err := f.recv.OnSemiFungibleBatchReceived(context.Background(), asset, depositor, depositor,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		[]*big.Int{big.NewInt(5), big.NewInt(7)},
		instruction(t))
	require.NoError(t, err)
	assert.Equal(t, AckSemiFungibleBatch, ack)
	assert.EqualValues(t, 5, f.mem.SemiFungibleBalance(asset, payee, big.NewInt(1)).Int64())
	assert.EqualValues(t, 7, f.mem.SemiFungibleBalance(asset, payee, big.NewInt(2)).Int64())
	assert.Equal(t, 1, f.actions, "one settlement, one action")
}

func TestBatchLengthMismatch(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewSemiFungible()

	_, err := f.recv.OnSemiFungibleBatchReceived(context.Background(), asset, depositor, depositor,
		[]*big.Int{big.NewInt(1)}, nil, instruction(t))
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
}

func TestKindSpoofRefused(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewNonFungible(false)
	f.mem.MintNFT(asset, self, big.NewInt(9))

	// A non-fungible asset calling the semi-fungible entry point is a
	// spoof attempt.
	_, err := f.recv.OnSemiFungibleReceived(context.Background(), asset, depositor, depositor,
		big.NewInt(9), big.NewInt(1), instruction(t))
	assert.True(t, types.IsCode(err, types.ErrUnauthorizedCaller))
	assert.Equal(t, self, f.mem.OwnerOf(asset, big.NewInt(9)), "instance stays in custody")
}

func TestMalformedInstruction(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewNonFungible(false)
	f.mem.MintNFT(asset, self, big.NewInt(9))

	_, err := f.recv.OnNonFungibleReceived(context.Background(), asset, depositor, depositor,
		big.NewInt(9), []byte("not an instruction"))
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
}

func TestDepositHoldsGuardAcrossSettlement(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewNonFungible(false)
	tokenID := big.NewInt(9)
	f.mem.MintNFT(asset, self, tokenID)

	fungible := f.mem.NewFungible(false)
	var reentrant error
	f.mem.OnTransfer = func(common.Address) {
		payment := types.Payment{
			Payee:        payee,
			Payer:        depositor,
			Asset:        fungible,
			TransferData: utils.EncodeAmount(big.NewInt(1)),
		}
		call := settlement.CallContext{Origin: depositor, Caller: depositor}
		_, reentrant = f.orch.Settle(context.Background(), call, payment, types.Request{Action: "unlock"})
	}

	_, err := f.recv.OnNonFungibleReceived(context.Background(), asset, depositor, depositor, tokenID, instruction(t))
	require.NoError(t, err)
	require.Error(t, reentrant)
	assert.True(t, types.IsCode(reentrant, types.ErrReentrantCall))
}

func TestActionFailureStillAcknowledges(t *testing.T) {
	f := newFixture(t)
	asset := f.mem.NewNonFungible(false)
	tokenID := big.NewInt(9)
	f.mem.MintNFT(asset, self, tokenID)

	// The payment leg is final once the instance reaches the payee; an
	// unknown action fails downstream without aborting the deposit.
	data, err := utils.EncodeDepositInstruction(payee, types.Request{Action: "unregistered"})
	require.NoError(t, err)

	ack, err := f.recv.OnNonFungibleReceived(context.Background(), asset, depositor, depositor, tokenID, data)
	require.NoError(t, err)
	assert.Equal(t, AckNonFungible, ack)
	assert.Equal(t, payee, f.mem.OwnerOf(asset, tokenID))
}
