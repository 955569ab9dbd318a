package gateway

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContractLabs/payment-gateway/admin"
	"github.com/ContractLabs/payment-gateway/backends"
	"github.com/ContractLabs/payment-gateway/dispatch"
	"github.com/ContractLabs/payment-gateway/settlement"
	"github.com/ContractLabs/payment-gateway/types"
	"github.com/ContractLabs/payment-gateway/utils"
)

var (
	self  = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	payer = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	payee = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	owner = common.HexToAddress("0x00000000000000000000000000000000000000D1")
)

func memoryLedgers(mem *backends.Memory) Ledgers {
	return Ledgers{
		Prober:       mem,
		Fungible:     mem,
		NonFungible:  mem.NFT(),
		SemiFungible: mem,
		Native:       mem,
		Registry:     mem.Registry(),
	}
}

func TestNewRejectsZeroSelf(t *testing.T) {
	mem := backends.NewMemory(self)

	_, err := New(Config{}, memoryLedgers(mem))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
}

func TestNewRejectsBadLogLevel(t *testing.T) {
	mem := backends.NewMemory(self)

	_, err := New(Config{Self: self, LogLevel: "loud"}, memoryLedgers(mem))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
}

func TestNewRejectsMissingLedger(t *testing.T) {
	mem := backends.NewMemory(self)
	ledgers := memoryLedgers(mem)
	ledgers.Registry = nil

	_, err := New(Config{Self: self}, ledgers)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
}

func TestGatewaySettlesEndToEnd(t *testing.T) {
	mem := backends.NewMemory(self)
	g, err := New(Config{Self: self}, memoryLedgers(mem))
	require.NoError(t, err)

	var got dispatch.Invocation
	g.RegisterAction(dispatch.HandlerFunc{Action: "unlock", Fn: func(_ context.Context, inv dispatch.Invocation) error {
		got = inv
		return nil
	}})
	assert.Equal(t, []string{"unlock"}, g.Actions())

	asset := mem.NewFungible(false)
	mem.MintFungible(asset, payer, big.NewInt(500))
	mem.Approve(asset, payer, self, big.NewInt(500))

	receipt, err := g.Settle(context.Background(),
		settlement.CallContext{Origin: payer, Caller: payer},
		types.Payment{
			Payee:        payee,
			Payer:        payer,
			Asset:        asset,
			TransferData: utils.EncodeAmount(big.NewInt(120)),
		},
		types.Request{Action: "unlock"})
	require.NoError(t, err)
	require.NoError(t, receipt.ActionError)

	assert.EqualValues(t, 120, mem.BalanceOf(asset, payee).Int64())
	assert.Equal(t, receipt.ID, got.SettlementID)
	assert.Equal(t, types.AssetFungible, got.Kind)
}

func TestGatewayDepositEndToEnd(t *testing.T) {
	mem := backends.NewMemory(self)
	g, err := New(Config{Self: self}, memoryLedgers(mem))
	require.NoError(t, err)
	g.RegisterAction(dispatch.HandlerFunc{Action: "unlock", Fn: func(context.Context, dispatch.Invocation) error {
		return nil
	}})

	asset := mem.NewNonFungible(false)
	tokenID := big.NewInt(77)
	mem.MintNFT(asset, self, tokenID)

	data, err := utils.EncodeDepositInstruction(payee, types.Request{Action: "unlock"})
	require.NoError(t, err)

	_, err = g.OnNonFungibleReceived(context.Background(), asset, payer, payer, tokenID, data)
	require.NoError(t, err)
	assert.Equal(t, payee, mem.OwnerOf(asset, tokenID))
}

func TestGatewayHonorsPauserOption(t *testing.T) {
	mem := backends.NewMemory(self)
	state := admin.NewState(owner)
	g, err := New(Config{Self: self}, memoryLedgers(mem), WithPauser(state))
	require.NoError(t, err)

	require.NoError(t, state.Pause(owner))
	_, err = g.Settle(context.Background(),
		settlement.CallContext{Origin: payer, Caller: payer},
		types.Payment{Payee: payee, Payer: payer, Asset: types.NativeAsset},
		types.Request{Action: "unlock"})
	assert.True(t, types.IsCode(err, types.ErrPaused))
}
