// Package receiver handles asset kinds that initiate settlement by
// pushing: the asset backend calls a deposit notification entry point
// mid-transfer, the adapter decodes the settlement instruction embedded
// in the notification payload, and the orchestrator forwards the
// just-received asset from the core's custody to the payee. Returning the
// acknowledgement selector completes the backend's transfer; any failure
// aborts it instead.
package receiver

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ContractLabs/payment-gateway/logger"
	"github.com/ContractLabs/payment-gateway/settlement"
	"github.com/ContractLabs/payment-gateway/types"
	"github.com/ContractLabs/payment-gateway/utils"
)

// Ack is the fixed acknowledgement token a deposit entry point returns on
// full success.
type Ack [4]byte

var (
	// AckNonFungible acknowledges a single non-fungible deposit.
	AckNonFungible = selector("onERC721Received(address,address,uint256,bytes)")

	// AckSemiFungible acknowledges a single semi-fungible deposit.
	AckSemiFungible = selector("onERC1155Received(address,address,uint256,uint256,bytes)")

	// AckSemiFungibleBatch acknowledges a batched semi-fungible deposit.
	AckSemiFungibleBatch = selector("onERC1155BatchReceived(address,address,uint256[],uint256[],bytes)")
)

func selector(sig string) Ack {
	var s Ack
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// Receiver adapts deposit notifications into settlements.
type Receiver struct {
	orch       *settlement.Orchestrator
	classifier *settlement.Classifier
	log        logger.Logger
}

func NewReceiver(orch *settlement.Orchestrator, classifier *settlement.Classifier, log logger.Logger) *Receiver {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Receiver{orch: orch, classifier: classifier, log: log}
}

// OnNonFungibleReceived settles a pushed non-fungible instance. asset is
// the notifying backend, from the depositing party, data the opaque
// settlement instruction.
func (r *Receiver) OnNonFungibleReceived(
	ctx context.Context,
	asset, operator, from common.Address,
	tokenID *big.Int,
	data []byte,
) (Ack, error) {
	return r.handle(ctx, asset, operator, from, types.AssetNonFungible, AckNonFungible,
		utils.EncodeTokenID(tokenID), data)
}

// OnSemiFungibleReceived settles a pushed single semi-fungible position.
func (r *Receiver) OnSemiFungibleReceived(
	ctx context.Context,
	asset, operator, from common.Address,
	id, amount *big.Int,
	data []byte,
) (Ack, error) {
	return r.handle(ctx, asset, operator, from, types.AssetSemiFungible, AckSemiFungible,
		utils.EncodeIDAmount(id, amount), data)
}

// OnSemiFungibleBatchReceived settles a pushed semi-fungible batch in one
// onward backend call.
func (r *Receiver) OnSemiFungibleBatchReceived(
	ctx context.Context,
	asset, operator, from common.Address,
	ids, amounts []*big.Int,
	data []byte,
) (Ack, error) {
	if len(ids) != len(amounts) || len(ids) == 0 {
		return Ack{}, types.Errf(types.ErrInvalidArgument,
			"batch deposit with %d ids and %d amounts", len(ids), len(amounts))
	}
	return r.handle(ctx, asset, operator, from, types.AssetSemiFungible, AckSemiFungibleBatch,
		utils.EncodeBatch(ids, amounts), data)
}

// handle runs the shared deposit flow under the reentrancy guard: the
// adapter is invoked by an external backend mid-call, so the guard covers
// its entire body.
func (r *Receiver) handle(
	ctx context.Context,
	asset, operator, from common.Address,
	expected types.AssetKind,
	ack Ack,
	transferData, instruction []byte,
) (Ack, error) {
	release, err := r.orch.Guard().Acquire()
	if err != nil {
		return Ack{}, err
	}
	defer release()

	payee, request, err := utils.DecodeDepositInstruction(instruction)
	if err != nil {
		return Ack{}, types.WrapErr(types.ErrInvalidArgument, err, "deposit payload")
	}

	// A deposit claiming a kind its asset does not actually have is a
	// spoof attempt, not a malformed argument.
	kind, err := r.classifier.Classify(ctx, asset)
	if err != nil {
		return Ack{}, err
	}
	if kind != expected {
		return Ack{}, types.Errf(types.ErrUnauthorizedCaller,
			"deposit entry point for %s assets called by a %s asset", expected, kind)
	}

	r.log.Info("deposit received", map[string]any{
		"asset": asset.Hex(), "from": from.Hex(),
		"operator": operator.Hex(), "kind": expected.String(),
	})

	payment := types.Payment{
		Payee:        payee,
		Payer:        from,
		Asset:        asset,
		TransferData: transferData,
	}
	call := settlement.CallContext{Origin: from, Caller: from}

	if _, err := r.orch.SettleReceived(ctx, call, payment, request); err != nil {
		return Ack{}, err
	}
	return ack, nil
}
