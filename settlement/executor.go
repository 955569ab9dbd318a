package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ContractLabs/payment-gateway/backends"
	"github.com/ContractLabs/payment-gateway/logger"
	"github.com/ContractLabs/payment-gateway/types"
	"github.com/ContractLabs/payment-gateway/utils"
)

// Executor performs the value movement for a resolved asset kind. One
// operation covers all kinds; decode failures and backend rejections both
// abort with a transfer failure and no partial quantity ever moves.
type Executor struct {
	fungible backends.FungibleLedger
	nft      backends.NonFungibleLedger
	semi     backends.SemiFungibleLedger
	native   backends.NativeLedger
	registry backends.AllowanceRegistry
	self     common.Address
	log      logger.Logger
}

func NewExecutor(
	fungible backends.FungibleLedger,
	nft backends.NonFungibleLedger,
	semi backends.SemiFungibleLedger,
	native backends.NativeLedger,
	registry backends.AllowanceRegistry,
	self common.Address,
	log logger.Logger,
) *Executor {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Executor{
		fungible: fungible,
		nft:      nft,
		semi:     semi,
		native:   native,
		registry: registry,
		self:     self,
		log:      log,
	}
}

// Move executes the transfer and returns the native amount spent, for
// refund accounting. received is the native value that arrived with the
// call; only the native kind draws on it.
func (x *Executor) Move(
	ctx context.Context,
	kind types.AssetKind,
	route types.Route,
	asset, from, to common.Address,
	payload []byte,
	received *big.Int,
) (*big.Int, error) {
	spent := new(big.Int)

	switch kind {
	case types.AssetNative:
		amount, err := utils.DecodeAmount(payload)
		if err != nil {
			return nil, types.WrapErr(types.ErrTransferFailure, err, "native payload")
		}
		if received == nil || amount.Cmp(received) > 0 {
			return nil, types.Errf(types.ErrTransferFailure,
				"native spend %s exceeds received value", amount)
		}
		if err := x.native.Transfer(ctx, to, amount); err != nil {
			return nil, types.WrapErr(types.ErrTransferFailure, err, "native transfer rejected")
		}
		spent = amount

	case types.AssetFungible:
		amount, err := utils.DecodeAmount(payload)
		if err != nil {
			return nil, types.WrapErr(types.ErrTransferFailure, err, "fungible payload")
		}
		if route == types.RouteRegistry {
			err = x.registry.TransferFrom(ctx, from, to, amount, asset)
		} else {
			err = x.fungible.TransferFrom(ctx, asset, from, to, amount)
		}
		if err != nil {
			return nil, types.WrapErr(types.ErrTransferFailure, err, "fungible transfer rejected")
		}

	case types.AssetNonFungible:
		tokenID, err := utils.DecodeTokenID(payload)
		if err != nil {
			return nil, types.WrapErr(types.ErrTransferFailure, err, "non-fungible payload")
		}
		source := from
		if route == types.RouteCustody {
			source = x.self
		}
		if err := x.nft.TransferFrom(ctx, asset, source, to, tokenID); err != nil {
			return nil, types.WrapErr(types.ErrTransferFailure, err, "non-fungible transfer rejected")
		}

	case types.AssetSemiFungible:
		if err := x.moveSemiFungible(ctx, asset, to, payload); err != nil {
			return nil, err
		}

	default:
		return nil, types.Errf(types.ErrInvalidToken, "cannot move asset of kind %s", kind)
	}

	x.log.Debug("asset moved", map[string]any{
		"kind": kind.String(), "route": string(route),
		"asset": asset.Hex(), "to": to.Hex(),
	})
	return spent, nil
}

// moveSemiFungible forwards custody-held units to the payee. The payload
// is either a single (id, amount) pair or a parallel id/amount batch,
// moved in one backend call either way.
func (x *Executor) moveSemiFungible(ctx context.Context, asset, to common.Address, payload []byte) error {
	if id, amount, err := utils.DecodeIDAmount(payload); err == nil && len(payload) == 64 {
		if err := x.semi.SafeTransferFrom(ctx, asset, x.self, to, id, amount, nil); err != nil {
			return types.WrapErr(types.ErrTransferFailure, err, "semi-fungible transfer rejected")
		}
		return nil
	}

	ids, amounts, err := utils.DecodeBatch(payload)
	if err != nil {
		return types.WrapErr(types.ErrTransferFailure, err, "semi-fungible payload")
	}
	if err := x.semi.SafeBatchTransferFrom(ctx, asset, x.self, to, ids, amounts, nil); err != nil {
		return types.WrapErr(types.ErrTransferFailure, err, "semi-fungible batch transfer rejected")
	}
	return nil
}
