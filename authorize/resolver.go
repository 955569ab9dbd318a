// Package authorize resolves spending rights for pull-based settlements.
// A standing allowance already granted to the settlement core always wins
// (protocol A); otherwise exactly one caller-supplied permission is
// consumed, through the asset's own permit entry point when it has one
// (protocol B) or through the shared delegated-allowance registry when it
// does not (protocol C).
package authorize

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ContractLabs/payment-gateway/backends"
	"github.com/ContractLabs/payment-gateway/logger"
	"github.com/ContractLabs/payment-gateway/types"
	"github.com/ContractLabs/payment-gateway/utils"
)

// Resolver decides which allowance path covers a settlement and raises the
// allowance when a usable permission is supplied.
type Resolver struct {
	fungible backends.FungibleLedger
	nft      backends.NonFungibleLedger
	registry backends.AllowanceRegistry
	prober   backends.CapabilityProber
	self     common.Address
	log      logger.Logger
}

// NewResolver wires a resolver against the ledger collaborators. self is
// the settlement core's identity, the spender every permission must name.
func NewResolver(
	fungible backends.FungibleLedger,
	nft backends.NonFungibleLedger,
	registry backends.AllowanceRegistry,
	prober backends.CapabilityProber,
	self common.Address,
	log logger.Logger,
) *Resolver {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Resolver{
		fungible: fungible,
		nft:      nft,
		registry: registry,
		prober:   prober,
		self:     self,
		log:      log,
	}
}

// ResolveFungible grants the core access to required units of the asset
// and reports which route the transfer executor must draw on.
func (r *Resolver) ResolveFungible(
	ctx context.Context,
	payer, asset common.Address,
	required *big.Int,
	auth *types.Authorization,
) (types.Route, error) {
	standing, err := r.fungible.Allowance(ctx, asset, payer, r.self)
	if err != nil {
		return "", types.WrapErr(types.ErrTransferFailure, err, "allowance query failed")
	}

	// Protocol A: the standing allowance already covers the request. Any
	// supplied permission is left untouched.
	if standing.Cmp(required) >= 0 {
		r.log.Debug("standing allowance sufficient", map[string]any{
			"payer": payer.Hex(), "asset": asset.Hex(),
		})
		return types.RouteDirect, nil
	}

	if !auth.Attempted() {
		return "", types.Errf(types.ErrInsufficientAllowance,
			"standing allowance %s below required %s and no permission supplied", standing, required)
	}

	selfPermit, err := r.fungible.SupportsPermit(ctx, asset)
	if err != nil {
		return "", types.WrapErr(types.ErrTransferFailure, err, "permit capability probe failed")
	}

	if selfPermit {
		return r.resolveSelfPermit(ctx, payer, asset, required, auth)
	}
	return r.resolveRegistryPermit(ctx, payer, asset, required, auth)
}

// resolveSelfPermit submits a protocol-B permission to the asset's own
// permit entry point. Replay and expiry checks are the asset's job.
func (r *Resolver) resolveSelfPermit(
	ctx context.Context,
	payer, asset common.Address,
	required *big.Int,
	auth *types.Authorization,
) (types.Route, error) {
	amount, err := utils.DecodePermitAmount(auth.Payload)
	if err != nil {
		return "", types.WrapErr(types.ErrInvalidArgument, err, "malformed permit payload")
	}
	if amount.Cmp(required) < 0 {
		return "", types.Errf(types.ErrInsufficientAllowance,
			"permitted amount %s below required %s", amount, required)
	}

	v, rComp, sComp, err := utils.SplitSignature(auth.Signature)
	if err != nil {
		return "", types.WrapErr(types.ErrInvalidArgument, err, "malformed permit signature")
	}

	if err := r.fungible.Permit(ctx, asset, payer, r.self, amount, auth.Expiry, v, rComp, sComp); err != nil {
		return "", types.WrapErr(types.ErrInsufficientAllowance, err, "asset rejected permit")
	}

	r.log.Debug("self-issued permit accepted", map[string]any{
		"payer": payer.Hex(), "asset": asset.Hex(), "amount": amount.String(),
	})
	return types.RouteDirect, nil
}

// resolveRegistryPermit submits a protocol-C permission to the shared
// delegated-allowance registry. The registry authenticates the signer,
// enforces expiry, and burns the nonce; the later transfer is routed
// through it.
func (r *Resolver) resolveRegistryPermit(
	ctx context.Context,
	payer, asset common.Address,
	required *big.Int,
	auth *types.Authorization,
) (types.Route, error) {
	permit, err := utils.DecodeRegistryPermit(auth.Payload)
	if err != nil {
		return "", types.WrapErr(types.ErrInvalidArgument, err, "malformed registry permit payload")
	}
	if permit.Amount.Cmp(required) < 0 {
		return "", types.Errf(types.ErrInsufficientAllowance,
			"delegated amount %s below required %s", permit.Amount, required)
	}
	// The registry stores allowances in 160 bits; a wider required amount
	// can never be satisfied on this route.
	if required.BitLen() > 160 {
		return "", types.Errf(types.ErrInvalidArgument,
			"required amount exceeds registry allowance width")
	}

	if err := r.registry.Permit(ctx, payer, asset, r.self, permit.Amount, permit.Expiry, permit.Nonce, auth.Signature); err != nil {
		return "", types.WrapErr(types.ErrInsufficientAllowance, err, "registry rejected permit")
	}

	r.log.Debug("registry permit accepted", map[string]any{
		"payer": payer.Hex(), "asset": asset.Hex(), "amount": permit.Amount.String(),
	})
	return types.RouteRegistry, nil
}

// ResolveNonFungible grants the core transfer rights over one token
// instance. An authorization with a zero expiry or empty signature counts
// as "not attempted" and is fine whenever a standing approval already
// covers the instance.
func (r *Resolver) ResolveNonFungible(
	ctx context.Context,
	payer, asset common.Address,
	tokenID *big.Int,
	auth *types.Authorization,
) error {
	approved, err := r.nft.Approved(ctx, asset, tokenID)
	if err != nil {
		return types.WrapErr(types.ErrTransferFailure, err, "approval query failed")
	}
	if approved == r.self {
		return nil
	}

	operator, err := r.nft.ApprovedForAll(ctx, asset, payer, r.self)
	if err != nil {
		return types.WrapErr(types.ErrTransferFailure, err, "operator approval query failed")
	}
	if operator {
		return nil
	}

	permitCap, err := r.prober.SupportsCapability(ctx, asset, backends.CapNonFungiblePermit)
	if err != nil && !errors.Is(err, backends.ErrNotIntrospectable) {
		return types.WrapErr(types.ErrTransferFailure, err, "permit capability probe failed")
	}
	if !permitCap || !auth.Attempted() {
		return types.Errf(types.ErrPermissionNotGranted,
			"no standing approval for token %s and no usable permit path", tokenID)
	}

	if err := r.nft.PermitToken(ctx, asset, r.self, tokenID, auth.Expiry, auth.Signature); err != nil {
		return types.WrapErr(types.ErrPermissionNotGranted, err, "asset rejected token permit")
	}

	r.log.Debug("token permit accepted", map[string]any{
		"payer": payer.Hex(), "asset": asset.Hex(), "token": tokenID.String(),
	})
	return nil
}
