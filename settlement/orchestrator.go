// Package settlement implements the core pipeline: classify the asset,
// resolve spending rights, execute the transfer, refund excess native
// value, then dispatch the downstream action. A settlement either fully
// completes or fully aborts; no partial state is ever visible to callers.
package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ContractLabs/payment-gateway/authorize"
	"github.com/ContractLabs/payment-gateway/backends"
	"github.com/ContractLabs/payment-gateway/dispatch"
	"github.com/ContractLabs/payment-gateway/logger"
	"github.com/ContractLabs/payment-gateway/metrics"
	"github.com/ContractLabs/payment-gateway/types"
	"github.com/ContractLabs/payment-gateway/utils"
)

// CallContext carries the identity and funds that arrived with the
// settlement call.
type CallContext struct {
	// Origin is the external originator of the whole transaction chain.
	Origin common.Address

	// Caller is the immediate initiator of the settlement.
	Caller common.Address

	// Value is the native currency delivered into the core's custody with
	// the call; the refund is computed against it.
	Value *big.Int

	// Received marks the push path: the asset is already in the core's
	// custody and no pull is performed.
	Received bool
}

// InitiatorPolicy decides whether a caller may initiate a settlement. The
// default refuses intermediaries so a permission artifact meant for a
// direct party cannot be front-run; deployments that accept relayed
// settlements may override it.
type InitiatorPolicy func(call CallContext, payment types.Payment) error

// StrictInitiator is the default policy: the settlement initiator must be
// the transaction originator itself.
func StrictInitiator(call CallContext, _ types.Payment) error {
	if call.Caller != call.Origin {
		return types.Errf(types.ErrUnauthorizedCaller,
			"settlement must be initiated by the transaction originator")
	}
	return nil
}

// Orchestrator is the settlement entry point.
type Orchestrator struct {
	classifier *Classifier
	resolver   *authorize.Resolver
	executor   *Executor
	dispatcher *dispatch.Dispatcher
	native     backends.NativeLedger
	pauser     Pauser
	guard      Guard
	policy     InitiatorPolicy
	log        logger.Logger
	rec        metrics.Recorder
}

// NewOrchestrator wires the pipeline. pauser, guard, policy, log and rec
// may be nil; safe defaults apply.
func NewOrchestrator(
	classifier *Classifier,
	resolver *authorize.Resolver,
	executor *Executor,
	dispatcher *dispatch.Dispatcher,
	native backends.NativeLedger,
	pauser Pauser,
	guard Guard,
	policy InitiatorPolicy,
	log logger.Logger,
	rec metrics.Recorder,
) *Orchestrator {
	if pauser == nil {
		pauser = NeverPaused{}
	}
	if guard == nil {
		guard = NewMutexGuard()
	}
	if policy == nil {
		policy = StrictInitiator
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		classifier: classifier,
		resolver:   resolver,
		executor:   executor,
		dispatcher: dispatcher,
		native:     native,
		pauser:     pauser,
		guard:      guard,
		policy:     policy,
		log:        log,
		rec:        rec,
	}
}

// Guard exposes the reentrancy guard so the receiver adapter can hold it
// across its whole body.
func (o *Orchestrator) Guard() Guard {
	return o.guard
}

// Settle is the pull entry point. It acquires the reentrancy guard for
// the duration of the settlement.
func (o *Orchestrator) Settle(
	ctx context.Context,
	call CallContext,
	payment types.Payment,
	request types.Request,
) (*types.SettlementReceipt, error) {
	if err := o.preconditions(ctx, call, payment, request); err != nil {
		return nil, err
	}

	release, err := o.guard.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	return o.settleLocked(ctx, call, payment, request)
}

// SettleReceived is the push entry point used by the receiver adapter.
// The caller must already hold the reentrancy guard.
func (o *Orchestrator) SettleReceived(
	ctx context.Context,
	call CallContext,
	payment types.Payment,
	request types.Request,
) (*types.SettlementReceipt, error) {
	call.Received = true
	if err := o.preconditions(ctx, call, payment, request); err != nil {
		return nil, err
	}
	return o.settleLocked(ctx, call, payment, request)
}

// preconditions checks the refusal conditions in their fixed order:
// paused, initiator policy, structural validity.
func (o *Orchestrator) preconditions(ctx context.Context, call CallContext, payment types.Payment, request types.Request) error {
	paused, err := o.pauser.Paused(ctx)
	if err != nil {
		return types.WrapErr(types.ErrPaused, err, "paused query failed")
	}
	if paused {
		return types.Errf(types.ErrPaused, "settlement refused while paused")
	}

	if err := o.policy(call, payment); err != nil {
		return err
	}

	if request.Action == "" {
		return types.Errf(types.ErrInvalidArgument, "empty action identifier")
	}
	if payment.Payee == (common.Address{}) {
		return types.Errf(types.ErrInvalidArgument, "zero payee")
	}
	return nil
}

func (o *Orchestrator) settleLocked(
	ctx context.Context,
	call CallContext,
	payment types.Payment,
	request types.Request,
) (*types.SettlementReceipt, error) {
	start := time.Now()
	id := uuid.NewString()

	kind, err := o.classifier.Classify(ctx, payment.Asset)
	if err != nil {
		return nil, err
	}
	if kind == types.AssetInvalid {
		o.count("settle_rejected", kind, types.ErrInvalidToken)
		return nil, types.Errf(types.ErrInvalidToken, "asset %s declares no recognized capability", payment.Asset.Hex())
	}
	if !call.Received && !kind.Pullable() {
		return nil, types.Errf(types.ErrInvalidArgument,
			"%s assets settle via deposit notification only", kind)
	}

	o.log.Info("settlement started", map[string]any{
		"id": id, "kind": kind.String(),
		"payer": payment.Payer.Hex(), "payee": payment.Payee.Hex(),
		"asset": payment.Asset.Hex(), "received": call.Received,
	})

	route, err := o.resolve(ctx, call, kind, payment)
	if err != nil {
		o.count("settle_failed", kind, types.ErrCode(err))
		return nil, err
	}

	spent, err := o.executor.Move(ctx, kind, route, payment.Asset, payment.Payer, payment.Payee, payment.TransferData, call.Value)
	if err != nil {
		o.count("settle_failed", kind, types.ErrCode(err))
		return nil, err
	}

	refund, err := o.refund(ctx, call, spent)
	if err != nil {
		o.count("settle_failed", kind, types.ErrCode(err))
		return nil, err
	}

	receipt := &types.SettlementReceipt{
		ID:       id,
		Kind:     kind,
		Route:    route,
		Payer:    payment.Payer,
		Payee:    payment.Payee,
		Asset:    payment.Asset,
		Refunded: refund,
	}

	// The payment leg is final here. The downstream action runs exactly
	// once and its failure is reported, never rolled back.
	if err := o.dispatcher.Dispatch(ctx, dispatch.Invocation{
		SettlementID: id,
		Request:      request,
		Payer:        payment.Payer,
		Payee:        payment.Payee,
		Asset:        payment.Asset,
		Kind:         kind,
		Refunded:     refund,
	}); err != nil {
		receipt.ActionError = err
		o.log.Warn("settled but action failed", map[string]any{
			"id": id, "action": request.Action, "error": err.Error(),
		})
		o.count("action_failed", kind, types.ErrActionFailed)
	}

	o.count("settle_ok", kind, "")
	o.rec.ObserveLatency("settle", time.Since(start), map[string]string{"kind": kind.String()})
	o.log.Info("settlement complete", map[string]any{
		"id": id, "route": string(receipt.Route), "refunded": refund.String(),
	})
	return receipt, nil
}

// resolve obtains spending rights for the pull kinds. Push-received
// assets are already in custody, and native value arrived with the call;
// neither consults the resolver.
func (o *Orchestrator) resolve(ctx context.Context, call CallContext, kind types.AssetKind, payment types.Payment) (types.Route, error) {
	if call.Received {
		return types.RouteCustody, nil
	}

	switch kind {
	case types.AssetNative:
		return types.RouteDirect, nil

	case types.AssetFungible:
		required, err := utils.DecodeAmount(payment.TransferData)
		if err != nil {
			return "", types.WrapErr(types.ErrInvalidArgument, err, "fungible transfer payload")
		}
		return o.resolver.ResolveFungible(ctx, payment.Payer, payment.Asset, required, payment.Authorization)

	case types.AssetNonFungible:
		tokenID, err := utils.DecodeTokenID(payment.TransferData)
		if err != nil {
			return "", types.WrapErr(types.ErrInvalidArgument, err, "non-fungible transfer payload")
		}
		if err := o.resolver.ResolveNonFungible(ctx, payment.Payer, payment.Asset, tokenID, payment.Authorization); err != nil {
			return "", err
		}
		return types.RouteDirect, nil

	default:
		return "", types.Errf(types.ErrInvalidArgument, "kind %s cannot be pulled", kind)
	}
}

// refund returns the unspent native value to the originator.
func (o *Orchestrator) refund(ctx context.Context, call CallContext, spent *big.Int) (*big.Int, error) {
	refund := new(big.Int)
	if call.Value != nil {
		refund.Sub(call.Value, spent)
	}
	if refund.Sign() < 0 {
		// Spent is bounded by the received value in the executor; a
		// negative refund means a broken native ledger.
		return nil, types.Errf(types.ErrTransferFailure, "native spend exceeds received value")
	}
	if refund.Sign() > 0 {
		if err := o.native.Transfer(ctx, call.Origin, refund); err != nil {
			return nil, types.WrapErr(types.ErrTransferFailure, err, "refund rejected")
		}
	}
	return refund, nil
}

func (o *Orchestrator) count(event string, kind types.AssetKind, code string) {
	o.rec.IncCounter(event, map[string]string{"kind": kind.String(), "code": code})
}
