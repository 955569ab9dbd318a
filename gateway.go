// Package gateway is a multi-asset payment settlement core. Given a
// payer, a payee, an asset identifier, and an optional signed permission,
// it classifies the asset, obtains spending rights if not already
// granted, moves the asset to the payee, refunds any excess native value,
// and triggers exactly one registered downstream action tied to the
// settlement. Fungible, non-fungible, and native assets settle through
// the pull entry point; non- and semi-fungible assets can also settle
// through deposit notifications.
package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/ContractLabs/payment-gateway/authorize"
	"github.com/ContractLabs/payment-gateway/backends"
	"github.com/ContractLabs/payment-gateway/dispatch"
	"github.com/ContractLabs/payment-gateway/logger"
	"github.com/ContractLabs/payment-gateway/metrics"
	"github.com/ContractLabs/payment-gateway/receiver"
	"github.com/ContractLabs/payment-gateway/settlement"
	"github.com/ContractLabs/payment-gateway/types"
)

// Config is the static configuration for a gateway instance.
type Config struct {
	// Self is the settlement core's own identity: the spender every
	// permission must name and the custodian deposits land on.
	Self common.Address `validate:"required"`

	// LogLevel configures the default zap logger when no logger option is
	// given. Empty disables logging.
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`

	// EnableMetrics registers the Prometheus recorder when no recorder
	// option is given.
	EnableMetrics bool
}

// Ledgers bundles the asset-backend collaborators a gateway settles
// against.
type Ledgers struct {
	Prober       backends.CapabilityProber
	Fungible     backends.FungibleLedger
	NonFungible  backends.NonFungibleLedger
	SemiFungible backends.SemiFungibleLedger
	Native       backends.NativeLedger
	Registry     backends.AllowanceRegistry
}

// Gateway composes the settlement pipeline.
type Gateway struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	orch       *settlement.Orchestrator
	recv       *receiver.Receiver

	log    logger.Logger
	rec    metrics.Recorder
	pauser settlement.Pauser
	guard  settlement.Guard
	policy settlement.InitiatorPolicy
}

// New validates the configuration and wires the pipeline.
func New(cfg Config, ledgers Ledgers, opts ...Option) (*Gateway, error) {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, types.WrapErr(types.ErrInvalidArgument, err, "invalid configuration")
	}
	if ledgers.Prober == nil || ledgers.Fungible == nil || ledgers.NonFungible == nil ||
		ledgers.SemiFungible == nil || ledgers.Native == nil || ledgers.Registry == nil {
		return nil, types.Errf(types.ErrInvalidArgument, "all ledger collaborators are required")
	}

	g := &Gateway{
		cfg:        cfg,
		dispatcher: dispatch.NewDispatcher(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.log == nil {
		if cfg.LogLevel != "" {
			g.log = logger.NewZapLogger(cfg.LogLevel)
		} else {
			g.log = logger.NoopLogger{}
		}
	}
	if g.rec == nil {
		if cfg.EnableMetrics {
			g.rec = metrics.NewPrometheusRecorder()
		} else {
			g.rec = metrics.NoopRecorder{}
		}
	}
	if g.guard == nil {
		g.guard = settlement.NewMutexGuard()
	}

	classifier := settlement.NewClassifier(ledgers.Prober)
	resolver := authorize.NewResolver(
		ledgers.Fungible, ledgers.NonFungible, ledgers.Registry, ledgers.Prober, cfg.Self, g.log)
	executor := settlement.NewExecutor(
		ledgers.Fungible, ledgers.NonFungible, ledgers.SemiFungible, ledgers.Native,
		ledgers.Registry, cfg.Self, g.log)

	g.orch = settlement.NewOrchestrator(
		classifier, resolver, executor, g.dispatcher, ledgers.Native,
		g.pauser, g.guard, g.policy, g.log, g.rec)
	g.recv = receiver.NewReceiver(g.orch, classifier, g.log)

	return g, nil
}

// RegisterAction registers a downstream action handler. Call at startup;
// duplicate action types panic.
func (g *Gateway) RegisterAction(h dispatch.Handler) {
	g.dispatcher.Register(h)
}

// Actions lists the registered downstream action identifiers.
func (g *Gateway) Actions() []string {
	return g.dispatcher.Actions()
}

// Settle is the pull entry point: it settles the payment and then
// invokes the requested downstream action. The returned receipt is only
// issued once the payment leg is final; a downstream-action failure is
// reported on the receipt, not as an error.
func (g *Gateway) Settle(
	ctx context.Context,
	call settlement.CallContext,
	payment types.Payment,
	request types.Request,
) (*types.SettlementReceipt, error) {
	return g.orch.Settle(ctx, call, payment, request)
}

// OnNonFungibleReceived is the push entry point for single non-fungible
// deposits.
func (g *Gateway) OnNonFungibleReceived(
	ctx context.Context,
	asset, operator, from common.Address,
	tokenID *big.Int,
	data []byte,
) (receiver.Ack, error) {
	return g.recv.OnNonFungibleReceived(ctx, asset, operator, from, tokenID, data)
}

// OnSemiFungibleReceived is the push entry point for single
// semi-fungible deposits.
func (g *Gateway) OnSemiFungibleReceived(
	ctx context.Context,
	asset, operator, from common.Address,
	id, amount *big.Int,
	data []byte,
) (receiver.Ack, error) {
	return g.recv.OnSemiFungibleReceived(ctx, asset, operator, from, id, amount, data)
}

// OnSemiFungibleBatchReceived is the push entry point for batched
// semi-fungible deposits.
func (g *Gateway) OnSemiFungibleBatchReceived(
	ctx context.Context,
	asset, operator, from common.Address,
	ids, amounts []*big.Int,
	data []byte,
) (receiver.Ack, error) {
	return g.recv.OnSemiFungibleBatchReceived(ctx, asset, operator, from, ids, amounts, data)
}
