package gateway

import (
	"github.com/ContractLabs/payment-gateway/logger"
	"github.com/ContractLabs/payment-gateway/metrics"
	"github.com/ContractLabs/payment-gateway/settlement"
)

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gateway) {
		g.rec = r
	}
}

// WithPauser wires the externally owned paused flag. Without it the
// gateway never refuses on pause.
func WithPauser(p settlement.Pauser) Option {
	return func(g *Gateway) {
		g.pauser = p
	}
}

// WithGuard substitutes the reentrancy guard. The default is an
// in-process mutex guard.
func WithGuard(gd settlement.Guard) Option {
	return func(g *Gateway) {
		g.guard = gd
	}
}

// WithInitiatorPolicy overrides the rule that settlements must be
// initiated by the transaction originator. The restriction protects
// permission artifacts from intermediaries; relax it only after
// product-level review.
func WithInitiatorPolicy(p settlement.InitiatorPolicy) Option {
	return func(g *Gateway) {
		g.policy = p
	}
}
