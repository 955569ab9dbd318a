// Package dispatch invokes the downstream action tied to a settlement.
// Handlers are registered by action identifier at startup; the settlement
// orchestrator dispatches exactly once per settlement, strictly after the
// payment leg is final. A handler failure is reported to the caller but
// never rolls the payment back.
package dispatch

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ContractLabs/payment-gateway/types"
)

// Invocation is what a handler receives: the caller's request plus a
// summary of the payment that funded it.
type Invocation struct {
	SettlementID string
	Request      types.Request
	Payer        common.Address
	Payee        common.Address
	Asset        common.Address
	Kind         types.AssetKind
	Refunded     *big.Int
}

// Handler executes one action type.
type Handler interface {
	// Type is the action identifier this handler answers to.
	Type() string

	// Execute runs the action. Returning an error marks the settlement
	// receipt, nothing more.
	Execute(ctx context.Context, inv Invocation) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc struct {
	Action string
	Fn     func(ctx context.Context, inv Invocation) error
}

func (h HandlerFunc) Type() string {
	return h.Action
}

func (h HandlerFunc) Execute(ctx context.Context, inv Invocation) error {
	return h.Fn(ctx, inv)
}

// Dispatcher maps action identifiers to handlers. Safe for concurrent
// reads; Register should only be called at startup.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds a handler. Panics on duplicate type to surface
// misconfiguration early.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("dispatch: duplicate action type %q", h.Type()))
	}
	d.handlers[h.Type()] = h
}

// Dispatch invokes the handler for inv.Request.Action once. An unknown
// action is a dispatch failure, reported the same way as a handler error.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) error {
	d.mu.RLock()
	h, ok := d.handlers[inv.Request.Action]
	d.mu.RUnlock()
	if !ok {
		return types.Errf(types.ErrActionFailed, "no handler registered for action %q", inv.Request.Action)
	}
	if err := h.Execute(ctx, inv); err != nil {
		return types.WrapErr(types.ErrActionFailed, err, "action %q failed", inv.Request.Action)
	}
	return nil
}

// Actions returns all registered action identifiers.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, k)
	}
	return out
}
