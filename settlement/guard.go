package settlement

import (
	"context"
	"sync"

	"github.com/ContractLabs/payment-gateway/types"
)

// Pauser is the externally owned paused flag the orchestrator consults
// before every settlement.
type Pauser interface {
	Paused(ctx context.Context) (bool, error)
}

// NeverPaused is the default Pauser for deployments without an admin
// collaborator.
type NeverPaused struct{}

func (NeverPaused) Paused(context.Context) (bool, error) {
	return false, nil
}

// Guard is the scoped reentrancy guard every settlement entry point
// acquires. It is exclusive and fail-fast: a second acquisition while held
// fails immediately, it never queues.
type Guard interface {
	// Acquire takes the guard and returns the release function, or a
	// reentrant-call error if the guard is already held.
	Acquire() (release func(), err error)
}

// MutexGuard is the in-process Guard implementation.
type MutexGuard struct {
	mu sync.Mutex
}

func NewMutexGuard() *MutexGuard {
	return &MutexGuard{}
}

func (g *MutexGuard) Acquire() (func(), error) {
	if !g.mu.TryLock() {
		return nil, types.Errf(types.ErrReentrantCall, "settlement already in progress")
	}
	return g.mu.Unlock, nil
}
