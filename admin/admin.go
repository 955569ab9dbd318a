// Package admin is a minimal reference implementation of the
// administrative collaborator the settlement core consults: an
// owner-gated paused flag and a fund-recovery hook that additionally
// requires the paused state. The core itself only sees the Paused query.
package admin

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

type State struct {
	owner  common.Address
	paused atomic.Bool
}

func NewState(owner common.Address) *State {
	return &State{owner: owner}
}

// Paused implements the settlement core's pause query.
func (s *State) Paused(context.Context) (bool, error) {
	return s.paused.Load(), nil
}

func (s *State) Pause(by common.Address) error {
	if by != s.owner {
		return fmt.Errorf("pause: caller %s is not the owner", by.Hex())
	}
	s.paused.Store(true)
	return nil
}

func (s *State) Unpause(by common.Address) error {
	if by != s.owner {
		return fmt.Errorf("unpause: caller %s is not the owner", by.Hex())
	}
	s.paused.Store(false)
	return nil
}

// Recover runs a fund-recovery operation. Recovery is owner-only and
// deliberately restricted to the paused state so it can never race a live
// settlement.
func (s *State) Recover(by common.Address, do func() error) error {
	if by != s.owner {
		return fmt.Errorf("recover: caller %s is not the owner", by.Hex())
	}
	if !s.paused.Load() {
		return fmt.Errorf("recover: only available while paused")
	}
	return do()
}
