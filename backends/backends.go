// Package backends defines the asset-ledger collaborators the settlement
// core calls into. The core owns none of the ledgers: allowance storage,
// permit verification, and transfer execution all live behind these
// interfaces. Two implementations ship with the module: an EVM JSON-RPC
// backend and an in-memory backend for tests and examples.
package backends

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CapabilityID is a 4-byte capability identifier an asset contract may
// declare through standard introspection.
type CapabilityID [4]byte

var (
	// CapNonFungible is the non-fungible transfer capability (ERC-721).
	CapNonFungible = CapabilityID{0x80, 0xac, 0x58, 0xcd}

	// CapSemiFungible is the semi-fungible transfer capability (ERC-1155).
	CapSemiFungible = CapabilityID{0xd9, 0xb6, 0x7a, 0x26}

	// CapNonFungiblePermit is the per-token offline permit capability
	// (ERC-4494).
	CapNonFungiblePermit = CapabilityID{0x58, 0x9c, 0x5c, 0xe2}
)

// ErrNotIntrospectable is reported by a CapabilityProber when the asset
// contract predates capability discovery entirely. The classifier treats
// such assets as legacy fungible tokens.
var ErrNotIntrospectable = errors.New("asset does not support capability introspection")

// CapabilityProber answers capability-declaration queries for an asset
// identifier.
type CapabilityProber interface {
	// SupportsCapability reports whether the asset declares the given
	// capability. It returns ErrNotIntrospectable when the asset does not
	// speak the introspection protocol at all.
	SupportsCapability(ctx context.Context, asset common.Address, cap CapabilityID) (bool, error)
}

// FungibleLedger is the balance-and-allowance backend for fungible assets.
type FungibleLedger interface {
	// Allowance returns the standing allowance owner has granted spender
	// on the asset.
	Allowance(ctx context.Context, asset, owner, spender common.Address) (*big.Int, error)

	// TransferFrom pulls amount from the owner to the recipient, drawing
	// on the spender's allowance. The spender is the caller identity the
	// backend sees.
	TransferFrom(ctx context.Context, asset, from, to common.Address, amount *big.Int) error

	// SupportsPermit reports whether the asset verifies self-issued
	// offline permits on its own.
	SupportsPermit(ctx context.Context, asset common.Address) (bool, error)

	// Permit submits a self-issued permit to the asset. The asset performs
	// signer authentication, replay protection, and expiry enforcement,
	// then raises the standing allowance.
	Permit(ctx context.Context, asset, owner, spender common.Address, value *big.Int, deadline uint64, v uint8, r, s [32]byte) error
}

// NonFungibleLedger is the backend for uniquely identified single-instance
// assets.
type NonFungibleLedger interface {
	// Approved returns the account approved to move the given token
	// instance, zero if none.
	Approved(ctx context.Context, asset common.Address, tokenID *big.Int) (common.Address, error)

	// ApprovedForAll reports whether operator holds a blanket approval
	// over all of owner's instances of the asset.
	ApprovedForAll(ctx context.Context, asset, owner, operator common.Address) (bool, error)

	// PermitToken submits a per-token offline permit (raw backend-defined
	// signature). Only valid on assets declaring CapNonFungiblePermit.
	PermitToken(ctx context.Context, asset, spender common.Address, tokenID *big.Int, deadline uint64, sig []byte) error

	// TransferFrom moves a single instance from one owner to another.
	TransferFrom(ctx context.Context, asset, from, to common.Address, tokenID *big.Int) error
}

// SemiFungibleLedger is the backend for id-plus-quantity assets.
type SemiFungibleLedger interface {
	// SafeTransferFrom moves amount units of one instance id.
	SafeTransferFrom(ctx context.Context, asset, from, to common.Address, id, amount *big.Int, data []byte) error

	// SafeBatchTransferFrom moves several instance ids in one backend
	// call. The id and amount lists are parallel.
	SafeBatchTransferFrom(ctx context.Context, asset, from, to common.Address, ids, amounts []*big.Int, data []byte) error
}

// NativeLedger moves the chain's base currency out of the settlement
// core's own held balance.
type NativeLedger interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
}

// AllowanceRegistry is the shared delegated-allowance service (protocol C)
// backing fungible assets that cannot verify permits themselves. It
// performs signer authentication, nonce replay protection, and expiry
// enforcement on Permit, and executes the bounded transfer on the core's
// behalf on TransferFrom.
type AllowanceRegistry interface {
	// Permit records a delegated allowance of amount (at most 160 bits)
	// from owner to spender on the asset.
	Permit(ctx context.Context, owner, asset, spender common.Address, amount *big.Int, expiry, nonce uint64, sig []byte) error

	// TransferFrom pulls amount of the asset from owner to the recipient,
	// bounded by the recorded delegated allowance.
	TransferFrom(ctx context.Context, owner, to common.Address, amount *big.Int, asset common.Address) error
}
