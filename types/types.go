// Package types defines the value objects and error taxonomy shared by the
// settlement core: payments, downstream-action requests, asset kinds, and
// settlement receipts.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the sentinel asset identifier for the chain's base
// currency. Classification never queries a backend for it.
var NativeAsset = common.Address{}

// AssetKind classifies an asset identifier into one of the transfer
// protocols the core knows how to execute.
type AssetKind string

const (
	AssetNative       AssetKind = "native"
	AssetFungible     AssetKind = "fungible"
	AssetNonFungible  AssetKind = "non-fungible"
	AssetSemiFungible AssetKind = "semi-fungible"
	AssetInvalid      AssetKind = "invalid"
)

func (k AssetKind) String() string {
	return string(k)
}

// Pullable reports whether the kind can initiate settlement via the pull
// entry point. Semi-fungible assets only arrive through deposit
// notifications.
func (k AssetKind) Pullable() bool {
	return k == AssetNative || k == AssetFungible || k == AssetNonFungible
}

// Authorization is a one-time signed permission supplied by the payer when
// their standing allowance does not cover the requested amount. The
// payload shape depends on the permit protocol the asset backend speaks;
// see utils.DecodePermitAmount and utils.DecodeRegistryPermit.
type Authorization struct {
	// Expiry is the unix timestamp after which the permission is void.
	// Zero together with an empty signature means "no authorization
	// attempted".
	Expiry uint64 `json:"expiry"`

	// Signature is the 65-byte payer signature over the permit message.
	Signature []byte `json:"signature"`

	// Payload is the protocol-specific encoded permit body.
	Payload []byte `json:"payload"`
}

// Attempted reports whether the caller actually supplied a permission, as
// opposed to the empty placeholder that is valid whenever standing rights
// already suffice.
func (a *Authorization) Attempted() bool {
	return a != nil && a.Expiry != 0 && len(a.Signature) > 0
}

// Payment describes one settlement leg. It is constructed per call, either
// from direct caller arguments or decoded from a deposit notification, and
// is never persisted.
type Payment struct {
	Payee common.Address `json:"payee"`
	Payer common.Address `json:"payer"`

	// Asset is the asset identifier; NativeAsset denotes the base
	// currency.
	Asset common.Address `json:"asset"`

	// TransferData is the kind-specific encoded transfer payload: amount
	// for native/fungible, token id for non-fungible, (id, amount) or a
	// batch of pairs for semi-fungible.
	TransferData []byte `json:"transferData"`

	// Authorization is consumed at most once, and only when the standing
	// allowance falls short.
	Authorization *Authorization `json:"authorization,omitempty"`
}

// Request is an opaque downstream-action descriptor. The settlement core
// never interprets Args; it hands the whole record to the registered
// action handler after the payment leg is final.
type Request struct {
	// Action identifies the registered handler to invoke.
	Action string `json:"action"`

	// Args is handler-specific call data.
	Args []byte `json:"args,omitempty"`
}

// Route records which allowance path the transfer executor must draw on
// for a fungible settlement.
type Route string

const (
	// RouteDirect pulls straight from the payer via the backend's own
	// allowance (standing or raised by a self-issued permit).
	RouteDirect Route = "direct"

	// RouteRegistry pulls through the shared delegated-allowance registry.
	RouteRegistry Route = "registry"

	// RouteCustody moves assets already delivered into the core's custody
	// by a deposit notification.
	RouteCustody Route = "custody"
)

// SettlementReceipt is the caller-visible outcome of one settlement. The
// payment leg is final by the time a receipt exists; ActionError reports a
// downstream-action failure without rolling anything back.
type SettlementReceipt struct {
	ID       string         `json:"id"`
	Kind     AssetKind      `json:"kind"`
	Route    Route          `json:"route"`
	Payer    common.Address `json:"payer"`
	Payee    common.Address `json:"payee"`
	Asset    common.Address `json:"asset"`
	Refunded *big.Int       `json:"refunded,omitempty"`

	// ActionError is non-nil when the payment settled but the downstream
	// action failed.
	ActionError error `json:"-"`
}
