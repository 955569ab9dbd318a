package settlement

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ContractLabs/payment-gateway/backends"
	"github.com/ContractLabs/payment-gateway/types"
)

// Classifier maps an asset identifier to its transfer semantics from the
// capabilities the asset declares.
type Classifier struct {
	prober backends.CapabilityProber
}

func NewClassifier(prober backends.CapabilityProber) *Classifier {
	return &Classifier{prober: prober}
}

// Classify decides the asset kind. First match wins: the native sentinel
// needs no backend query; an asset without capability introspection is a
// legacy fungible token (the overwhelmingly common kind has no discovery
// protocol); declared capabilities pick the non- or semi-fungible kinds;
// an introspectable asset declaring neither is invalid. Transport
// failures surface as errors, never as a classification.
func (c *Classifier) Classify(ctx context.Context, asset common.Address) (types.AssetKind, error) {
	if asset == types.NativeAsset {
		return types.AssetNative, nil
	}

	nonFungible, err := c.prober.SupportsCapability(ctx, asset, backends.CapNonFungible)
	if errors.Is(err, backends.ErrNotIntrospectable) {
		return types.AssetFungible, nil
	}
	if err != nil {
		return "", types.WrapErr(types.ErrInvalidToken, err, "capability probe failed")
	}
	if nonFungible {
		return types.AssetNonFungible, nil
	}

	semiFungible, err := c.prober.SupportsCapability(ctx, asset, backends.CapSemiFungible)
	if errors.Is(err, backends.ErrNotIntrospectable) {
		return types.AssetFungible, nil
	}
	if err != nil {
		return "", types.WrapErr(types.ErrInvalidToken, err, "capability probe failed")
	}
	if semiFungible {
		return types.AssetSemiFungible, nil
	}

	return types.AssetInvalid, nil
}
