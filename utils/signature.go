package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// SplitSignature splits a 65-byte ECDSA signature into its (v, r, s)
// components, normalizing v from 27/28 to 0/1. Permit-capable fungible
// backends take the components rather than the raw bytes.
func SplitSignature(sig []byte) (v uint8, r [32]byte, s [32]byte, err error) {
	if len(sig) != 65 {
		err = fmt.Errorf("invalid signature length: %d", len(sig))
		return
	}

	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]

	if v >= 27 {
		v -= 27
	}
	return
}

// FormatUnits renders an atomic-unit amount as a decimal string with the
// given precision, for receipts and log fields.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
