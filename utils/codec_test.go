package utils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContractLabs/payment-gateway/types"
)

func TestAmountRoundTrip(t *testing.T) {
	amount := big.NewInt(123_456_789)

	got, err := DecodeAmount(EncodeAmount(amount))
	require.NoError(t, err)
	assert.Zero(t, amount.Cmp(got))
}

func TestDecodeAmountRejectsGarbage(t *testing.T) {
	_, err := DecodeAmount([]byte{0x01, 0x02})
	assert.Error(t, err)

	_, err = DecodeAmount(nil)
	assert.Error(t, err)
}

func TestIDAmountRoundTrip(t *testing.T) {
	id, amount, err := DecodeIDAmount(EncodeIDAmount(big.NewInt(7), big.NewInt(50)))
	require.NoError(t, err)
	assert.EqualValues(t, 7, id.Int64())
	assert.EqualValues(t, 50, amount.Int64())
}

func TestBatchRoundTrip(t *testing.T) {
	ids := []*big.Int{big.NewInt(1), big.NewInt(2)}
	amounts := []*big.Int{big.NewInt(10), big.NewInt(20)}

	gotIDs, gotAmounts, err := DecodeBatch(EncodeBatch(ids, amounts))
	require.NoError(t, err)
	require.Len(t, gotIDs, 2)
	require.Len(t, gotAmounts, 2)
	assert.EqualValues(t, 2, gotIDs[1].Int64())
	assert.EqualValues(t, 20, gotAmounts[1].Int64())
}

func TestDecodeBatchRejectsEmpty(t *testing.T) {
	_, _, err := DecodeBatch(EncodeBatch(nil, nil))
	assert.Error(t, err)
}

func TestRegistryPermitRoundTrip(t *testing.T) {
	data, err := EncodeRegistryPermit(big.NewInt(50), 1_900_000_000, 7)
	require.NoError(t, err)

	permit, err := DecodeRegistryPermit(data)
	require.NoError(t, err)
	assert.EqualValues(t, 50, permit.Amount.Int64())
	assert.EqualValues(t, 1_900_000_000, permit.Expiry)
	assert.EqualValues(t, 7, permit.Nonce)
}

func TestEncodeRegistryPermitRejectsWideAmount(t *testing.T) {
	wide := new(big.Int).Lsh(big.NewInt(1), 161)
	_, err := EncodeRegistryPermit(wide, 0, 0)
	assert.Error(t, err)
}

func TestDepositInstructionRoundTrip(t *testing.T) {
	payee := common.HexToAddress("0x1111111111111111111111111111111111111111")
	req := types.Request{Action: "unlock-content", Args: []byte{0xde, 0xad}}

	data, err := EncodeDepositInstruction(payee, req)
	require.NoError(t, err)

	gotPayee, gotReq, err := DecodeDepositInstruction(data)
	require.NoError(t, err)
	assert.Equal(t, payee, gotPayee)
	assert.Equal(t, "unlock-content", gotReq.Action)
	assert.Equal(t, []byte{0xde, 0xad}, gotReq.Args)
}

func TestDecodeDepositInstructionRejectsGarbage(t *testing.T) {
	_, _, err := DecodeDepositInstruction([]byte("not abi data"))
	assert.Error(t, err)
}

func TestSplitSignature(t *testing.T) {
	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	sig[64] = 28

	v, r, s, err := SplitSignature(sig)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v) // 28 normalizes to 1
	assert.EqualValues(t, sig[0], r[0])
	assert.EqualValues(t, sig[32], s[0])
}

func TestSplitSignatureRejectsWrongLength(t *testing.T) {
	_, _, _, err := SplitSignature(make([]byte, 64))
	assert.Error(t, err)

	_, _, _, err = SplitSignature(nil)
	assert.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "123.456789", FormatUnits(big.NewInt(123_456_789), 6))
	assert.Equal(t, "0", FormatUnits(nil, 18))
}
