// Package utils holds the payload codecs shared by the settlement core.
// Transfer payloads, permit bodies, and deposit instructions travel as
// ABI-encoded blobs so that callers on any stack can produce them.
package utils

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ContractLabs/payment-gateway/types"
)

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("bad abi type %s: %v", t, err))
	}
	return typ
}

var (
	amountArgs = abi.Arguments{
		{Name: "amount", Type: mustABIType("uint256")},
	}
	tokenIDArgs = abi.Arguments{
		{Name: "id", Type: mustABIType("uint256")},
	}
	idAmountArgs = abi.Arguments{
		{Name: "id", Type: mustABIType("uint256")},
		{Name: "amount", Type: mustABIType("uint256")},
	}
	batchArgs = abi.Arguments{
		{Name: "ids", Type: mustABIType("uint256[]")},
		{Name: "amounts", Type: mustABIType("uint256[]")},
	}
	registryPermitArgs = abi.Arguments{
		{Name: "amount", Type: mustABIType("uint160")},
		{Name: "expiry", Type: mustABIType("uint48")},
		{Name: "nonce", Type: mustABIType("uint48")},
	}
	depositArgs = abi.Arguments{
		{Name: "payee", Type: mustABIType("address")},
		{Name: "action", Type: mustABIType("string")},
		{Name: "args", Type: mustABIType("bytes")},
	}
)

// EncodeAmount encodes a native or fungible transfer payload.
func EncodeAmount(amount *big.Int) []byte {
	data, err := amountArgs.Pack(amount)
	if err != nil {
		panic(err) // uint256 pack of a big.Int cannot fail
	}
	return data
}

// DecodeAmount decodes a native or fungible transfer payload.
func DecodeAmount(data []byte) (*big.Int, error) {
	vals, err := amountArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("amount payload: %w", err)
	}
	return abi.ConvertType(vals[0], new(big.Int)).(*big.Int), nil
}

// EncodeTokenID encodes a non-fungible transfer payload.
func EncodeTokenID(id *big.Int) []byte {
	data, err := tokenIDArgs.Pack(id)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeTokenID decodes a non-fungible transfer payload.
func DecodeTokenID(data []byte) (*big.Int, error) {
	vals, err := tokenIDArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("token id payload: %w", err)
	}
	return abi.ConvertType(vals[0], new(big.Int)).(*big.Int), nil
}

// EncodeIDAmount encodes a single semi-fungible transfer payload.
func EncodeIDAmount(id, amount *big.Int) []byte {
	data, err := idAmountArgs.Pack(id, amount)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeIDAmount decodes a single semi-fungible transfer payload.
func DecodeIDAmount(data []byte) (id, amount *big.Int, err error) {
	vals, err := idAmountArgs.Unpack(data)
	if err != nil {
		return nil, nil, fmt.Errorf("id/amount payload: %w", err)
	}
	id = abi.ConvertType(vals[0], new(big.Int)).(*big.Int)
	amount = abi.ConvertType(vals[1], new(big.Int)).(*big.Int)
	return id, amount, nil
}

// EncodeBatch encodes a batched semi-fungible transfer payload. The two
// lists are parallel.
func EncodeBatch(ids, amounts []*big.Int) []byte {
	data, err := batchArgs.Pack(ids, amounts)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeBatch decodes a batched semi-fungible transfer payload and checks
// the lists line up.
func DecodeBatch(data []byte) (ids, amounts []*big.Int, err error) {
	vals, err := batchArgs.Unpack(data)
	if err != nil {
		return nil, nil, fmt.Errorf("batch payload: %w", err)
	}
	idList, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("batch payload: ids have unexpected type %T", vals[0])
	}
	amountList, ok := vals[1].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("batch payload: amounts have unexpected type %T", vals[1])
	}
	if len(idList) != len(amountList) {
		return nil, nil, fmt.Errorf("batch payload: %d ids vs %d amounts", len(idList), len(amountList))
	}
	if len(idList) == 0 {
		return nil, nil, fmt.Errorf("batch payload: empty")
	}
	return idList, amountList, nil
}

// EncodePermitAmount encodes a self-issued (protocol B) permit body.
func EncodePermitAmount(amount *big.Int) []byte {
	return EncodeAmount(amount)
}

// DecodePermitAmount decodes a self-issued (protocol B) permit body.
func DecodePermitAmount(data []byte) (*big.Int, error) {
	return DecodeAmount(data)
}

// RegistryPermit is the decoded protocol-C permit body. Amount is bounded
// to 160 bits by the registry's allowance storage.
type RegistryPermit struct {
	Amount *big.Int
	Expiry uint64
	Nonce  uint64
}

// EncodeRegistryPermit encodes a delegated-allowance (protocol C) permit
// body.
func EncodeRegistryPermit(amount *big.Int, expiry, nonce uint64) ([]byte, error) {
	if amount.BitLen() > 160 {
		return nil, fmt.Errorf("registry permit amount exceeds 160 bits")
	}
	return registryPermitArgs.Pack(amount, big.NewInt(int64(expiry)), big.NewInt(int64(nonce)))
}

// DecodeRegistryPermit decodes a delegated-allowance (protocol C) permit
// body.
func DecodeRegistryPermit(data []byte) (*RegistryPermit, error) {
	vals, err := registryPermitArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("registry permit payload: %w", err)
	}
	amount := abi.ConvertType(vals[0], new(big.Int)).(*big.Int)
	expiry := abi.ConvertType(vals[1], new(big.Int)).(*big.Int)
	nonce := abi.ConvertType(vals[2], new(big.Int)).(*big.Int)
	return &RegistryPermit{
		Amount: amount,
		Expiry: expiry.Uint64(),
		Nonce:  nonce.Uint64(),
	}, nil
}

// EncodeDepositInstruction encodes the opaque payload a depositor attaches
// to a push transfer: the payee plus the downstream-action request.
func EncodeDepositInstruction(payee common.Address, req types.Request) ([]byte, error) {
	if req.Args == nil {
		req.Args = []byte{}
	}
	return depositArgs.Pack(payee, req.Action, req.Args)
}

// DecodeDepositInstruction decodes the opaque deposit payload back into a
// payee and a request.
func DecodeDepositInstruction(data []byte) (common.Address, types.Request, error) {
	vals, err := depositArgs.Unpack(data)
	if err != nil {
		return common.Address{}, types.Request{}, fmt.Errorf("deposit instruction: %w", err)
	}
	payee, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, types.Request{}, fmt.Errorf("deposit instruction: payee has unexpected type %T", vals[0])
	}
	action, ok := vals[1].(string)
	if !ok {
		return common.Address{}, types.Request{}, fmt.Errorf("deposit instruction: action has unexpected type %T", vals[1])
	}
	args, ok := vals[2].([]byte)
	if !ok {
		return common.Address{}, types.Request{}, fmt.Errorf("deposit instruction: args have unexpected type %T", vals[2])
	}
	return payee, types.Request{Action: action, Args: args}, nil
}
