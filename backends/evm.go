package backends

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc165ABI = `
[
  {
    "name": "supportsInterface",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "name": "interfaceId", "type": "bytes4" }],
    "outputs": [{ "name": "", "type": "bool" }]
  }
]
`

const erc20ABI = `
[
  {
    "name": "allowance",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      { "name": "owner", "type": "address" },
      { "name": "spender", "type": "address" }
    ],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "transferFrom",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "value", "type": "uint256" }
    ],
    "outputs": [{ "name": "", "type": "bool" }]
  },
  {
    "name": "permit",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "owner", "type": "address" },
      { "name": "spender", "type": "address" },
      { "name": "value", "type": "uint256" },
      { "name": "deadline", "type": "uint256" },
      { "name": "v", "type": "uint8" },
      { "name": "r", "type": "bytes32" },
      { "name": "s", "type": "bytes32" }
    ],
    "outputs": []
  },
  {
    "name": "DOMAIN_SEPARATOR",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "bytes32" }]
  }
]
`

const erc721ABI = `
[
  {
    "name": "getApproved",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "name": "tokenId", "type": "uint256" }],
    "outputs": [{ "name": "", "type": "address" }]
  },
  {
    "name": "isApprovedForAll",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      { "name": "owner", "type": "address" },
      { "name": "operator", "type": "address" }
    ],
    "outputs": [{ "name": "", "type": "bool" }]
  },
  {
    "name": "permit",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "spender", "type": "address" },
      { "name": "tokenId", "type": "uint256" },
      { "name": "deadline", "type": "uint256" },
      { "name": "sig", "type": "bytes" }
    ],
    "outputs": []
  },
  {
    "name": "transferFrom",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "tokenId", "type": "uint256" }
    ],
    "outputs": []
  }
]
`

const erc1155ABI = `
[
  {
    "name": "safeTransferFrom",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "id", "type": "uint256" },
      { "name": "amount", "type": "uint256" },
      { "name": "data", "type": "bytes" }
    ],
    "outputs": []
  },
  {
    "name": "safeBatchTransferFrom",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "ids", "type": "uint256[]" },
      { "name": "amounts", "type": "uint256[]" },
      { "name": "data", "type": "bytes" }
    ],
    "outputs": []
  }
]
`

const registryABI = `
[
  {
    "name": "permit",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "owner", "type": "address" },
      { "name": "token", "type": "address" },
      { "name": "spender", "type": "address" },
      { "name": "amount", "type": "uint160" },
      { "name": "expiration", "type": "uint48" },
      { "name": "nonce", "type": "uint48" },
      { "name": "signature", "type": "bytes" }
    ],
    "outputs": []
  },
  {
    "name": "transferFrom",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "amount", "type": "uint160" },
      { "name": "token", "type": "address" }
    ],
    "outputs": []
  }
]
`

// EVM backs the ledger interfaces with JSON-RPC calls against live
// contracts. Reads go through eth_call; writes are signed with the
// settlement core's key and waited to inclusion.
type EVM struct {
	rpcURL   string
	client   *ethclient.Client
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	self     common.Address
	registry common.Address

	erc165    abi.ABI
	erc20     abi.ABI
	erc721    abi.ABI
	erc1155   abi.ABI
	registryI abi.ABI

	mineTimeout time.Duration
}

var (
	_ CapabilityProber   = (*EVM)(nil)
	_ FungibleLedger     = (*EVM)(nil)
	_ SemiFungibleLedger = (*EVM)(nil)
	_ NativeLedger       = (*EVM)(nil)
)

// NewEVM connects to an RPC endpoint. hexKey signs the core's outbound
// transactions; registry is the deployed delegated-allowance registry.
func NewEVM(ctx context.Context, rpcURL, hexKey string, registry common.Address) (*EVM, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad signing key: %w", err)
	}

	e := &EVM{
		rpcURL:      rpcURL,
		client:      client,
		chainID:     chainID,
		key:         key,
		self:        crypto.PubkeyToAddress(key.PublicKey),
		registry:    registry,
		mineTimeout: 60 * time.Second,
	}

	for _, p := range []struct {
		dst *abi.ABI
		src string
	}{
		{&e.erc165, erc165ABI},
		{&e.erc20, erc20ABI},
		{&e.erc721, erc721ABI},
		{&e.erc1155, erc1155ABI},
		{&e.registryI, registryABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(p.src))
		if err != nil {
			return nil, fmt.Errorf("bad ABI: %w", err)
		}
		*p.dst = parsed
	}

	return e, nil
}

// Self returns the address the core transacts as.
func (e *EVM) Self() common.Address {
	return e.self
}

// Close releases the underlying RPC connection.
func (e *EVM) Close() {
	e.client.Close()
}

func (e *EVM) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{
		From: e.self,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}

	return contractABI.Unpack(method, out)
}

func (e *EVM) transact(ctx context.Context, to common.Address, value *big.Int, data []byte) error {
	nonce, err := e.client.PendingNonceAt(ctx, e.self)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: e.self, To: &to, Value: value, Data: data}
	gasLimit, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return fmt.Errorf("gas estimate: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.key)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send tx: %w", err)
	}

	receipt, err := e.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return nil
}

func (e *EVM) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.mineTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := e.client.TransactionReceipt(ctx, txHash)
			if err == nil {
				return receipt, nil
			}
		}
	}
}

func (e *EVM) packTransact(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	return e.transact(ctx, to, nil, data)
}

// --- capability introspection ---

func (e *EVM) SupportsCapability(ctx context.Context, asset common.Address, cap CapabilityID) (bool, error) {
	vals, err := e.call(ctx, asset, e.erc165, "supportsInterface", [4]byte(cap))
	if err != nil {
		// A revert or empty return means the contract predates
		// introspection. Treated as "unsupported legacy", not an error.
		return false, ErrNotIntrospectable
	}
	supported, ok := vals[0].(bool)
	if !ok {
		return false, ErrNotIntrospectable
	}
	return supported, nil
}

// --- fungible ledger ---

func (e *EVM) Allowance(ctx context.Context, asset, owner, spender common.Address) (*big.Int, error) {
	vals, err := e.call(ctx, asset, e.erc20, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(vals[0], new(big.Int)).(*big.Int), nil
}

func (e *EVM) TransferFrom(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	return e.packTransact(ctx, asset, e.erc20, "transferFrom", from, to, amount)
}

func (e *EVM) SupportsPermit(ctx context.Context, asset common.Address) (bool, error) {
	// Permit-capable tokens expose an EIP-712 domain separator.
	if _, err := e.call(ctx, asset, e.erc20, "DOMAIN_SEPARATOR"); err != nil {
		return false, nil
	}
	return true, nil
}

func (e *EVM) Permit(ctx context.Context, asset, owner, spender common.Address, value *big.Int, deadline uint64, v uint8, r, s [32]byte) error {
	return e.packTransact(ctx, asset, e.erc20, "permit",
		owner, spender, value, new(big.Int).SetUint64(deadline), v, r, s)
}

// --- semi-fungible ledger ---

func (e *EVM) SafeTransferFrom(ctx context.Context, asset, from, to common.Address, id, amount *big.Int, data []byte) error {
	return e.packTransact(ctx, asset, e.erc1155, "safeTransferFrom", from, to, id, amount, data)
}

func (e *EVM) SafeBatchTransferFrom(ctx context.Context, asset, from, to common.Address, ids, amounts []*big.Int, data []byte) error {
	return e.packTransact(ctx, asset, e.erc1155, "safeBatchTransferFrom", from, to, ids, amounts, data)
}

// --- native ledger ---

func (e *EVM) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return e.transact(ctx, to, amount, nil)
}

// --- facets ---

// NFT returns the non-fungible ledger view.
func (e *EVM) NFT() NonFungibleLedger {
	return evmNFT{e}
}

// Registry returns the delegated-allowance registry view.
func (e *EVM) Registry() AllowanceRegistry {
	return evmRegistry{e}
}

type evmNFT struct{ e *EVM }

var _ NonFungibleLedger = evmNFT{}

func (f evmNFT) Approved(ctx context.Context, asset common.Address, tokenID *big.Int) (common.Address, error) {
	vals, err := f.e.call(ctx, asset, f.e.erc721, "getApproved", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	approved, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getApproved returned %T", vals[0])
	}
	return approved, nil
}

func (f evmNFT) ApprovedForAll(ctx context.Context, asset, owner, operator common.Address) (bool, error) {
	vals, err := f.e.call(ctx, asset, f.e.erc721, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	approved, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("isApprovedForAll returned %T", vals[0])
	}
	return approved, nil
}

func (f evmNFT) PermitToken(ctx context.Context, asset, spender common.Address, tokenID *big.Int, deadline uint64, sig []byte) error {
	return f.e.packTransact(ctx, asset, f.e.erc721, "permit",
		spender, tokenID, new(big.Int).SetUint64(deadline), sig)
}

func (f evmNFT) TransferFrom(ctx context.Context, asset, from, to common.Address, tokenID *big.Int) error {
	return f.e.packTransact(ctx, asset, f.e.erc721, "transferFrom", from, to, tokenID)
}

type evmRegistry struct{ e *EVM }

var _ AllowanceRegistry = evmRegistry{}

func (r evmRegistry) Permit(ctx context.Context, owner, asset, spender common.Address, amount *big.Int, expiry, nonce uint64, sig []byte) error {
	return r.e.packTransact(ctx, r.e.registry, r.e.registryI, "permit",
		owner, asset, spender, amount,
		new(big.Int).SetUint64(expiry), new(big.Int).SetUint64(nonce), sig)
}

func (r evmRegistry) TransferFrom(ctx context.Context, owner, to common.Address, amount *big.Int, asset common.Address) error {
	return r.e.packTransact(ctx, r.e.registry, r.e.registryI, "transferFrom",
		owner, to, amount, asset)
}
