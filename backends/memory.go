package backends

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Memory is an in-process implementation of every ledger collaborator,
// used by tests and examples. It enforces the same rules a real backend
// would: allowance accounting, permit expiry, nonce replay, ownership
// checks. Signer authentication is collaborator territory, so Memory only
// insists that a signature is present and well-formed.
type Memory struct {
	mu   sync.Mutex
	self common.Address
	next int64

	native map[common.Address]*big.Int
	tokens map[common.Address]*memToken

	regAllowance map[common.Address]map[common.Address]*big.Int
	regNonces    map[common.Address]map[uint64]bool

	// OnTransfer, when set, runs inside every token transfer with the
	// lock released. Tests use it to simulate a backend calling back into
	// the core mid-transfer.
	OnTransfer func(asset common.Address)

	now func() time.Time
}

type memToken struct {
	introspectable bool
	caps           map[CapabilityID]bool
	permit         bool

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	nftOwners   map[string]common.Address
	nftApproved map[string]common.Address
	operators   map[common.Address]map[common.Address]bool

	sfBalances map[string]map[common.Address]*big.Int
}

// NewMemory builds an empty in-memory backend. self is the settlement
// core's own identity: the spender allowances are granted to and the
// custodian deposits land on.
func NewMemory(self common.Address) *Memory {
	return &Memory{
		self:         self,
		next:         0x1000,
		native:       make(map[common.Address]*big.Int),
		tokens:       make(map[common.Address]*memToken),
		regAllowance: make(map[common.Address]map[common.Address]*big.Int),
		regNonces:    make(map[common.Address]map[uint64]bool),
		now:          time.Now,
	}
}

var (
	_ CapabilityProber   = (*Memory)(nil)
	_ FungibleLedger     = (*Memory)(nil)
	_ SemiFungibleLedger = (*Memory)(nil)
	_ NativeLedger       = (*Memory)(nil)
	_ NonFungibleLedger  = memNFT{}
	_ AllowanceRegistry  = memRegistry{}
)

// NFT returns the non-fungible ledger view. Memory cannot carry the
// interface directly because TransferFrom collides with the fungible
// ledger method of the same shape.
func (m *Memory) NFT() NonFungibleLedger {
	return memNFT{m}
}

// Registry returns the delegated-allowance registry view.
func (m *Memory) Registry() AllowanceRegistry {
	return memRegistry{m}
}

type memNFT struct{ m *Memory }

func (f memNFT) Approved(ctx context.Context, asset common.Address, tokenID *big.Int) (common.Address, error) {
	return f.m.Approved(ctx, asset, tokenID)
}

func (f memNFT) ApprovedForAll(ctx context.Context, asset, owner, operator common.Address) (bool, error) {
	return f.m.ApprovedForAll(ctx, asset, owner, operator)
}

func (f memNFT) PermitToken(ctx context.Context, asset, spender common.Address, tokenID *big.Int, deadline uint64, sig []byte) error {
	return f.m.PermitToken(ctx, asset, spender, tokenID, deadline, sig)
}

func (f memNFT) TransferFrom(ctx context.Context, asset, from, to common.Address, tokenID *big.Int) error {
	return f.m.NFTTransferFrom(ctx, asset, from, to, tokenID)
}

type memRegistry struct{ m *Memory }

func (r memRegistry) Permit(ctx context.Context, owner, asset, spender common.Address, amount *big.Int, expiry, nonce uint64, sig []byte) error {
	return r.m.RegistryPermit(ctx, owner, asset, spender, amount, expiry, nonce, sig)
}

func (r memRegistry) TransferFrom(ctx context.Context, owner, to common.Address, amount *big.Int, asset common.Address) error {
	return r.m.RegistryTransferFrom(ctx, owner, to, amount, asset)
}

func (m *Memory) newAsset(t *memToken) common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	addr := common.BigToAddress(big.NewInt(m.next))
	m.tokens[addr] = t
	return addr
}

func newMemToken() *memToken {
	return &memToken{
		caps:        make(map[CapabilityID]bool),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		nftOwners:   make(map[string]common.Address),
		nftApproved: make(map[string]common.Address),
		operators:   make(map[common.Address]map[common.Address]bool),
		sfBalances:  make(map[string]map[common.Address]*big.Int),
	}
}

// NewFungible registers a fungible asset. permit controls whether the
// asset verifies self-issued permits itself (protocol B).
func (m *Memory) NewFungible(permit bool) common.Address {
	t := newMemToken()
	t.introspectable = false
	t.permit = permit
	return m.newAsset(t)
}

// NewNonFungible registers a non-fungible asset. permit controls whether
// the asset declares the per-token offline permit capability.
func (m *Memory) NewNonFungible(permit bool) common.Address {
	t := newMemToken()
	t.introspectable = true
	t.caps[CapNonFungible] = true
	t.caps[CapNonFungiblePermit] = permit
	return m.newAsset(t)
}

// NewSemiFungible registers a semi-fungible asset.
func (m *Memory) NewSemiFungible() common.Address {
	t := newMemToken()
	t.introspectable = true
	t.caps[CapSemiFungible] = true
	return m.newAsset(t)
}

// NewUnclassifiable registers an asset that answers introspection but
// declares no recognized capability. It classifies as invalid.
func (m *Memory) NewUnclassifiable() common.Address {
	t := newMemToken()
	t.introspectable = true
	return m.newAsset(t)
}

// SetClock overrides the time source used for expiry checks.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) token(asset common.Address) (*memToken, error) {
	t, ok := m.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("unknown asset %s", asset.Hex())
	}
	return t, nil
}

// --- capability introspection ---

func (m *Memory) SupportsCapability(_ context.Context, asset common.Address, cap CapabilityID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(asset)
	if err != nil {
		return false, err
	}
	if !t.introspectable {
		return false, ErrNotIntrospectable
	}
	return t.caps[cap], nil
}

// --- fungible ledger ---

// MintFungible credits amount of the asset to an account.
func (m *Memory) MintFungible(asset, to common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[asset]
	t.balances[to] = add(t.balances[to], amount)
}

// Approve records a standing allowance from owner to spender.
func (m *Memory) Approve(asset, owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[asset]
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

// BalanceOf returns the fungible balance of an account.
func (m *Memory) BalanceOf(asset, owner common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[asset]
	if t == nil || t.balances[owner] == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(t.balances[owner])
}

func (m *Memory) Allowance(_ context.Context, asset, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(asset)
	if err != nil {
		return nil, err
	}
	if t.allowances[owner] == nil || t.allowances[owner][spender] == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(t.allowances[owner][spender]), nil
}

func (m *Memory) TransferFrom(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	t, err := m.token(asset)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	allowed := new(big.Int)
	if t.allowances[from] != nil && t.allowances[from][m.self] != nil {
		allowed = t.allowances[from][m.self]
	}
	if allowed.Cmp(amount) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("transfer amount exceeds allowance")
	}
	if bal := t.balances[from]; bal == nil || bal.Cmp(amount) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("transfer amount exceeds balance")
	}
	t.allowances[from][m.self] = new(big.Int).Sub(allowed, amount)
	t.balances[from] = new(big.Int).Sub(t.balances[from], amount)
	t.balances[to] = add(t.balances[to], amount)
	hook := m.OnTransfer
	m.mu.Unlock()

	if hook != nil {
		hook(asset)
	}
	return nil
}

func (m *Memory) SupportsPermit(_ context.Context, asset common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(asset)
	if err != nil {
		return false, err
	}
	return t.permit, nil
}

func (m *Memory) Permit(_ context.Context, asset, owner, spender common.Address, value *big.Int, deadline uint64, v uint8, r, s [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(asset)
	if err != nil {
		return err
	}
	if !t.permit {
		return fmt.Errorf("asset does not verify permits")
	}
	if v > 1 {
		return fmt.Errorf("bad recovery id %d", v)
	}
	if r == ([32]byte{}) || s == ([32]byte{}) {
		return fmt.Errorf("empty signature component")
	}
	if deadline != 0 && m.now().Unix() > int64(deadline) {
		return fmt.Errorf("permit expired")
	}
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(value)
	return nil
}

// --- non-fungible ledger ---

// MintNFT assigns ownership of a token instance.
func (m *Memory) MintNFT(asset, owner common.Address, tokenID *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[asset].nftOwners[tokenID.String()] = owner
}

// ApproveNFT records a per-token standing approval.
func (m *Memory) ApproveNFT(asset, spender common.Address, tokenID *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[asset].nftApproved[tokenID.String()] = spender
}

// SetApprovalForAll records a blanket operator approval.
func (m *Memory) SetApprovalForAll(asset, owner, operator common.Address, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[asset]
	if t.operators[owner] == nil {
		t.operators[owner] = make(map[common.Address]bool)
	}
	t.operators[owner][operator] = approved
}

// OwnerOf returns the current owner of a token instance.
func (m *Memory) OwnerOf(asset common.Address, tokenID *big.Int) common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[asset].nftOwners[tokenID.String()]
}

func (m *Memory) Approved(_ context.Context, asset common.Address, tokenID *big.Int) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(asset)
	if err != nil {
		return common.Address{}, err
	}
	return t.nftApproved[tokenID.String()], nil
}

func (m *Memory) ApprovedForAll(_ context.Context, asset, owner, operator common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(asset)
	if err != nil {
		return false, err
	}
	return t.operators[owner][operator], nil
}

func (m *Memory) PermitToken(_ context.Context, asset, spender common.Address, tokenID *big.Int, deadline uint64, sig []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(asset)
	if err != nil {
		return err
	}
	if !t.caps[CapNonFungiblePermit] {
		return fmt.Errorf("asset does not verify token permits")
	}
	if len(sig) == 0 {
		return fmt.Errorf("empty signature")
	}
	if deadline != 0 && m.now().Unix() > int64(deadline) {
		return fmt.Errorf("permit expired")
	}
	t.nftApproved[tokenID.String()] = spender
	return nil
}

func (m *Memory) NFTTransferFrom(ctx context.Context, asset, from, to common.Address, tokenID *big.Int) error {
	m.mu.Lock()
	t, err := m.token(asset)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	key := tokenID.String()
	owner := t.nftOwners[key]
	if owner != from {
		m.mu.Unlock()
		return fmt.Errorf("transfer from incorrect owner")
	}
	approved := t.nftApproved[key] == m.self || t.operators[from][m.self] || from == m.self
	if !approved {
		m.mu.Unlock()
		return fmt.Errorf("caller is not token owner or approved")
	}
	t.nftOwners[key] = to
	delete(t.nftApproved, key)
	hook := m.OnTransfer
	m.mu.Unlock()

	if hook != nil {
		hook(asset)
	}
	return nil
}

// --- semi-fungible ledger ---

// MintSemiFungible credits amount units of one instance id.
func (m *Memory) MintSemiFungible(asset, to common.Address, id, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[asset]
	key := id.String()
	if t.sfBalances[key] == nil {
		t.sfBalances[key] = make(map[common.Address]*big.Int)
	}
	t.sfBalances[key][to] = add(t.sfBalances[key][to], amount)
}

// SemiFungibleBalance returns the balance of one instance id.
func (m *Memory) SemiFungibleBalance(asset, owner common.Address, id *big.Int) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[asset]
	if t.sfBalances[id.String()] == nil || t.sfBalances[id.String()][owner] == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(t.sfBalances[id.String()][owner])
}

func (m *Memory) SafeTransferFrom(ctx context.Context, asset, from, to common.Address, id, amount *big.Int, data []byte) error {
	return m.SafeBatchTransferFrom(ctx, asset, from, to, []*big.Int{id}, []*big.Int{amount}, data)
}

func (m *Memory) SafeBatchTransferFrom(_ context.Context, asset, from, to common.Address, ids, amounts []*big.Int, _ []byte) error {
	m.mu.Lock()
	t, err := m.token(asset)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if len(ids) != len(amounts) {
		m.mu.Unlock()
		return fmt.Errorf("ids and amounts length mismatch")
	}
	if from != m.self && !t.operators[from][m.self] {
		m.mu.Unlock()
		return fmt.Errorf("caller is not owner or approved operator")
	}
	for i, id := range ids {
		key := id.String()
		bal := new(big.Int)
		if t.sfBalances[key] != nil && t.sfBalances[key][from] != nil {
			bal = t.sfBalances[key][from]
		}
		if bal.Cmp(amounts[i]) < 0 {
			m.mu.Unlock()
			return fmt.Errorf("insufficient balance for id %s", key)
		}
	}
	for i, id := range ids {
		key := id.String()
		t.sfBalances[key][from] = new(big.Int).Sub(t.sfBalances[key][from], amounts[i])
		if t.sfBalances[key][to] == nil {
			t.sfBalances[key][to] = new(big.Int)
		}
		t.sfBalances[key][to] = add(t.sfBalances[key][to], amounts[i])
	}
	hook := m.OnTransfer
	m.mu.Unlock()

	if hook != nil {
		hook(asset)
	}
	return nil
}

// --- native ledger ---

// CreditNative credits base currency to an account. Tests use it to fund
// the settlement core's custody before a native-carrying call.
func (m *Memory) CreditNative(to common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native[to] = add(m.native[to], amount)
}

// NativeBalance returns the base-currency balance of an account.
func (m *Memory) NativeBalance(owner common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.native[owner] == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(m.native[owner])
}

func (m *Memory) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.native[m.self]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient native balance")
	}
	m.native[m.self] = new(big.Int).Sub(bal, amount)
	m.native[to] = add(m.native[to], amount)
	return nil
}

// --- delegated-allowance registry ---

// RegistryPermit records a delegated allowance after the checks a real
// registry performs: spender identity, signature shape, allowance width,
// expiry, nonce replay.
func (m *Memory) RegistryPermit(_ context.Context, owner, asset, spender common.Address, amount *big.Int, expiry, nonce uint64, sig []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spender != m.self {
		return fmt.Errorf("permit spender is not the settlement core")
	}
	if len(sig) != 65 {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if amount.BitLen() > 160 {
		return fmt.Errorf("amount exceeds registry allowance width")
	}
	if expiry != 0 && m.now().Unix() > int64(expiry) {
		return fmt.Errorf("permit expired")
	}
	if m.regNonces[owner] == nil {
		m.regNonces[owner] = make(map[uint64]bool)
	}
	if m.regNonces[owner][nonce] {
		return fmt.Errorf("nonce already used")
	}
	m.regNonces[owner][nonce] = true
	if m.regAllowance[owner] == nil {
		m.regAllowance[owner] = make(map[common.Address]*big.Int)
	}
	m.regAllowance[owner][asset] = new(big.Int).Set(amount)
	return nil
}

func (m *Memory) RegistryTransferFrom(_ context.Context, owner, to common.Address, amount *big.Int, asset common.Address) error {
	m.mu.Lock()
	t, err := m.token(asset)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	allowed := new(big.Int)
	if m.regAllowance[owner] != nil && m.regAllowance[owner][asset] != nil {
		allowed = m.regAllowance[owner][asset]
	}
	if allowed.Cmp(amount) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("transfer amount exceeds delegated allowance")
	}
	if bal := t.balances[owner]; bal == nil || bal.Cmp(amount) < 0 {
		m.mu.Unlock()
		return fmt.Errorf("transfer amount exceeds balance")
	}
	m.regAllowance[owner][asset] = new(big.Int).Sub(allowed, amount)
	t.balances[owner] = new(big.Int).Sub(t.balances[owner], amount)
	t.balances[to] = add(t.balances[to], amount)
	hook := m.OnTransfer
	m.mu.Unlock()

	if hook != nil {
		hook(asset)
	}
	return nil
}

func add(a, b *big.Int) *big.Int {
	if a == nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int).Add(a, b)
}
