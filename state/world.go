// Package state holds the gateway's world state and the transactional store that
// serializes every mutating action against it.
package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/interfaces"
)

// ErrInsufficientBalance is returned by Debit when an account cannot cover a transfer.
var ErrInsufficientBalance = errors.New("insufficient balance")

// World is the complete persisted state of one gateway. It is only ever mutated
// inside Store.RunInTransaction on a private copy.
type World struct {
	Initialized   bool   `json:"initialized"`
	SchemaVersion uint64 `json:"schema_version"`

	// Seq counts committed actions.
	Seq uint64 `json:"seq"`

	// CloneNonce derives the address of the next created instance.
	CloneNonce uint64 `json:"clone_nonce"`

	Names                []interfaces.TemplateName                                                 `json:"names"`
	Versions             map[interfaces.TemplateName][]interfaces.TemplateVersion                  `json:"versions"`
	Implementations      map[interfaces.TemplateName]map[interfaces.TemplateVersion]common.Address `json:"implementations"`
	LatestVersion        map[interfaces.TemplateName]interfaces.TemplateVersion                    `json:"latest_version"`
	LatestImplementation map[interfaces.TemplateName]common.Address                                `json:"latest_implementation"`

	Instances   []common.Address                        `json:"instances"`
	Clones      map[common.Address]interfaces.CloneInfo `json:"clones"`
	Whitelisted map[common.Address]bool                 `json:"whitelisted"`
	Roles       map[common.Hash]map[common.Address]bool `json:"roles"`

	// Fees are nil until first set; a nil fee is zero.
	DeploymentFee *big.Int                    `json:"deployment_fee"`
	CallFee       *big.Int                    `json:"call_fee"`
	Balances      map[common.Address]*big.Int `json:"balances"`

	// Storage is per-instance key/value state; keys are hex encoded.
	Storage map[common.Address]map[string][]byte `json:"storage"`
}

// NewWorld returns an empty, uninitialized world.
func NewWorld() *World {
	w := &World{}
	w.ensure()
	return w
}

// ensure allocates any nil collection, e.g. after decoding an old checkpoint.
func (w *World) ensure() {
	if w.Versions == nil {
		w.Versions = make(map[interfaces.TemplateName][]interfaces.TemplateVersion)
	}
	if w.Implementations == nil {
		w.Implementations = make(map[interfaces.TemplateName]map[interfaces.TemplateVersion]common.Address)
	}
	if w.LatestVersion == nil {
		w.LatestVersion = make(map[interfaces.TemplateName]interfaces.TemplateVersion)
	}
	if w.LatestImplementation == nil {
		w.LatestImplementation = make(map[interfaces.TemplateName]common.Address)
	}
	if w.Clones == nil {
		w.Clones = make(map[common.Address]interfaces.CloneInfo)
	}
	if w.Whitelisted == nil {
		w.Whitelisted = make(map[common.Address]bool)
	}
	if w.Roles == nil {
		w.Roles = make(map[common.Hash]map[common.Address]bool)
	}
	if w.Balances == nil {
		w.Balances = make(map[common.Address]*big.Int)
	}
	if w.Storage == nil {
		w.Storage = make(map[common.Address]map[string][]byte)
	}
}

// Clone returns a deep copy of the world.
func (w *World) Clone() *World {
	cp := &World{
		Initialized:          w.Initialized,
		SchemaVersion:        w.SchemaVersion,
		Seq:                  w.Seq,
		CloneNonce:           w.CloneNonce,
		Names:                slices.Clone(w.Names),
		Versions:             make(map[interfaces.TemplateName][]interfaces.TemplateVersion, len(w.Versions)),
		Implementations:      make(map[interfaces.TemplateName]map[interfaces.TemplateVersion]common.Address, len(w.Implementations)),
		LatestVersion:        maps.Clone(w.LatestVersion),
		LatestImplementation: maps.Clone(w.LatestImplementation),
		Instances:            slices.Clone(w.Instances),
		Clones:               maps.Clone(w.Clones),
		Whitelisted:          maps.Clone(w.Whitelisted),
		Roles:                make(map[common.Hash]map[common.Address]bool, len(w.Roles)),
		Balances:             make(map[common.Address]*big.Int, len(w.Balances)),
		Storage:              make(map[common.Address]map[string][]byte, len(w.Storage)),
	}
	if w.DeploymentFee != nil {
		cp.DeploymentFee = new(big.Int).Set(w.DeploymentFee)
	}
	if w.CallFee != nil {
		cp.CallFee = new(big.Int).Set(w.CallFee)
	}
	for name, versions := range w.Versions {
		cp.Versions[name] = slices.Clone(versions)
	}
	for name, impls := range w.Implementations {
		cp.Implementations[name] = maps.Clone(impls)
	}
	for role, members := range w.Roles {
		cp.Roles[role] = maps.Clone(members)
	}
	for addr, balance := range w.Balances {
		cp.Balances[addr] = new(big.Int).Set(balance)
	}
	for addr, slots := range w.Storage {
		inner := make(map[string][]byte, len(slots))
		for k, v := range slots {
			inner[k] = slices.Clone(v)
		}
		cp.Storage[addr] = inner
	}
	cp.ensure()
	return cp
}

// HasRole reports whether account is a member of role.
func (w *World) HasRole(role common.Hash, account common.Address) bool {
	return w.Roles[role][account]
}

// SetRole adds or removes account from role and reports whether membership changed.
func (w *World) SetRole(role common.Hash, account common.Address, member bool) bool {
	if w.HasRole(role, account) == member {
		return false
	}
	if member {
		if w.Roles[role] == nil {
			w.Roles[role] = make(map[common.Address]bool)
		}
		w.Roles[role][account] = true
		return true
	}
	delete(w.Roles[role], account)
	if len(w.Roles[role]) == 0 {
		delete(w.Roles, role)
	}
	return true
}

// BalanceOf returns a copy of the account's balance.
func (w *World) BalanceOf(account common.Address) *big.Int {
	if b, ok := w.Balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Credit adds amount to the account's balance.
func (w *World) Credit(account common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	w.Balances[account] = new(big.Int).Add(w.BalanceOf(account), amount)
}

// Debit subtracts amount from the account's balance.
func (w *World) Debit(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance := w.BalanceOf(account)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, account.Hex(), balance, amount)
	}
	balance.Sub(balance, amount)
	if balance.Sign() == 0 {
		delete(w.Balances, account)
	} else {
		w.Balances[account] = balance
	}
	return nil
}

// Transfer moves amount between two accounts.
func (w *World) Transfer(from, to common.Address, amount *big.Int) error {
	if err := w.Debit(from, amount); err != nil {
		return err
	}
	w.Credit(to, amount)
	return nil
}

// StorageGet returns a copy of the value stored under key for instance, or nil.
func (w *World) StorageGet(instance common.Address, key []byte) []byte {
	return slices.Clone(w.Storage[instance][hex.EncodeToString(key)])
}

// StorageSet stores value under key for instance. An empty value deletes the slot.
func (w *World) StorageSet(instance common.Address, key, value []byte) {
	k := hex.EncodeToString(key)
	if len(value) == 0 {
		delete(w.Storage[instance], k)
		if len(w.Storage[instance]) == 0 {
			delete(w.Storage, instance)
		}
		return
	}
	if w.Storage[instance] == nil {
		w.Storage[instance] = make(map[string][]byte)
	}
	w.Storage[instance][k] = slices.Clone(value)
}
