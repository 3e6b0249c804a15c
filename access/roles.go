// Package access implements role-based authorization over the world state:
// the global ADMIN and SIGNER roles and the OPERATOR role derived per instance.
// All memberships share one table keyed by role tag.
package access

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
)

var (
	// AdminRole administers itself and SignerRole.
	AdminRole = crypto.Keccak256Hash([]byte("ADMIN_ROLE"))

	// SignerRole holders produce authorization signatures.
	SignerRole = crypto.Keccak256Hash([]byte("SIGNER_ROLE"))
)

// OperatorRole returns the role tag scoped to a single instance.
func OperatorRole(instance common.Address) common.Hash {
	return crypto.Keccak256Hash([]byte("OPERATOR_ROLE"), instance.Bytes())
}

// grantable lists the roles the generic grant path manages.
var grantable = map[common.Hash]bool{
	AdminRole:  true,
	SignerRole: true,
}

// RoleName returns a readable name for the global roles, or the tag itself.
func RoleName(role common.Hash) string {
	switch role {
	case AdminRole:
		return "ADMIN_ROLE"
	case SignerRole:
		return "SIGNER_ROLE"
	default:
		return role.Hex()
	}
}

// ParseRole accepts a global role name or a 32-byte hex tag.
func ParseRole(s string) (common.Hash, bool) {
	switch s {
	case "ADMIN_ROLE", "admin":
		return AdminRole, true
	case "SIGNER_ROLE", "signer":
		return SignerRole, true
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// Initialize bootstraps the roles: owner becomes admin and signer becomes the
// first signer. It succeeds only once per world.
func Initialize(w *state.World, owner, signer common.Address) ([]interfaces.Record, error) {
	if w.Initialized {
		return nil, interfaces.ErrAlreadyInitialized
	}
	if owner == (common.Address{}) || signer == (common.Address{}) {
		return nil, interfaces.ErrZeroAddress
	}

	w.Initialized = true
	w.SetRole(AdminRole, owner, true)
	w.SetRole(SignerRole, signer, true)

	return []interfaces.Record{
		{Type: interfaces.Initialized, Account: owner, Implementation: signer},
		{Type: interfaces.RoleGranted, Role: AdminRole, Account: owner},
		{Type: interfaces.RoleGranted, Role: SignerRole, Account: signer},
	}, nil
}

// RequireRole fails with a MissingRole authorization error unless account holds role.
func RequireRole(w *state.World, role common.Hash, account common.Address) error {
	if !w.HasRole(role, account) {
		return &interfaces.AuthorizationError{Kind: interfaces.MissingRole, Account: account, Role: role}
	}
	return nil
}

// RequireOperator fails with NotOperator unless account operates instance.
func RequireOperator(w *state.World, instance, account common.Address) error {
	if !w.HasRole(OperatorRole(instance), account) {
		return &interfaces.AuthorizationError{Kind: interfaces.NotOperator, Account: account}
	}
	return nil
}

// GrantRole adds account to a global role on behalf of caller, who must be an admin.
// Granting a role the account already holds succeeds without a record.
func GrantRole(w *state.World, caller common.Address, role common.Hash, account common.Address) ([]interfaces.Record, error) {
	if err := checkGrant(w, caller, role, account); err != nil {
		return nil, err
	}
	if !w.SetRole(role, account, true) {
		return nil, nil
	}
	return []interfaces.Record{{Type: interfaces.RoleGranted, Role: role, Account: account}}, nil
}

// RevokeRole removes account from a global role on behalf of an admin caller.
func RevokeRole(w *state.World, caller common.Address, role common.Hash, account common.Address) ([]interfaces.Record, error) {
	if err := checkGrant(w, caller, role, account); err != nil {
		return nil, err
	}
	if !w.SetRole(role, account, false) {
		return nil, nil
	}
	return []interfaces.Record{{Type: interfaces.RoleRevoked, Role: role, Account: account}}, nil
}

// RenounceRole lets caller drop one of its own global roles.
func RenounceRole(w *state.World, caller common.Address, role common.Hash) ([]interfaces.Record, error) {
	if !grantable[role] {
		return nil, &interfaces.AuthorizationError{Kind: interfaces.UnknownRole, Account: caller, Role: role}
	}
	if !w.SetRole(role, caller, false) {
		return nil, nil
	}
	return []interfaces.Record{{Type: interfaces.RoleRevoked, Role: role, Account: caller}}, nil
}

func checkGrant(w *state.World, caller common.Address, role common.Hash, account common.Address) error {
	// Operator tags never go through the generic path.
	if !grantable[role] {
		return &interfaces.AuthorizationError{Kind: interfaces.UnknownRole, Account: account, Role: role}
	}
	if err := RequireRole(w, AdminRole, caller); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return interfaces.ErrZeroAddress
	}
	return nil
}

// SetOperator changes account's operator status for instance on behalf of
// caller, an operator of the same instance who may not change its own status.
func SetOperator(w *state.World, caller, instance, account common.Address, allowed bool) ([]interfaces.Record, error) {
	if err := RequireOperator(w, instance, caller); err != nil {
		return nil, err
	}
	if account == caller {
		return nil, &interfaces.AuthorizationError{Kind: interfaces.SelfChange, Account: caller}
	}
	if account == (common.Address{}) {
		return nil, interfaces.ErrZeroAddress
	}

	w.SetRole(OperatorRole(instance), account, allowed)
	return []interfaces.Record{{Type: interfaces.OperatorChanged, Instance: instance, Account: account, Allowed: allowed}}, nil
}
