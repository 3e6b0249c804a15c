package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AuthorizationKind enumerates authorization failures.
type AuthorizationKind string

const (
	MissingRole        AuthorizationKind = "missing role"
	NotOperator        AuthorizationKind = "not operator"
	SelfChange         AuthorizationKind = "operator cannot change own status"
	InvalidSignature   AuthorizationKind = "invalid signature"
	UnrecognizedSigner AuthorizationKind = "unrecognized signer"
	UnknownRole        AuthorizationKind = "role not grantable"
	ZeroAddress        AuthorizationKind = "zero address"
)

// AuthorizationError is returned when the caller lacks the right to perform an action.
type AuthorizationError struct {
	Kind    AuthorizationKind
	Account common.Address
	Role    common.Hash
}

func (e *AuthorizationError) Error() string {
	switch {
	case e.Role != (common.Hash{}):
		return fmt.Sprintf("authorization: %s: account %s role %s", e.Kind, e.Account.Hex(), e.Role.Hex())
	case e.Account != (common.Address{}):
		return fmt.Sprintf("authorization: %s: account %s", e.Kind, e.Account.Hex())
	default:
		return fmt.Sprintf("authorization: %s", e.Kind)
	}
}

// Is matches any AuthorizationError with the same kind; an empty kind matches the whole family.
func (e *AuthorizationError) Is(target error) bool {
	t, ok := target.(*AuthorizationError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// PaymentKind enumerates payment failures.
type PaymentKind string

const (
	Insufficient  PaymentKind = "insufficient payment"
	Unexpected    PaymentKind = "action does not accept payment"
	InvalidAmount PaymentKind = "invalid amount"
	NoFunds       PaymentKind = "nothing to withdraw"
)

// PaymentError is returned when the attached payment does not satisfy a guard
// or exceeds what the caller holds.
type PaymentError struct {
	Kind     PaymentKind
	Required string
	Attached string
	Balance  string
}

func (e *PaymentError) Error() string {
	if e.Balance != "" {
		return fmt.Sprintf("payment: %s: attached %s, balance %s", e.Kind, e.Attached, e.Balance)
	}
	if e.Required != "" {
		return fmt.Sprintf("payment: %s: required %s, attached %s", e.Kind, e.Required, e.Attached)
	}
	return fmt.Sprintf("payment: %s", e.Kind)
}

func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// RegistryKind enumerates template registry failures.
type RegistryKind string

const (
	DuplicateVersion      RegistryKind = "duplicate version"
	MissingImplementation RegistryKind = "missing implementation"
	InvalidTarget         RegistryKind = "invalid target"
)

// RegistryError is returned by template registration and lookup.
type RegistryError struct {
	Kind    RegistryKind
	Name    TemplateName
	Version TemplateVersion
	Target  common.Address
}

func (e *RegistryError) Error() string {
	switch {
	case e.Name != "" && e.Version != 0:
		return fmt.Sprintf("registry: %s: %s@%s", e.Kind, e.Name, e.Version)
	case e.Name != "":
		return fmt.Sprintf("registry: %s: %s", e.Kind, e.Name)
	case e.Target != (common.Address{}):
		return fmt.Sprintf("registry: %s: %s", e.Kind, e.Target.Hex())
	default:
		return fmt.Sprintf("registry: %s", e.Kind)
	}
}

func (e *RegistryError) Is(target error) bool {
	t, ok := target.(*RegistryError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// StateKind enumerates lifecycle failures.
type StateKind string

const (
	AlreadyInitialized StateKind = "already initialized"
	AlreadyUpgraded    StateKind = "already upgraded"
)

// StateError is returned by one-time lifecycle actions.
type StateError struct {
	Kind StateKind
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state: %s", e.Kind)
}

func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// DispatchKind enumerates forwarding failures that happen before the target runs.
type DispatchKind string

const (
	NotWhitelisted DispatchKind = "instance not whitelisted"
)

// DispatchError is returned when a call cannot be forwarded.
type DispatchError struct {
	Kind     DispatchKind
	Instance common.Address
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: %s: %s", e.Kind, e.Instance.Hex())
}

func (e *DispatchError) Is(target error) bool {
	t, ok := target.(*DispatchError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// Family sentinels for errors.Is.
var (
	ErrAuthorization = &AuthorizationError{}
	ErrPayment       = &PaymentError{}
	ErrRegistry      = &RegistryError{}
	ErrState         = &StateError{}
	ErrDispatch      = &DispatchError{}

	ErrMissingRole        = &AuthorizationError{Kind: MissingRole}
	ErrNotOperator        = &AuthorizationError{Kind: NotOperator}
	ErrSelfChange         = &AuthorizationError{Kind: SelfChange}
	ErrInvalidSignature   = &AuthorizationError{Kind: InvalidSignature}
	ErrUnrecognizedSigner = &AuthorizationError{Kind: UnrecognizedSigner}
	ErrUnknownRole        = &AuthorizationError{Kind: UnknownRole}
	ErrZeroAddress        = &AuthorizationError{Kind: ZeroAddress}

	ErrInsufficientPayment = &PaymentError{Kind: Insufficient}
	ErrUnexpectedPayment   = &PaymentError{Kind: Unexpected}
	ErrInvalidAmount       = &PaymentError{Kind: InvalidAmount}
	ErrNoFunds             = &PaymentError{Kind: NoFunds}

	ErrDuplicateVersion      = &RegistryError{Kind: DuplicateVersion}
	ErrMissingImplementation = &RegistryError{Kind: MissingImplementation}
	ErrInvalidTarget         = &RegistryError{Kind: InvalidTarget}

	ErrAlreadyInitialized = &StateError{Kind: AlreadyInitialized}
	ErrAlreadyUpgraded    = &StateError{Kind: AlreadyUpgraded}

	ErrNotWhitelisted = &DispatchError{Kind: NotWhitelisted}
)

// ErrBudgetExhausted is returned by Env.Consume when the call runs out of budget.
var ErrBudgetExhausted = errors.New("compute budget exhausted")

// RevertError carries the failure payload of a forwarded call byte-for-byte.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string {
	if reason, ok := e.Reason(); ok {
		return "execution reverted: " + reason
	}
	if len(e.Data) == 0 {
		return "execution reverted"
	}
	return "execution reverted: 0x" + hex.EncodeToString(e.Data)
}

// Reason decodes Error(string) and Panic(uint256) payloads.
func (e *RevertError) Reason() (string, bool) {
	reason, err := abi.UnpackRevert(e.Data)
	if err != nil {
		return "", false
	}
	return reason, true
}

var (
	revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
	revertArgs     = abi.Arguments{{Type: mustType("string")}}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeRevertReason builds the standard Error(string) failure payload.
func EncodeRevertReason(reason string) []byte {
	packed, err := revertArgs.Pack(reason)
	if err != nil {
		// string packing cannot fail
		panic(err)
	}
	return append(append([]byte{}, revertSelector...), packed...)
}

// Revert returns a RevertError with an Error(string) payload.
func Revert(reason string) *RevertError {
	return &RevertError{Data: EncodeRevertReason(reason)}
}
