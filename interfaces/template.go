package interfaces

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Template is the capability every registrable component must provide.
// Name and Version are queried once, at registration, and cached by the registry.
type Template interface {
	Name() TemplateName
	Version() TemplateVersion

	// Initialize runs exactly once per instance, right after it is created,
	// with the data supplied by the deployer.
	Initialize(env Env, data []byte) ([]byte, error)

	// Invoke handles every forwarded call. A returned *RevertError is propagated
	// verbatim; any other error is reported as an Error(string) revert.
	Invoke(env Env, data []byte) ([]byte, error)
}

// Env is the execution environment handed to template code. Storage is private
// to the instance being executed and is rolled back together with the action.
type Env interface {
	// Self is the address of the running instance.
	Self() common.Address

	// Caller is the account that forwarded the call (the gateway).
	Caller() common.Address

	// Value is the payment forwarded with the call.
	Value() *big.Int

	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error

	// Consume charges units against the remaining budget and fails with
	// ErrBudgetExhausted once it runs out.
	Consume(units uint64) error
	Remaining() uint64
}

// InvokeKind selects the template entrypoint.
type InvokeKind int

const (
	InvokeCall InvokeKind = iota
	InvokeInit
)

// InvokeRequest is a single forwarded call. Budget is the compute allowance
// handed to the target; the caller keeps nothing back.
type InvokeRequest struct {
	Kind   InvokeKind
	Target common.Address
	Caller common.Address
	Data   []byte
	Value  *big.Int
	Budget uint64
}

// InvokeResult is the successful outcome of a forwarded call.
type InvokeResult struct {
	Return []byte
	Used   uint64
}
