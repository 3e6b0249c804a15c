package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RecordType names an observable audit record.
type RecordType string

const (
	TemplateAdded    RecordType = "TemplateAdded"
	TemplateDeployed RecordType = "TemplateDeployed"
	OperatorChanged  RecordType = "OperatorChanged"
	WhitelistChanged RecordType = "WhitelistChanged"
	FeeChanged       RecordType = "FeeChanged"
	RoleGranted      RecordType = "RoleGranted"
	RoleRevoked      RecordType = "RoleRevoked"
	FeesWithdrawn    RecordType = "FeesWithdrawn"
	AccountFunded    RecordType = "AccountFunded"
	Upgraded         RecordType = "Upgraded"
	Initialized      RecordType = "Initialized"
)

// FeeKind distinguishes the two fee scalars in FeeChanged records.
type FeeKind string

const (
	DeploymentFee FeeKind = "deployment"
	CallFee       FeeKind = "call"
)

// Record is an audit entry emitted when an action commits. Only the fields
// relevant to Type are populated:
//
//	TemplateAdded    Name, Version, Implementation
//	TemplateDeployed Name, Version, Instance
//	OperatorChanged  Instance, Account, Allowed
//	WhitelistChanged Instance, Allowed
//	FeeChanged       Fee, Amount
//	RoleGranted      Role, Account
//	RoleRevoked      Role, Account
//	FeesWithdrawn    Account, Amount
//	AccountFunded    Account, Amount
//	Upgraded         SchemaFrom, SchemaTo
//	Initialized      Account (owner), Implementation (signer)
type Record struct {
	Seq   uint64     `json:"seq"`
	Index int        `json:"index"`
	Type  RecordType `json:"type"`

	Name           TemplateName    `json:"name,omitempty"`
	Version        TemplateVersion `json:"version,omitempty"`
	Implementation common.Address  `json:"implementation,omitempty"`
	Instance       common.Address  `json:"instance,omitempty"`
	Account        common.Address  `json:"account,omitempty"`
	Allowed        bool            `json:"allowed,omitempty"`
	Role           common.Hash     `json:"role,omitempty"`
	Fee            FeeKind         `json:"fee,omitempty"`
	Amount         *big.Int        `json:"amount,omitempty"`
	SchemaFrom     uint64          `json:"schema_from,omitempty"`
	SchemaTo       uint64          `json:"schema_to,omitempty"`
}

// RecordSink receives records of committed actions, in commit order.
type RecordSink interface {
	Append(ctx context.Context, records []Record) error
}

// RecordFilter selects records from a RecordStore.
type RecordFilter struct {
	Type     RecordType
	Instance *common.Address
	AfterSeq uint64
	Limit    int
}

// RecordStore is a queryable RecordSink.
type RecordStore interface {
	RecordSink
	List(ctx context.Context, filter RecordFilter) ([]Record, error)
}
