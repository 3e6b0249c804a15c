package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/template-gateway/interfaces"
)

// Request headers identifying the caller of a mutating request.
const (
	// SignatureHeader carries the caller's signature over
	// cryptoutils.RequestPayload(method, path, timestamp, nonce, value, body).
	SignatureHeader = "X-Gateway-Signature"

	// TimestampHeader is the unix time (seconds) the request was signed at.
	TimestampHeader = "X-Gateway-Timestamp"

	// NonceHeader makes each signed request unique. A nonce is accepted once
	// per caller within the clock skew window.
	NonceHeader = "X-Gateway-Nonce"

	// ValueHeader is the payment attached to the action, as a decimal or 0x-prefixed integer.
	ValueHeader = "X-Gateway-Value"

	// CallerHeader names the caller directly. It is only honored by handlers
	// configured to trust it and is meant for local development.
	CallerHeader = "X-Gateway-Caller"
)

type InitializeRequest struct {
	Owner  common.Address `json:"owner"`
	Signer common.Address `json:"signer"`
}

type RegisterTemplateRequest struct {
	Implementation common.Address `json:"implementation"`
}

// DeployRequest deploys an instance of a template. Without a signature the
// deployment fee must be attached; with one, Version optionally pins the
// template version the signature covers.
type DeployRequest struct {
	InitData  hexutil.Bytes `json:"init_data"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
	Version   string        `json:"version,omitempty"`
}

// CallRequest forwards Data to an instance. Without a signature the call fee
// must be attached.
type CallRequest struct {
	Data      hexutil.Bytes `json:"data"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

type QueryRequest struct {
	Data hexutil.Bytes `json:"data"`
}

type QueryResponse struct {
	Return hexutil.Bytes `json:"return"`
}

type WhitelistRequest struct {
	Allowed bool `json:"allowed"`
}

type OperatorRequest struct {
	Allowed bool `json:"allowed"`
}

type OperatorResponse struct {
	Instance common.Address `json:"instance"`
	Account  common.Address `json:"account"`
	Role     common.Hash    `json:"role"`
	Operator bool           `json:"operator"`
}

type FeeRequest struct {
	Amount *big.Int `json:"amount"`
}

type FeesResponse struct {
	Deployment *big.Int `json:"deployment"`
	Call       *big.Int `json:"call"`
	Collected  *big.Int `json:"collected"`
}

type FundRequest struct {
	Amount *big.Int `json:"amount"`
}

type BalanceResponse struct {
	Account common.Address `json:"account"`
	Balance *big.Int       `json:"balance"`
}

type WithdrawRequest struct {
	To common.Address `json:"to"`
}

type RoleRequest struct {
	Account common.Address `json:"account"`
}

type RoleResponse struct {
	Role    common.Hash    `json:"role"`
	Name    string         `json:"name"`
	Account common.Address `json:"account"`
	Member  bool           `json:"member"`
}

// ReceiptResponse is returned for every committed action.
type ReceiptResponse struct {
	Seq        uint64              `json:"seq"`
	Return     hexutil.Bytes       `json:"return,omitempty"`
	Instance   *common.Address     `json:"instance,omitempty"`
	BudgetUsed uint64              `json:"budget_used"`
	Records    []interfaces.Record `json:"records"`
}

// NewReceiptResponse converts a gateway receipt to its wire form.
func NewReceiptResponse(r *interfaces.Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		Seq:        r.Seq,
		Return:     r.Return,
		BudgetUsed: r.BudgetUsed,
		Records:    r.Records,
	}
	if r.Instance != (common.Address{}) {
		instance := r.Instance
		resp.Instance = &instance
	}
	if resp.Records == nil {
		resp.Records = []interfaces.Record{}
	}
	return resp
}

type TemplateVersionInfo struct {
	Version        string         `json:"version"`
	Packed         uint64         `json:"packed"`
	Implementation common.Address `json:"implementation"`
}

type TemplateInfo struct {
	Name     interfaces.TemplateName `json:"name"`
	Latest   TemplateVersionInfo     `json:"latest"`
	Versions []TemplateVersionInfo   `json:"versions"`
}

type InstanceInfo struct {
	Address        common.Address          `json:"address"`
	Name           interfaces.TemplateName `json:"name"`
	Version        string                  `json:"version"`
	Implementation common.Address          `json:"implementation"`
	Initialized    bool                    `json:"initialized"`
	Whitelisted    bool                    `json:"whitelisted"`
	Balance        *big.Int                `json:"balance"`
}

type StatusResponse struct {
	Address       common.Address `json:"address"`
	Initialized   bool           `json:"initialized"`
	SchemaVersion uint64         `json:"schema_version"`
	CodeVersion   uint64         `json:"code_version"`
	Balance       *big.Int       `json:"balance"`
}

type CheckpointResponse struct {
	ContentID string `json:"content_id"`
	Backend   string `json:"backend"`
}

// ErrorResponse is the body of every failed request. Kind names the error
// family; RevertData and Reason are set when a forwarded call failed.
type ErrorResponse struct {
	Error      string        `json:"error"`
	Kind       string        `json:"kind,omitempty"`
	RevertData hexutil.Bytes `json:"revert_data,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}
