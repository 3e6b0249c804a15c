// Package interfaces defines the core interfaces and types for the template gateway.
// It provides the contract between the registry, the code host and the transport
// layers without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
)

// TemplateName identifies a family of template versions.
type TemplateName string

// String returns the name as a string.
func (n TemplateName) String() string {
	return string(n)
}

// TemplateVersion is a MAJOR_MINOR_PATCH version packed into one strictly
// comparable integer: major*1_000_000 + minor*1_000 + patch. Version 0
// (0.0.0) is reserved and never registered.
type TemplateVersion uint64

const versionComponentLimit = 1000

// NewTemplateVersion packs semantic version components. Minor and patch must be below 1000.
func NewTemplateVersion(major, minor, patch uint64) (TemplateVersion, error) {
	if minor >= versionComponentLimit || patch >= versionComponentLimit {
		return 0, fmt.Errorf("version component out of range: %d.%d.%d", major, minor, patch)
	}
	return TemplateVersion(major*versionComponentLimit*versionComponentLimit + minor*versionComponentLimit + patch), nil
}

// MustTemplateVersion is NewTemplateVersion for package-level constants.
func MustTemplateVersion(major, minor, patch uint64) TemplateVersion {
	v, err := NewTemplateVersion(major, minor, patch)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseTemplateVersion accepts either the dotted form ("1.2.3", "v1.2.3") or the
// packed integer form ("1002003").
func ParseTemplateVersion(s string) (TemplateVersion, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty version")
	}
	if !strings.Contains(s, ".") {
		packed, ok := new(big.Int).SetString(s, 10)
		if !ok || !packed.IsUint64() {
			return 0, fmt.Errorf("invalid packed version %q", s)
		}
		return TemplateVersion(packed.Uint64()), nil
	}

	v, err := semver.NewVersion(strings.TrimPrefix(s, "v"))
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", s, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return 0, fmt.Errorf("version %q: pre-release and build metadata are not supported", s)
	}
	return NewTemplateVersion(v.Major(), v.Minor(), v.Patch())
}

func (v TemplateVersion) Major() uint64 {
	return uint64(v) / (versionComponentLimit * versionComponentLimit)
}

func (v TemplateVersion) Minor() uint64 {
	return uint64(v) / versionComponentLimit % versionComponentLimit
}

func (v TemplateVersion) Patch() uint64 {
	return uint64(v) % versionComponentLimit
}

// String returns the dotted form.
func (v TemplateVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// Msg describes who submits an action and the payment attached to it.
type Msg struct {
	From  common.Address
	Value *big.Int
}

// NewMsg returns a message without attached payment.
func NewMsg(from common.Address) Msg {
	return Msg{From: from, Value: new(big.Int)}
}

// WithValue returns a copy of the message carrying the given payment.
func (m Msg) WithValue(value int64) Msg {
	m.Value = big.NewInt(value)
	return m
}

// Amount returns the attached payment, treating nil as zero.
func (m Msg) Amount() *big.Int {
	if m.Value == nil {
		return new(big.Int)
	}
	return m.Value
}

// Receipt is returned for every committed action.
type Receipt struct {
	// Seq is the position of the action in the total order of committed actions.
	Seq uint64 `json:"seq"`

	// Return holds the raw bytes returned by a forwarded call, if any.
	Return []byte `json:"return,omitempty"`

	// Instance is set by deploy actions.
	Instance common.Address `json:"instance,omitempty"`

	// BudgetUsed is the compute budget consumed by forwarded calls.
	BudgetUsed uint64 `json:"budget_used"`

	Records []Record `json:"records"`
}

// CloneInfo describes a created instance.
type CloneInfo struct {
	Implementation common.Address  `json:"implementation"`
	Name           TemplateName    `json:"name"`
	Version        TemplateVersion `json:"version"`
	Initialized    bool            `json:"initialized"`
}
