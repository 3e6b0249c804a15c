package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/registry"
	"github.com/ruteri/template-gateway/state"
)

// view runs fn against the committed state.
func (g *Gateway) view(fn func(w *state.World)) {
	_ = g.store.View(func(w *state.World) error {
		fn(w)
		return nil
	})
}

// Templates returns registered template names in first-registration order.
func (g *Gateway) Templates() (names []interfaces.TemplateName) {
	g.view(func(w *state.World) { names = registry.Templates(w) })
	return names
}

// Versions returns the versions of name in registration order.
func (g *Gateway) Versions(name interfaces.TemplateName) (versions []interfaces.TemplateVersion) {
	g.view(func(w *state.World) { versions = registry.Versions(w, name) })
	return versions
}

// ImplementationOf returns the implementation bound to (name, version).
func (g *Gateway) ImplementationOf(name interfaces.TemplateName, version interfaces.TemplateVersion) (impl common.Address, ok bool) {
	g.view(func(w *state.World) { impl, ok = registry.ImplementationOf(w, name, version) })
	return impl, ok
}

// LatestVersion returns the highest registered version of name.
func (g *Gateway) LatestVersion(name interfaces.TemplateName) (version interfaces.TemplateVersion, ok bool) {
	g.view(func(w *state.World) { version, _, ok = registry.Latest(w, name) })
	return version, ok
}

// LatestImplementation returns the implementation of the highest registered version of name.
func (g *Gateway) LatestImplementation(name interfaces.TemplateName) (impl common.Address, ok bool) {
	g.view(func(w *state.World) { _, impl, ok = registry.Latest(w, name) })
	return impl, ok
}

// IsWhitelisted reports whether calls may be forwarded to instance.
func (g *Gateway) IsWhitelisted(instance common.Address) (allowed bool) {
	g.view(func(w *state.World) { allowed = w.Whitelisted[instance] })
	return allowed
}

// IsOperator reports whether account operates instance.
func (g *Gateway) IsOperator(instance, account common.Address) (ok bool) {
	g.view(func(w *state.World) { ok = w.HasRole(access.OperatorRole(instance), account) })
	return ok
}

// OperatorRoleOf returns the role tag of instance's operators.
func (g *Gateway) OperatorRoleOf(instance common.Address) common.Hash {
	return access.OperatorRole(instance)
}

// HasRole reports whether account holds role.
func (g *Gateway) HasRole(role common.Hash, account common.Address) (ok bool) {
	g.view(func(w *state.World) { ok = w.HasRole(role, account) })
	return ok
}

// DeploymentFee returns the minimum payment of DeployByFee.
func (g *Gateway) DeploymentFee() (fee *big.Int) {
	g.view(func(w *state.World) { fee = new(big.Int).Set(amountOrZero(w.DeploymentFee)) })
	return fee
}

// CallFee returns the minimum payment of CallByFee.
func (g *Gateway) CallFee() (fee *big.Int) {
	g.view(func(w *state.World) { fee = new(big.Int).Set(amountOrZero(w.CallFee)) })
	return fee
}

// SchemaVersion returns the schema version of the committed state.
func (g *Gateway) SchemaVersion() (version uint64) {
	g.view(func(w *state.World) { version = w.SchemaVersion })
	return version
}

// CodeVersion returns the schema version Upgrade migrates to.
func (g *Gateway) CodeVersion() uint64 {
	return CodeVersion
}

// Initialized reports whether Initialize has committed.
func (g *Gateway) Initialized() (ok bool) {
	g.view(func(w *state.World) { ok = w.Initialized })
	return ok
}

// BalanceOf returns the balance held by account, including the gateway's collected fees.
func (g *Gateway) BalanceOf(account common.Address) (balance *big.Int) {
	g.view(func(w *state.World) { balance = w.BalanceOf(account) })
	return balance
}

// Instances returns every created instance in creation order.
func (g *Gateway) Instances() (instances []common.Address) {
	g.view(func(w *state.World) { instances = append([]common.Address(nil), w.Instances...) })
	return instances
}

// InstanceInfo describes a created instance.
func (g *Gateway) InstanceInfo(instance common.Address) (info interfaces.CloneInfo, ok bool) {
	g.view(func(w *state.World) { info, ok = w.Clones[instance] })
	return info, ok
}

// Query runs data against instance as the gateway on a scratch copy of the
// state and returns the result. Nothing is committed and no guard applies.
func (g *Gateway) Query(ctx context.Context, instance common.Address, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var scratch *state.World
	g.view(func(w *state.World) { scratch = w.Clone() })

	res, err := g.host.Invoke(scratch, interfaces.InvokeRequest{
		Kind:   interfaces.InvokeCall,
		Target: instance,
		Caller: g.address,
		Data:   data,
		Budget: g.budget,
	})
	if err != nil {
		return nil, err
	}
	return res.Return, nil
}
