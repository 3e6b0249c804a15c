package gateway

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/registry"
)

// DeployByFee creates an instance of the latest version of name, paid for by
// attaching at least the deployment fee. Surplus payment is kept.
func (g *Gateway) DeployByFee(ctx context.Context, msg interfaces.Msg, name interfaces.TemplateName, initData []byte) (*interfaces.Receipt, error) {
	return g.execute(ctx, "deploy_by_fee", msg, true, func(a *actionTx) error {
		if err := a.paidOnly(a.w.DeploymentFee); err != nil {
			return err
		}
		version, impl, _ := registry.Latest(a.w, name)
		return g.deploy(a, name, version, impl, initData)
	})
}

// DeployBySignature creates an instance of the latest version of name,
// authorized by a signer's signature over (caller, name, initData).
func (g *Gateway) DeployBySignature(ctx context.Context, msg interfaces.Msg, name interfaces.TemplateName, initData, sig []byte) (*interfaces.Receipt, error) {
	return g.execute(ctx, "deploy_by_signature", msg, true, func(a *actionTx) error {
		if err := g.signedOnly(a, cryptoutils.DeployPayload(msg.From, name, initData), sig); err != nil {
			return err
		}
		version, impl, _ := registry.Latest(a.w, name)
		return g.deploy(a, name, version, impl, initData)
	})
}

// DeployVersionBySignature creates an instance of an explicit version of name,
// authorized by a signer's signature over (caller, name, version, initData).
func (g *Gateway) DeployVersionBySignature(ctx context.Context, msg interfaces.Msg, name interfaces.TemplateName, version interfaces.TemplateVersion, initData, sig []byte) (*interfaces.Receipt, error) {
	return g.execute(ctx, "deploy_version_by_signature", msg, true, func(a *actionTx) error {
		if err := g.signedOnly(a, cryptoutils.DeployVersionPayload(msg.From, name, version, initData), sig); err != nil {
			return err
		}
		impl, _ := registry.ImplementationOf(a.w, name, version)
		return g.deploy(a, name, version, impl, initData)
	})
}

// deploy creates a clone of impl, whitelists it, makes the caller its operator
// and runs its initializer. A failing initializer aborts the whole action.
func (g *Gateway) deploy(a *actionTx, name interfaces.TemplateName, version interfaces.TemplateVersion, impl common.Address, initData []byte) error {
	if impl == (common.Address{}) {
		return &interfaces.RegistryError{Kind: interfaces.MissingImplementation, Name: name, Version: version}
	}

	instance, err := g.host.CreateClone(a.w, g.address, impl, name, version)
	if err != nil {
		return err
	}
	a.w.Whitelisted[instance] = true
	a.w.SetRole(access.OperatorRole(instance), a.msg.From, true)

	ret, err := g.forward(a, interfaces.InvokeInit, instance, initData, nil)
	if err != nil {
		return err
	}

	a.instance = instance
	a.ret = ret
	a.emit(interfaces.Record{
		Type:     interfaces.TemplateDeployed,
		Name:     name,
		Version:  version,
		Instance: instance,
	})
	return nil
}
