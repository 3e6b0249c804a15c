package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/registry"
)

// Initialize makes owner the first admin and signer the first signer. It can
// be called by anyone, exactly once.
func (g *Gateway) Initialize(ctx context.Context, msg interfaces.Msg, owner, signer common.Address) (*interfaces.Receipt, error) {
	return g.execute(ctx, "initialize", msg, false, func(a *actionTx) error {
		records, err := access.Initialize(a.w, owner, signer)
		if err != nil {
			return err
		}
		a.emit(records...)
		return nil
	})
}

// RegisterTemplate adds the implementation at impl to the registry under its
// self-reported name and version.
func (g *Gateway) RegisterTemplate(ctx context.Context, msg interfaces.Msg, impl common.Address) (*interfaces.Receipt, error) {
	return g.execute(ctx, "register_template", msg, false, func(a *actionTx) error {
		if err := a.adminOnly(); err != nil {
			return err
		}
		record, err := registry.Register(a.w, g.host, impl)
		if err != nil {
			return err
		}
		a.emit(record)
		return nil
	})
}

// SetWhitelisted enables or disables call forwarding to instance.
func (g *Gateway) SetWhitelisted(ctx context.Context, msg interfaces.Msg, instance common.Address, allowed bool) (*interfaces.Receipt, error) {
	return g.execute(ctx, "set_whitelisted", msg, false, func(a *actionTx) error {
		if err := a.adminOnly(); err != nil {
			return err
		}
		a.w.Whitelisted[instance] = allowed
		a.emit(interfaces.Record{Type: interfaces.WhitelistChanged, Instance: instance, Allowed: allowed})
		return nil
	})
}

// SetDeploymentFee sets the minimum payment of DeployByFee.
func (g *Gateway) SetDeploymentFee(ctx context.Context, msg interfaces.Msg, fee *big.Int) (*interfaces.Receipt, error) {
	return g.setFee(ctx, "set_deployment_fee", msg, interfaces.DeploymentFee, fee)
}

// SetCallFee sets the minimum payment of CallByFee.
func (g *Gateway) SetCallFee(ctx context.Context, msg interfaces.Msg, fee *big.Int) (*interfaces.Receipt, error) {
	return g.setFee(ctx, "set_call_fee", msg, interfaces.CallFee, fee)
}

func (g *Gateway) setFee(ctx context.Context, action string, msg interfaces.Msg, kind interfaces.FeeKind, fee *big.Int) (*interfaces.Receipt, error) {
	return g.execute(ctx, action, msg, false, func(a *actionTx) error {
		if err := a.adminOnly(); err != nil {
			return err
		}
		if fee == nil || fee.Sign() < 0 {
			return &interfaces.PaymentError{Kind: interfaces.InvalidAmount}
		}

		amount := new(big.Int).Set(fee)
		switch kind {
		case interfaces.DeploymentFee:
			a.w.DeploymentFee = amount
		case interfaces.CallFee:
			a.w.CallFee = amount
		}
		a.emit(interfaces.Record{Type: interfaces.FeeChanged, Fee: kind, Amount: new(big.Int).Set(fee)})
		return nil
	})
}

// WithdrawFees transfers the gateway's whole balance to to.
func (g *Gateway) WithdrawFees(ctx context.Context, msg interfaces.Msg, to common.Address) (*interfaces.Receipt, error) {
	return g.execute(ctx, "withdraw_fees", msg, false, func(a *actionTx) error {
		if err := a.adminOnly(); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return interfaces.ErrZeroAddress
		}

		amount := a.w.BalanceOf(g.address)
		if amount.Sign() == 0 {
			return &interfaces.PaymentError{Kind: interfaces.NoFunds}
		}
		if err := a.w.Transfer(g.address, to, amount); err != nil {
			return err
		}
		a.emit(interfaces.Record{Type: interfaces.FeesWithdrawn, Account: to, Amount: amount})
		return nil
	})
}

// Fund credits amount to account. Balances are the only source of attached
// payment, so only admins may create them.
func (g *Gateway) Fund(ctx context.Context, msg interfaces.Msg, account common.Address, amount *big.Int) (*interfaces.Receipt, error) {
	return g.execute(ctx, "fund", msg, false, func(a *actionTx) error {
		if err := a.adminOnly(); err != nil {
			return err
		}
		if account == (common.Address{}) {
			return interfaces.ErrZeroAddress
		}
		if amount == nil || amount.Sign() <= 0 {
			return &interfaces.PaymentError{Kind: interfaces.InvalidAmount}
		}
		a.w.Credit(account, amount)
		a.emit(interfaces.Record{Type: interfaces.AccountFunded, Account: account, Amount: new(big.Int).Set(amount)})
		return nil
	})
}

// GrantRole adds account to a global role. Only admins may call it.
func (g *Gateway) GrantRole(ctx context.Context, msg interfaces.Msg, role common.Hash, account common.Address) (*interfaces.Receipt, error) {
	return g.execute(ctx, "grant_role", msg, false, func(a *actionTx) error {
		records, err := access.GrantRole(a.w, msg.From, role, account)
		if err != nil {
			return err
		}
		a.emit(records...)
		return nil
	})
}

// RevokeRole removes account from a global role. Only admins may call it.
func (g *Gateway) RevokeRole(ctx context.Context, msg interfaces.Msg, role common.Hash, account common.Address) (*interfaces.Receipt, error) {
	return g.execute(ctx, "revoke_role", msg, false, func(a *actionTx) error {
		records, err := access.RevokeRole(a.w, msg.From, role, account)
		if err != nil {
			return err
		}
		a.emit(records...)
		return nil
	})
}

// RenounceRole removes the caller from one of its global roles.
func (g *Gateway) RenounceRole(ctx context.Context, msg interfaces.Msg, role common.Hash) (*interfaces.Receipt, error) {
	return g.execute(ctx, "renounce_role", msg, false, func(a *actionTx) error {
		records, err := access.RenounceRole(a.w, msg.From, role)
		if err != nil {
			return err
		}
		a.emit(records...)
		return nil
	})
}

// SetOperator grants or revokes operator on instance. The caller must operate
// instance and may not change its own status.
func (g *Gateway) SetOperator(ctx context.Context, msg interfaces.Msg, instance, operator common.Address, allowed bool) (*interfaces.Receipt, error) {
	return g.execute(ctx, "set_operator", msg, false, func(a *actionTx) error {
		records, err := access.SetOperator(a.w, msg.From, instance, operator, allowed)
		if err != nil {
			return err
		}
		a.emit(records...)
		return nil
	})
}
