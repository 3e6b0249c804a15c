package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/interfaces"
)

// CallByFee forwards data to instance for one of its operators, paid for by
// attaching at least the call fee. Payment above the fee is forwarded as the call value.
func (g *Gateway) CallByFee(ctx context.Context, msg interfaces.Msg, instance common.Address, data []byte) (*interfaces.Receipt, error) {
	return g.execute(ctx, "call_by_fee", msg, true, func(a *actionTx) error {
		if err := a.paidOnly(a.w.CallFee); err != nil {
			return err
		}
		value := new(big.Int).Sub(msg.Amount(), amountOrZero(a.w.CallFee))
		return g.call(a, instance, data, value)
	})
}

// CallBySignature forwards data to instance for one of its operators,
// authorized by a signer's signature over (caller, instance, data). The whole
// attached payment is forwarded as the call value.
func (g *Gateway) CallBySignature(ctx context.Context, msg interfaces.Msg, instance common.Address, data, sig []byte) (*interfaces.Receipt, error) {
	return g.execute(ctx, "call_by_signature", msg, true, func(a *actionTx) error {
		if err := g.signedOnly(a, cryptoutils.CallPayload(msg.From, instance, data), sig); err != nil {
			return err
		}
		return g.call(a, instance, data, msg.Amount())
	})
}

func (g *Gateway) call(a *actionTx, instance common.Address, data []byte, value *big.Int) error {
	if err := a.operatorOnly(instance); err != nil {
		return err
	}
	ret, err := g.forward(a, interfaces.InvokeCall, instance, data, value)
	if err != nil {
		return err
	}
	a.ret = ret
	return nil
}

// forward passes data to a whitelisted instance with the action's remaining
// budget. The target's return data or failure payload is passed through unchanged.
func (g *Gateway) forward(a *actionTx, kind interfaces.InvokeKind, instance common.Address, data []byte, value *big.Int) ([]byte, error) {
	if !a.w.Whitelisted[instance] {
		return nil, &interfaces.DispatchError{Kind: interfaces.NotWhitelisted, Instance: instance}
	}

	res, err := g.host.Invoke(a.w, interfaces.InvokeRequest{
		Kind:   kind,
		Target: instance,
		Caller: g.address,
		Data:   data,
		Value:  value,
		Budget: a.remaining,
	})
	if err != nil {
		return nil, err
	}
	a.consume(res.Used)
	return res.Return, nil
}
