package gateway

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/interfaces"
)

// paidOnly requires the attached payment to cover fee.
func (a *actionTx) paidOnly(fee *big.Int) error {
	fee = amountOrZero(fee)
	if a.msg.Amount().Cmp(fee) < 0 {
		return &interfaces.PaymentError{
			Kind:     interfaces.Insufficient,
			Required: fee.String(),
			Attached: a.msg.Amount().String(),
		}
	}
	return nil
}

// operatorOnly requires the caller to operate instance.
func (a *actionTx) operatorOnly(instance common.Address) error {
	return access.RequireOperator(a.w, instance, a.msg.From)
}

// adminOnly requires the caller to hold the admin role.
func (a *actionTx) adminOnly() error {
	return access.RequireRole(a.w, access.AdminRole, a.msg.From)
}

// signedOnly requires sig to be a signature over payload by a current signer.
func (g *Gateway) signedOnly(a *actionTx, payload, sig []byte) error {
	signer, err := g.verifier.Recover(payload, sig)
	if err != nil {
		return err
	}
	if !a.w.HasRole(access.SignerRole, signer) {
		return &interfaces.AuthorizationError{Kind: interfaces.UnrecognizedSigner, Account: signer}
	}
	return nil
}
