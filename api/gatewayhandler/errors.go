package gatewayhandler

import (
	"errors"
	"net/http"

	"github.com/ruteri/template-gateway/api"
	"github.com/ruteri/template-gateway/interfaces"
)

// errorStatus maps gateway errors to HTTP statuses. Anything unrecognized is a
// server error.
func errorStatus(err error) (int, api.ErrorResponse) {
	resp := api.ErrorResponse{Error: err.Error()}

	var (
		authErr     *interfaces.AuthorizationError
		payErr      *interfaces.PaymentError
		regErr      *interfaces.RegistryError
		stateErr    *interfaces.StateError
		dispatchErr *interfaces.DispatchError
		revert      *interfaces.RevertError
	)
	switch {
	case errors.As(err, &revert):
		resp.Kind = "revert"
		resp.RevertData = revert.Data
		if reason, ok := revert.Reason(); ok {
			resp.Reason = reason
		}
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &authErr):
		resp.Kind = "authorization"
		if authErr.Kind == interfaces.InvalidSignature {
			return http.StatusUnauthorized, resp
		}
		return http.StatusForbidden, resp
	case errors.As(err, &payErr):
		resp.Kind = "payment"
		if payErr.Kind == interfaces.InvalidAmount {
			return http.StatusBadRequest, resp
		}
		return http.StatusPaymentRequired, resp
	case errors.As(err, &regErr):
		resp.Kind = "registry"
		switch regErr.Kind {
		case interfaces.DuplicateVersion:
			return http.StatusConflict, resp
		case interfaces.MissingImplementation:
			return http.StatusNotFound, resp
		default:
			return http.StatusBadRequest, resp
		}
	case errors.As(err, &stateErr):
		resp.Kind = "state"
		return http.StatusConflict, resp
	case errors.As(err, &dispatchErr):
		resp.Kind = "dispatch"
		return http.StatusForbidden, resp
	case errors.Is(err, errMissingCaller), errors.Is(err, errStaleRequest), errors.Is(err, errReplayedRequest):
		resp.Kind = "authorization"
		return http.StatusUnauthorized, resp
	case errors.Is(err, errInvalidTimestamp), errors.Is(err, errInvalidValue), errors.Is(err, errBadRequest):
		resp.Kind = "request"
		return http.StatusBadRequest, resp
	case errors.Is(err, interfaces.ErrContentNotFound):
		resp.Kind = "storage"
		return http.StatusNotFound, resp
	default:
		return http.StatusInternalServerError, resp
	}
}
