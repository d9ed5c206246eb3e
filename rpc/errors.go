package rpc

import (
	"errors"

	coreerrors "localmoney/core/errors"
	"localmoney/native/arbitration"
	"localmoney/native/offers"
)

// ErrorData is attached to every protocol failure so clients can branch on
// the stable code instead of the message.
type ErrorData struct {
	Code        string `json:"code"`
	Category    string `json:"category"`
	Recoverable bool   `json:"recoverable"`
}

// protocolError maps an engine error onto a JSON-RPC error. Errors outside
// the protocol taxonomy surface as server errors.
func protocolError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if errors.Is(err, offers.ErrOfferNotFound) || errors.Is(err, arbitration.ErrArbitratorNotFound) {
		return &RPCError{Code: codeNotFound, Message: err.Error()}
	}
	category, ok := coreerrors.CategoryOf(err)
	if !ok {
		return &RPCError{Code: codeServerError, Message: err.Error()}
	}
	data := ErrorData{
		Code:        coreerrors.Code(err),
		Category:    string(category),
		Recoverable: coreerrors.IsRecoverable(err),
	}
	code := codeInvalidParams
	switch {
	case errors.Is(err, coreerrors.ErrTradeNotFound):
		code = codeNotFound
	case errors.Is(err, coreerrors.ErrRateLimitExceeded):
		code = codeRateLimited
	case errors.Is(err, coreerrors.ErrInvalidStateTransition), errors.Is(err, coreerrors.ErrTradeNotTerminal):
		code = codeConflict
	case category == coreerrors.CategoryTiming:
		code = codeTimingRejected
	case category == coreerrors.CategoryArithmetic:
		code = codeArithmetic
	case category == coreerrors.CategoryAuthorization:
		code = codeForbidden
	case category == coreerrors.CategoryExternal:
		code = codeUnavailable
	case category == coreerrors.CategoryResource:
		code = codeConflict
	}
	return &RPCError{Code: code, Message: err.Error(), Data: data}
}
