// Package errors defines the protocol error taxonomy shared by the trade
// engine and its collaborators. Every sentinel carries a stable code and a
// category so transports can classify failures without string matching.
package errors

import stderrors "errors"

// Category groups protocol errors by how a caller should react to them.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryTiming        Category = "timing"
	CategoryArithmetic    Category = "arithmetic"
	CategoryAuthorization Category = "authorization"
	CategoryResource      Category = "resource"
	CategoryExternal      Category = "external"
)

// Error is a protocol error sentinel. Call sites wrap it with %w to attach
// context; comparisons go through errors.Is.
type Error struct {
	Code        string
	Category    Category
	recoverable bool
}

func (e *Error) Error() string { return e.Code }

func newError(category Category, code string) *Error {
	return &Error{Code: code, Category: category, recoverable: category == CategoryTiming}
}

func newRecoverable(category Category, code string) *Error {
	return &Error{Code: code, Category: category, recoverable: true}
}

var (
	ErrInvalidTradeState       = newError(CategoryValidation, "InvalidTradeState")
	ErrInvalidStateTransition  = newError(CategoryValidation, "InvalidStateTransition")
	ErrInvalidAmountRange      = newError(CategoryValidation, "InvalidAmountRange")
	ErrSelfTradeNotAllowed     = newError(CategoryValidation, "SelfTradeNotAllowed")
	ErrInvalidArbitratorAssign = newError(CategoryValidation, "InvalidArbitratorAssignment")
	ErrInvalidFiatCurrency     = newError(CategoryValidation, "InvalidFiatCurrency")
	ErrInvalidToken            = newError(CategoryValidation, "InvalidToken")
	ErrInvalidOffer            = newError(CategoryValidation, "InvalidOffer")
	ErrOfferNotActive          = newError(CategoryValidation, "OfferNotActive")
	ErrTradeNotFound           = newError(CategoryValidation, "TradeNotFound")
	ErrValueTooLong            = newError(CategoryValidation, "ValueTooLong")
	ErrInvalidSettlementWinner = newError(CategoryValidation, "InvalidSettlementWinner")
	ErrUSDValueOutOfRange      = newError(CategoryValidation, "UsdValueOutOfRange")
	ErrInvariantViolation      = newError(CategoryValidation, "InvariantViolation")
	ErrModulePaused            = newError(CategoryValidation, "ModulePaused")
	ErrTradeNotTerminal        = newError(CategoryValidation, "TradeNotTerminal")
	ErrNoArbitratorAvailable   = newError(CategoryValidation, "NoArbitratorAvailable")
	ErrTradeExpired            = newError(CategoryTiming, "TradeExpired")
	ErrTradeNotExpired         = newError(CategoryTiming, "TradeNotExpired")
	ErrPrematureDisputeRequest = newError(CategoryTiming, "PrematureDisputeRequest")
	ErrDisputeWindowNotOpen    = newError(CategoryTiming, "DisputeWindowNotOpen")
	ErrRefundNotAllowed        = newError(CategoryTiming, "RefundNotAllowed")
	ErrRefundTooEarly          = newError(CategoryTiming, "RefundTooEarly")
	ErrClosePeriodNotElapsed   = newError(CategoryTiming, "ClosePeriodNotElapsed")
	ErrArithmeticOverflow      = newError(CategoryArithmetic, "ArithmeticOverflow")
	ErrArithmeticUnderflow     = newError(CategoryArithmetic, "ArithmeticUnderflow")
	ErrDivisionByZero          = newError(CategoryArithmetic, "DivisionByZero")
	ErrExcessiveFees           = newError(CategoryArithmetic, "ExcessiveFees")
	ErrExcessiveBurnFee        = newError(CategoryArithmetic, "ExcessiveBurnFee")
	ErrExcessiveChainFee       = newError(CategoryArithmetic, "ExcessiveChainFee")
	ErrExcessiveWarchestFee    = newError(CategoryArithmetic, "ExcessiveWarchestFee")
	ErrExcessiveConversionFee  = newError(CategoryArithmetic, "ExcessiveConversionFee")
	ErrExcessiveSlippageFee    = newError(CategoryArithmetic, "ExcessiveSlippageFee")
	ErrExcessiveArbitrationFee = newError(CategoryArithmetic, "ExcessiveArbitrationFee")
	ErrUnauthorized            = newError(CategoryAuthorization, "Unauthorized")
	ErrInvalidTokenAccount     = newError(CategoryAuthorization, "InvalidTokenAccount")
	ErrInvalidAccountOwner     = newError(CategoryAuthorization, "InvalidAccountOwner")
	ErrInvalidAccount          = newError(CategoryAuthorization, "InvalidAccount")
	ErrReentrancyDetected      = newError(CategoryAuthorization, "ReentrancyDetected")
	ErrUnauthorizedCpiCall     = newError(CategoryAuthorization, "UnauthorizedCpiCall")
	ErrInsufficientFunds       = newError(CategoryResource, "InsufficientFunds")
	ErrCollectionFull          = newError(CategoryResource, "CollectionFull")
	ErrRateLimitExceeded       = newRecoverable(CategoryResource, "RateLimitExceeded")
	ErrPriceUnavailable        = newRecoverable(CategoryExternal, "PriceUnavailable")
	ErrCollaboratorUnavailable = newRecoverable(CategoryExternal, "CollaboratorUnavailable")
)

// Code extracts the protocol error code from err, or "" when err does not wrap
// a protocol sentinel.
func Code(err error) string {
	var target *Error
	if stderrors.As(err, &target) {
		return target.Code
	}
	return ""
}

// CategoryOf reports the category of the protocol error wrapped by err.
func CategoryOf(err error) (Category, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target.Category, true
	}
	return "", false
}

// IsRecoverable reports whether resubmitting the same action later may succeed
// without operator intervention.
func IsRecoverable(err error) bool {
	var target *Error
	if stderrors.As(err, &target) {
		return target.recoverable
	}
	return false
}
