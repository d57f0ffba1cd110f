// Package swaperr carries the REST-facing business errors a swap handler
// returns to a caller, as opposed to pkg/chainadapter.ChainError which
// classifies retryability of adapter-internal RPC failures.
package swaperr

import "fmt"

// Error is a structured {httpStatus, code, msg, data} result, the
// result-type substitute for exception-for-control-flow validation
// short-circuits. The REST shim (out of scope here) maps these to
// HTTP responses; everything below this package only ever returns them.
type Error struct {
	HTTPStatus int
	Code       int
	Msg        string
	Data       interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Msg)
}

func New(httpStatus, code int, msg string, data interface{}) *Error {
	return &Error{HTTPStatus: httpStatus, Code: code, Msg: msg, Data: data}
}

// Business error codes (20xxx), per §6/§7.
const (
	CodeVaultNotInitialized  = 20201
	CodeOutOfBounds          = 20002
	CodeInvalidNonce         = 20003
	CodeInvalidConfirmations = 20004
	CodeInvalidOutputScript  = 20005
	CodeAuthorizationExpired = 20006
	CodeSwapDataVerification = 20007
	CodeDoubleSpent          = 20008
	CodeHTLCExpiresTooSoon   = 20002
)

// Invoice-lookup states (10xxx).
const (
	CodeInvoiceNotFound = 10001
	CodeInvoiceExpired  = 10002
	CodeInvoicePending  = 10003
)

// Payout-engine errors (90xxx).
const (
	CodeNonceTimestampDelta = 90001
	CodeCoinSelectFailed    = 90002
	CodeFeeChangeExceeded   = 90003
)

// Bounds describes a {min,max} re-expression in input-token units, returned
// alongside CodeOutOfBounds.
type Bounds struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

func OutOfBounds(min, max string) *Error {
	return New(400, CodeOutOfBounds, "amount outside allowed bounds", &Bounds{Min: min, Max: max})
}

func VaultNotInitialized() *Error {
	return New(412, CodeVaultNotInitialized, "intermediary has no reputation record for this token", nil)
}
