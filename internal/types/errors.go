package types

// VaultError is a failure of a vault or ledger operation. Every VaultError aborts
// the whole call: no balance moves, record mutations or events survive it.
type VaultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *VaultError) Error() string {
	return e.Code + ": " + e.Message
}

func newError(code, message string) *VaultError {
	return &VaultError{Code: code, Message: message}
}

// General errors
var (
	ErrUnauthorized       = newError("Unauthorized", "unauthorized access")
	ErrInvalidAmount      = newError("InvalidAmount", "invalid amount provided")
	ErrInsufficientFunds  = newError("InsufficientFunds", "insufficient funds")
	ErrMathOverflow       = newError("MathOverflow", "math overflow occurred")
	ErrVaultAlreadyExists = newError("VaultAlreadyExists", "vault already exists for these seeds")
)

// DCA errors
var (
	ErrDcaNotActive           = newError("DcaNotActive", "DCA vault is not active")
	ErrDcaCompleted           = newError("DcaCompleted", "DCA has already completed")
	ErrDcaExecutionNotAllowed = newError("DcaExecutionNotAllowed", "DCA execution not yet allowed")
	ErrInvalidTimeWindow      = newError("InvalidTimeWindow", "invalid execution time window")
	ErrInvalidVariance        = newError("InvalidVariance", "invalid variance basis points (max 5000 = 50%)")
	ErrInvalidExecutionRange  = newError("InvalidExecutionRange", "invalid execution count range")
	ErrDcaHasRemainingFunds   = newError("DcaHasRemainingFunds", "DCA vault still has remaining funds")
)

// Intent errors
var (
	ErrIntentExpired           = newError("IntentExpired", "intent has expired")
	ErrIntentNotMonitoring     = newError("IntentNotMonitoring", "intent is not in an executable status")
	ErrTriggerConditionNotMet  = newError("TriggerConditionNotMet", "intent trigger condition not met")
	ErrIntentAlreadyExecuted   = newError("IntentAlreadyExecuted", "intent already executed")
	ErrIntentAlreadyCancelled  = newError("IntentAlreadyCancelled", "intent already cancelled")
	ErrInvalidTriggerPrice     = newError("InvalidTriggerPrice", "invalid trigger price")
	ErrInvalidPriceRange       = newError("InvalidPriceRange", "invalid price range (min must be less than max)")
	ErrInvalidExpiryTime       = newError("InvalidExpiryTime", "invalid expiry time (must be in the future)")
	ErrIntentHasRemainingFunds = newError("IntentHasRemainingFunds", "intent vault still has remaining funds")
)

// Token account errors
var (
	ErrInvalidMint          = newError("InvalidMint", "invalid token mint")
	ErrTokenAccountMismatch = newError("TokenAccountMismatch", "token account mismatch")
)

// Swap routing errors, returned by the exchange rather than the vault services
var (
	ErrSwapFailed       = newError("SwapFailed", "swap failed")
	ErrSlippageExceeded = newError("SlippageExceeded", "slippage tolerance exceeded")
	ErrInvalidSwapRoute = newError("InvalidSwapRoute", "invalid swap route")
	ErrInvalidKeeper    = newError("InvalidKeeper", "invalid keeper authority")
)
