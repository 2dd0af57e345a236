package dca

import "github.com/ksred/klear-vaults/internal/types"

const (
	MaxVarianceBps = 5000
	HoursPerDay    = 24
)

// ValidateCreateParams checks creation parameters. Checks run in a fixed order
// so that a call with several problems always reports the same one.
func ValidateCreateParams(p CreateParams) error {
	if p.InputMint == "" || p.OutputMint == "" {
		return types.ErrInvalidMint
	}
	if p.TotalAmount == 0 || p.AmountPerTrade == 0 {
		return types.ErrInvalidAmount
	}
	if p.VarianceBps > MaxVarianceBps {
		return types.ErrInvalidVariance
	}
	if p.MinExecutions == 0 || p.MaxExecutions < p.MinExecutions {
		return types.ErrInvalidExecutionRange
	}
	if p.WindowStartHour >= HoursPerDay || p.WindowEndHour >= HoursPerDay {
		return types.ErrInvalidTimeWindow
	}
	return nil
}

// validateExecution checks an execution request against the vault at now
func validateExecution(v *DcaVault, p ExecuteParams, now int64) error {
	if !v.IsActive {
		return types.ErrDcaNotActive
	}
	if v.IsCompleted() {
		return types.ErrDcaCompleted
	}
	if !v.CanExecute(now) {
		return types.ErrDcaExecutionNotAllowed
	}
	if p.SwapAmount == 0 || p.SwapAmount > v.Remaining() {
		return types.ErrInvalidAmount
	}
	if p.ReceivedAmount == 0 {
		return types.ErrInvalidAmount
	}
	if !v.custodyMatches() {
		return types.ErrTokenAccountMismatch
	}
	return nil
}
