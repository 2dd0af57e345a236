package intent

import "github.com/ksred/klear-vaults/internal/types"

// ValidateCreateParams checks creation parameters in a fixed order.
// Out-of-range intent and trigger codes are rejected with the amount and
// trigger-price errors respectively; there are no dedicated codes for them.
func ValidateCreateParams(p CreateParams) error {
	if p.InputMint == "" || p.OutputMint == "" {
		return types.ErrInvalidMint
	}
	if p.Amount == 0 {
		return types.ErrInvalidAmount
	}
	if p.TriggerPrice == 0 {
		return types.ErrInvalidTriggerPrice
	}
	if p.ExpirySeconds <= 0 {
		return types.ErrInvalidExpiryTime
	}
	if _, err := ParseIntentType(p.IntentType); err != nil {
		return err
	}
	if _, err := ParseTriggerType(p.TriggerType); err != nil {
		return err
	}
	if TriggerType(p.TriggerType) == PriceRange && p.TriggerPriceMax <= p.TriggerPrice {
		return types.ErrInvalidPriceRange
	}
	return nil
}

func ParseIntentType(code uint8) (IntentType, error) {
	if code > uint8(Swap) {
		return 0, types.ErrInvalidAmount
	}
	return IntentType(code), nil
}

func ParseTriggerType(code uint8) (TriggerType, error) {
	if code > uint8(PriceRange) {
		return 0, types.ErrInvalidTriggerPrice
	}
	return TriggerType(code), nil
}

// ParseExecutionStyle never fails: unknown codes run as Immediate
func ParseExecutionStyle(code uint8) ExecutionStyle {
	if code > uint8(Twap) {
		return Immediate
	}
	return ExecutionStyle(code)
}

// validateExecution runs the admission checks that precede the trigger
func validateExecution(v *IntentVault, now int64) error {
	if v.IsExpired(now) {
		return types.ErrIntentExpired
	}
	if v.Status == Executed {
		return types.ErrIntentAlreadyExecuted
	}
	if v.Status == Cancelled {
		return types.ErrIntentAlreadyCancelled
	}
	if !v.Status.Open() {
		return types.ErrIntentNotMonitoring
	}
	return nil
}

// validateAmounts runs after a successful trigger evaluation
func validateAmounts(v *IntentVault, p ExecuteParams) error {
	if p.SwapAmount == 0 || p.ReceivedAmount == 0 {
		return types.ErrInvalidAmount
	}
	if !v.custodyMatches() {
		return types.ErrTokenAccountMismatch
	}
	return nil
}
