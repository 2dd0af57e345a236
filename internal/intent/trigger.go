package intent

// CheckTrigger evaluates the trigger condition at currentPrice. Bounds of a
// PriceRange are inclusive, PriceAbove and PriceBelow are strict.
func (v *IntentVault) CheckTrigger(currentPrice uint64) bool {
	return TriggerMet(v.TriggerType, uint64(v.TriggerPrice), uint64(v.TriggerPriceMax), currentPrice)
}

// TriggerMet is the trigger predicate on raw settings
func TriggerMet(t TriggerType, price, priceMax, currentPrice uint64) bool {
	switch t {
	case PriceAbove:
		return currentPrice > price
	case PriceBelow:
		return currentPrice < price
	case PriceRange:
		return currentPrice >= price && currentPrice <= priceMax
	}
	return false
}
