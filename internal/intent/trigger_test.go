package intent

import (
	"testing"

	"github.com/ksred/klear-vaults/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestTriggerMet(t *testing.T) {
	tests := []struct {
		name     string
		trigger  TriggerType
		price    uint64
		priceMax uint64
		current  uint64
		want     bool
	}{
		{"above when higher", PriceAbove, 150_000_000, 0, 151_000_000, true},
		{"above is strict", PriceAbove, 150_000_000, 0, 150_000_000, false},
		{"above when lower", PriceAbove, 150_000_000, 0, 149_000_000, false},
		{"below when lower", PriceBelow, 150_000_000, 0, 149_999_999, true},
		{"below is strict", PriceBelow, 150_000_000, 0, 150_000_000, false},
		{"range lower bound", PriceRange, 100, 200, 100, true},
		{"range upper bound", PriceRange, 100, 200, 200, true},
		{"range inside", PriceRange, 100, 200, 150, true},
		{"range below", PriceRange, 100, 200, 99, false},
		{"range above", PriceRange, 100, 200, 201, false},
		{"unknown type", TriggerType(9), 100, 200, 150, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TriggerMet(tt.trigger, tt.price, tt.priceMax, tt.current))

			v := &IntentVault{TriggerType: tt.trigger, TriggerPrice: types.Amount(tt.price), TriggerPriceMax: types.Amount(tt.priceMax)}
			assert.Equal(t, tt.want, v.CheckTrigger(tt.current))
		})
	}
}

func TestIsExpired(t *testing.T) {
	v := &IntentVault{ExpiresAt: 1000}
	assert.False(t, v.IsExpired(999))
	assert.False(t, v.IsExpired(1000))
	assert.True(t, v.IsExpired(1001))
}

func TestStatusClassification(t *testing.T) {
	for _, s := range []Status{Monitoring, Triggered, Executing} {
		assert.True(t, s.Open(), s.String())
		assert.False(t, s.Terminal(), s.String())
	}
	for _, s := range []Status{Executed, Expired, Cancelled} {
		assert.False(t, s.Open(), s.String())
		assert.True(t, s.Terminal(), s.String())
	}
	assert.Equal(t, "Status(42)", Status(42).String())
}
