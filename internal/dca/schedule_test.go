package dca

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextExecution_Examples(t *testing.T) {
	tests := []struct {
		name     string
		min, max uint8
		now      int64
		want     int64
	}{
		{"even timestamp without offset", 3, 7, 1_700_000_000, 1_700_000_000 + 120_960},
		{"odd timestamp subtracts offset", 3, 7, 1_700_000_001, 1_700_000_001 + 120_960 - 30},
		{"even timestamp adds offset", 3, 7, 1_700_000_500, 1_700_000_500 + 120_960 + 15_120},
		{"once a week", 1, 1, 1_700_000_000, 1_700_000_000 + 604_800},
		{"floor applies to busy schedules", 200, 255, 1_700_000_000, 1_700_000_000 + MinInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextExecution(tt.min, tt.max, tt.now))
		})
	}
}

func TestNextExecution_MaxRangeDoesNotWrap(t *testing.T) {
	// 255+255 must average to 255, not wrap to 127
	now := int64(1_700_000_000)
	assert.Equal(t, now+MinInterval, NextExecution(255, 255, now))
	assert.Equal(t, now+604_800/127, NextExecution(127, 127, now))
}

func TestNextExecution_NeverBelowFloor(t *testing.T) {
	nows := []int64{0, 1, 999, 1_000, 1_699_999_999, 1_700_000_000, 1_700_000_998, 4_102_444_800}

	for minExec := 1; minExec <= 255; minExec += 3 {
		for maxExec := minExec; maxExec <= 255; maxExec += 5 {
			for _, now := range nows {
				next := NextExecution(uint8(minExec), uint8(maxExec), now)
				if next-now < MinInterval {
					t.Fatalf("interval %d below floor for min=%d max=%d now=%d", next-now, minExec, maxExec, now)
				}
			}
		}
	}
}
