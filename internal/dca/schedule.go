package dca

const (
	SecondsPerWeek = 604800
	// MinInterval is the hard floor between two executions of a vault
	MinInterval = 3600
	// InitialDelay is the wait between creation and the first execution
	InitialDelay = 3600
)

// NextExecution returns when the next execution is permitted after one at now.
//
// The weekly budget of executions is the floor average of minExec and maxExec.
// The interval is jittered by up to a quarter of the base interval using the
// timestamp itself: the parity picks the sign and now mod 1000 the size.
// This is predictable by anyone who knows the execution time.
func NextExecution(minExec, maxExec uint8, now int64) int64 {
	avg := (int64(minExec) + int64(maxExec)) / 2
	base := int64(SecondsPerWeek) / max(avg, 1)
	offset := (now % 1000) * base / 4000

	interval := base - offset
	if now%2 == 0 {
		interval = base + offset
	}
	return now + max(interval, MinInterval)
}
