package types

import (
	"database/sql/driver"
	"fmt"
)

// Amount is a token quantity or price persisted in an integer column. SQLite
// integers are signed, so the value is stored as the int64 with the same bits
// and the full uint64 range survives a round trip.
type Amount uint64

func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(uint64(v))
		return nil
	case nil:
		*a = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into Amount", src)
}

// Add is CheckedAdd on a persisted total
func (a Amount) Add(n uint64) (Amount, error) {
	sum, err := CheckedAdd(uint64(a), n)
	return Amount(sum), err
}
