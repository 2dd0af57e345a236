package intent

import (
	"database/sql/driver"
	"fmt"

	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/ksred/klear-vaults/internal/types"
)

type IntentType uint8

const (
	Buy IntentType = iota
	Sell
	Swap
)

func (t IntentType) String() string {
	switch t {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	case Swap:
		return "Swap"
	}
	return fmt.Sprintf("IntentType(%d)", uint8(t))
}

func (t IntentType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

type TriggerType uint8

const (
	PriceAbove TriggerType = iota
	PriceBelow
	PriceRange
)

func (t TriggerType) String() string {
	switch t {
	case PriceAbove:
		return "PriceAbove"
	case PriceBelow:
		return "PriceBelow"
	case PriceRange:
		return "PriceRange"
	}
	return fmt.Sprintf("TriggerType(%d)", uint8(t))
}

func (t TriggerType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ExecutionStyle is informational: the keeper decides how many chunks to
// send, the vault only counts them against NumChunks.
type ExecutionStyle uint8

const (
	Immediate ExecutionStyle = iota
	Stealth
	Twap
)

func (s ExecutionStyle) String() string {
	switch s {
	case Immediate:
		return "Immediate"
	case Stealth:
		return "Stealth"
	case Twap:
		return "Twap"
	}
	return fmt.Sprintf("ExecutionStyle(%d)", uint8(s))
}

func (s ExecutionStyle) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is the intent state machine:
//
//	Monitoring -> Triggered -> Executing -> Executed
//	Monitoring|Triggered|Executing -> Cancelled
//
// Expired exists for completeness; no operation stores it.
type Status uint8

const (
	Monitoring Status = iota
	Triggered
	Executing
	Executed
	Expired
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Monitoring:
		return "Monitoring"
	case Triggered:
		return "Triggered"
	case Executing:
		return "Executing"
	case Executed:
		return "Executed"
	case Expired:
		return "Expired"
	case Cancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Open reports whether the status still accepts executions
func (s Status) Open() bool {
	return s == Monitoring || s == Triggered || s == Executing
}

// Terminal reports whether the vault may be closed
func (s Status) Terminal() bool {
	return s == Executed || s == Cancelled || s == Expired
}

// Nonce is the caller-chosen vault discriminator. It is stored as the int64
// with the same bits so the full uint64 range fits a SQLite integer column.
type Nonce uint64

func (n Nonce) Value() (driver.Value, error) {
	return int64(n), nil
}

func (n *Nonce) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*n = Nonce(uint64(v))
		return nil
	case nil:
		*n = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into Nonce", src)
}

// IntentVault is the persistent record of one conditional order, keyed by
// its derived address (owner, input mint, nonce).
type IntentVault struct {
	Address    string       `gorm:"primaryKey" json:"address"`
	Authority  string       `gorm:"index;not null" json:"authority"`
	Nonce      Nonce        `json:"nonce"`
	IntentType IntentType   `json:"intent_type"`
	InputMint  string       `gorm:"not null" json:"input_mint"`
	OutputMint string       `gorm:"not null" json:"output_mint"`
	InputVault string       `gorm:"not null" json:"input_vault"`
	Amount     types.Amount `json:"amount"`

	// Prices carry 6 implied decimals: 150_000_000 is 150.00
	TriggerType     TriggerType  `json:"trigger_type"`
	TriggerPrice    types.Amount `json:"trigger_price"`
	TriggerPriceMax types.Amount `json:"trigger_price_max"` // PriceRange only

	ExecutionStyle ExecutionStyle `json:"execution_style"`
	NumChunks      uint8          `json:"num_chunks"`
	ChunksExecuted uint8          `json:"chunks_executed"`

	ExpiresAt   int64 `gorm:"index" json:"expires_at"`
	TriggeredAt int64 `json:"triggered_at"`
	ExecutedAt  int64 `json:"executed_at"`
	CreatedAt   int64 `gorm:"autoCreateTime:false" json:"created_at"`

	Status        Status       `gorm:"index" json:"status"`
	TotalSpent    types.Amount `json:"total_spent"`
	TotalReceived types.Amount `json:"total_received"`

	Reserved []byte `gorm:"size:64" json:"-"`
}

// CreateParams are the owner-supplied settings of a new intent. The enum
// fields are raw codes and are checked by ValidateCreateParams.
type CreateParams struct {
	Nonce           uint64 `json:"nonce"`
	IntentType      uint8  `json:"intent_type"`
	InputMint       string `json:"input_mint"`
	OutputMint      string `json:"output_mint"`
	Amount          uint64 `json:"amount"`
	TriggerType     uint8  `json:"trigger_type"`
	TriggerPrice    uint64 `json:"trigger_price"`
	TriggerPriceMax uint64 `json:"trigger_price_max"`
	ExecutionStyle  uint8  `json:"execution_style"`
	NumChunks       uint8  `json:"num_chunks"`
	ExpirySeconds   int64  `json:"expiry_seconds"`
}

// ExecuteParams carry the keeper's observed price and the result of its swap
type ExecuteParams struct {
	CurrentPrice   uint64 `json:"current_price"`
	SwapAmount     uint64 `json:"swap_amount"`
	ReceivedAmount uint64 `json:"received_amount"`
}

// IsExpired reports whether now is past the expiry. The expiry second itself
// is still valid.
func (v *IntentVault) IsExpired(now int64) bool {
	return now > v.ExpiresAt
}

// Remaining is the committed amount not yet spent
func (v *IntentVault) Remaining() uint64 {
	if v.TotalSpent >= v.Amount {
		return 0
	}
	return uint64(v.Amount - v.TotalSpent)
}

func (v *IntentVault) signer() pda.Signer {
	return pda.NewSigner(pda.IntentVaultPrefix, pda.Str(v.Authority), pda.Str(v.InputMint), pda.U64(uint64(v.Nonce)))
}

func (v *IntentVault) custodyMatches() bool {
	return v.InputVault == pda.Custody(pda.IntentInputPrefix, v.Address)
}
