package dca

import (
	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/ksred/klear-vaults/internal/types"
)

// DcaVault is the persistent record of one dollar-cost-averaging order. It is
// keyed by its derived address: one vault per (owner, input mint, output mint).
type DcaVault struct {
	Address     string `gorm:"primaryKey" json:"address"`
	Authority   string `gorm:"index;not null" json:"authority"`
	InputMint   string `gorm:"not null" json:"input_mint"`
	OutputMint  string `gorm:"not null" json:"output_mint"`
	InputVault  string `gorm:"not null" json:"input_vault"`
	OutputVault string `gorm:"not null" json:"output_vault"`

	TotalAmount    types.Amount `json:"total_amount"`
	AmountPerTrade types.Amount `json:"amount_per_trade"` // advisory, not enforced against swap amounts
	VarianceBps    uint16       `json:"variance_bps"`
	MinExecutions  uint8        `json:"min_executions"` // per week
	MaxExecutions  uint8        `json:"max_executions"` // per week

	// Validated at creation but not part of the admission predicate
	WindowStartHour uint8 `json:"window_start_hour"`
	WindowEndHour   uint8 `json:"window_end_hour"`

	TotalSpent     types.Amount `json:"total_spent"`
	TotalReceived  types.Amount `json:"total_received"`
	ExecutionCount uint32       `json:"execution_count"`
	LastExecution  int64        `json:"last_execution"`
	NextExecution  int64        `gorm:"index" json:"next_execution"`

	IsActive  bool  `gorm:"index" json:"is_active"`
	CreatedAt int64 `gorm:"autoCreateTime:false" json:"created_at"`

	Reserved []byte `gorm:"size:64" json:"-"`
}

// CreateParams are the owner-supplied settings of a new DCA vault
type CreateParams struct {
	InputMint       string `json:"input_mint"`
	OutputMint      string `json:"output_mint"`
	TotalAmount     uint64 `json:"total_amount"`
	AmountPerTrade  uint64 `json:"amount_per_trade"`
	VarianceBps     uint16 `json:"variance_bps"`
	MinExecutions   uint8  `json:"min_executions"`
	MaxExecutions   uint8  `json:"max_executions"`
	WindowStartHour uint8  `json:"window_start_hour"`
	WindowEndHour   uint8  `json:"window_end_hour"`
}

// ExecuteParams carry the result of the keeper's off-ledger swap
type ExecuteParams struct {
	SwapAmount     uint64 `json:"swap_amount"`
	ReceivedAmount uint64 `json:"received_amount"`
}

// IsCompleted reports whether the whole target amount has been spent
func (v *DcaVault) IsCompleted() bool {
	return v.TotalSpent >= v.TotalAmount
}

// CanExecute is the admission predicate for an execution at now
func (v *DcaVault) CanExecute(now int64) bool {
	return v.IsActive && !v.IsCompleted() && now >= v.NextExecution
}

// Remaining is the part of the target amount not yet spent
func (v *DcaVault) Remaining() uint64 {
	if v.TotalSpent >= v.TotalAmount {
		return 0
	}
	return uint64(v.TotalAmount - v.TotalSpent)
}

// signer is the vault's capability over its custody accounts
func (v *DcaVault) signer() pda.Signer {
	return pda.NewSigner(pda.DcaVaultPrefix, pda.Str(v.Authority), pda.Str(v.InputMint), pda.Str(v.OutputMint))
}

// custodyMatches checks that the stored custody addresses are the ones derived from the vault
func (v *DcaVault) custodyMatches() bool {
	return v.InputVault == pda.Custody(pda.DcaInputPrefix, v.Address) &&
		v.OutputVault == pda.Custody(pda.DcaOutputPrefix, v.Address)
}
