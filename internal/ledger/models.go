package ledger

import (
	"time"

	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/ksred/klear-vaults/internal/types"
)

// TokenAccount holds a balance of a single mint. The table is keyed by the
// account address; closing an account deletes its row.
type TokenAccount struct {
	Address      string       `gorm:"primaryKey" json:"address"`
	Mint         string       `gorm:"index;not null" json:"mint"`
	Owner        string       `gorm:"index;not null" json:"owner"`
	Balance      types.Amount `json:"balance"`
	ProgramOwned bool         `json:"program_owned"` // owner is a derived vault address
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Authority identifies who signs a ledger operation: either an authenticated
// external party or a vault's signing capability.
type Authority struct {
	caller string
	signer pda.Signer
}

// Caller is an external party whose identity was verified by the auth layer
func Caller(address string) Authority {
	return Authority{caller: address}
}

// Program wraps a vault signing capability
func Program(signer pda.Signer) Authority {
	return Authority{signer: signer}
}

// canSign reports whether the authority may move funds out of acc
func (a Authority) canSign(acc *TokenAccount) bool {
	if acc.ProgramOwned {
		return a.signer.Valid() && a.signer.Address() == acc.Owner
	}
	return a.caller != "" && a.caller == acc.Owner
}
