package migrations

import (
	"github.com/ksred/klear-vaults/internal/events"
	"github.com/ksred/klear-vaults/internal/ledger"
	"gorm.io/gorm"
)

// AddLedger creates the token account and event journal tables
func AddLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.TokenAccount{}, &events.Record{}); err != nil {
		return err
	}

	indexes := []string{
		// Associated account lookups by owner and mint
		`CREATE INDEX IF NOT EXISTS idx_token_accounts_owner_mint
		 ON token_accounts(owner, mint)`,

		// Event history of a vault in emission order
		`CREATE INDEX IF NOT EXISTS idx_vault_events_vault_sequence
		 ON vault_events(vault, sequence)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
