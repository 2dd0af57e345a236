package migrations

import (
	"github.com/ksred/klear-vaults/internal/dca"
	"github.com/ksred/klear-vaults/internal/intent"
	"gorm.io/gorm"
)

// AddVaults creates the DCA and intent vault tables and the keeper query indexes
func AddVaults(db *gorm.DB) error {
	if err := db.AutoMigrate(&dca.DcaVault{}, &intent.IntentVault{}); err != nil {
		return err
	}

	indexes := []string{
		// Composite index for the due-vault scan
		`CREATE INDEX IF NOT EXISTS idx_dca_vaults_due
		 ON dca_vaults(is_active, next_execution)`,

		// Composite index for the open-intent scan
		`CREATE INDEX IF NOT EXISTS idx_intent_vaults_open
		 ON intent_vaults(status, expires_at)`,

		// Owner listings, newest first
		`CREATE INDEX IF NOT EXISTS idx_dca_vaults_authority_created
		 ON dca_vaults(authority, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_intent_vaults_authority_created
		 ON intent_vaults(authority, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
