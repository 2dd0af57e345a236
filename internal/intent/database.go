package intent

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

func (d *Database) CreateVault(vault *IntentVault) error {
	return d.db.Create(vault).Error
}

func (d *Database) GetVault(address string) (*IntentVault, error) {
	var vault IntentVault
	if err := d.db.Where("address = ?", address).First(&vault).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch intent vault %s: %w", address, err)
	}
	return &vault, nil
}

func (d *Database) Exists(address string) (bool, error) {
	_, err := d.GetVault(address)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

func (d *Database) SaveVault(vault *IntentVault) error {
	return d.db.Save(vault).Error
}

func (d *Database) DeleteVault(address string) error {
	result := d.db.Delete(&IntentVault{}, "address = ?", address)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("intent vault %s: %w", address, gorm.ErrRecordNotFound)
	}
	return nil
}

func (d *Database) GetVaultsByOwner(owner string) ([]IntentVault, error) {
	var vaults []IntentVault
	if err := d.db.Where("authority = ?", owner).Order("created_at DESC").Find(&vaults).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch intent vaults: %w", err)
	}
	return vaults, nil
}

// GetOpenVaults returns the vaults that still accept executions at now
func (d *Database) GetOpenVaults(now int64) ([]IntentVault, error) {
	var vaults []IntentVault
	if err := d.db.
		Where("status IN ? AND expires_at >= ?", []int{int(Monitoring), int(Triggered), int(Executing)}, now).
		Order("expires_at ASC").
		Find(&vaults).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch open intent vaults: %w", err)
	}
	return vaults, nil
}
