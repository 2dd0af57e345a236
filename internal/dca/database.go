package dca

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

func (d *Database) CreateVault(vault *DcaVault) error {
	return d.db.Create(vault).Error
}

func (d *Database) GetVault(address string) (*DcaVault, error) {
	var vault DcaVault
	if err := d.db.Where("address = ?", address).First(&vault).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch DCA vault %s: %w", address, err)
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

func (d *Database) SaveVault(vault *DcaVault) error {
	return d.db.Save(vault).Error
}

// DeleteVault releases the record's storage
func (d *Database) DeleteVault(address string) error {
	result := d.db.Delete(&DcaVault{}, "address = ?", address)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("DCA vault %s: %w", address, gorm.ErrRecordNotFound)
	}
	return nil
}

func (d *Database) GetVaultsByOwner(owner string) ([]DcaVault, error) {
	var vaults []DcaVault
	if err := d.db.Where("authority = ?", owner).Order("created_at DESC").Find(&vaults).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch DCA vaults: %w", err)
	}
	return vaults, nil
}

// GetDueVaults returns the active vaults whose next execution time has passed.
// Totals are compared in Go because their columns hold unsigned bit patterns.
func (d *Database) GetDueVaults(now int64) ([]DcaVault, error) {
	var candidates []DcaVault
	if err := d.db.
		Where("is_active = ? AND next_execution <= ?", true, now).
		Order("next_execution ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch due DCA vaults: %w", err)
	}
	vaults := candidates[:0]
	for _, v := range candidates {
		if v.CanExecute(now) {
			vaults = append(vaults, v)
		}
	}
	return vaults, nil
}
