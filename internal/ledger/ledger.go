package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/ksred/klear-vaults/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrAccountExists    = fmt.Errorf("token account already exists: %w", gorm.ErrDuplicatedKey)
	ErrNonZeroBalance   = errors.New("token account balance is not zero")
	ErrAccountNotExists = fmt.Errorf("token account not found: %w", gorm.ErrRecordNotFound)
)

// Ledger moves fungible balances between token accounts. Every method runs on
// the handle it was built with, so passing a transaction through WithTx makes
// the ledger calls part of the caller's atomic unit.
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger bound to tx
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Account loads a token account by address
func (l *Ledger) Account(address string) (*TokenAccount, error) {
	var acc TokenAccount
	if err := l.db.Where("address = ?", address).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", address, ErrAccountNotExists)
		}
		return nil, fmt.Errorf("failed to fetch token account: %w", err)
	}
	return &acc, nil
}

// Balance returns the balance of address
func (l *Ledger) Balance(address string) (uint64, error) {
	acc, err := l.Account(address)
	if err != nil {
		return 0, err
	}
	return uint64(acc.Balance), nil
}

// AccountsByOwner lists every token account held by owner
func (l *Ledger) AccountsByOwner(owner string) ([]TokenAccount, error) {
	var accounts []TokenAccount
	if err := l.db.Where("owner = ?", owner).Order("mint").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch token accounts: %w", err)
	}
	return accounts, nil
}

// OpenAccount creates an empty token account. Program-owned accounts can only be
// debited by the matching vault signer.
func (l *Ledger) OpenAccount(address, mint, owner string, programOwned bool) (*TokenAccount, error) {
	if mint == "" {
		return nil, types.ErrInvalidMint
	}
	var count int64
	if err := l.db.Model(&TokenAccount{}).Where("address = ?", address).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check token account: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountExists)
	}

	acc := &TokenAccount{
		Address:      address,
		Mint:         mint,
		Owner:        owner,
		ProgramOwned: programOwned,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := l.db.Create(acc).Error; err != nil {
		return nil, fmt.Errorf("failed to create token account: %w", err)
	}

	log.Debug().
		Str("account", address).
		Str("mint", mint).
		Str("owner", owner).
		Bool("program_owned", programOwned).
		Msg("opened token account")

	return acc, nil
}

// OpenAssociated returns owner's associated account for mint, creating it if needed
func (l *Ledger) OpenAssociated(owner, mint string) (*TokenAccount, error) {
	address := pda.Associated(owner, mint)
	acc, err := l.Account(address)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return l.OpenAccount(address, mint, owner, false)
}

// Transfer moves amount from one account to another. The authority must be
// allowed to sign for from, both accounts must hold the same mint and from must
// cover the amount. A zero amount is a no-op.
func (l *Ledger) Transfer(from, to string, amount uint64, authority Authority) error {
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return types.ErrInvalidMint
	}
	if !authority.canSign(src) {
		return types.ErrUnauthorized
	}
	if amount == 0 || from == to {
		return nil
	}
	if uint64(src.Balance) < amount {
		return types.ErrInsufficientFunds
	}
	credited, err := dst.Balance.Add(amount)
	if err != nil {
		return err
	}

	if err := l.setBalance(src.Address, src.Balance-types.Amount(amount)); err != nil {
		return err
	}
	if err := l.setBalance(dst.Address, credited); err != nil {
		return err
	}

	log.Debug().
		Str("from", from).
		Str("to", to).
		Str("mint", src.Mint).
		Uint64("amount", amount).
		Msg("transferred tokens")

	return nil
}

// MintTo credits amount to an account out of thin air. Used by the simulated
// exchange and by faucets; vault code never mints.
func (l *Ledger) MintTo(address string, amount uint64) error {
	acc, err := l.Account(address)
	if err != nil {
		return err
	}
	credited, err := acc.Balance.Add(amount)
	if err != nil {
		return err
	}
	return l.setBalance(address, credited)
}

// CloseAccount deletes an empty account. The authority must be allowed to sign
// for it.
func (l *Ledger) CloseAccount(address string, authority Authority) error {
	acc, err := l.Account(address)
	if err != nil {
		return err
	}
	if !authority.canSign(acc) {
		return types.ErrUnauthorized
	}
	if acc.Balance != 0 {
		return fmt.Errorf("%s: %w", address, ErrNonZeroBalance)
	}
	if err := l.db.Delete(&TokenAccount{}, "address = ?", address).Error; err != nil {
		return fmt.Errorf("failed to close token account: %w", err)
	}

	log.Debug().Str("account", address).Msg("closed token account")
	return nil
}

func (l *Ledger) setBalance(address string, balance types.Amount) error {
	result := l.db.Model(&TokenAccount{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", address, ErrAccountNotExists)
	}
	return nil
}
