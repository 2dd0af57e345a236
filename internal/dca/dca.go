package dca

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-vaults/internal/clock"
	"github.com/ksred/klear-vaults/internal/events"
	"github.com/ksred/klear-vaults/internal/ledger"
	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/ksred/klear-vaults/internal/types"
	"github.com/ksred/klear-vaults/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service runs the DCA vault lifecycle: create, execute, withdraw and close.
// Every operation is a single database transaction; a failed check leaves no
// trace in balances, records or the event journal.
type Service struct {
	db      *gorm.DB
	store   *Database
	ledger  *ledger.Ledger
	journal *events.Journal
	clock   clock.Clock
}

// NewService creates a new DCA service on the given database connection
func NewService(gormDB *gorm.DB, l *ledger.Ledger, j *events.Journal, c clock.Clock) *Service {
	return &Service{
		db:      gormDB,
		store:   NewDatabase(gormDB),
		ledger:  l,
		journal: j,
		clock:   c,
	}
}

// CreateDca opens a vault for owner, its two custody accounts, and deposits
// the full target amount from the owner's input account.
func (s *Service) CreateDca(owner string, params CreateParams) (*DcaVault, error) {
	logger := log.With().
		Str("owner", owner).
		Str("input_mint", params.InputMint).
		Str("output_mint", params.OutputMint).
		Str("service", "dca").
		Logger()

	logger.Info().Uint64("total_amount", params.TotalAmount).Msg("creating DCA vault")

	if owner == "" {
		return nil, types.ErrUnauthorized
	}
	if err := ValidateCreateParams(params); err != nil {
		logger.Error().Err(err).Msg("DCA parameters rejected")
		return nil, err
	}

	now := s.clock.Now()
	address := pda.DcaVault(owner, params.InputMint, params.OutputMint)
	vault := &DcaVault{
		Address:         address,
		Authority:       owner,
		InputMint:       params.InputMint,
		OutputMint:      params.OutputMint,
		InputVault:      pda.Custody(pda.DcaInputPrefix, address),
		OutputVault:     pda.Custody(pda.DcaOutputPrefix, address),
		TotalAmount:     types.Amount(params.TotalAmount),
		AmountPerTrade:  types.Amount(params.AmountPerTrade),
		VarianceBps:     params.VarianceBps,
		MinExecutions:   params.MinExecutions,
		MaxExecutions:   params.MaxExecutions,
		WindowStartHour: params.WindowStartHour,
		WindowEndHour:   params.WindowEndHour,
		NextExecution:   now + InitialDelay,
		IsActive:        true,
		CreatedAt:       now,
	}

	emitted := []events.Event{events.DcaCreated{
		Header:      events.Header{Vault: address, Authority: owner},
		InputMint:   vault.InputMint,
		OutputMint:  vault.OutputMint,
		TotalAmount: params.TotalAmount,
		CreatedAt:   now,
	}}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		led := s.ledger.WithTx(tx)

		exists, err := store.Exists(address)
		if err != nil {
			return err
		}
		if exists {
			return types.ErrVaultAlreadyExists
		}

		if _, err := led.OpenAccount(vault.InputVault, vault.InputMint, address, true); err != nil {
			return err
		}
		if _, err := led.OpenAccount(vault.OutputVault, vault.OutputMint, address, true); err != nil {
			return err
		}
		source, err := fundingAccount(led, owner, vault.InputMint)
		if err != nil {
			return err
		}
		if err := led.Transfer(source.Address, vault.InputVault, params.TotalAmount, ledger.Caller(owner)); err != nil {
			return err
		}
		if err := store.CreateVault(vault); err != nil {
			return fmt.Errorf("failed to create DCA vault: %w", err)
		}
		return s.journal.WithTx(tx).Append(emitted...)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create DCA vault")
		return nil, err
	}
	s.journal.Publish(emitted...)

	logger.Info().
		Str("vault", address).
		Int64("next_execution", vault.NextExecution).
		Msg("DCA vault created")

	return vault, nil
}

// ExecuteDca records one keeper execution: swapAmount of input leaves custody
// for the keeper and receivedAmount of output arrives from the keeper. The
// keeper is trusted for the swap price; only the accounting is checked here.
func (s *Service) ExecuteDca(keeper, address string, params ExecuteParams) (*types.DcaExecutionResponse, error) {
	logger := log.With().
		Str("vault", address).
		Str("keeper", keeper).
		Str("service", "dca").
		Logger()

	logger.Info().
		Uint64("swap_amount", params.SwapAmount).
		Uint64("received_amount", params.ReceivedAmount).
		Msg("executing DCA")

	if keeper == "" {
		return nil, types.ErrUnauthorized
	}

	now := s.clock.Now()
	var (
		vault   *DcaVault
		emitted []events.Event
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		led := s.ledger.WithTx(tx)

		var err error
		vault, err = store.GetVault(address)
		if err != nil {
			return err
		}
		if err := validateExecution(vault, params, now); err != nil {
			return err
		}

		custodyBalance, err := led.Balance(vault.InputVault)
		if err != nil {
			return err
		}
		if custodyBalance < params.SwapAmount {
			return types.ErrInsufficientFunds
		}
		keeperInput, err := led.OpenAssociated(keeper, vault.InputMint)
		if err != nil {
			return err
		}
		keeperOutput, err := fundingAccount(led, keeper, vault.OutputMint)
		if err != nil {
			return err
		}
		if uint64(keeperOutput.Balance) < params.ReceivedAmount {
			return types.ErrInsufficientFunds
		}

		if err := led.Transfer(vault.InputVault, keeperInput.Address, params.SwapAmount, ledger.Program(vault.signer())); err != nil {
			return err
		}
		if err := led.Transfer(keeperOutput.Address, vault.OutputVault, params.ReceivedAmount, ledger.Caller(keeper)); err != nil {
			return err
		}

		if vault.TotalSpent, err = vault.TotalSpent.Add(params.SwapAmount); err != nil {
			return err
		}
		if vault.TotalReceived, err = vault.TotalReceived.Add(params.ReceivedAmount); err != nil {
			return err
		}
		if vault.ExecutionCount, err = types.CheckedIncrement(vault.ExecutionCount); err != nil {
			return err
		}
		vault.LastExecution = now
		vault.NextExecution = NextExecution(vault.MinExecutions, vault.MaxExecutions, now)

		logger.Debug().
			Int64("interval", vault.NextExecution-now).
			Int64("next_execution", vault.NextExecution).
			Msg("scheduled next execution")

		header := events.Header{Vault: vault.Address, Authority: vault.Authority}
		if vault.IsCompleted() {
			vault.IsActive = false
			emitted = append(emitted, events.DcaCompleted{
				Header:         header,
				TotalSpent:     uint64(vault.TotalSpent),
				TotalReceived:  uint64(vault.TotalReceived),
				ExecutionCount: vault.ExecutionCount,
				CompletedAt:    now,
			})
		}
		emitted = append(emitted, events.DcaExecuted{
			Header:         header,
			AmountSpent:    params.SwapAmount,
			AmountReceived: params.ReceivedAmount,
			ExecutionCount: vault.ExecutionCount,
			NextExecution:  vault.NextExecution,
			ExecutedAt:     now,
		})

		if err := store.SaveVault(vault); err != nil {
			return fmt.Errorf("failed to update DCA vault: %w", err)
		}
		return s.journal.WithTx(tx).Append(emitted...)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("DCA execution rejected")
		return nil, err
	}
	s.journal.Publish(emitted...)

	logger.Info().
		Uint64("total_spent", uint64(vault.TotalSpent)).
		Uint64("total_received", uint64(vault.TotalReceived)).
		Uint32("execution_count", vault.ExecutionCount).
		Int64("next_execution", vault.NextExecution).
		Bool("completed", !vault.IsActive).
		Msg("DCA executed successfully")

	return &types.DcaExecutionResponse{
		Vault:          vault.Address,
		AmountSpent:    params.SwapAmount,
		AmountReceived: params.ReceivedAmount,
		TotalSpent:     uint64(vault.TotalSpent),
		TotalReceived:  uint64(vault.TotalReceived),
		ExecutionCount: vault.ExecutionCount,
		NextExecution:  vault.NextExecution,
		Completed:      vault.IsCompleted(),
		Timestamp:      time.Unix(now, 0).UTC(),
	}, nil
}

// WithdrawDca returns both custody balances to the owner and deactivates the
// vault. It is allowed in any state.
func (s *Service) WithdrawDca(owner, address string) (*types.WithdrawalResponse, error) {
	logger := log.With().
		Str("vault", address).
		Str("owner", owner).
		Str("service", "dca").
		Logger()

	logger.Info().Msg("withdrawing DCA vault")

	now := s.clock.Now()
	var (
		remainingInput    uint64
		accumulatedOutput uint64
		emitted           []events.Event
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		led := s.ledger.WithTx(tx)

		vault, err := store.GetVault(address)
		if err != nil {
			return err
		}
		if vault.Authority != owner {
			return types.ErrUnauthorized
		}
		if !vault.custodyMatches() {
			return types.ErrTokenAccountMismatch
		}

		if remainingInput, err = led.Balance(vault.InputVault); err != nil {
			return err
		}
		if accumulatedOutput, err = led.Balance(vault.OutputVault); err != nil {
			return err
		}
		total, err := types.CheckedAdd(remainingInput, accumulatedOutput)
		if err != nil {
			return err
		}

		signer := ledger.Program(vault.signer())
		if remainingInput > 0 {
			userInput, err := led.OpenAssociated(owner, vault.InputMint)
			if err != nil {
				return err
			}
			if err := led.Transfer(vault.InputVault, userInput.Address, remainingInput, signer); err != nil {
				return err
			}
		}
		if accumulatedOutput > 0 {
			userOutput, err := led.OpenAssociated(owner, vault.OutputMint)
			if err != nil {
				return err
			}
			if err := led.Transfer(vault.OutputVault, userOutput.Address, accumulatedOutput, signer); err != nil {
				return err
			}
		}

		vault.IsActive = false
		if err := store.SaveVault(vault); err != nil {
			return fmt.Errorf("failed to update DCA vault: %w", err)
		}

		header := events.Header{Vault: vault.Address, Authority: vault.Authority}
		emitted = []events.Event{
			events.DcaCancelled{Header: header, RemainingAmount: remainingInput, CancelledAt: now},
			events.FundsWithdrawn{Header: header, Amount: total, VaultType: events.VaultTypeDca, WithdrawnAt: now},
		}
		return s.journal.WithTx(tx).Append(emitted...)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to withdraw DCA vault")
		return nil, err
	}
	s.journal.Publish(emitted...)

	logger.Info().
		Uint64("input_returned", remainingInput).
		Uint64("output_claimed", accumulatedOutput).
		Msg("DCA withdrawn successfully")

	return &types.WithdrawalResponse{
		Vault:          address,
		VaultType:      events.VaultTypeDca,
		InputReturned:  remainingInput,
		OutputReturned: accumulatedOutput,
		Timestamp:      time.Unix(now, 0).UTC(),
	}, nil
}

// CloseDca releases an inactive, fully drained vault: both custody accounts
// and then the record itself.
func (s *Service) CloseDca(owner, address string) error {
	logger := log.With().
		Str("vault", address).
		Str("owner", owner).
		Str("service", "dca").
		Logger()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		led := s.ledger.WithTx(tx)

		vault, err := store.GetVault(address)
		if err != nil {
			return err
		}
		if vault.Authority != owner {
			return types.ErrUnauthorized
		}
		if vault.IsActive {
			return types.ErrDcaNotActive
		}
		if !vault.custodyMatches() {
			return types.ErrTokenAccountMismatch
		}
		for _, custody := range []string{vault.InputVault, vault.OutputVault} {
			balance, err := led.Balance(custody)
			if err != nil {
				return err
			}
			if balance != 0 {
				return types.ErrDcaHasRemainingFunds
			}
		}

		signer := ledger.Program(vault.signer())
		if err := led.CloseAccount(vault.InputVault, signer); err != nil {
			return err
		}
		if err := led.CloseAccount(vault.OutputVault, signer); err != nil {
			return err
		}
		return store.DeleteVault(address)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to close DCA vault")
		return err
	}

	logger.Info().Msg("DCA vault closed successfully")
	return nil
}

// GetDca retrieves a vault by address
func (s *Service) GetDca(address string) (*DcaVault, error) {
	return s.store.GetVault(address)
}

// ListByOwner retrieves all vaults of owner
func (s *Service) ListByOwner(owner string) ([]DcaVault, error) {
	return s.store.GetVaultsByOwner(owner)
}

// ListDue retrieves the vaults a keeper may execute now
func (s *Service) ListDue(now int64) ([]DcaVault, error) {
	return s.store.GetDueVaults(now)
}

// fundingAccount loads the associated account that pays into a vault. A
// party without the account simply has no funds.
func fundingAccount(led *ledger.Ledger, party, mint string) (*ledger.TokenAccount, error) {
	acc, err := led.Account(pda.Associated(party, mint))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrInsufficientFunds
	}
	return acc, err
}

// GinHandlers contains HTTP handlers for DCA endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for DCA endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateDcaHandler handles POST requests to open a DCA vault for the caller
func (h *GinHandlers) CreateDcaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params CreateParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		vault, err := h.service.CreateDca(c.GetString("clientID"), params)
		response.Handle(c, vault, err)
	}
}

// GetDcaHandler returns one of the caller's vaults
// URL parameter: address
func (h *GinHandlers) GetDcaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		vault, err := h.service.GetDca(c.Param("address"))
		if err == nil && vault.Authority != c.GetString("clientID") {
			response.NotFound(c, "DCA vault not found")
			return
		}
		response.Handle(c, vault, err)
	}
}

// ListDcaHandler returns all vaults of the caller
func (h *GinHandlers) ListDcaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		vaults, err := h.service.ListByOwner(c.GetString("clientID"))
		response.Handle(c, vaults, err)
	}
}

// WithdrawDcaHandler handles POST requests to cancel a vault and reclaim its funds
func (h *GinHandlers) WithdrawDcaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		withdrawal, err := h.service.WithdrawDca(c.GetString("clientID"), c.Param("address"))
		response.Handle(c, withdrawal, err)
	}
}

// CloseDcaHandler handles DELETE requests to release a drained vault
func (h *GinHandlers) CloseDcaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		if err := h.service.CloseDca(c.GetString("clientID"), address); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "DCA vault closed", "vault": address})
	}
}

// ExecuteDcaHandler handles keeper POST requests reporting a completed swap
// URL parameter: address
func (h *GinHandlers) ExecuteDcaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params ExecuteParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		execution, err := h.service.ExecuteDca(c.GetString("clientID"), c.Param("address"), params)
		response.Handle(c, execution, err)
	}
}

// ListDueHandler returns the vaults that may be executed now
func (h *GinHandlers) ListDueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		vaults, err := h.service.ListDue(h.service.clock.Now())
		response.Handle(c, vaults, err)
	}
}
