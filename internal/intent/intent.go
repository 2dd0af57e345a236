package intent

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

// Service runs the intent lifecycle. Each call is one database transaction.
type Service struct {
	db      *gorm.DB
	store   *Database
	ledger  *ledger.Ledger
	journal *events.Journal
	clock   clock.Clock
}

func NewService(gormDB *gorm.DB, l *ledger.Ledger, j *events.Journal, c clock.Clock) *Service {
	return &Service{
		db:      gormDB,
		store:   NewDatabase(gormDB),
		ledger:  l,
		journal: j,
		clock:   c,
	}
}

// CreateIntent locks params.Amount of the input mint in a fresh custody
// account and starts monitoring the trigger.
func (s *Service) CreateIntent(owner string, params CreateParams) (*IntentVault, error) {
	logger := log.With().
		Str("owner", owner).
		Uint64("nonce", params.Nonce).
		Str("service", "intent").
		Logger()

	logger.Info().
		Uint64("amount", params.Amount).
		Uint64("trigger_price", params.TriggerPrice).
		Msg("creating intent")

	if owner == "" {
		return nil, types.ErrUnauthorized
	}
	if err := ValidateCreateParams(params); err != nil {
		logger.Error().Err(err).Msg("intent parameters rejected")
		return nil, err
	}

	now := s.clock.Now()
	expiresAt, err := types.CheckedAddInt64(now, params.ExpirySeconds)
	if err != nil {
		logger.Error().Err(err).Int64("expiry_seconds", params.ExpirySeconds).Msg("expiry out of range")
		return nil, err
	}
	address := pda.IntentVault(owner, params.InputMint, params.Nonce)
	vault := &IntentVault{
		Address:         address,
		Authority:       owner,
		Nonce:           Nonce(params.Nonce),
		IntentType:      IntentType(params.IntentType),
		InputMint:       params.InputMint,
		OutputMint:      params.OutputMint,
		InputVault:      pda.Custody(pda.IntentInputPrefix, address),
		Amount:          types.Amount(params.Amount),
		TriggerType:     TriggerType(params.TriggerType),
		TriggerPrice:    types.Amount(params.TriggerPrice),
		TriggerPriceMax: types.Amount(params.TriggerPriceMax),
		ExecutionStyle:  ParseExecutionStyle(params.ExecutionStyle),
		NumChunks:       max(params.NumChunks, 1),
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		Status:          Monitoring,
	}

	emitted := []events.Event{events.IntentCreated{
		Header:       events.Header{Vault: address, Authority: owner},
		IntentType:   params.IntentType,
		InputMint:    vault.InputMint,
		OutputMint:   vault.OutputMint,
		Amount:       params.Amount,
		TriggerPrice: params.TriggerPrice,
		ExpiresAt:    vault.ExpiresAt,
		CreatedAt:    now,
	}}

	err = s.db.Transaction(func(tx *gorm.DB) error {
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
		source, err := fundingAccount(led, owner, vault.InputMint)
		if err != nil {
			return err
		}
		if err := led.Transfer(source.Address, vault.InputVault, params.Amount, ledger.Caller(owner)); err != nil {
			return err
		}
		if err := store.CreateVault(vault); err != nil {
			return fmt.Errorf("failed to create intent vault: %w", err)
		}
		return s.journal.WithTx(tx).Append(emitted...)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create intent")
		return nil, err
	}
	s.journal.Publish(emitted...)

	logger.Info().
		Str("vault", address).
		Str("trigger_type", vault.TriggerType.String()).
		Str("execution_style", vault.ExecutionStyle.String()).
		Uint8("num_chunks", vault.NumChunks).
		Int64("expires_at", vault.ExpiresAt).
		Msg("intent created")

	return vault, nil
}

// ExecuteIntent records one chunk. While the vault is still monitoring, the
// trigger is evaluated at params.CurrentPrice first and must hold. Output
// goes straight to the owner's own account.
func (s *Service) ExecuteIntent(keeper, address string, params ExecuteParams) (*types.IntentExecutionResponse, error) {
	logger := log.With().
		Str("vault", address).
		Str("keeper", keeper).
		Str("service", "intent").
		Logger()

	logger.Info().
		Uint64("current_price", params.CurrentPrice).
		Uint64("swap_amount", params.SwapAmount).
		Uint64("received_amount", params.ReceivedAmount).
		Msg("executing intent")

	if keeper == "" {
		return nil, types.ErrUnauthorized
	}

	now := s.clock.Now()
	var (
		vault     *IntentVault
		triggered bool
		emitted   []events.Event
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		led := s.ledger.WithTx(tx)

		var err error
		vault, err = store.GetVault(address)
		if err != nil {
			return err
		}
		if err := validateExecution(vault, now); err != nil {
			return err
		}

		header := events.Header{Vault: vault.Address, Authority: vault.Authority}
		if vault.Status == Monitoring {
			met := vault.CheckTrigger(params.CurrentPrice)
			logger.Debug().
				Str("trigger_type", vault.TriggerType.String()).
				Uint64("trigger_price", uint64(vault.TriggerPrice)).
				Uint64("trigger_price_max", uint64(vault.TriggerPriceMax)).
				Bool("met", met).
				Msg("evaluated trigger")
			if !met {
				return types.ErrTriggerConditionNotMet
			}
			vault.Status = Triggered
			vault.TriggeredAt = now
			triggered = true
			emitted = append(emitted, events.IntentTriggered{
				Header:       header,
				TriggerPrice: uint64(vault.TriggerPrice),
				CurrentPrice: params.CurrentPrice,
				TriggeredAt:  now,
			})
		}

		if err := validateAmounts(vault, params); err != nil {
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
		userOutput, err := led.OpenAssociated(vault.Authority, vault.OutputMint)
		if err != nil {
			return err
		}

		vault.Status = Executing
		if err := led.Transfer(vault.InputVault, keeperInput.Address, params.SwapAmount, ledger.Program(vault.signer())); err != nil {
			return err
		}
		if err := led.Transfer(keeperOutput.Address, userOutput.Address, params.ReceivedAmount, ledger.Caller(keeper)); err != nil {
			return err
		}

		if vault.TotalSpent, err = vault.TotalSpent.Add(params.SwapAmount); err != nil {
			return err
		}
		if vault.TotalReceived, err = vault.TotalReceived.Add(params.ReceivedAmount); err != nil {
			return err
		}
		if vault.ChunksExecuted == 255 {
			return types.ErrMathOverflow
		}
		vault.ChunksExecuted++
		if vault.ChunksExecuted >= vault.NumChunks {
			vault.Status = Executed
			vault.ExecutedAt = now
		}

		emitted = append(emitted, events.IntentExecuted{
			Header:         header,
			AmountSpent:    params.SwapAmount,
			AmountReceived: params.ReceivedAmount,
			ChunksExecuted: vault.ChunksExecuted,
			NumChunks:      vault.NumChunks,
			ExecutedAt:     now,
		})

		if err := store.SaveVault(vault); err != nil {
			return fmt.Errorf("failed to update intent vault: %w", err)
		}
		return s.journal.WithTx(tx).Append(emitted...)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("intent execution rejected")
		return nil, err
	}
	s.journal.Publish(emitted...)

	logger.Info().
		Str("status", vault.Status.String()).
		Uint8("chunks_executed", vault.ChunksExecuted).
		Uint8("num_chunks", vault.NumChunks).
		Uint64("total_spent", uint64(vault.TotalSpent)).
		Msg("intent executed successfully")

	return &types.IntentExecutionResponse{
		Vault:          vault.Address,
		Status:         vault.Status.String(),
		Triggered:      triggered,
		AmountSpent:    params.SwapAmount,
		AmountReceived: params.ReceivedAmount,
		ChunksExecuted: vault.ChunksExecuted,
		NumChunks:      vault.NumChunks,
		Timestamp:      time.Unix(now, 0).UTC(),
	}, nil
}

// WithdrawIntent cancels a vault that has not fully executed and returns the
// unspent input to the owner.
func (s *Service) WithdrawIntent(owner, address string) (*types.WithdrawalResponse, error) {
	logger := log.With().
		Str("vault", address).
		Str("owner", owner).
		Str("service", "intent").
		Logger()

	logger.Info().Msg("withdrawing intent")

	now := s.clock.Now()
	var (
		remaining uint64
		emitted   []events.Event
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
		if vault.Status == Executed {
			return types.ErrIntentAlreadyExecuted
		}
		if !vault.custodyMatches() {
			return types.ErrTokenAccountMismatch
		}

		if remaining, err = led.Balance(vault.InputVault); err != nil {
			return err
		}
		if remaining > 0 {
			userInput, err := led.OpenAssociated(owner, vault.InputMint)
			if err != nil {
				return err
			}
			if err := led.Transfer(vault.InputVault, userInput.Address, remaining, ledger.Program(vault.signer())); err != nil {
				return err
			}
		}

		vault.Status = Cancelled
		if err := store.SaveVault(vault); err != nil {
			return fmt.Errorf("failed to update intent vault: %w", err)
		}

		header := events.Header{Vault: vault.Address, Authority: vault.Authority}
		emitted = []events.Event{
			events.IntentCancelled{Header: header, RemainingAmount: remaining, CancelledAt: now},
			events.FundsWithdrawn{Header: header, Amount: remaining, VaultType: events.VaultTypeIntent, WithdrawnAt: now},
		}
		return s.journal.WithTx(tx).Append(emitted...)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to withdraw intent")
		return nil, err
	}
	s.journal.Publish(emitted...)

	logger.Info().Uint64("amount_returned", remaining).Msg("intent withdrawn successfully")

	return &types.WithdrawalResponse{
		Vault:         address,
		VaultType:     events.VaultTypeIntent,
		InputReturned: remaining,
		Timestamp:     time.Unix(now, 0).UTC(),
	}, nil
}

// CloseIntent releases a terminal, drained vault
func (s *Service) CloseIntent(owner, address string) error {
	logger := log.With().
		Str("vault", address).
		Str("owner", owner).
		Str("service", "intent").
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
		if !vault.Status.Terminal() {
			return types.ErrIntentNotMonitoring
		}
		if !vault.custodyMatches() {
			return types.ErrTokenAccountMismatch
		}
		balance, err := led.Balance(vault.InputVault)
		if err != nil {
			return err
		}
		if balance != 0 {
			return types.ErrIntentHasRemainingFunds
		}

		if err := led.CloseAccount(vault.InputVault, ledger.Program(vault.signer())); err != nil {
			return err
		}
		return store.DeleteVault(address)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to close intent")
		return err
	}

	logger.Info().Msg("intent closed successfully")
	return nil
}

func (s *Service) GetIntent(address string) (*IntentVault, error) {
	return s.store.GetVault(address)
}

func (s *Service) ListByOwner(owner string) ([]IntentVault, error) {
	return s.store.GetVaultsByOwner(owner)
}

// ListOpen retrieves the vaults a keeper may still execute at now
func (s *Service) ListOpen(now int64) ([]IntentVault, error) {
	return s.store.GetOpenVaults(now)
}

func fundingAccount(led *ledger.Ledger, party, mint string) (*ledger.TokenAccount, error) {
	acc, err := led.Account(pda.Associated(party, mint))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrInsufficientFunds
	}
	return acc, err
}

// GinHandlers contains HTTP handlers for intent endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) CreateIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params CreateParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		vault, err := h.service.CreateIntent(c.GetString("clientID"), params)
		response.Handle(c, vault, err)
	}
}

func (h *GinHandlers) GetIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		vault, err := h.service.GetIntent(c.Param("address"))
		if err == nil && vault.Authority != c.GetString("clientID") {
			response.NotFound(c, "intent not found")
			return
		}
		response.Handle(c, vault, err)
	}
}

func (h *GinHandlers) ListIntentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		vaults, err := h.service.ListByOwner(c.GetString("clientID"))
		response.Handle(c, vaults, err)
	}
}

func (h *GinHandlers) WithdrawIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		withdrawal, err := h.service.WithdrawIntent(c.GetString("clientID"), c.Param("address"))
		response.Handle(c, withdrawal, err)
	}
}

func (h *GinHandlers) CloseIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		if err := h.service.CloseIntent(c.GetString("clientID"), address); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "intent closed", "vault": address})
	}
}

// ExecuteIntentHandler handles keeper POST requests carrying the observed
// price and the swap result
func (h *GinHandlers) ExecuteIntentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params ExecuteParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		execution, err := h.service.ExecuteIntent(c.GetString("clientID"), c.Param("address"), params)
		response.Handle(c, execution, err)
	}
}

func (h *GinHandlers) ListOpenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		vaults, err := h.service.ListOpen(h.service.clock.Now())
		response.Handle(c, vaults, err)
	}
}
