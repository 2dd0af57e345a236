// Package exchange is a simulated swap venue for the keeper. It quotes
// configured prices and settles swaps against the shared token ledger.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ksred/klear-vaults/internal/keeper"
	"github.com/ksred/klear-vaults/internal/ledger"
	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/ksred/klear-vaults/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Venue represents a mock liquidity venue
type Venue struct {
	ID              string
	Name            string
	MinLatency      int // in milliseconds
	MaxLatency      int
	LiquidityFactor float64 // 0-1, represents available liquidity
	SuccessRate     float64 // 0-1, probability of successful execution
	FeeRate         float64 // fraction of output kept by the venue
}

var defaultVenues = []*Venue{
	{
		ID:              "EXCH1",
		Name:            "Primary Exchange",
		MinLatency:      5,
		MaxLatency:      30,
		LiquidityFactor: 0.9,
		SuccessRate:     0.95,
		FeeRate:         0.001, // 0.1%
	},
	{
		ID:              "EXCH2",
		Name:            "Secondary Exchange",
		MinLatency:      10,
		MaxLatency:      50,
		LiquidityFactor: 0.7,
		SuccessRate:     0.90,
		FeeRate:         0.0008, // 0.08%
	},
	{
		ID:              "EXCH3",
		Name:            "Regional Exchange",
		MinLatency:      15,
		MaxLatency:      70,
		LiquidityFactor: 0.5,
		SuccessRate:     0.85,
		FeeRate:         0.0005, // 0.05%
	},
	{
		ID:              "EXCH4",
		Name:            "Dark Pool",
		MinLatency:      20,
		MaxLatency:      100,
		LiquidityFactor: 0.3,
		SuccessRate:     0.75,
		FeeRate:         0.0003, // 0.03%
	},
}

// Exchange implements keeper.Swapper and keeper.PriceSource
type Exchange struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	venues []*Venue

	latency  bool
	attempts int

	mu     sync.Mutex // guards rng and prices
	rng    *rand.Rand
	prices map[string]uint64
}

type Option func(*Exchange)

// WithVenues replaces the default venue set
func WithVenues(venues ...*Venue) Option {
	return func(e *Exchange) { e.venues = venues }
}

// WithSeed makes venue choice, failures and price variance reproducible
func WithSeed(seed int64) Option {
	return func(e *Exchange) { e.rng = rand.New(rand.NewSource(seed)) }
}

// WithoutLatency disables the simulated network delay
func WithoutLatency() Option {
	return func(e *Exchange) { e.latency = false }
}

// New creates an exchange quoting prices (USD, 6 decimals, keyed by mint)
func New(db *gorm.DB, l *ledger.Ledger, prices map[string]uint64, opts ...Option) *Exchange {
	e := &Exchange{
		db:       db,
		ledger:   l,
		venues:   defaultVenues,
		latency:  true,
		attempts: 3,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:   make(map[string]uint64, len(prices)),
	}
	for mint, price := range prices {
		e.prices[mint] = price
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Price returns the configured quote for mint
func (e *Exchange) Price(_ context.Context, mint string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[mint]
	if !ok {
		return 0, fmt.Errorf("no price for mint %s", mint)
	}
	return price, nil
}

// SetPrice moves the quote for mint
func (e *Exchange) SetPrice(mint string, price uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[mint] = price
}

// Swap tries up to three venues while venues fail to fill. The winning venue
// takes the keeper's input into its own account and credits the output, less
// its fee, to the keeper.
func (e *Exchange) Swap(ctx context.Context, req keeper.SwapRequest) (*keeper.SwapResult, error) {
	logger := log.With().
		Str("keeper", req.Keeper).
		Str("input_mint", req.InputMint).
		Str("output_mint", req.OutputMint).
		Uint64("amount", req.Amount).
		Logger()

	logger.Info().Msg("starting swap")

	if req.Amount == 0 {
		return nil, types.ErrInvalidAmount
	}
	quoted, err := e.quote(req)
	if err != nil {
		return nil, err
	}

	for i := 0; i < e.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		venue := e.selectVenue()
		result, err := e.swapOn(ctx, venue, req, quoted)
		if errors.Is(err, types.ErrSwapFailed) {
			logger.Warn().
				Err(err).
				Int("attempt", i+1).
				Str("venue_id", venue.ID).
				Msg("swap attempt failed")
			continue
		}
		if err != nil {
			logger.Error().Err(err).Str("venue_id", venue.ID).Msg("swap rejected")
			return nil, err
		}

		logger.Info().
			Str("venue_id", result.VenueID).
			Uint64("amount_out", result.AmountOut).
			Uint64("fee", result.Fee).
			Msg("swap completed")
		return result, nil
	}

	logger.Error().Msg("failed to swap on any venue")
	return nil, types.ErrSwapFailed
}

// quote converts the input amount at the configured prices
func (e *Exchange) quote(req keeper.SwapRequest) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.prices[req.InputMint]
	if !ok || in == 0 {
		return 0, types.ErrInvalidSwapRoute
	}
	out, ok := e.prices[req.OutputMint]
	if !ok || out == 0 {
		return 0, types.ErrInvalidSwapRoute
	}
	return float64(req.Amount) * float64(in) / float64(out), nil
}

func (e *Exchange) swapOn(ctx context.Context, venue *Venue, req keeper.SwapRequest, quoted float64) (*keeper.SwapResult, error) {
	logger := log.With().Str("venue_id", venue.ID).Logger()

	e.mu.Lock()
	latency := e.rng.Intn(venue.MaxLatency-venue.MinLatency+1) + venue.MinLatency
	failed := e.rng.Float64() > venue.SuccessRate
	// Calculate executed price with random variance (±2%)
	executed := quoted * (1 + (e.rng.Float64()*0.04 - 0.02))
	e.mu.Unlock()

	if e.latency {
		logger.Debug().Int("latency_ms", latency).Msg("simulated network latency")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(latency) * time.Millisecond):
		}
	}
	if failed {
		return nil, fmt.Errorf("execution failed on venue %s: %w", venue.ID, types.ErrSwapFailed)
	}

	fee := uint64(executed * venue.FeeRate)
	out := uint64(executed) - min(fee, uint64(executed))
	if out == 0 {
		return nil, fmt.Errorf("output rounds to zero on venue %s: %w", venue.ID, types.ErrSlippageExceeded)
	}

	logger.Debug().
		Float64("quoted", quoted).
		Float64("executed", executed).
		Msg("price variance applied")

	err := e.db.Transaction(func(tx *gorm.DB) error {
		led := e.ledger.WithTx(tx)

		inventory, err := led.OpenAssociated(venue.ID, req.InputMint)
		if err != nil {
			return err
		}
		if err := led.Transfer(pda.Associated(req.Keeper, req.InputMint), inventory.Address, req.Amount, ledger.Caller(req.Keeper)); err != nil {
			return err
		}
		proceeds, err := led.OpenAssociated(req.Keeper, req.OutputMint)
		if err != nil {
			return err
		}
		return led.MintTo(proceeds.Address, out)
	})
	if err != nil {
		return nil, fmt.Errorf("settlement failed on venue %s: %w", venue.ID, err)
	}

	return &keeper.SwapResult{
		VenueID:   venue.ID,
		AmountIn:  req.Amount,
		AmountOut: out,
		Fee:       fee,
	}, nil
}

// selectVenue picks a venue weighted by liquidity and success rate
func (e *Exchange) selectVenue() *Venue {
	logger := log.With().Str("component", "venue_selection").Logger()

	totalWeight := 0.0
	for _, v := range e.venues {
		totalWeight += v.LiquidityFactor * v.SuccessRate
	}

	e.mu.Lock()
	choice := e.rng.Float64() * totalWeight
	e.mu.Unlock()

	logger.Debug().
		Float64("total_weight", totalWeight).
		Float64("random_choice", choice).
		Msg("calculating best venue")

	currentWeight := 0.0
	for _, v := range e.venues {
		currentWeight += v.LiquidityFactor * v.SuccessRate
		if currentWeight >= choice {
			return v
		}
	}

	logger.Warn().Msg("falling back to primary venue")
	return e.venues[0]
}

// Fund tops owner's associated accounts up to the given balances, minting the
// difference. It seeds the keeper's input inventory.
func (e *Exchange) Fund(owner string, inventory map[string]uint64) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		led := e.ledger.WithTx(tx)
		for mint, target := range inventory {
			acc, err := led.OpenAssociated(owner, mint)
			if err != nil {
				return err
			}
			held := uint64(acc.Balance)
			if held >= target {
				continue
			}
			if err := led.MintTo(acc.Address, target-held); err != nil {
				return err
			}
			log.Info().
				Str("owner", owner).
				Str("mint", mint).
				Uint64("minted", target-held).
				Msg("funded inventory")
		}
		return nil
	})
}
