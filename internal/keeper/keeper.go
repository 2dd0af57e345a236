// Package keeper is the off-ledger agent that drives vault executions: it
// polls due DCA vaults and open intents, swaps through a venue and reports
// the results back to the vault services.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/ksred/klear-vaults/internal/clock"
	"github.com/ksred/klear-vaults/internal/dca"
	"github.com/ksred/klear-vaults/internal/intent"
	"github.com/ksred/klear-vaults/internal/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SwapRequest asks a venue to exchange Amount of InputMint held by Keeper
type SwapRequest struct {
	Keeper     string
	InputMint  string
	OutputMint string
	Amount     uint64
}

// SwapResult is what the keeper got back; AmountOut is now in the keeper's
// output account.
type SwapResult struct {
	VenueID   string
	AmountIn  uint64
	AmountOut uint64
	Fee       uint64
}

type Swapper interface {
	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// PriceSource quotes a mint in USD with 6 implied decimals
type PriceSource interface {
	Price(ctx context.Context, mint string) (uint64, error)
}

type DcaVaults interface {
	ListDue(now int64) ([]dca.DcaVault, error)
	ExecuteDca(keeper, address string, params dca.ExecuteParams) (*types.DcaExecutionResponse, error)
}

type IntentVaults interface {
	ListOpen(now int64) ([]intent.IntentVault, error)
	ExecuteIntent(keeper, address string, params intent.ExecuteParams) (*types.IntentExecutionResponse, error)
}

type Config struct {
	Identity       string
	DcaSchedule    string // cron spec with seconds
	IntentSchedule string
	PriceTTL       int64 // seconds a quote is reused
	Seed           int64
}

// Stats summarises one polling pass
type Stats struct {
	Candidates int `json:"candidates"`
	Executed   int `json:"executed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Add accumulates o into s
func (s *Stats) Add(o Stats) {
	s.Candidates += o.Candidates
	s.Executed += o.Executed
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

type Processor struct {
	cfg     Config
	dca     DcaVaults
	intents IntentVaults
	swapper Swapper
	prices  *priceCache
	clock   clock.Clock

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

func NewProcessor(cfg Config, d DcaVaults, i IntentVaults, s Swapper, p PriceSource, c clock.Clock) *Processor {
	return &Processor{
		cfg:     cfg,
		dca:     d,
		intents: i,
		swapper: s,
		prices:  newPriceCache(p, c, cfg.PriceTTL),
		clock:   c,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Start runs both polling jobs on their cron schedules until ctx is done.
// A job that is still running when its next tick fires is skipped.
func (p *Processor) Start(ctx context.Context) error {
	logger := log.With().Str("component", "keeper").Str("keeper", p.cfg.Identity).Logger()

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(p.cfg.DcaSchedule, func() {
		if _, err := p.RunDca(ctx); err != nil {
			logger.Error().Err(err).Msg("DCA pass failed")
		}
	}); err != nil {
		return fmt.Errorf("register DCA job: %w", err)
	}
	if _, err := c.AddFunc(p.cfg.IntentSchedule, func() {
		if _, err := p.RunIntents(ctx); err != nil {
			logger.Error().Err(err).Msg("intent pass failed")
		}
	}); err != nil {
		return fmt.Errorf("register intent job: %w", err)
	}

	logger.Info().
		Str("dca_schedule", p.cfg.DcaSchedule).
		Str("intent_schedule", p.cfg.IntentSchedule).
		Msg("starting keeper")
	c.Start()

	<-ctx.Done()
	logger.Info().Msg("shutting down keeper")
	<-c.Stop().Done()
	return nil
}

// RunDca executes every due DCA vault once
func (p *Processor) RunDca(ctx context.Context) (Stats, error) {
	logger := log.With().Str("component", "keeper").Str("job", "dca").Logger()

	vaults, err := p.dca.ListDue(p.clock.Now())
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Candidates: len(vaults)}
	logger.Debug().Int("due_count", len(vaults)).Msg("processing due DCA vaults")

	for _, v := range vaults {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		amount := p.dcaSwapAmount(&v)
		swap, err := p.swapper.Swap(ctx, SwapRequest{
			Keeper:     p.cfg.Identity,
			InputMint:  v.InputMint,
			OutputMint: v.OutputMint,
			Amount:     amount,
		})
		if err != nil {
			stats.Failed++
			logger.Warn().Err(err).Str("vault", v.Address).Uint64("amount", amount).Msg("swap failed")
			continue
		}

		_, err = p.dca.ExecuteDca(p.cfg.Identity, v.Address, dca.ExecuteParams{
			SwapAmount:     swap.AmountIn,
			ReceivedAmount: swap.AmountOut,
		})
		switch {
		case err == nil:
			stats.Executed++
		case errors.Is(err, types.ErrDcaExecutionNotAllowed), errors.Is(err, types.ErrDcaNotActive):
			stats.Skipped++
			logger.Debug().Err(err).Str("vault", v.Address).Msg("vault no longer due")
		default:
			stats.Failed++
			logger.Error().Err(err).Str("vault", v.Address).Msg("failed to execute DCA")
		}
	}

	logger.Info().
		Int("executed", stats.Executed).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("DCA pass complete")
	return stats, nil
}

// RunIntents checks every open intent against the current output price and
// executes the next chunk of those that may fire.
func (p *Processor) RunIntents(ctx context.Context) (Stats, error) {
	logger := log.With().Str("component", "keeper").Str("job", "intent").Logger()

	vaults, err := p.intents.ListOpen(p.clock.Now())
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Candidates: len(vaults)}

	for _, v := range vaults {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		price, err := p.prices.get(ctx, v.OutputMint)
		if err != nil || price == 0 {
			stats.Skipped++
			logger.Warn().Err(err).Str("mint", v.OutputMint).Msg("no price for output mint")
			continue
		}
		if v.Status == intent.Monitoring && !v.CheckTrigger(price) {
			stats.Skipped++
			logger.Debug().
				Str("vault", v.Address).
				Uint64("current_price", price).
				Uint64("trigger_price", uint64(v.TriggerPrice)).
				Msg("trigger not met")
			continue
		}

		amount := ChunkAmount(&v)
		if amount == 0 {
			stats.Skipped++
			continue
		}
		swap, err := p.swapper.Swap(ctx, SwapRequest{
			Keeper:     p.cfg.Identity,
			InputMint:  v.InputMint,
			OutputMint: v.OutputMint,
			Amount:     amount,
		})
		if err != nil {
			stats.Failed++
			logger.Warn().Err(err).Str("vault", v.Address).Uint64("amount", amount).Msg("swap failed")
			continue
		}

		_, err = p.intents.ExecuteIntent(p.cfg.Identity, v.Address, intent.ExecuteParams{
			CurrentPrice:   price,
			SwapAmount:     swap.AmountIn,
			ReceivedAmount: swap.AmountOut,
		})
		switch {
		case err == nil:
			stats.Executed++
		case errors.Is(err, types.ErrTriggerConditionNotMet), errors.Is(err, types.ErrIntentExpired):
			stats.Skipped++
			logger.Debug().Err(err).Str("vault", v.Address).Msg("intent not executable")
		default:
			stats.Failed++
			logger.Error().Err(err).Str("vault", v.Address).Msg("failed to execute intent")
		}
	}

	logger.Info().
		Int("executed", stats.Executed).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("intent pass complete")
	return stats, nil
}

func (p *Processor) dcaSwapAmount(v *dca.DcaVault) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SwapAmount(uint64(v.AmountPerTrade), v.VarianceBps, v.Remaining(), p.rng)
}

// SwapAmount draws a trade size of perTrade plus or minus up to varianceBps
// of it, capped to what is left of the vault.
func SwapAmount(perTrade uint64, varianceBps uint16, remaining uint64, rng *rand.Rand) uint64 {
	variance := uint64(float64(perTrade) * float64(varianceBps) * rng.Float64() / 10000)
	if variance > perTrade {
		variance = perTrade
	}
	amount := perTrade - variance
	if rng.Float64() > 0.5 {
		amount = perTrade + variance
	}
	return min(amount, remaining)
}

// ChunkAmount splits the committed amount evenly across chunks; the last
// chunk takes whatever is left.
func ChunkAmount(v *intent.IntentVault) uint64 {
	remaining := v.Remaining()
	if v.ChunksExecuted+1 >= v.NumChunks {
		return remaining
	}
	chunk := max(uint64(v.Amount)/uint64(v.NumChunks), 1)
	return min(chunk, remaining)
}
