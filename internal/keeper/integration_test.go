package keeper_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/klear-vaults/internal/clock"
	"github.com/ksred/klear-vaults/internal/database"
	"github.com/ksred/klear-vaults/internal/dca"
	"github.com/ksred/klear-vaults/internal/events"
	"github.com/ksred/klear-vaults/internal/exchange"
	"github.com/ksred/klear-vaults/internal/intent"
	"github.com/ksred/klear-vaults/internal/keeper"
	"github.com/ksred/klear-vaults/internal/ledger"
	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	clock     *clock.Fixed
	ledger    *ledger.Ledger
	dca       *dca.Service
	intents   *intent.Service
	exchange  *exchange.Exchange
	processor *keeper.Processor
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "keeper.db"), false)
	require.NoError(t, err)

	clk := clock.NewFixed(1_700_000_000)
	led := ledger.New(db)
	journal := events.NewJournal(db)
	venue := &exchange.Venue{ID: "TEST", Name: "Test Venue", LiquidityFactor: 1, SuccessRate: 1}

	s := &stack{
		clock:   clk,
		ledger:  led,
		dca:     dca.NewService(db, led, journal, clk),
		intents: intent.NewService(db, led, journal, clk),
		exchange: exchange.New(db, led, map[string]uint64{"USDC": 1_000_000, "SOL": 150_000_000},
			exchange.WithVenues(venue), exchange.WithSeed(3), exchange.WithoutLatency()),
	}
	s.processor = keeper.NewProcessor(keeper.Config{
		Identity:       "keeper-1",
		DcaSchedule:    "*/1 * * * * *",
		IntentSchedule: "*/1 * * * * *",
		PriceTTL:       keeper.DefaultPriceTTL,
		Seed:           11,
	}, s.dca, s.intents, s.exchange, s.exchange, clk)

	require.NoError(t, s.exchange.Fund("keeper-1", map[string]uint64{"USDC": 10_000_000_000}))
	require.NoError(t, s.exchange.Fund("alice", map[string]uint64{"USDC": 2_000_000_000}))
	return s
}

func (s *stack) balance(t *testing.T, address string) uint64 {
	t.Helper()
	b, err := s.ledger.Balance(address)
	require.NoError(t, err)
	return b
}

func TestKeeper_DrivesDcaToCompletion(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	vault, err := s.dca.CreateDca("alice", dca.CreateParams{
		InputMint:       "USDC",
		OutputMint:      "SOL",
		TotalAmount:     600_000_000,
		AmountPerTrade:  150_000_000,
		VarianceBps:     2000,
		MinExecutions:   3,
		MaxExecutions:   7,
		WindowStartHour: 9,
		WindowEndHour:   17,
	})
	require.NoError(t, err)

	// not due before the initial delay
	stats, err := s.processor.RunDca(ctx)
	require.NoError(t, err)
	assert.Equal(t, keeper.Stats{}, stats)

	keeperUSDC := s.balance(t, pda.Associated("keeper-1", "USDC"))
	for i := 0; i < 20 && vault.IsActive; i++ {
		s.clock.Set(vault.NextExecution)
		stats, err := s.processor.RunDca(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Executed)

		vault, err = s.dca.GetDca(vault.Address)
		require.NoError(t, err)
	}

	assert.False(t, vault.IsActive)
	assert.Equal(t, uint64(600_000_000), uint64(vault.TotalSpent))
	assert.Equal(t, uint64(0), s.balance(t, vault.InputVault))
	assert.Equal(t, uint64(vault.TotalReceived), s.balance(t, vault.OutputVault))
	// the keeper's input float is restored from custody after every swap
	assert.Equal(t, keeperUSDC, s.balance(t, pda.Associated("keeper-1", "USDC")))
}

func TestKeeper_ExecutesIntentWhenTriggered(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	vault, err := s.intents.CreateIntent("alice", intent.CreateParams{
		Nonce:          1,
		IntentType:     uint8(intent.Buy),
		InputMint:      "USDC",
		OutputMint:     "SOL",
		Amount:         300_000_000,
		TriggerType:    uint8(intent.PriceBelow),
		TriggerPrice:   140_000_000,
		ExecutionStyle: uint8(intent.Twap),
		NumChunks:      2,
		ExpirySeconds:  86_400,
	})
	require.NoError(t, err)

	stats, err := s.processor.RunIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, keeper.Stats{Candidates: 1, Skipped: 1}, stats)

	s.exchange.SetPrice("SOL", 135_000_000)
	s.clock.Advance(keeper.DefaultPriceTTL + 1)

	for i := 0; i < 2; i++ {
		stats, err = s.processor.RunIntents(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Executed)
	}

	vault, err = s.intents.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, intent.Executed, vault.Status)
	assert.Equal(t, uint64(300_000_000), uint64(vault.TotalSpent))
	assert.Equal(t, uint64(vault.TotalReceived), s.balance(t, pda.Associated("alice", "SOL")))

	stats, err = s.processor.RunIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, keeper.Stats{}, stats)
}

func TestKeeper_StartRejectsBadSchedule(t *testing.T) {
	s := newStack(t)
	p := keeper.NewProcessor(keeper.Config{
		Identity:       "keeper-1",
		DcaSchedule:    "not a schedule",
		IntentSchedule: "*/1 * * * * *",
	}, s.dca, s.intents, s.exchange, s.exchange, s.clock)

	assert.Error(t, p.Start(context.Background()))
}

func TestKeeper_StartStopsWithContext(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.processor.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("keeper did not stop")
	}
}
