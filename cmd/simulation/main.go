package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	owner        = "alice"
	keeperID     = "keeper-sim"
	startTime    = int64(1_700_000_000)
	inputMint    = "USDC"
	outputMint   = "SOL"
	usdcDecimals = 1_000_000
)

var prices = map[string]uint64{
	inputMint:  1_000_000,
	outputMint: 150_000_000,
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

type options struct {
	seed    int64
	dbPath  string
	verbose bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "simulation",
		Short: "Drive DCA and intent vaults through the keeper in-process",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().Int64Var(&opts.seed, "seed", 42, "seed for the keeper and exchange randomness")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite file (default: a temp file)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newDcaCommand(opts), newIntentCommand(opts))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is one in-process deployment: services on a fresh database, a fixed
// clock the simulation advances, and a funded keeper.
type env struct {
	clock     *clock.Fixed
	ledger    *ledger.Ledger
	journal   *events.Journal
	dca       *dca.Service
	intents   *intent.Service
	exchange  *exchange.Exchange
	processor *keeper.Processor
	passes    *passStats
}

func newEnv(opts *options) (*env, func(), error) {
	path := opts.dbPath
	cleanup := func() {}
	if path == "" {
		dir, err := os.MkdirTemp("", "vault-sim-")
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dir, "sim.db")
		cleanup = func() { os.RemoveAll(dir) }
	}

	db, err := database.NewDatabase(path, false)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	clk := clock.NewFixed(startTime)
	led := ledger.New(db)
	journal := events.NewJournal(db)
	e := &env{
		clock:   clk,
		ledger:  led,
		journal: journal,
		dca:     dca.NewService(db, led, journal, clk),
		intents: intent.NewService(db, led, journal, clk),
		exchange: exchange.New(db, led, prices,
			exchange.WithSeed(opts.seed), exchange.WithoutLatency()),
		passes: &passStats{name: "keeper pass"},
	}
	e.processor = keeper.NewProcessor(keeper.Config{
		Identity: keeperID,
		PriceTTL: keeper.DefaultPriceTTL,
		Seed:     opts.seed,
	}, e.dca, e.intents, e.exchange, e.exchange, clk)

	if err := e.exchange.Fund(keeperID, map[string]uint64{inputMint: 1_000_000 * usdcDecimals}); err != nil {
		cleanup()
		return nil, nil, err
	}
	return e, cleanup, nil
}

func (e *env) fundOwner(amount uint64) error {
	return e.exchange.Fund(owner, map[string]uint64{inputMint: amount})
}

func (e *env) balance(owner, mint string) uint64 {
	b, _ := e.ledger.Balance(pda.Associated(owner, mint))
	return b
}

func (e *env) printEvents(vault string) {
	records, err := e.journal.ListByVault(vault)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		return
	}
	kinds := make([]string, 0, len(records))
	for _, r := range records {
		kinds = append(kinds, r.Kind)
	}
	fmt.Printf("Events:           %s\n", strings.Join(kinds, " -> "))
}

func newDcaCommand(opts *options) *cobra.Command {
	var (
		total, perTrade uint64
		variance        uint16
		minExec         uint8
		maxExec         uint8
	)

	cmd := &cobra.Command{
		Use:   "dca",
		Short: "Create a DCA vault and run the keeper until it completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := newEnv(opts)
			if err != nil {
				return err
			}
			defer cleanup()
			return runDca(cmd.Context(), e, dca.CreateParams{
				InputMint:       inputMint,
				OutputMint:      outputMint,
				TotalAmount:     total,
				AmountPerTrade:  perTrade,
				VarianceBps:     variance,
				MinExecutions:   minExec,
				MaxExecutions:   maxExec,
				WindowStartHour: 9,
				WindowEndHour:   17,
			})
		},
	}
	cmd.Flags().Uint64Var(&total, "total", 1_000*usdcDecimals, "total input committed")
	cmd.Flags().Uint64Var(&perTrade, "per-trade", 100*usdcDecimals, "amount per trade")
	cmd.Flags().Uint16Var(&variance, "variance-bps", 2000, "trade size variance in basis points")
	cmd.Flags().Uint8Var(&minExec, "min-executions", 3, "minimum executions per week")
	cmd.Flags().Uint8Var(&maxExec, "max-executions", 7, "maximum executions per week")
	return cmd
}

func runDca(ctx context.Context, e *env, params dca.CreateParams) error {
	if err := e.fundOwner(params.TotalAmount); err != nil {
		return err
	}
	vault, err := e.dca.CreateDca(owner, params)
	if err != nil {
		return fmt.Errorf("create DCA vault: %w", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("DCA SIMULATION")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-6s %14s %16s %14s %12s\n", "Exec", "Spent", "Total Spent", "Received", "Interval")

	const maxPasses = 1000
	lastCount := vault.ExecutionCount
	lastAt := vault.CreatedAt
	var totals keeper.Stats

	for i := 0; i < maxPasses && vault.IsActive; i++ {
		e.clock.Set(vault.NextExecution)

		start := time.Now()
		stats, err := e.processor.RunDca(ctx)
		e.passes.add(time.Since(start))
		if err != nil {
			return err
		}
		totals.Add(stats)

		prevSpent := vault.TotalSpent
		if vault, err = e.dca.GetDca(vault.Address); err != nil {
			return err
		}
		if vault.ExecutionCount != lastCount {
			fmt.Printf("%-6d %14d %16d %14d %12s\n",
				vault.ExecutionCount,
				vault.TotalSpent-prevSpent,
				vault.TotalSpent,
				vault.TotalReceived,
				(time.Duration(vault.LastExecution-lastAt) * time.Second).String())
			lastCount = vault.ExecutionCount
			lastAt = vault.LastExecution
		}
	}

	fmt.Printf(`
Vault Summary
-------------
Vault:            %s
Active:           %t
Executions:       %d
Total Spent:      %d
Total Received:   %d
Elapsed:          %s
Keeper:           %d executed, %d skipped, %d failed
`, vault.Address, vault.IsActive, vault.ExecutionCount, vault.TotalSpent, vault.TotalReceived,
		(time.Duration(e.clock.Now()-startTime) * time.Second).String(),
		totals.Executed, totals.Skipped, totals.Failed)
	e.printEvents(vault.Address)
	e.passes.print()
	return nil
}

func newIntentCommand(opts *options) *cobra.Command {
	var (
		amount       uint64
		triggerPrice uint64
		chunks       uint8
		step         int64
		expiry       int64
	)

	cmd := &cobra.Command{
		Use:   "intent",
		Short: "Create a buy-the-dip intent and walk the price until it executes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := newEnv(opts)
			if err != nil {
				return err
			}
			defer cleanup()
			return runIntent(cmd.Context(), e, opts.seed, step, intent.CreateParams{
				Nonce:          uint64(opts.seed),
				IntentType:     uint8(intent.Buy),
				InputMint:      inputMint,
				OutputMint:     outputMint,
				Amount:         amount,
				TriggerType:    uint8(intent.PriceBelow),
				TriggerPrice:   triggerPrice,
				ExecutionStyle: uint8(intent.Twap),
				NumChunks:      chunks,
				ExpirySeconds:  expiry,
			})
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 500*usdcDecimals, "input amount committed")
	cmd.Flags().Uint64Var(&triggerPrice, "trigger-price", 140_000_000, "fire when the output price drops below this")
	cmd.Flags().Uint8Var(&chunks, "chunks", 3, "number of chunks")
	cmd.Flags().Int64Var(&step, "step", 60, "seconds between price ticks")
	cmd.Flags().Int64Var(&expiry, "expiry", 7*24*3600, "intent lifetime in seconds")
	return cmd
}

func runIntent(ctx context.Context, e *env, seed, step int64, params intent.CreateParams) error {
	if err := e.fundOwner(params.Amount); err != nil {
		return err
	}
	vault, err := e.intents.CreateIntent(owner, params)
	if err != nil {
		return fmt.Errorf("create intent: %w", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("INTENT SIMULATION")
	fmt.Println(strings.Repeat("=", 80))

	walk := newPriceWalk(prices[outputMint], seed)
	var totals keeper.Stats
	for vault.Status.Open() && !vault.IsExpired(e.clock.Now()) {
		e.clock.Advance(step)
		price := walk.next()
		e.exchange.SetPrice(outputMint, price)

		start := time.Now()
		stats, err := e.processor.RunIntents(ctx)
		e.passes.add(time.Since(start))
		if err != nil {
			return err
		}
		totals.Add(stats)

		prevStatus := vault.Status
		if vault, err = e.intents.GetIntent(vault.Address); err != nil {
			return err
		}
		if vault.Status != prevStatus || stats.Executed > 0 {
			fmt.Printf("t+%-8d price %12d  %-10s chunks %d/%d  spent %d\n",
				e.clock.Now()-startTime, price, vault.Status, vault.ChunksExecuted, vault.NumChunks, vault.TotalSpent)
		}
	}

	fmt.Printf(`
Intent Summary
--------------
Vault:            %s
Status:           %s
Chunks:           %d/%d
Total Spent:      %d
Total Received:   %d
Owner %s:       %d
Keeper:           %d executed, %d skipped, %d failed
`, vault.Address, vault.Status, vault.ChunksExecuted, vault.NumChunks, vault.TotalSpent, vault.TotalReceived,
		outputMint, e.balance(owner, outputMint), totals.Executed, totals.Skipped, totals.Failed)
	e.printEvents(vault.Address)
	e.passes.print()
	return nil
}
