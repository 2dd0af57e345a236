package intent

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/ksred/klear-vaults/internal/clock"
	"github.com/ksred/klear-vaults/internal/events"
	"github.com/ksred/klear-vaults/internal/ledger"
	"github.com/ksred/klear-vaults/internal/pda"
	"github.com/ksred/klear-vaults/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	alice  = "alice"
	bob    = "bob"
	keeper = "keeper-1"
	start  = int64(1_700_000_000)
)

type fixture struct {
	svc     *Service
	ledger  *ledger.Ledger
	journal *events.Journal
	clock   *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "intent.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledger.TokenAccount{}, &IntentVault{}, &events.Record{}))

	f := &fixture{
		ledger:  ledger.New(db),
		journal: events.NewJournal(db),
		clock:   clock.NewFixed(start),
	}
	f.svc = NewService(db, f.ledger, f.journal, f.clock)
	return f
}

func (f *fixture) fund(t *testing.T, owner, mint string, amount uint64) {
	t.Helper()
	acc, err := f.ledger.OpenAssociated(owner, mint)
	require.NoError(t, err)
	require.NoError(t, f.ledger.MintTo(acc.Address, amount))
}

func (f *fixture) balance(t *testing.T, address string) uint64 {
	t.Helper()
	b, err := f.ledger.Balance(address)
	require.NoError(t, err)
	return b
}

func (f *fixture) kinds(t *testing.T, vault string) []string {
	t.Helper()
	records, err := f.journal.ListByVault(vault)
	require.NoError(t, err)
	kinds := make([]string, 0, len(records))
	for _, r := range records {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}

func (f *fixture) create(t *testing.T, params CreateParams) *IntentVault {
	t.Helper()
	f.fund(t, alice, params.InputMint, params.Amount)
	f.fund(t, keeper, params.OutputMint, 100_000_000)
	vault, err := f.svc.CreateIntent(alice, params)
	require.NoError(t, err)
	return vault
}

func TestCreateIntent(t *testing.T) {
	f := newFixture(t)
	params := validParams()
	params.ExecutionStyle = 9
	params.NumChunks = 0
	vault := f.create(t, params)

	assert.Equal(t, pda.IntentVault(alice, "USDC", 1), vault.Address)
	assert.Equal(t, Monitoring, vault.Status)
	assert.Equal(t, Immediate, vault.ExecutionStyle)
	assert.Equal(t, uint8(1), vault.NumChunks)
	assert.Equal(t, start+86_400, vault.ExpiresAt)
	assert.Equal(t, uint64(1_000_000), f.balance(t, vault.InputVault))
	assert.Equal(t, uint64(0), f.balance(t, pda.Associated(alice, "USDC")))
	assert.Equal(t, []string{"IntentCreated"}, f.kinds(t, vault.Address))
}

func TestCreateIntent_NonceSeparatesVaults(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, validParams())

	f.fund(t, alice, "USDC", 1_000_000)
	_, err := f.svc.CreateIntent(alice, validParams())
	assert.ErrorIs(t, err, types.ErrVaultAlreadyExists)
	assert.Equal(t, uint64(1_000_000), f.balance(t, pda.Associated(alice, "USDC")))

	params := validParams()
	params.Nonce = math.MaxUint64
	second, err := f.svc.CreateIntent(alice, params)
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, second.Address)

	stored, err := f.svc.GetIntent(second.Address)
	require.NoError(t, err)
	assert.Equal(t, Nonce(math.MaxUint64), stored.Nonce)
}

func TestCreateIntent_InvalidPriceRange(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", 1_000_000)

	params := validParams()
	params.TriggerType = uint8(PriceRange)
	params.TriggerPrice = 200
	params.TriggerPriceMax = 100
	_, err := f.svc.CreateIntent(alice, params)
	assert.ErrorIs(t, err, types.ErrInvalidPriceRange)

	_, err = f.svc.GetIntent(pda.IntentVault(alice, "USDC", 1))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, uint64(1_000_000), f.balance(t, pda.Associated(alice, "USDC")))
}

func TestExecuteIntent_TriggerAndExecuteInOneCall(t *testing.T) {
	f := newFixture(t)
	vault := f.create(t, validParams())
	f.clock.Advance(60)

	_, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{
		CurrentPrice: 149_000_000, SwapAmount: 1_000_000, ReceivedAmount: 6_600,
	})
	assert.ErrorIs(t, err, types.ErrTriggerConditionNotMet)

	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, Monitoring, stored.Status)
	assert.Zero(t, stored.TriggeredAt)
	assert.Equal(t, uint64(1_000_000), f.balance(t, vault.InputVault))

	res, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{
		CurrentPrice: 151_000_000, SwapAmount: 1_000_000, ReceivedAmount: 6_600,
	})
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, "Executed", res.Status)
	assert.Equal(t, uint8(1), res.ChunksExecuted)

	stored, err = f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, Executed, stored.Status)
	assert.Equal(t, start+60, stored.TriggeredAt)
	assert.Equal(t, start+60, stored.ExecutedAt)
	assert.Equal(t, uint64(1_000_000), uint64(stored.TotalSpent))
	assert.Equal(t, uint64(6_600), uint64(stored.TotalReceived))

	// output bypasses custody and lands with the owner
	assert.Equal(t, uint64(6_600), f.balance(t, pda.Associated(alice, "SOL")))
	assert.Equal(t, uint64(0), f.balance(t, vault.InputVault))
	assert.Equal(t, uint64(1_000_000), f.balance(t, pda.Associated(keeper, "USDC")))

	assert.Equal(t, []string{"IntentCreated", "IntentTriggered", "IntentExecuted"}, f.kinds(t, vault.Address))

	_, err = f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{
		CurrentPrice: 151_000_000, SwapAmount: 1, ReceivedAmount: 1,
	})
	assert.ErrorIs(t, err, types.ErrIntentAlreadyExecuted)
}

func TestExecuteIntent_ChunkedExecution(t *testing.T) {
	f := newFixture(t)
	params := validParams()
	params.TriggerType = uint8(PriceBelow)
	params.TriggerPrice = 100_000_000
	params.ExecutionStyle = uint8(Twap)
	params.NumChunks = 3
	vault := f.create(t, params)

	chunks := []uint64{333_333, 333_333, 333_334}
	// the trigger is only evaluated while monitoring; later prices do not matter
	prices := []uint64{99_000_000, 120_000_000, 0}
	statuses := []Status{Executing, Executing, Executed}
	var seen []Status

	for i, chunk := range chunks {
		f.clock.Advance(300)
		res, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{
			CurrentPrice: prices[i], SwapAmount: chunk, ReceivedAmount: 2_000,
		})
		require.NoError(t, err, "chunk %d", i)
		assert.Equal(t, i == 0, res.Triggered)

		stored, err := f.svc.GetIntent(vault.Address)
		require.NoError(t, err)
		assert.Equal(t, statuses[i], stored.Status)
		assert.Equal(t, uint8(i+1), stored.ChunksExecuted)
		assert.LessOrEqual(t, stored.ChunksExecuted, stored.NumChunks)
		seen = append(seen, stored.Status)
	}

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "status moved backwards")
	}
	assert.Equal(t, uint64(0), f.balance(t, vault.InputVault))
	assert.Equal(t, uint64(6_000), f.balance(t, pda.Associated(alice, "SOL")))

	kinds := f.kinds(t, vault.Address)
	assert.Equal(t, []string{"IntentCreated", "IntentTriggered", "IntentExecuted", "IntentExecuted", "IntentExecuted"}, kinds)

	records, err := f.journal.ListByVault(vault.Address)
	require.NoError(t, err)
	var last events.IntentExecuted
	require.NoError(t, json.Unmarshal([]byte(records[len(records)-1].Payload), &last))
	assert.Equal(t, uint8(3), last.ChunksExecuted)
	assert.Equal(t, uint8(3), last.NumChunks)
}

func TestExecuteIntent_RejectionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	vault := f.create(t, validParams())

	tests := []struct {
		name   string
		now    int64
		caller string
		params ExecuteParams
		want   error
	}{
		{"expired", vault.ExpiresAt + 1, keeper, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1, ReceivedAmount: 1}, types.ErrIntentExpired},
		{"trigger not met", start, keeper, ExecuteParams{CurrentPrice: 150_000_000, SwapAmount: 1, ReceivedAmount: 1}, types.ErrTriggerConditionNotMet},
		{"zero swap after trigger", start, keeper, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 0, ReceivedAmount: 1}, types.ErrInvalidAmount},
		{"zero received after trigger", start, keeper, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1, ReceivedAmount: 0}, types.ErrInvalidAmount},
		{"swap above custody", start, keeper, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1_000_001, ReceivedAmount: 1}, types.ErrInsufficientFunds},
		{"keeper short of output", start, keeper, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1, ReceivedAmount: 100_000_001}, types.ErrInsufficientFunds},
		{"keeper without output account", start, bob, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1, ReceivedAmount: 1}, types.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.clock.Set(tt.now)
			_, err := f.svc.ExecuteIntent(tt.caller, vault.Address, tt.params)
			assert.ErrorIs(t, err, tt.want)

			stored, err := f.svc.GetIntent(vault.Address)
			require.NoError(t, err)
			assert.Equal(t, Monitoring, stored.Status)
			assert.Zero(t, stored.TriggeredAt)
			assert.Zero(t, stored.ChunksExecuted)
			assert.Zero(t, stored.TotalSpent)
			assert.Equal(t, uint64(1_000_000), f.balance(t, vault.InputVault))
			assert.Equal(t, []string{"IntentCreated"}, f.kinds(t, vault.Address))
		})
	}
}

func TestExecuteIntent_ExpiryDoesNotChangeStatus(t *testing.T) {
	f := newFixture(t)
	vault := f.create(t, validParams())

	f.clock.Set(vault.ExpiresAt)
	open, err := f.svc.ListOpen(f.clock.Now())
	require.NoError(t, err)
	assert.Len(t, open, 1)

	f.clock.Set(vault.ExpiresAt + 1)
	_, err = f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1, ReceivedAmount: 1})
	assert.ErrorIs(t, err, types.ErrIntentExpired)

	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, Monitoring, stored.Status)

	open, err = f.svc.ListOpen(f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, open)

	// an expired intent is still withdrawable
	res, err := f.svc.WithdrawIntent(alice, vault.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), res.InputReturned)
}

func TestWithdrawIntent(t *testing.T) {
	f := newFixture(t)
	params := validParams()
	params.NumChunks = 4
	vault := f.create(t, params)

	_, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 250_000, ReceivedAmount: 1_650})
	require.NoError(t, err)

	_, err = f.svc.WithdrawIntent(bob, vault.Address)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	res, err := f.svc.WithdrawIntent(alice, vault.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(750_000), res.InputReturned)
	assert.Equal(t, events.VaultTypeIntent, res.VaultType)
	assert.Equal(t, uint64(750_000), f.balance(t, pda.Associated(alice, "USDC")))

	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, stored.Status)

	kinds := f.kinds(t, vault.Address)
	assert.Equal(t, []string{"IntentCancelled", "FundsWithdrawn"}, kinds[len(kinds)-2:])

	_, err = f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1, ReceivedAmount: 1})
	assert.ErrorIs(t, err, types.ErrIntentAlreadyCancelled)
}

func TestWithdrawIntent_RejectsExecuted(t *testing.T) {
	f := newFixture(t)
	vault := f.create(t, validParams())

	_, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 1_000_000, ReceivedAmount: 6_600})
	require.NoError(t, err)

	_, err = f.svc.WithdrawIntent(alice, vault.Address)
	assert.ErrorIs(t, err, types.ErrIntentAlreadyExecuted)
}

func TestCloseIntent(t *testing.T) {
	f := newFixture(t)
	vault := f.create(t, validParams())

	assert.ErrorIs(t, f.svc.CloseIntent(alice, vault.Address), types.ErrIntentNotMonitoring)

	_, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 400_000, ReceivedAmount: 1})
	require.NoError(t, err)

	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	require.Equal(t, Executed, stored.Status)

	// fully executed with input left in custody
	assert.ErrorIs(t, f.svc.CloseIntent(alice, vault.Address), types.ErrIntentHasRemainingFunds)
	assert.ErrorIs(t, f.svc.CloseIntent(bob, vault.Address), types.ErrUnauthorized)
}

func TestCloseIntent_RejectsOpenStatuses(t *testing.T) {
	f := newFixture(t)
	params := validParams()
	params.NumChunks = 2
	vault := f.create(t, params)

	assert.ErrorIs(t, f.svc.CloseIntent(alice, vault.Address), types.ErrIntentNotMonitoring)

	_, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 500_000, ReceivedAmount: 1})
	require.NoError(t, err)
	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	require.Equal(t, Executing, stored.Status)

	assert.ErrorIs(t, f.svc.CloseIntent(alice, vault.Address), types.ErrIntentNotMonitoring)
	assert.Equal(t, uint64(500_000), f.balance(t, vault.InputVault))
}

func TestIntent_ExecutedLeftoverStaysInCustody(t *testing.T) {
	f := newFixture(t)
	vault := f.create(t, validParams())

	_, err := f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{CurrentPrice: 151_000_000, SwapAmount: 250_000, ReceivedAmount: 1})
	require.NoError(t, err)

	_, err = f.svc.WithdrawIntent(alice, vault.Address)
	assert.ErrorIs(t, err, types.ErrIntentAlreadyExecuted)
	assert.ErrorIs(t, f.svc.CloseIntent(alice, vault.Address), types.ErrIntentHasRemainingFunds)

	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, Executed, stored.Status)
	assert.Equal(t, uint64(750_000), f.balance(t, vault.InputVault))
	assert.Equal(t, uint64(0), f.balance(t, pda.Associated(alice, "USDC")))
}

func TestCloseIntent_AfterWithdraw(t *testing.T) {
	f := newFixture(t)
	vault := f.create(t, validParams())

	_, err := f.svc.WithdrawIntent(alice, vault.Address)
	require.NoError(t, err)
	require.NoError(t, f.svc.CloseIntent(alice, vault.Address))

	_, err = f.svc.GetIntent(vault.Address)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = f.ledger.Account(vault.InputVault)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListByOwner(t *testing.T) {
	f := newFixture(t)
	f.create(t, validParams())
	params := validParams()
	params.Nonce = 2
	f.create(t, params)

	vaults, err := f.svc.ListByOwner(alice)
	require.NoError(t, err)
	assert.Len(t, vaults, 2)

	vaults, err = f.svc.ListByOwner(bob)
	require.NoError(t, err)
	assert.Empty(t, vaults)
}

func TestIntent_FullRangeAmounts(t *testing.T) {
	f := newFixture(t)
	received := uint64(math.MaxUint64 - 1)
	f.fund(t, alice, "USDC", 1_000_000)
	f.fund(t, keeper, "SOL", received)

	params := validParams()
	params.TriggerType = uint8(PriceBelow)
	params.TriggerPrice = math.MaxUint64 - 10
	vault, err := f.svc.CreateIntent(alice, params)
	require.NoError(t, err)

	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-10), uint64(stored.TriggerPrice))

	open, err := f.svc.ListOpen(start)
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{
		CurrentPrice: 150_000_000, SwapAmount: 1_000_000, ReceivedAmount: received,
	})
	require.NoError(t, err)

	stored, err = f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, Executed, stored.Status)
	assert.Equal(t, received, uint64(stored.TotalReceived))
	assert.Equal(t, received, f.balance(t, pda.Associated(alice, "SOL")))
}

func TestCreateIntent_ExpiryOverflow(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "USDC", 1_000_000)

	params := validParams()
	params.ExpirySeconds = math.MaxInt64
	_, err := f.svc.CreateIntent(alice, params)
	assert.ErrorIs(t, err, types.ErrMathOverflow)

	address := pda.IntentVault(alice, "USDC", 1)
	_, err = f.svc.GetIntent(address)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, f.kinds(t, address))
	assert.Equal(t, uint64(1_000_000), f.balance(t, pda.Associated(alice, "USDC")))
}

func TestExecuteIntent_ReceivedTotalOverflow(t *testing.T) {
	f := newFixture(t)
	params := validParams()
	params.NumChunks = 2
	vault := f.create(t, params)

	seeded, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	seeded.TotalReceived = math.MaxUint64 - 5
	require.NoError(t, f.svc.store.SaveVault(seeded))

	_, err = f.svc.ExecuteIntent(keeper, vault.Address, ExecuteParams{
		CurrentPrice: 151_000_000, SwapAmount: 500_000, ReceivedAmount: 10,
	})
	assert.ErrorIs(t, err, types.ErrMathOverflow)

	stored, err := f.svc.GetIntent(vault.Address)
	require.NoError(t, err)
	assert.Equal(t, Monitoring, stored.Status)
	assert.Zero(t, stored.TotalSpent)
	assert.Equal(t, uint64(math.MaxUint64-5), uint64(stored.TotalReceived))
	assert.Zero(t, stored.ChunksExecuted)
	assert.Equal(t, uint64(1_000_000), f.balance(t, vault.InputVault))
	assert.Equal(t, uint64(100_000_000), f.balance(t, pda.Associated(keeper, "SOL")))
	assert.Equal(t, []string{"IntentCreated"}, f.kinds(t, vault.Address))
}
