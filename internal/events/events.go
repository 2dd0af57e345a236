// Package events defines the vault lifecycle events and the journal that
// persists them together with the state change that produced them.
package events

// Event is anything emitted by a vault operation
type Event interface {
	Kind() string
	VaultAddress() string
}

// Header is shared by all events: the vault and its owner
type Header struct {
	Vault     string `json:"vault"`
	Authority string `json:"authority"`
}

func (h Header) VaultAddress() string { return h.Vault }

// Vault type tags carried by FundsWithdrawn
const (
	VaultTypeDca    = "DCA"
	VaultTypeIntent = "Intent"
)

type DcaCreated struct {
	Header
	InputMint   string `json:"input_mint"`
	OutputMint  string `json:"output_mint"`
	TotalAmount uint64 `json:"total_amount"`
	CreatedAt   int64  `json:"created_at"`
}

func (DcaCreated) Kind() string { return "DcaCreated" }

type DcaExecuted struct {
	Header
	AmountSpent    uint64 `json:"amount_spent"`
	AmountReceived uint64 `json:"amount_received"`
	ExecutionCount uint32 `json:"execution_count"`
	NextExecution  int64  `json:"next_execution"`
	ExecutedAt     int64  `json:"executed_at"`
}

func (DcaExecuted) Kind() string { return "DcaExecuted" }

type DcaCompleted struct {
	Header
	TotalSpent     uint64 `json:"total_spent"`
	TotalReceived  uint64 `json:"total_received"`
	ExecutionCount uint32 `json:"execution_count"`
	CompletedAt    int64  `json:"completed_at"`
}

func (DcaCompleted) Kind() string { return "DcaCompleted" }

type DcaCancelled struct {
	Header
	RemainingAmount uint64 `json:"remaining_amount"`
	CancelledAt     int64  `json:"cancelled_at"`
}

func (DcaCancelled) Kind() string { return "DcaCancelled" }

type IntentCreated struct {
	Header
	IntentType   uint8  `json:"intent_type"`
	InputMint    string `json:"input_mint"`
	OutputMint   string `json:"output_mint"`
	Amount       uint64 `json:"amount"`
	TriggerPrice uint64 `json:"trigger_price"`
	ExpiresAt    int64  `json:"expires_at"`
	CreatedAt    int64  `json:"created_at"`
}

func (IntentCreated) Kind() string { return "IntentCreated" }

type IntentTriggered struct {
	Header
	TriggerPrice uint64 `json:"trigger_price"`
	CurrentPrice uint64 `json:"current_price"`
	TriggeredAt  int64  `json:"triggered_at"`
}

func (IntentTriggered) Kind() string { return "IntentTriggered" }

type IntentExecuted struct {
	Header
	AmountSpent    uint64 `json:"amount_spent"`
	AmountReceived uint64 `json:"amount_received"`
	ChunksExecuted uint8  `json:"chunks_executed"`
	NumChunks      uint8  `json:"num_chunks"`
	ExecutedAt     int64  `json:"executed_at"`
}

func (IntentExecuted) Kind() string { return "IntentExecuted" }

type IntentCancelled struct {
	Header
	RemainingAmount uint64 `json:"remaining_amount"`
	CancelledAt     int64  `json:"cancelled_at"`
}

func (IntentCancelled) Kind() string { return "IntentCancelled" }

// IntentExpired is part of the event vocabulary but no operation emits it:
// expiry is only enforced as a rejection, the stored status is never moved to Expired.
type IntentExpired struct {
	Header
	ExpiredAt int64 `json:"expired_at"`
}

func (IntentExpired) Kind() string { return "IntentExpired" }

type FundsWithdrawn struct {
	Header
	Amount      uint64 `json:"amount"`
	VaultType   string `json:"vault_type"`
	WithdrawnAt int64  `json:"withdrawn_at"`
}

func (FundsWithdrawn) Kind() string { return "FundsWithdrawn" }
