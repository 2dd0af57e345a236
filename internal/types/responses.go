package types

import "time"

// DcaExecutionResponse is returned to the keeper after an accepted DCA execution
type DcaExecutionResponse struct {
	Vault          string    `json:"vault"`
	AmountSpent    uint64    `json:"amount_spent"`
	AmountReceived uint64    `json:"amount_received"`
	TotalSpent     uint64    `json:"total_spent"`
	TotalReceived  uint64    `json:"total_received"`
	ExecutionCount uint32    `json:"execution_count"`
	NextExecution  int64     `json:"next_execution"`
	Completed      bool      `json:"completed"`
	Timestamp      time.Time `json:"timestamp"`
}

// IntentExecutionResponse is returned to the keeper after an accepted intent execution
type IntentExecutionResponse struct {
	Vault          string    `json:"vault"`
	Status         string    `json:"status"`
	Triggered      bool      `json:"triggered"`
	AmountSpent    uint64    `json:"amount_spent"`
	AmountReceived uint64    `json:"amount_received"`
	ChunksExecuted uint8     `json:"chunks_executed"`
	NumChunks      uint8     `json:"num_chunks"`
	Timestamp      time.Time `json:"timestamp"`
}

// WithdrawalResponse describes the funds returned to an owner by a withdrawal
type WithdrawalResponse struct {
	Vault          string    `json:"vault"`
	VaultType      string    `json:"vault_type"`
	InputReturned  uint64    `json:"input_returned"`
	OutputReturned uint64    `json:"output_returned"`
	Timestamp      time.Time `json:"timestamp"`
}
