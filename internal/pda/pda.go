// Package pda derives deterministic vault and custody addresses from public seeds
// and provides the signing capability that lets vault code move funds out of the
// custody accounts it owns.
package pda

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Seed prefixes for every derived address kind
const (
	DcaVaultPrefix     = "dca_vault"
	DcaInputPrefix     = "dca_input"
	DcaOutputPrefix    = "dca_output"
	IntentVaultPrefix  = "intent_vault"
	IntentInputPrefix  = "intent_input"
	AssociatedPrefix   = "associated"
	addressNamespaceID = "6f1c9d4e-3b7a-5c2e-9a41-0d8e7b5f2c13"
)

var namespace = uuid.MustParse(addressNamespaceID)

// Derive returns the address for prefix and seeds. Anyone can compute it.
// Each seed is length-prefixed so that ("ab","c") and ("a","bc") differ.
func Derive(prefix string, seeds ...[]byte) string {
	buf := make([]byte, 0, 64)
	buf = appendSeed(buf, []byte(prefix))
	for _, seed := range seeds {
		buf = appendSeed(buf, seed)
	}
	return uuid.NewSHA1(namespace, buf).String()
}

func appendSeed(buf, seed []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(seed)))
	return append(buf, seed...)
}

// Str turns a string identifier (owner, mint, vault address) into a seed
func Str(s string) []byte {
	return []byte(s)
}

// U64 encodes n as 8 little-endian bytes
func U64(n uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, n)
}

// DcaVault is the address of the single DCA vault for owner and the mint pair
func DcaVault(owner, inputMint, outputMint string) string {
	return Derive(DcaVaultPrefix, Str(owner), Str(inputMint), Str(outputMint))
}

// IntentVault is the address of owner's intent for inputMint and nonce
func IntentVault(owner, inputMint string, nonce uint64) string {
	return Derive(IntentVaultPrefix, Str(owner), Str(inputMint), U64(nonce))
}

// Custody is the address of a custody account held by vault
func Custody(prefix, vault string) string {
	return Derive(prefix, Str(vault))
}

// Associated is the canonical token account of owner for mint
func Associated(owner, mint string) string {
	return Derive(AssociatedPrefix, Str(owner), Str(mint))
}

// Signer is the capability to authorize transfers out of accounts owned by a
// derived address. It can only be produced from the seeds themselves.
type Signer struct {
	address string
}

// NewSigner re-derives the address from seeds and wraps it as a capability
func NewSigner(prefix string, seeds ...[]byte) Signer {
	return Signer{address: Derive(prefix, seeds...)}
}

// Address returns the derived address this capability signs for
func (s Signer) Address() string {
	return s.address
}

// Valid reports whether the signer was built through NewSigner
func (s Signer) Valid() bool {
	return s.address != ""
}
