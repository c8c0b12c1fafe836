package testutil

import (
	"ledgerback/internal/encryption"
	"ledgerback/internal/engine"
)

// NewTestEncryptor creates a deterministic encryptor for testing.
func NewTestEncryptor() engine.Encryptor {
	return encryption.NewTestEncryptor()
}
