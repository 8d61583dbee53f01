// Package idgen mints cryptographically random reference ids.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 hex chars, e.g. WithPrefix("txn_").
// Prefixes in use: txn_, pay_, stl_, sub_, evt_, req_.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns a random hex string covering numBytes of entropy.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
