// Package utils provides small ID-generation and decimal-rounding helpers
// shared across the training core.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// GenerateID generates a unique, crypto/rand-backed identifier
// with an optional prefix. Used for process-local IDs (trial labels, log
// correlation) that never leave a single job; job_id and config_id use
// uuid.New() instead, since those cross the store boundary.
func GenerateID(prefix string) string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// RoundToDecimalPlaces rounds d to the given number of decimal places.
func RoundToDecimalPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
