package domain

import "errors"

// Sentinel errors for structural/programmer-visible failures. Business
// rejections are not errors — they are OrderResult values with a Status (see
// result.go) — these are reserved for invariant violations and persistence
// failures (§7).
var (
	ErrNotFound        = errors.New("not found")
	ErrStructuralFault = errors.New("order book structural fault")
	ErrCancelled       = errors.New("operation cancelled")
)
