// Package timeouts defines shared timeout constants used across the
// onboarding service. Centralizing these values keeps the durations
// discoverable and prevents drift between call sites.
package timeouts

import "time"

// Authorize caps how long a provider authorization flow may stay pending.
// Interactive prompts the user never answers must still resolve to a
// failed link attempt rather than hang the session.
const Authorize = 2 * time.Minute

// Persist caps a single durability write (answers, bindings, wallets).
const Persist = 5 * time.Second

// WalletRequest caps how long the wallet bridge may take to report
// accounts after a connect request.
const WalletRequest = 2 * time.Minute

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
