// Package core holds the guard contracts (replay ledger, sliding-window store),
// configuration, error envelopes and the observed Service facade. Stores and
// HTTP adapters depend on this package; core must not import them.
package core
