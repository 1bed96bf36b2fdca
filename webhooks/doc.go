// Package webhooks verifies signed inbound deliveries and tracks them for
// idempotency.
//
// A delivery flows through Processor: required headers, then the HMAC
// verifier, then the replay ledger keyed by (delivery id, signature), then
// the handler. A failing handler releases its ledger entry so the sender's
// retry is processed rather than answered as idempotent.
package webhooks
