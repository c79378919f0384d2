// Package domain defines the records shared by the till, the sync engine and
// the cloud ledger.
//
// # Money and quantities
//
// Money is always int64 in the currency's smallest unit. There is no
// floating point anywhere in the settlement path. Quantities are
// decimal.Decimal so weight-tracked products can be sold by the gram while
// piece products stay integral.
//
// # Identity
//
// Every record that is synchronised to the cloud (settlements, shifts,
// cancelled orders) carries a UUIDv7 minted on the till at creation time.
// The cloud stores it verbatim as its own primary key, which is what makes
// remote application idempotent. Sync log entries get their own UUIDv7 so a
// batch item keeps the same identifier across retries.
//
// # Errors
//
// Operational failures are reported as *Error values carrying a Code. Use
// errors.Is against the exported sentinels (ErrAmountMismatch, ...) to test
// for a specific failure regardless of wrapping.
package domain
