// Package store persists tracker state in SQLite.
//
// The database lives next to the tracker CSVs (MasterCampaignTracker/tracker.db)
// and is the source of truth between runs; the CSVs are exports of it.
//
// Tables:
//   - tracker_rows: one row per identity
//   - merge_ledger: one row per merged letter, keyed by the content-addressed
//     ledger id, append-only with ON CONFLICT DO NOTHING
//   - merge_runs: one row per committed finalize or rebuild
//
// Save writes a whole tracker in one transaction. Callers that must update a
// file together with the state (the executed log) do so in the BeforeCommit
// hook, so a failed file write leaves the database unchanged.
//
// Reads are deterministic: ledger entries load ORDER BY seq ASC, id ASC
// COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
