// Package identity provides the mailing identity shared by every mailmonkey package.
//
// An identity is the (property address, owner name) pair of a record. Two records
// whose pairs normalize to the same Key are the same mailing target for the lifetime
// of the system: the selection path deduplicates on it, the tracker is keyed by it,
// and the merge ledger embeds it.
//
// This package imports nothing internal. It also owns the column vocabulary used to
// find addresses, owners and ZIP codes in heterogeneous list exports, so that list
// ingestion, campaign master backfill and mapping conversion all resolve a row the
// same way.
//
// Key design constraints:
//   - Normalize is deterministic and idempotent
//   - ZIP5 always means the mailing (owner) ZIP, never the situs ZIP when a mailing
//     value exists
package identity
