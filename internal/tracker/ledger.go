package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/roach88/mailmonkey/internal/identity"
)

// DomainLedger prefixes ledger ids. The version suffix allows a future
// change of key composition without colliding with stored ids.
const DomainLedger = "mailmonkey/ledger/v1"

// LedgerKey identifies one merged letter. A key seen twice is a duplicate.
type LedgerKey struct {
	Identity identity.Key
	Campaign int
	// RefCode is the renderer's letter code, "" when the log has none.
	RefCode string
}

// NewLedgerKey builds the ledger key of an executed-log style tuple.
func NewLedgerKey(k identity.Key, campaign int, refCode string) LedgerKey {
	return LedgerKey{Identity: k, Campaign: campaign, RefCode: strings.TrimSpace(refCode)}
}

// ID returns the content-addressed id of the key, stable across runs.
func (k LedgerKey) ID() string {
	// A fixed-order array keeps the encoding canonical.
	data, _ := json.Marshal([]any{
		k.Identity.PropertyAddress,
		k.Identity.OwnerName,
		k.Campaign,
		k.RefCode,
	})
	return hashWithDomain(DomainLedger, data)
}

// LedgerEntry records one merged executed-log row.
type LedgerEntry struct {
	Key        LedgerKey
	ZIP5       string
	TemplateID string
	SentDate   time.Time
	// RunID is the finalize or rebuild run that merged the entry.
	RunID string
	// Seq is the merge order, 1-based and gap-free within a tracker.
	Seq int64
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
