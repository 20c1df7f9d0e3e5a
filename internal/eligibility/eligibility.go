// Package eligibility applies prior-mailing and time-based rules to ingested
// records against a tracker snapshot.
//
// Rules are conjunctive: a record is eligible when every configured rule
// passes. A rejected record is attributed to exactly one Reason, the first
// failing rule in Priority order.
package eligibility

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/ingest"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// Policy decides what happens to a record whose last-sent date is missing or
// unparsable while a time-based rule is configured.
type Policy string

const (
	// PolicyFail excludes the record.
	PolicyFail Policy = "fail"
	// PolicyInclude keeps the record; time rules are skipped for it.
	PolicyInclude Policy = "include"
	// PolicyAbort fails the whole filter run.
	PolicyAbort Policy = "abort"
)

// ParsePolicy parses a policy name. "" yields PolicyFail.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyFail:
		return PolicyFail, nil
	case PolicyInclude, PolicyAbort:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown missing-last-sent policy %q (want fail, include or abort)", s)
}

// Reason names the rule that rejected a record.
type Reason string

const (
	ReasonPriorExact      Reason = "prior_exact"
	ReasonPriorMax        Reason = "prior_max"
	ReasonMinGap          Reason = "min_gap"
	ReasonAmbiguousDate   Reason = "ambiguous_date"
	ReasonMissingLastSent Reason = "missing_last_sent"
	ReasonMinDays         Reason = "min_days_since_last"
	ReasonLastSentBefore  Reason = "last_sent_before"
)

// Priority is the attribution order of rejection reasons.
var Priority = []Reason{
	ReasonPriorExact,
	ReasonPriorMax,
	ReasonMinGap,
	ReasonAmbiguousDate,
	ReasonMissingLastSent,
	ReasonMinDays,
	ReasonLastSentBefore,
}

// Options configure the filter. Nil pointers disable a rule.
type Options struct {
	CurrentCampaign  int
	PriorExact       *int
	PriorMax         *int
	MinGap           int
	MinDaysSinceLast *int
	LastSentBefore   *time.Time
	MissingLastSent  Policy
	Clock            clock.Clock
	Logger           *slog.Logger
}

func (o Options) timeRules() bool {
	return o.MinDaysSinceLast != nil || o.LastSentBefore != nil
}

// AmbiguousDateError reports a tracker LastSentDt that does not parse.
type AmbiguousDateError struct {
	Key   string
	Value string
	Err   error
}

func (e *AmbiguousDateError) Error() string {
	return fmt.Sprintf("ambiguous LastSentDt %q for %s", e.Value, e.Key)
}

func (e *AmbiguousDateError) Unwrap() error { return e.Err }

// IsAmbiguousDate checks if err is an AmbiguousDateError.
func IsAmbiguousDate(err error) bool {
	var ad *AmbiguousDateError
	return errors.As(err, &ad)
}

// AbortError is returned under PolicyAbort. It wraps the first offending
// record's cause.
type AbortError struct {
	Reason Reason
	Key    string
	Err    error
}

func (e *AbortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("eligibility aborted on %s (%s): %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("eligibility aborted on %s (%s)", e.Key, e.Reason)
}

func (e *AbortError) Unwrap() error { return e.Err }

// Result is the outcome of a filter run.
type Result struct {
	// Eligible preserves input order.
	Eligible   []ingest.Record
	Rejections map[Reason]int
	DateErrors []*AmbiguousDateError
}

// Rejected returns the total number of rejected records.
func (r *Result) Rejected() int {
	n := 0
	for _, c := range r.Rejections {
		n += c
	}
	return n
}

// Filter applies opts to records. It returns an *AbortError only under
// PolicyAbort; otherwise it never fails.
func Filter(records []ingest.Record, snap tracker.Snapshot, opts Options) (*Result, error) {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.MissingLastSent == "" {
		opts.MissingLastSent = PolicyFail
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	today := clock.Today(opts.Clock)

	res := &Result{Rejections: map[Reason]int{}}
	for _, rec := range records {
		entry := snap[rec.Key]
		reason, dateErr := evaluate(entry, rec.Key.String(), opts, today)
		if dateErr != nil {
			res.DateErrors = append(res.DateErrors, dateErr)
		}
		if reason == "" {
			res.Eligible = append(res.Eligible, rec)
			continue
		}
		if opts.MissingLastSent == PolicyAbort &&
			(reason == ReasonAmbiguousDate || reason == ReasonMissingLastSent) {
			var cause error
			if dateErr != nil {
				cause = dateErr
			}
			return nil, &AbortError{Reason: reason, Key: rec.Key.String(), Err: cause}
		}
		res.Rejections[reason]++
	}

	logger.Info("eligibility filter applied",
		"input", len(records),
		"eligible", len(res.Eligible),
		"rejected", res.Rejected(),
		"ambiguous_dates", len(res.DateErrors))
	return res, nil
}

// evaluate returns the first failing rule in Priority order, or "".
func evaluate(e tracker.SnapshotEntry, key string, opts Options, today time.Time) (Reason, *AmbiguousDateError) {
	count := e.CampaignCount()

	if opts.PriorExact != nil && count != *opts.PriorExact {
		return ReasonPriorExact, nil
	}
	if opts.PriorMax != nil && count > *opts.PriorMax {
		return ReasonPriorMax, nil
	}
	if opts.MinGap > 0 {
		for _, p := range e.CampaignNumbers {
			if opts.CurrentCampaign-p <= opts.MinGap {
				return ReasonMinGap, nil
			}
		}
	}
	if !opts.timeRules() {
		return "", nil
	}

	last, err := clock.ParseDate(e.LastSentDt)
	if err != nil {
		dateErr := &AmbiguousDateError{Key: key, Value: e.LastSentDt, Err: err}
		if opts.MissingLastSent == PolicyInclude {
			return "", dateErr
		}
		return ReasonAmbiguousDate, dateErr
	}
	if last.IsZero() {
		if opts.MissingLastSent == PolicyInclude {
			return "", nil
		}
		return ReasonMissingLastSent, nil
	}

	if opts.MinDaysSinceLast != nil && clock.DaysBetween(last, today) < *opts.MinDaysSinceLast {
		return ReasonMinDays, nil
	}
	if opts.LastSentBefore != nil && !last.Before(clock.Date(*opts.LastSentBefore)) {
		return ReasonLastSentBefore, nil
	}
	return "", nil
}
