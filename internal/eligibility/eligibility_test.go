package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/execlog"
	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/ingest"
	"github.com/roach88/mailmonkey/internal/tracker"
	"github.com/roach88/mailmonkey/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func record(addr, owner string) ingest.Record {
	return ingest.Record{
		Key:             identity.NewKey(addr, owner),
		PropertyAddress: addr,
		OwnerName:       owner,
		ZIP5:            "95827",
	}
}

func fixedClock(t *testing.T, day string) clock.Clock {
	return clock.NewFixed(testutil.Day(t, day).Add(10 * time.Hour))
}

func TestFilter_PriorExactAcrossFinalize(t *testing.T) {
	jane := record("123 Main St", "Jane Doe")
	tr := tracker.New()

	res, err := Filter([]ingest.Record{jane}, tr.Snapshot(), Options{PriorExact: ptr(0)})
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 1, "no tracker entry counts as zero campaigns")

	tr.Merge([]execlog.Row{{
		CampaignNumber: 1, OwnerName: "Jane Doe", PropertyAddress: "123 Main St",
		TemplateID: "101", ZIP5: "95827", SentDate: testutil.Day(t, "2025-08-10"),
	}}, tracker.MergeOptions{})

	res, err = Filter([]ingest.Record{jane}, tr.Snapshot(), Options{PriorExact: ptr(1)})
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 1)

	res, err = Filter([]ingest.Record{jane}, tr.Snapshot(), Options{PriorExact: ptr(0)})
	require.NoError(t, err)
	assert.Empty(t, res.Eligible)
	assert.Equal(t, 1, res.Rejections[ReasonPriorExact])
}

func TestFilter_PriorMaxAndMinGap(t *testing.T) {
	a := record("1 A St", "A")
	b := record("2 B St", "B")
	c := record("3 C St", "C")
	snap := tracker.Snapshot{
		a.Key: {CampaignNumbers: []int{1, 2, 3}},
		b.Key: {CampaignNumbers: []int{4}},
		c.Key: {CampaignNumbers: []int{2}},
	}
	recs := []ingest.Record{a, b, c}

	res, err := Filter(recs, snap, Options{PriorMax: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, []ingest.Record{b, c}, res.Eligible)
	assert.Equal(t, 1, res.Rejections[ReasonPriorMax])

	// Campaign 6 with gap 2: campaign 4 is 2 away (rejected), campaign 2 is 4 away.
	res, err = Filter(recs, snap, Options{CurrentCampaign: 6, MinGap: 2})
	require.NoError(t, err)
	assert.Equal(t, []ingest.Record{c}, res.Eligible)
	assert.Equal(t, 2, res.Rejections[ReasonMinGap])
}

func TestFilter_MinGapIsArithmetic(t *testing.T) {
	// Campaigns 5..9 never ran; 4 is still six campaigns back from 10.
	r := record("1 A St", "A")
	snap := tracker.Snapshot{r.Key: {CampaignNumbers: []int{4}}}

	res, err := Filter([]ingest.Record{r}, snap, Options{CurrentCampaign: 10, MinGap: 5})
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 1)

	res, err = Filter([]ingest.Record{r}, snap, Options{CurrentCampaign: 10, MinGap: 6})
	require.NoError(t, err)
	assert.Empty(t, res.Eligible)
}

func TestFilter_MinDaysAndMissingPolicy(t *testing.T) {
	recent := record("1 A St", "Recent")
	missing := record("2 B St", "Missing")
	snap := tracker.Snapshot{
		recent.Key: {CampaignNumbers: []int{1}, LastSentDt: "2025-09-05"},
	}
	clk := fixedClock(t, "2025-09-15")

	res, err := Filter([]ingest.Record{recent, missing}, snap, Options{
		MinDaysSinceLast: ptr(30),
		MissingLastSent:  PolicyFail,
		Clock:            clk,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Eligible)
	assert.Equal(t, 1, res.Rejections[ReasonMinDays])
	assert.Equal(t, 1, res.Rejections[ReasonMissingLastSent])

	res, err = Filter([]ingest.Record{recent, missing}, snap, Options{
		MinDaysSinceLast: ptr(30),
		MissingLastSent:  PolicyInclude,
		Clock:            clk,
	})
	require.NoError(t, err)
	assert.Equal(t, []ingest.Record{missing}, res.Eligible)

	res, err = Filter([]ingest.Record{recent}, snap, Options{
		MinDaysSinceLast: ptr(10),
		Clock:            clk,
	})
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 1, "exactly ten days satisfies a ten day minimum")
}

func TestFilter_LastSentBefore(t *testing.T) {
	early := record("1 A St", "Early")
	onDay := record("2 B St", "OnDay")
	snap := tracker.Snapshot{
		early.Key: {CampaignNumbers: []int{1}, LastSentDt: "7/31/2025"},
		onDay.Key: {CampaignNumbers: []int{1}, LastSentDt: "2025-08-01"},
	}

	res, err := Filter([]ingest.Record{early, onDay}, snap, Options{
		LastSentBefore: ptr(testutil.Day(t, "2025-08-01")),
	})
	require.NoError(t, err)
	assert.Equal(t, []ingest.Record{early}, res.Eligible)
	assert.Equal(t, 1, res.Rejections[ReasonLastSentBefore])
}

func TestFilter_AmbiguousDate(t *testing.T) {
	r := record("1 A St", "A")
	snap := tracker.Snapshot{r.Key: {CampaignNumbers: []int{1}, LastSentDt: "last spring"}}
	opts := Options{MinDaysSinceLast: ptr(30), Clock: fixedClock(t, "2025-09-15")}

	res, err := Filter([]ingest.Record{r}, snap, opts)
	require.NoError(t, err)
	assert.Empty(t, res.Eligible)
	assert.Equal(t, 1, res.Rejections[ReasonAmbiguousDate])
	require.Len(t, res.DateErrors, 1)
	assert.True(t, IsAmbiguousDate(res.DateErrors[0]))

	opts.MissingLastSent = PolicyInclude
	res, err = Filter([]ingest.Record{r}, snap, opts)
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 1)
	assert.Len(t, res.DateErrors, 1, "diagnostic kept even when included")

	opts.MissingLastSent = PolicyAbort
	_, err = Filter([]ingest.Record{r}, snap, opts)
	require.Error(t, err)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, ReasonAmbiguousDate, abort.Reason)
	assert.True(t, IsAmbiguousDate(err))
}

func TestFilter_AbortOnMissing(t *testing.T) {
	r := record("1 A St", "A")
	_, err := Filter([]ingest.Record{r}, tracker.Snapshot{}, Options{
		LastSentBefore:  ptr(testutil.Day(t, "2025-01-01")),
		MissingLastSent: PolicyAbort,
	})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, ReasonMissingLastSent, abort.Reason)
}

func TestFilter_ReasonPriority(t *testing.T) {
	// Fails prior-max, min-gap and min-days at once; attributed to prior-max.
	r := record("1 A St", "A")
	snap := tracker.Snapshot{r.Key: {CampaignNumbers: []int{1, 2, 3}, LastSentDt: "2025-09-14"}}

	res, err := Filter([]ingest.Record{r}, snap, Options{
		CurrentCampaign:  4,
		PriorMax:         ptr(1),
		MinGap:           3,
		MinDaysSinceLast: ptr(30),
		Clock:            fixedClock(t, "2025-09-15"),
	})
	require.NoError(t, err)
	assert.Equal(t, map[Reason]int{ReasonPriorMax: 1}, res.Rejections)
	assert.Equal(t, 1, res.Rejected())
}

func TestFilter_Commutes(t *testing.T) {
	recs := []ingest.Record{record("1 A", "A"), record("2 B", "B"), record("3 C", "C")}
	snap := tracker.Snapshot{
		recs[0].Key: {CampaignNumbers: []int{1}, LastSentDt: "2025-01-01"},
		recs[1].Key: {CampaignNumbers: []int{1, 2}, LastSentDt: "2025-09-01"},
	}
	clk := fixedClock(t, "2025-09-15")

	both, err := Filter(recs, snap, Options{PriorMax: ptr(1), MinDaysSinceLast: ptr(30), MissingLastSent: PolicyInclude, Clock: clk})
	require.NoError(t, err)

	first, err := Filter(recs, snap, Options{PriorMax: ptr(1)})
	require.NoError(t, err)
	second, err := Filter(first.Eligible, snap, Options{MinDaysSinceLast: ptr(30), MissingLastSent: PolicyInclude, Clock: clk})
	require.NoError(t, err)

	assert.Equal(t, both.Eligible, second.Eligible)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFail, p)

	p, err = ParsePolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbort, p)

	_, err = ParsePolicy("skip")
	assert.Error(t, err)
}
