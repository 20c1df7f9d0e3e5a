package finalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/execlog"
	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/recovery"
	"github.com/roach88/mailmonkey/internal/store"
	"github.com/roach88/mailmonkey/internal/testutil"
	"github.com/roach88/mailmonkey/internal/tracker"
)

type env struct {
	root   string
	layout tracker.Layout
	store  *store.Store
	clock  *clock.Fixed
	ids    *testutil.SequentialRunIDs
}

func newEnv(t *testing.T) *env {
	root := t.TempDir()
	layout := tracker.LayoutFor(root)
	st, err := store.OpenLayout(layout)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &env{
		root:   root,
		layout: layout,
		store:  st,
		clock:  clock.NewFixed(time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)),
		ids:    testutil.NewSequentialRunIDs(),
	}
}

func (e *env) finalizer() *Finalizer {
	return New(e.store, e.layout, e.ids, e.clock, nil)
}

// fall writes a built-but-unfinalized campaign folder with a mapping file.
func (e *env) fall(t *testing.T) string {
	dir := filepath.Join(e.root, "Fall_1_Jan2025")
	testutil.WriteCSV(t, filepath.Join(dir, campaign.MasterFile),
		"PropertyAddress,OwnerName,ZIP5",
		"1 Main St,Jane Doe,75001",
		"2 Main St,John Roe,75002",
	)
	testutil.WriteCSV(t, filepath.Join(dir, campaign.RefDir, campaign.MappingFile),
		"owner,property_address,ref_code,template_ref",
		"Jane Doe,1 Main St,L00001,101",
		"John Roe,2 Main St,L00002,",
	)
	return dir
}

func (e *env) winter(t *testing.T) string {
	dir := filepath.Join(e.root, "Winter_2_Mar2025")
	testutil.WriteCSV(t, filepath.Join(dir, campaign.MasterFile),
		"PropertyAddress,OwnerName,ZIP5",
		"1 Main St,Jane Doe,75001",
		"3 Oak Ave,Ann Lee,30301",
	)
	testutil.WriteCSV(t, filepath.Join(dir, campaign.MappingFile),
		"OwnerName,PropertyAddress,RefCode,TemplateId",
		"Jane Doe,1 Main St,L00003,202",
		"Ann Lee,3 Oak Ave,L00004,202",
	)
	return dir
}

func TestFinalize_WritesLogAndTracker(t *testing.T) {
	e := newEnv(t)
	dir := e.fall(t)

	res, err := e.finalizer().Finalize(context.Background(), Options{CampaignDir: dir, TemplateID: "DEF"})
	require.NoError(t, err)

	assert.Equal(t, "Fall", res.CampaignName)
	assert.Equal(t, 1, res.CampaignNumber)
	assert.Equal(t, filepath.Join(dir, campaign.RefDir, campaign.MappingFile), res.MappingPath)
	assert.Len(t, res.Appended, 2)
	assert.Equal(t, 2, res.Merge.Merged)
	assert.Len(t, res.Merge.NewIdentities, 2)
	assert.Equal(t, []string{"75001", "75002"}, res.Merge.AffectedZIPs)

	assert.Equal(t,
		"SentDt,CampaignName,CampaignNumber,OwnerName,PropertyAddress,TemplateId,RefCode,ZIP5\n"+
			"2025-01-10,Fall,1,Jane Doe,1 Main St,101,L00001,75001\n"+
			"2025-01-10,Fall,1,John Roe,2 Main St,DEF,L00002,75002\n",
		testutil.ReadFile(t, filepath.Join(dir, campaign.ExecutedLogFile)))
	assert.Equal(t,
		"PropertyAddress,OwnerName,ZIP5,CampaignNumbers,CampaignCount,TemplateIds,FirstSentDt,LastSentDt\n"+
			"1 Main St,Jane Doe,75001,1,1,101,2025-01-10,2025-01-10\n"+
			"2 Main St,John Roe,75002,1,1,DEF,2025-01-10,2025-01-10\n",
		testutil.ReadFile(t, e.layout.TrackerPath()))
	assert.Equal(t, "ZIP5,Count\n75001,1\n75002,1\n", testutil.ReadFile(t, e.layout.TallyPath()))
}

func TestFinalize_Idempotent(t *testing.T) {
	e := newEnv(t)
	dir := e.fall(t)
	f := e.finalizer()
	ctx := context.Background()

	_, err := f.Finalize(ctx, Options{CampaignDir: dir})
	require.NoError(t, err)
	logBefore := testutil.ReadFile(t, filepath.Join(dir, campaign.ExecutedLogFile))
	trackerBefore := testutil.ReadFile(t, e.layout.TrackerPath())
	tallyBefore := testutil.ReadFile(t, e.layout.TallyPath())

	res, err := f.Finalize(ctx, Options{CampaignDir: dir})
	require.NoError(t, err)

	assert.Empty(t, res.Appended)
	assert.Equal(t, 2, res.AlreadyLogged)
	assert.Equal(t, 0, res.Merge.Merged)
	assert.Equal(t, 2, res.Merge.Duplicates)
	assert.Equal(t, logBefore, testutil.ReadFile(t, filepath.Join(dir, campaign.ExecutedLogFile)))
	assert.Equal(t, trackerBefore, testutil.ReadFile(t, e.layout.TrackerPath()))
	assert.Equal(t, tallyBefore, testutil.ReadFile(t, e.layout.TallyPath()))
}

func TestFinalize_MappingNotFound(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "Empty_3_Jan2025")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := e.finalizer().Finalize(context.Background(), Options{CampaignDir: dir})
	require.Error(t, err)
	assert.True(t, IsMappingNotFound(err))

	var mnf *MappingNotFoundError
	require.True(t, errors.As(err, &mnf))
	assert.Len(t, mnf.Tried, 2)
	_, statErr := os.Stat(e.layout.TrackerPath())
	assert.True(t, os.IsNotExist(statErr), "nothing written")
}

func TestFinalize_ExplicitMappingMissing(t *testing.T) {
	e := newEnv(t)
	dir := e.fall(t)

	_, err := e.finalizer().Finalize(context.Background(), Options{
		CampaignDir: dir,
		MappingPath: filepath.Join(dir, "nope.csv"),
	})
	assert.True(t, IsMappingNotFound(err))
}

func TestFinalize_ExistingLogWithoutMapping(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "Legacy_4_Jan2024")
	testutil.WriteCSV(t, filepath.Join(dir, campaign.ExecutedLogFile),
		"ExecutedDt,CampaignName,CampaignNumber,OwnerName,PropertyAddress,TemplateId,RefCode,ZIP5",
		"1/5/2024,Legacy,,Bo Park,9 Elm St,7,,10001",
	)

	res, err := e.finalizer().Finalize(context.Background(), Options{CampaignDir: dir})
	require.NoError(t, err)
	assert.Empty(t, res.MappingPath)
	assert.Equal(t, 1, res.Merge.Merged)

	row, ok := res.Tracker.Row(identity.NewKey("9 Elm St", "Bo Park"))
	require.True(t, ok)
	assert.Equal(t, []int{4}, row.CampaignNumbers)
	assert.Equal(t, testutil.Day(t, "2024-01-05"), row.LastSent)
}

func TestFinalize_DryRunWritesNothing(t *testing.T) {
	e := newEnv(t)
	dir := e.fall(t)
	ctx := context.Background()

	res, err := e.finalizer().Finalize(ctx, Options{CampaignDir: dir, DryRun: true, WriteMarker: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Merge.Merged)
	require.Len(t, res.Merge.Changes, 2)
	assert.Equal(t, tracker.OutcomeMerged, res.Merge.Changes[0].Outcome)

	for _, p := range []string{
		filepath.Join(dir, campaign.ExecutedLogFile),
		filepath.Join(dir, campaign.DefaultMarker),
		e.layout.TrackerPath(),
		e.layout.TallyPath(),
	} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	empty, err := e.store.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestFinalize_WritesMarker(t *testing.T) {
	e := newEnv(t)
	dir := e.fall(t)

	_, err := e.finalizer().Finalize(context.Background(), Options{CampaignDir: dir, WriteMarker: true, MarkerName: "DONE.TAG"})
	require.NoError(t, err)
	assert.True(t, campaign.Folder{Dir: dir}.HasMarker("DONE.TAG"))
}

func TestFinalize_RefusesMissingState(t *testing.T) {
	e := newEnv(t)
	dir := e.fall(t)
	testutil.WriteCSV(t, e.layout.TrackerPath(), "PropertyAddress,OwnerName,ZIP5,CampaignNumbers,CampaignCount,TemplateIds,FirstSentDt,LastSentDt")

	_, err := e.finalizer().Finalize(context.Background(), Options{CampaignDir: dir})
	assert.ErrorIs(t, err, ErrStateMissing)
	_, statErr := os.Stat(filepath.Join(dir, campaign.ExecutedLogFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFinalize_AppendFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	dir := e.fall(t)
	logPath := filepath.Join(dir, campaign.ExecutedLogFile)
	testutil.WriteCSV(t, logPath, "Foo,Bar", "a,b")
	ctx := context.Background()

	_, err := e.finalizer().Finalize(ctx, Options{CampaignDir: dir})
	require.ErrorIs(t, err, execlog.ErrHeaderMismatch)

	empty, err := e.store.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty, "state rolled back")
	assert.Equal(t, "Foo,Bar\na,b\n", testutil.ReadFile(t, logPath))
	_, statErr := os.Stat(e.layout.TrackerPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFinalize_NoCampaignNumber(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.root, "Misc")
	testutil.WriteCSV(t, filepath.Join(dir, campaign.MappingFile), "owner,property_address", "Jane Doe,1 Main St")

	_, err := e.finalizer().Finalize(context.Background(), Options{CampaignDir: dir})
	assert.ErrorIs(t, err, ErrNoCampaignNumber)

	_, err = e.finalizer().Finalize(context.Background(), Options{CampaignDir: dir, CampaignNumber: 9, CampaignName: "Misc"})
	assert.NoError(t, err)
}

func TestFinalize_RecoveryEquivalence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := e.finalizer()

	_, err := f.Finalize(ctx, Options{CampaignDir: e.fall(t), TemplateID: "DEF"})
	require.NoError(t, err)
	_, err = f.Finalize(ctx, Options{CampaignDir: e.winter(t), SentDate: testutil.Day(t, "2025-03-01")})
	require.NoError(t, err)

	incremental := testutil.ReadFile(t, e.layout.TrackerPath())
	incrementalTally := testutil.ReadFile(t, e.layout.TallyPath())

	r := recovery.NewRebuilder(e.store, e.layout, e.ids, e.clock, nil)
	_, err = r.Rebuild(ctx, recovery.RebuildOptions{Root: e.root})
	require.NoError(t, err)

	assert.Equal(t, incremental, testutil.ReadFile(t, e.layout.TrackerPath()))
	assert.Equal(t, incrementalTally, testutil.ReadFile(t, e.layout.TallyPath()))
	assert.Equal(t,
		"PropertyAddress,OwnerName,ZIP5,CampaignNumbers,CampaignCount,TemplateIds,FirstSentDt,LastSentDt\n"+
			"1 Main St,Jane Doe,75001,1|2,2,101|202,2025-01-10,2025-03-01\n"+
			"2 Main St,John Roe,75002,1,1,DEF,2025-01-10,2025-01-10\n"+
			"3 Oak Ave,Ann Lee,30301,2,1,202,2025-03-01,2025-03-01\n",
		incremental)
}

func TestFinalize_RebuildTemplates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := e.finalizer()

	fall := e.fall(t)
	_, err := f.Finalize(ctx, Options{CampaignDir: fall, TemplateID: "DEF"})
	require.NoError(t, err)

	// A corrected template id in the first campaign's log.
	testutil.WriteCSV(t, filepath.Join(fall, campaign.ExecutedLogFile),
		"SentDt,CampaignName,CampaignNumber,OwnerName,PropertyAddress,TemplateId,RefCode,ZIP5",
		"2025-01-10,Fall,1,Jane Doe,1 Main St,111,L00001,75001",
		"2025-01-10,Fall,1,John Roe,2 Main St,DEF,L00002,75002",
	)

	res, err := f.Finalize(ctx, Options{
		CampaignDir:      e.winter(t),
		SentDate:         testutil.Day(t, "2025-03-01"),
		RebuildTemplates: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.History)
	assert.Equal(t, 3, res.History.Rebuilt)
	assert.Empty(t, res.History.Untouched)

	jane, ok := res.Tracker.Row(identity.NewKey("1 Main St", "Jane Doe"))
	require.True(t, ok)
	assert.Equal(t, []string{"111", "202"}, jane.TemplateIDs)
	assert.Equal(t, []int{1, 2}, jane.CampaignNumbers)

	loaded, err := e.store.Load(ctx)
	require.NoError(t, err)
	stored, _ := loaded.Row(identity.NewKey("1 Main St", "Jane Doe"))
	assert.Equal(t, []string{"111", "202"}, stored.TemplateIDs)
}
