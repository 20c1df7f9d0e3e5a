package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/table"
)

func mustTable(t *testing.T, csv string) *table.Table {
	t.Helper()
	tbl, err := table.Decode(strings.NewReader(csv))
	require.NoError(t, err)
	return tbl
}

func TestIngestTables_MandatoryFirstAndFirstSeenWins(t *testing.T) {
	optional := mustTable(t, "Property Address,Owner Name,Mail ZIP\n"+
		"1 Main St,Jane Doe,75001\n"+
		"9 Oak Ave,Bob Ray,75009\n")
	mandatory := mustTable(t, "SITUS ADDRESS,OWNER,Owner ZIP5,Notes\n"+
		"1  MAIN ST,jane doe,75002,from mandatory\n")

	sources := []Source{
		{Path: "opt.csv", Mandatory: false},
		{Path: "must.csv", Mandatory: true},
	}
	res := New(nil).IngestTables(sources, []*table.Table{optional, mandatory})

	require.Len(t, res.Records, 2)
	first := res.Records[0]
	assert.True(t, first.Mandatory, "mandatory copy wins")
	assert.Equal(t, "must.csv", first.Source)
	assert.Equal(t, "75002", first.ZIP5)
	assert.Equal(t, "from mandatory", first.Fields["Notes"])
	assert.Equal(t, identity.NewKey("1 Main St", "Jane Doe"), first.Key)

	assert.Equal(t, []string{"SITUS ADDRESS", "OWNER", "Owner ZIP5", "Notes"}, res.Header,
		"template header comes from the first mandatory list")
	assert.Equal(t, 1, res.MandatoryCount())

	require.Len(t, res.Stats, 2)
	assert.Equal(t, "must.csv", res.Stats[0].Path)
	assert.Equal(t, 1, res.Stats[1].Duplicates)
	assert.Equal(t, 1, res.Stats[1].Kept)
}

func TestIngestTables_MissingFields(t *testing.T) {
	tbl := mustTable(t, "PropertyAddress,OwnerName,ZIP5\n"+
		",No Address,75001\n"+
		"2 Elm,,75001\n"+
		"3 Elm,No Zip,\n"+
		"4 Elm,Good Row,75001-1111\n")

	res := New(nil).IngestTables([]Source{{Path: "a.csv", Mandatory: true}}, []*table.Table{tbl})

	require.Len(t, res.Records, 1)
	assert.Equal(t, "75001", res.Records[0].ZIP5)

	require.Len(t, res.Dropped, 3)
	assert.Equal(t, FieldPropertyAddress, res.Dropped[0].Field)
	assert.Equal(t, 2, res.Dropped[0].Line)
	assert.Equal(t, FieldOwnerName, res.Dropped[1].Field)
	assert.Equal(t, FieldZIP5, res.Dropped[2].Field)
	assert.Equal(t, "a.csv:4: missing ZIP5", res.Dropped[2].Error())

	var err error = res.Dropped[0]
	assert.True(t, IsMissingField(err))
	var mf *MissingFieldError
	assert.True(t, errors.As(err, &mf))

	assert.Equal(t, map[string]int{
		FieldPropertyAddress: 1, FieldOwnerName: 1, FieldZIP5: 1,
	}, res.Stats[0].Missing)
}

func TestIngestTables_MissingFieldLineAfterBlankRows(t *testing.T) {
	tbl := mustTable(t, "PropertyAddress,OwnerName,ZIP5\n"+
		"1 Elm,Ann Lee,75001\n"+
		",,\n"+
		",,\n"+
		"5 Elm,Bo Diaz,\n")

	res := New(nil).IngestTables([]Source{{Path: "a.csv"}}, []*table.Table{tbl})

	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "a.csv:5: missing ZIP5", res.Dropped[0].Error())
}

func TestIngest_ReadsFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.csv")
	require.NoError(t, os.WriteFile(path, []byte("Address,Owner,ZIP\n5 Pine,Ann Lee,30301\n"), 0o644))

	res, err := New(nil).Ingest([]Source{{Path: path, Mandatory: true}})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "5 Pine", res.Records[0].PropertyAddress)
	assert.Equal(t, "5 Pine", res.Records[0].MailingAddress)

	_, err = New(nil).Ingest([]Source{{Path: filepath.Join(dir, "missing.csv")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
