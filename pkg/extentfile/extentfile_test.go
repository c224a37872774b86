package extentfile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	records := []Record{
		{Physical: 0, Logical: 8, Length: 4, UserData: 1},
		{Physical: 4, Logical: 0, Length: 4, UserData: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, records))

	got, bitmask, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
	// bitmask is the OR of physical|logical|length across every record
	// (user_data excluded): 8|4.
	assert.Equal(t, uint64(12), bitmask)
}

func TestLoadEmptyRecordSet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, nil))

	got, bitmask, err := Load(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint64(0), bitmask)
}

func TestLoadRejectsTruncatedBanner(t *testing.T) {
	r := strings.NewReader("only one line\n")
	_, _, err := Load(r)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedCountLine(t *testing.T) {
	bad := strings.Repeat("comment\n", 6) + "not a count line\n"
	_, _, err := Load(strings.NewReader(bad))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedRecord(t *testing.T) {
	bad := strings.Repeat("comment\n", 6) + "count 1\n" + "physical\tlogical\tlength\tuser_data\n" + "1\t2\tnotanumber\n"
	_, _, err := Load(strings.NewReader(bad))
	assert.Error(t, err)
}

func TestLoadRejectsTruncatedRecords(t *testing.T) {
	bad := strings.Repeat("comment\n", 6) + "count 2\n" + "physical\tlogical\tlength\tuser_data\n" + "1\t2\t3\t4\n"
	_, _, err := Load(strings.NewReader(bad))
	assert.Error(t, err)
}
