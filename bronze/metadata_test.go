package bronze

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMetadata_YearMonth(t *testing.T) {
	fallback := time.Date(2023, time.July, 9, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		path      string
		year      int
		month     int
		fromPath  bool
		partition string
	}{
		{"/raw/agmarknet/2024/03/prices.jsonl", 2024, 3, true, "year=2024/month=03"},
		{"/raw/agmarknet/2024-04/prices.json", 2024, 4, true, "year=2024/month=04"},
		{"/raw/agmarknet/2024_Apr/prices.json", 2024, 4, true, "year=2024/month=04"},
		{"/raw/agmarknet/2024 May/prices.json", 2024, 5, true, "year=2024/month=05"},
		{"/raw/agmarknet/2022/september/prices.json", 2022, 9, true, "year=2022/month=09"},
		{"/raw/agmarknet/2022/prices.json", 2022, 7, false, "year=2022/month=07"},
		{"/raw/agmarknet/dec/prices.json", 2023, 12, false, "year=2023/month=12"},
		{"/raw/agmarknet/prices.json", 2023, 7, false, "year=2023/month=07"},
		{"/raw/agmarknet/market/prices.json", 2023, 7, false, "year=2023/month=07"},
		{"/raw/agmarknet/2024/13/prices.json", 2024, 7, false, "year=2024/month=07"},
	}
	for _, c := range cases {
		md := ExtractMetadata(c.path, fallback)
		assert.Equal(t, c.year, md.Year, c.path)
		assert.Equal(t, c.month, md.Month, c.path)
		assert.Equal(t, c.fromPath, md.FromPath, c.path)
		assert.Equal(t, c.partition, md.PartitionPath, c.path)
	}
}

func TestExtractMetadata_ReportedDate(t *testing.T) {
	fallback := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for path, want := range map[string]string{
		"/raw/2024/01/prices_2024-01-15.jsonl": "2024-01-15",
		"/raw/prices_20240116.json":            "2024-01-16",
		"/raw/prices_2024_01_17.json.gz":       "2024-01-17",
	} {
		md := ExtractMetadata(path, fallback)
		require.NotNil(t, md.ReportedDate, path)
		assert.Equal(t, want, *md.ReportedDate, path)
	}

	md := ExtractMetadata("/raw/prices_20241341.json", fallback)
	assert.Nil(t, md.ReportedDate)
}

func TestExtractMetadata_Place(t *testing.T) {
	fallback := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	md := ExtractMetadata("/raw/agmarknet/2024/02/madhya_pradesh_indore_mhow_20240201.jsonl", fallback)
	require.NotNil(t, md.Place.State)
	assert.Equal(t, "Madhya Pradesh", *md.Place.State)
	require.NotNil(t, md.Place.District)
	assert.Equal(t, "indore", *md.Place.District)
	require.NotNil(t, md.Place.Market)
	assert.Equal(t, "mhow", *md.Place.Market)
	assert.Equal(t, "market=mhow/state=madhya_pradesh/year=2024/month=02", md.PartitionPath)

	none := ExtractMetadata("/raw/prices.json", fallback)
	assert.Nil(t, none.Place.State)
	assert.Nil(t, none.Place.Market)
}

func TestExtractPlace_StopsAtDates(t *testing.T) {
	p := ExtractPlace([]string{"punjab", "2024", "jan"})
	require.NotNil(t, p.State)
	assert.Equal(t, "Punjab", *p.State)
	assert.Nil(t, p.District)
	assert.Nil(t, p.Market)

	p = ExtractPlace([]string{"weather", "west", "bengal", "kolkata"})
	require.NotNil(t, p.State)
	assert.Equal(t, "West Bengal", *p.State)
	require.NotNil(t, p.District)
	assert.Equal(t, "kolkata", *p.District)
	assert.Nil(t, p.Market)
}

func TestBuildPartitionPath_UnknownState(t *testing.T) {
	m := "Lasalgaon APMC"
	got := BuildPartitionPath(Place{Market: &m}, 2024, 1)
	assert.Equal(t, "market=lasalgaon_apmc/state=unknown_state/year=2024/month=01", got)
}
