package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

func TestSeasonEndYear(t *testing.T) {
	tests := []struct {
		season string
		want   int
	}{
		{"2025-26", 2026},
		{"2025-2026", 2026},
		{"1999-00", 2000},
		{"2025_fall", 2026},
		{"2026_spring", 2026},
		{"2025 Fall", 2026},
		{"2026", 2026},
	}
	for _, tt := range tests {
		t.Run(tt.season, func(t *testing.T) {
			got, err := SeasonEndYear(tt.season)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"2025-27", "2025-2027", "autumn", "25-26"} {
		_, err := SeasonEndYear(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidObservation, bad)
	}
}

func TestBirthYear(t *testing.T) {
	year, err := BirthYear("U12", "2025-26")
	require.NoError(t, err)
	require.NotNil(t, year)
	assert.Equal(t, 2014, *year)

	year, err = BirthYear("u-9 Girls", "2025_fall")
	require.NoError(t, err)
	require.NotNil(t, year)
	assert.Equal(t, 2017, *year)

	year, err = BirthYear("Open", "2025-26")
	require.NoError(t, err)
	assert.Nil(t, year)

	year, err = BirthYear("U12", "")
	require.NoError(t, err)
	assert.Nil(t, year)

	_, err = BirthYear("U12", "next year")
	assert.Error(t, err)
}
