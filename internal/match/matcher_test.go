package match

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveworks/canopy/internal/geo"
	"github.com/groveworks/canopy/internal/model"
)

// tunis is the anchor point for the test fixtures. One degree of latitude is
// ~111 km, so 0.00005 degrees is ~5.5 m.
var tunis = model.Point{Latitude: 36.8065, Longitude: 10.1815}

func record(id, declaredType string, lat, lon float64) *model.TreeRecord {
	return &model.TreeRecord{
		PublicID:     id,
		DeclaredType: declaredType,
		Location:     model.Point{Latitude: lat, Longitude: lon},
		Status:       model.StatusHealthy,
	}
}

func TestBest_ExactSiteTier(t *testing.T) {
	m := New(DefaultConfig())

	snapshot := []*model.TreeRecord{
		record("100000001", "Olive", 36.8065, 10.1815),
		record("100000002", "Fig", 36.9, 10.3),
	}

	// ~6 m away, different declared type: exact site wins regardless of type.
	got, err := m.Best(model.Point{Latitude: 36.80655, Longitude: 10.18151}, "Palm", snapshot)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "100000001", got.PublicID)
}

func TestBest_ExactSitePrefersNearest(t *testing.T) {
	m := New(DefaultConfig())

	snapshot := []*model.TreeRecord{
		record("100000001", "Olive", 36.80656, 10.1815), // ~7 m north
		record("100000002", "Olive", 36.80652, 10.1815), // ~2 m north
	}

	got, err := m.Best(tunis, "Olive", snapshot)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "100000002", got.PublicID)
}

func TestBest_ExactSiteTieBreaksOnPublicID(t *testing.T) {
	m := New(DefaultConfig())

	// Two records at the identical point; the lexicographically smallest
	// public id must win for reproducibility.
	snapshot := []*model.TreeRecord{
		record("100000009", "Olive", 36.8065, 10.1815),
		record("100000001", "Fig", 36.8065, 10.1815),
	}

	got, err := m.Best(tunis, "Olive", snapshot)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "100000001", got.PublicID)
}

func TestBest_SameTypeTier(t *testing.T) {
	m := New(DefaultConfig())

	// ~55 m north of the candidate: outside the site radius, inside the type
	// radius.
	snapshot := []*model.TreeRecord{
		record("100000001", "Olive", 36.8070, 10.1815),
	}

	t.Run("same type matches", func(t *testing.T) {
		got, err := m.Best(tunis, "olive", snapshot)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "100000001", got.PublicID)
	})

	t.Run("accent-folded type matches", func(t *testing.T) {
		got, err := m.Best(tunis, "Olivé", snapshot)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("different type does not match", func(t *testing.T) {
		got, err := m.Best(tunis, "Fig", snapshot)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty type skips the tier", func(t *testing.T) {
		got, err := m.Best(tunis, "", snapshot)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("sentinel type skips the tier", func(t *testing.T) {
		got, err := m.Best(tunis, model.Sentinel, snapshot)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestBest_SentinelTypeVariantsNeverMatchEachOther(t *testing.T) {
	m := New(DefaultConfig())

	// Two unknown-type trees ~55 m apart must stay distinct even when the
	// source spells the sentinel with its own casing.
	snapshot := []*model.TreeRecord{
		record("100000001", "Unspecified", 36.8070, 10.1815),
	}

	for _, variant := range []string{"Unspecified", "UNSPECIFIED", model.Sentinel} {
		t.Run(variant, func(t *testing.T) {
			got, err := m.Best(tunis, variant, snapshot)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestBest_SameTypeBeyondRadius(t *testing.T) {
	m := New(DefaultConfig())

	// ~555 m away: same type but outside the 100 m radius.
	snapshot := []*model.TreeRecord{
		record("100000001", "Olive", 36.8115, 10.1815),
	}

	got, err := m.Best(tunis, "Olive", snapshot)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBest_ArchivedRecordsNeverMatch(t *testing.T) {
	m := New(DefaultConfig())

	archived := record("100000001", "Olive", 36.8065, 10.1815)
	archived.Archived = true
	archived.Status = model.StatusArchived

	got, err := m.Best(tunis, "Olive", []*model.TreeRecord{archived})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBest_EmptySnapshot(t *testing.T) {
	m := New(DefaultConfig())
	got, err := m.Best(tunis, "Olive", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBest_InvalidCandidateLocation(t *testing.T) {
	m := New(DefaultConfig())
	_, err := m.Best(model.Point{Latitude: math.NaN(), Longitude: 10}, "Olive", nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, geo.ErrInvalidCoordinate))
}

func TestBest_ConfigurableRadii(t *testing.T) {
	// Shrink the type radius so a ~55 m same-type neighbor stops matching.
	m := New(Config{SiteRadiusM: 10, TypeRadiusM: 30})

	snapshot := []*model.TreeRecord{
		record("100000001", "Olive", 36.8070, 10.1815),
	}

	got, err := m.Best(tunis, "Olive", snapshot)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNew_ZeroConfigFallsBackToDefaults(t *testing.T) {
	m := New(Config{})
	assert.Equal(t, DefaultConfig(), m.cfg)
}
