package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/match"
	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testClock = func() time.Time {
	return time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
}

func newTestService(st store.Store) *Service {
	return NewWithClock(st, match.New(match.DefaultConfig()), testClock)
}

func candidateAt(lat, lon float64, declaredType string) *model.ImportCandidate {
	return &model.ImportCandidate{
		DeclaredType: declaredType,
		Location:     &model.Point{Latitude: lat, Longitude: lon},
		Owner: model.OwnerInfo{
			FirstName: model.Sentinel,
			LastName:  model.Sentinel,
			Email:     model.Sentinel,
		},
	}
}

func TestResolveOrCreate_CreatesWhenNoMatch(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)

	cand := candidateAt(36.8065, 10.1815, "Olive")
	rec, created, err := svc.ResolveOrCreate(context.Background(), cand, ResolveOptions{})
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotEmpty(t, rec.PublicID)
	assert.Regexp(t, `^\d{3,9}$`, rec.PublicID)
	assert.Equal(t, model.StatusHealthy, rec.Status)
	assert.False(t, rec.Archived)
	assert.Equal(t, testClock().UTC(), rec.LastUpdatedAt)
	assert.Equal(t, 1, st.lockCalls)
}

func TestResolveOrCreate_MatchesNearbyRegardlessOfType(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	first, created, err := svc.ResolveOrCreate(ctx, candidateAt(36.8065, 10.1815, "Olive"), ResolveOptions{})
	require.NoError(t, err)
	require.True(t, created)

	// ~6 m away with a different declared type: exact-site tier wins.
	second, created, err := svc.ResolveOrCreate(ctx, candidateAt(36.80655, 10.18151, "Palm"), ResolveOptions{})
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.PublicID, second.PublicID)
	assert.Len(t, st.trees, 1)
}

func TestResolveOrCreate_SameTypeWithinRadius(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	first, _, err := svc.ResolveOrCreate(ctx, candidateAt(36.8065, 10.1815, "Olive"), ResolveOptions{})
	require.NoError(t, err)

	// ~55 m away, same type: matched through the type tier.
	second, created, err := svc.ResolveOrCreate(ctx, candidateAt(36.8070, 10.1815, "olive"), ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PublicID, second.PublicID)

	// ~55 m away, different type: new record.
	_, created, err = svc.ResolveOrCreate(ctx, candidateAt(36.8070, 10.1815, "Fig"), ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, st.trees, 2)
}

func TestResolveOrCreate_IdentifierOverride(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	cand := candidateAt(36.8065, 10.1815, "Olive")
	cand.Identifier = "123456"
	cand.IdentifierRaw = true

	rec, created, err := svc.ResolveOrCreate(ctx, cand, ResolveOptions{})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "123456", rec.PublicID)

	// Same identifier from the other side of the world still matches.
	far := candidateAt(-33.8688, 151.2093, "Eucalyptus")
	far.Identifier = "123456"
	far.IdentifierRaw = true

	got, created, err := svc.ResolveOrCreate(ctx, far, ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "123456", got.PublicID)
	assert.Len(t, st.trees, 1)
}

func TestResolveOrCreate_MergeNeverClearsFields(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	height := 4.2
	full := candidateAt(36.8065, 10.1815, "Olive")
	full.Owner = model.OwnerInfo{FirstName: "Amel", LastName: "Ben Salah", Email: "amel@example.com"}
	full.Measurements = model.Measurements{Height: &height, ApproximateShape: "conical"}

	rec, _, err := svc.ResolveOrCreate(ctx, full, ResolveOptions{})
	require.NoError(t, err)

	// A sparse revisit must not clear anything already known.
	sparse := candidateAt(36.80651, 10.18151, "")
	sparse.DeclaredType = model.Sentinel

	got, created, err := svc.ResolveOrCreate(ctx, sparse, ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.PublicID, got.PublicID)
	assert.Equal(t, "Olive", got.DeclaredType)
	assert.Equal(t, "amel@example.com", got.Owner.Email)
	require.NotNil(t, got.Measurements.Height)
	assert.InDelta(t, 4.2, *got.Measurements.Height, 1e-9)
	assert.Equal(t, "conical", got.Measurements.ApproximateShape)
}

func TestResolveOrCreate_MergeOverwritesPresentFields(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	rec, _, err := svc.ResolveOrCreate(ctx, candidateAt(36.8065, 10.1815, "Olive"), ResolveOptions{})
	require.NoError(t, err)

	width := 2.5
	revisit := candidateAt(36.80651, 10.18151, "Olive")
	revisit.Measurements.Width = &width
	revisit.Fruit = model.FruitState{Present: true, EstimatedQuantity: 12}
	revisit.Status = model.StatusWarning

	got, created, err := svc.ResolveOrCreate(ctx, revisit, ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.PublicID, got.PublicID)
	require.NotNil(t, got.Measurements.Width)
	assert.InDelta(t, 2.5, *got.Measurements.Width, 1e-9)
	assert.True(t, got.Fruit.Present)
	assert.Equal(t, 12, got.Fruit.EstimatedQuantity)
	require.NotNil(t, got.Fruit.LastObservedAt)
	assert.Equal(t, model.StatusWarning, got.Status)
}

func TestResolveOrCreate_InvalidLocation(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		cand := &model.ImportCandidate{DeclaredType: "Olive"}
		_, _, err := svc.ResolveOrCreate(ctx, cand, ResolveOptions{})
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrInvalidLocation))
	})

	t.Run("out of range", func(t *testing.T) {
		_, _, err := svc.ResolveOrCreate(ctx, candidateAt(91, 10, "Olive"), ResolveOptions{})
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrInvalidLocation))
	})

	// Rejection happens before any mutation.
	assert.Empty(t, st.trees)
	assert.Zero(t, st.createCalls)
}

func TestResolveOrCreate_RequireOwner(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	cand := candidateAt(36.8065, 10.1815, "Olive")
	_, _, err := svc.ResolveOrCreate(ctx, cand, ResolveOptions{RequireOwner: true})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrOwnerNotFound))
	assert.Empty(t, st.trees)

	cand.Owner.Email = "amel@example.com"
	_, created, err := svc.ResolveOrCreate(ctx, cand, ResolveOptions{RequireOwner: true})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestResolveOrCreate_RetriesGeneratedIdentifierOnConflict(t *testing.T) {
	st := newMemStore()
	st.failCreates = 2
	svc := newTestService(st)

	rec, created, err := svc.ResolveOrCreate(context.Background(), candidateAt(36.8065, 10.1815, "Olive"), ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, rec.PublicID)
	assert.Equal(t, 3, st.createCalls)
}

func TestResolveOrCreate_RawIdentifierConflictIsFatal(t *testing.T) {
	st := newMemStore()
	st.failCreates = 1
	svc := newTestService(st)

	cand := candidateAt(36.8065, 10.1815, "Olive")
	cand.Identifier = "123456"
	cand.IdentifierRaw = true

	_, _, err := svc.ResolveOrCreate(context.Background(), cand, ResolveOptions{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrDuplicateIdentifier))
	assert.Equal(t, 1, st.createCalls)
}

func TestApplyObservationOutcome(t *testing.T) {
	tests := []struct {
		name    string
		verdict *model.ClassificationVerdict
		want    model.Status
	}{
		{
			name: "critical severity escalates to critical",
			verdict: &model.ClassificationVerdict{Issues: []model.Issue{
				{Name: "root rot", Severity: "critical"},
			}},
			want: model.StatusCritical,
		},
		{
			name: "high severity escalates to critical",
			verdict: &model.ClassificationVerdict{Issues: []model.Issue{
				{Name: "leaf spot", Severity: "low"},
				{Name: "canker", Severity: "HIGH"},
			}},
			want: model.StatusCritical,
		},
		{
			name: "any issue escalates to warning",
			verdict: &model.ClassificationVerdict{Issues: []model.Issue{
				{Name: "leaf spot", Severity: "low"},
			}},
			want: model.StatusWarning,
		},
		{
			name:    "clean verdict leaves status untouched",
			verdict: &model.ClassificationVerdict{HealthScore: 0.95},
			want:    model.StatusHealthy,
		},
		{
			name:    "nil verdict leaves status untouched",
			verdict: nil,
			want:    model.StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			svc := newTestService(st)
			ctx := context.Background()

			rec, _, err := svc.ResolveOrCreate(ctx, candidateAt(36.8065, 10.1815, "Olive"), ResolveOptions{})
			require.NoError(t, err)

			before := rec.LastUpdatedAt
			require.NoError(t, svc.ApplyObservationOutcome(ctx, rec, tt.verdict))
			assert.Equal(t, tt.want, rec.Status)
			assert.False(t, rec.LastUpdatedAt.Before(before))
		})
	}
}

func TestGeneratePublicID(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		id, err := GeneratePublicID()
		require.NoError(t, err)
		assert.Regexp(t, `^\d{9}$`, id)
		seen[id] = true
	}
	// Collisions over 50 draws from a 1e5 space are possible but vanishingly
	// unlikely to wipe out the whole set.
	assert.Greater(t, len(seen), 40)
}
